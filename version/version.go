package version

import "fmt"

// Overridden at build time with -ldflags "-X github.com/TFMV/evfeatures/version.Version=...".
var (
	Version   = "0.1.0"
	BuildDate = "2025-03-01"
)

func GetVersion() string {
	return Version
}

func GetBuildDate() string {
	return BuildDate
}

// String formats the version for CLI and HTTP output.
func String() string {
	return fmt.Sprintf("evfeatures %s (built %s)", Version, BuildDate)
}
