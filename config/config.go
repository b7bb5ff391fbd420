package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/TFMV/evfeatures/pkg/features"
)

// EnvPrefix prefixes environment overrides, e.g. EVFEATURES_FEATURES_CURRENT_YEAR.
const EnvPrefix = "EVFEATURES"

// --- Configuration Structs ---

type InputConfig struct {
	Type             string `mapstructure:"type"`
	Path             string `mapstructure:"path"`
	ConnectionString string `mapstructure:"connection_string"`
	Driver           string `mapstructure:"driver"`
	Table            string `mapstructure:"table"`
	Query            string `mapstructure:"query"`
	BatchSize        int64  `mapstructure:"batch_size"`
}

type OutputConfig struct {
	Type        string `mapstructure:"type"`
	Path        string `mapstructure:"path"`
	Compression string `mapstructure:"compression"`
}

type FeatureConfig struct {
	// CurrentYear of 0 means the year at run start.
	CurrentYear int      `mapstructure:"current_year"`
	UrbanColumn string   `mapstructure:"urban_column"`
	UrbanValues []string `mapstructure:"urban_values"`
	Separator   string   `mapstructure:"separator"`
	ClampAge    bool     `mapstructure:"clamp_vehicle_age"`
	TieBreak    string   `mapstructure:"tie_break"`
	DateParts   bool     `mapstructure:"date_parts"`
	BEVLabel    string   `mapstructure:"bev_label"`
	PHEVLabel   string   `mapstructure:"phev_label"`
	Parallel    bool     `mapstructure:"parallel"`
	Workers     int      `mapstructure:"workers"`
}

type ReportConfig struct {
	JSON    string `mapstructure:"json"`
	HTML    string `mapstructure:"html"`
	Metrics string `mapstructure:"metrics"`
	Alert   string `mapstructure:"alert"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type Config struct {
	Input    InputConfig   `mapstructure:"input"`
	Output   OutputConfig  `mapstructure:"output"`
	Features FeatureConfig `mapstructure:"features"`
	Report   ReportConfig  `mapstructure:"report"`
	Log      LogConfig     `mapstructure:"log"`
	Server   ServerConfig  `mapstructure:"server"`
}

// --- Load Configuration ---

// Every key gets a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	for _, key := range []string{
		"input.type", "input.path", "input.connection_string", "input.driver", "input.table", "input.query",
		"output.type", "output.path", "report.json", "report.html", "report.metrics", "report.alert",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("input.batch_size", 64*1024)
	v.SetDefault("output.compression", "snappy")
	v.SetDefault("features.urban_values", []string{})
	v.SetDefault("features.current_year", 0)
	v.SetDefault("features.urban_column", features.ColCounty)
	v.SetDefault("features.separator", "_")
	v.SetDefault("features.clamp_vehicle_age", true)
	v.SetDefault("features.tie_break", string(features.TieBreakLexical))
	v.SetDefault("features.date_parts", true)
	v.SetDefault("features.bev_label", "BEV")
	v.SetDefault("features.phev_label", "PHEV")
	v.SetDefault("features.parallel", false)
	v.SetDefault("features.workers", runtime.NumCPU())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "evfeatures.log")
	v.SetDefault("server.addr", ":8080")
}

// NewViper returns a viper instance with defaults and environment overrides
// applied. Commands bind their flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads configPath (YAML unless the extension says otherwise) on
// top of the defaults. An empty path loads defaults and environment only.
func LoadConfig(configPath string) (*Config, error) {
	v := NewViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
	}
	return Load(v)
}

// Load unmarshals an already populated viper instance.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FeatureOptions converts the feature section to pipeline options. now
// supplies the reference year when none is configured.
func (c *Config) FeatureOptions(now time.Time) features.Options {
	opts := features.DefaultOptions(now)
	f := c.Features
	if f.CurrentYear > 0 {
		opts.CurrentYear = f.CurrentYear
	}
	if f.UrbanColumn != "" {
		opts.UrbanColumn = f.UrbanColumn
	}
	if len(f.UrbanValues) > 0 {
		opts.UrbanValues = append([]string(nil), f.UrbanValues...)
	} else if opts.UrbanColumn == features.ColCity {
		opts.UrbanValues = append([]string(nil), features.UrbanCities...)
	}
	if f.Separator != "" {
		opts.Separator = f.Separator
	}
	opts.ClampVehicleAge = f.ClampAge
	if f.TieBreak != "" {
		opts.TieBreak = features.TieBreak(f.TieBreak)
	}
	opts.DateParts = f.DateParts
	if f.BEVLabel != "" {
		opts.BEVLabel = f.BEVLabel
	}
	if f.PHEVLabel != "" {
		opts.PHEVLabel = f.PHEVLabel
	}
	opts.Parallel = f.Parallel
	if f.Workers > 0 {
		opts.Workers = f.Workers
	}
	return opts
}

// --- Validation Functions ---

// validate is a helper function to reduce repetition.
func validate(condition bool, format string, a ...any) error {
	if !condition {
		return fmt.Errorf(format, a...)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.Input.Validate(); err != nil {
		return fmt.Errorf("input validation failed: %w", err)
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}
	if err := c.Features.Validate(); err != nil {
		return fmt.Errorf("features validation failed: %w", err)
	}
	return nil
}

func (ic *InputConfig) Validate() error {
	if err := validate(ic.Path != "" || ic.ConnectionString != "", "input path or connection string is required"); err != nil {
		return err
	}
	return validate(ic.BatchSize >= 0, "batch size must not be negative")
}

func (oc *OutputConfig) Validate() error {
	switch strings.ToLower(oc.Compression) {
	case "", "snappy", "zstd", "gzip", "none", "uncompressed":
	default:
		return fmt.Errorf("unsupported compression %q", oc.Compression)
	}
	return nil
}

func (fc *FeatureConfig) Validate() error {
	if err := validate(fc.CurrentYear >= 0, "current year must not be negative"); err != nil {
		return err
	}
	if err := validate(fc.UrbanColumn == features.ColCounty || fc.UrbanColumn == features.ColCity,
		"urban column must be %q or %q, got %q", features.ColCounty, features.ColCity, fc.UrbanColumn); err != nil {
		return err
	}
	if err := validate(features.TieBreak(fc.TieBreak).Valid(), "unknown tie break %q", fc.TieBreak); err != nil {
		return err
	}
	return validate(fc.Workers >= 0, "workers must not be negative")
}
