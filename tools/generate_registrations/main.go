package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"

	"github.com/TFMV/evfeatures/pkg/core"
	"github.com/TFMV/evfeatures/pkg/features"
	"github.com/TFMV/evfeatures/pkg/writers"
)

const (
	// Default values
	defaultRows      = 100000
	defaultBatchSize = 10000
	defaultOutDir    = "test_data"
	defaultOutFile   = "registrations.parquet"
	defaultSeed      = 42
)

// County and its cities. Weights skew towards the urban counties.
var counties = []struct {
	name   string
	cities []string
	weight int
}{
	{"King", []string{"Seattle", "Bellevue", "Redmond", "Kirkland", "Renton"}, 40},
	{"Snohomish", []string{"Everett", "Lynnwood", "Bothell"}, 12},
	{"Pierce", []string{"Tacoma", "Puyallup", "Gig Harbor"}, 10},
	{"Clark", []string{"Vancouver", "Camas"}, 8},
	{"Thurston", []string{"Olympia", "Lacey"}, 5},
	{"Kitsap", []string{"Bremerton", "Poulsbo"}, 5},
	{"Spokane", []string{"Spokane", "Spokane Valley"}, 5},
	{"Whatcom", []string{"Bellingham"}, 4},
	{"Yakima", []string{"Yakima", "Selah"}, 2},
	{"Benton", []string{"Kennewick", "Richland"}, 2},
}

var makes = []string{"TESLA", "NISSAN", "CHEVROLET", "FORD", "BMW", "KIA", "TOYOTA", "VOLKSWAGEN", "JEEP", "HYUNDAI", "RIVIAN", "VOLVO"}

var eligibility = []string{
	"Clean Alternative Fuel Vehicle Eligible",
	"Not eligible due to low battery range",
	"Eligibility unknown as battery range has not been researched",
}

// Config for the data generator
type Config struct {
	rowCount   int
	batchSize  int
	outputDir  string
	outputFile string
	randomSeed int64
	nullRate   float64
	minYear    int
	maxYear    int
}

func main() {
	config := parseFlags()
	if config.rowCount <= 0 {
		log.Fatalf("rows must be positive, got %d", config.rowCount)
	}

	if err := os.MkdirAll(config.outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	path := filepath.Join(config.outputDir, config.outputFile)
	log.Printf("Generating %d registrations into %s", config.rowCount, path)
	if err := generateFile(context.Background(), path, config, rand.New(rand.NewSource(config.randomSeed))); err != nil {
		log.Fatalf("Failed to generate registrations: %v", err)
	}
	log.Printf("Successfully generated %s", path)
}

// parseFlags parses command-line arguments and returns a Config
func parseFlags() Config {
	rowCount := flag.Int("rows", defaultRows, "Number of registrations to generate")
	batchSize := flag.Int("batch", defaultBatchSize, "Rows per generated batch")
	outputDir := flag.String("outdir", defaultOutDir, "Output directory")
	outputFile := flag.String("out", defaultOutFile, "Output file; the extension selects csv, parquet, arrow or json")
	seed := flag.Int64("seed", defaultSeed, "Random seed for data generation")
	nullRate := flag.Float64("nulls", 0.0, "Rate of empty City values (0.0-1.0)")
	minYear := flag.Int("min-year", 2011, "Earliest model year")
	maxYear := flag.Int("max-year", 2025, "Latest model year")

	flag.Parse()

	return Config{
		rowCount:   *rowCount,
		batchSize:  *batchSize,
		outputDir:  *outputDir,
		outputFile: *outputFile,
		randomSeed: *seed,
		nullRate:   *nullRate,
		minYear:    *minYear,
		maxYear:    *maxYear,
	}
}

func registrationSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "VIN (1-10)", Type: arrow.BinaryTypes.String},
		{Name: features.ColCounty, Type: arrow.BinaryTypes.String},
		{Name: features.ColCity, Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: features.ColMake, Type: arrow.BinaryTypes.String},
		{Name: features.ColModelYear, Type: arrow.PrimitiveTypes.Int64},
		{Name: features.ColVehicleType, Type: arrow.BinaryTypes.String},
		{Name: features.ColEligibility, Type: arrow.BinaryTypes.String},
	}, nil)
}

// generateFile writes config.rowCount rows in batches through the writer
// selected by the path's extension.
func generateFile(ctx context.Context, path string, config Config, rnd *rand.Rand) error {
	typ, err := writers.DetectType(path)
	if err != nil {
		return err
	}
	w, err := writers.DefaultFactory.Create(core.WriterConfig{Type: typ, Path: path})
	if err != nil {
		return fmt.Errorf("failed to create writer: %w", err)
	}

	batchSize := config.batchSize
	if batchSize <= 0 || batchSize > config.rowCount {
		batchSize = config.rowCount
	}
	for written := 0; written < config.rowCount; written += batchSize {
		n := batchSize
		if rest := config.rowCount - written; rest < n {
			n = rest
		}
		record := generateBatch(n, rnd, config)
		err := w.Write(ctx, record)
		record.Release()
		if err != nil {
			_ = w.Abort()
			return fmt.Errorf("failed to write batch at row %d: %w", written, err)
		}
	}
	return w.Close()
}

func generateBatch(n int, rnd *rand.Rand, config Config) arrow.Record {
	b := array.NewRecordBuilder(memory.NewGoAllocator(), registrationSchema())
	defer b.Release()

	totalWeight := 0
	for _, c := range counties {
		totalWeight += c.weight
	}
	years := config.maxYear - config.minYear + 1
	if years < 1 {
		years = 1
	}

	vin := b.Field(0).(*array.StringBuilder)
	county := b.Field(1).(*array.StringBuilder)
	city := b.Field(2).(*array.StringBuilder)
	mk := b.Field(3).(*array.StringBuilder)
	year := b.Field(4).(*array.Int64Builder)
	evType := b.Field(5).(*array.StringBuilder)
	cafv := b.Field(6).(*array.StringBuilder)

	for i := 0; i < n; i++ {
		pick := rnd.Intn(totalWeight)
		c := counties[0]
		for _, cand := range counties {
			if pick < cand.weight {
				c = cand
				break
			}
			pick -= cand.weight
		}

		id := uuid.Must(uuid.NewRandomFromReader(rnd))
		vin.Append(strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))[:10])
		county.Append(c.name)
		if rnd.Float64() < config.nullRate {
			city.AppendNull()
		} else {
			city.Append(c.cities[rnd.Intn(len(c.cities))])
		}
		mk.Append(makes[rnd.Intn(len(makes))])
		offset := rnd.Intn(years)
		year.Append(int64(config.minYear + offset))

		// Battery EVs dominate newer model years.
		if rnd.Float64() < 0.4+0.5*float64(offset)/float64(years) {
			evType.Append("BEV")
		} else {
			evType.Append("PHEV")
		}
		cafv.Append(eligibility[rnd.Intn(len(eligibility))])
	}
	return b.NewRecord()
}
