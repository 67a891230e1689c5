package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the pipeline. It is built once at startup and
// passed by pointer into the loader, engines and server; nothing mutates it
// after Validate.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Columns  ColumnsConfig  `yaml:"columns"`
	Batches  BatchesConfig  `yaml:"batches"`
	Index    IndexConfig    `yaml:"index"`
	Forecast ForecastConfig `yaml:"forecast"`
	Report   ReportConfig   `yaml:"report"`
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
}

// PathsConfig locates raw batch roots and the optional columnar caches.
type PathsConfig struct {
	EnrollmentRoot   string `yaml:"enrollment_root"`   // default: api_data_aadhar_enrolment
	DemographicRoot  string `yaml:"demographic_root"`  // default: api_data_aadhar_demographic
	EnrollmentCache  string `yaml:"enrollment_cache"`  // default: enrolment_data.parquet
	DemographicCache string `yaml:"demographic_cache"` // default: demographic_data.parquet
}

// ColumnsConfig names the source fields. Candidate lists are tried in order.
type ColumnsConfig struct {
	State       []string `yaml:"state"`
	District    []string `yaml:"district"`
	Date        []string `yaml:"date"`
	BirthProxy  []string `yaml:"birth_proxy"`
	ChildUpdate []string `yaml:"child_update"`
	AdultUpdate []string `yaml:"adult_update"`
}

// BatchesConfig controls discovery and permissive parsing of raw batches.
type BatchesConfig struct {
	Extensions  []string `yaml:"extensions"`
	DateLayouts []string `yaml:"date_layouts"`
}

// IndexConfig holds the MLI thresholds.
type IndexConfig struct {
	InflowFloor int64   `yaml:"inflow_floor"`
	Critical    float64 `yaml:"critical"`
	Warning     float64 `yaml:"warning"`
}

// ForecastConfig holds the extrapolation constants.
type ForecastConfig struct {
	Horizon    int     `yaml:"horizon"`
	StrideDays int     `yaml:"stride_days"`
	MaxGrowth  float64 `yaml:"max_growth"`
}

// ReportConfig holds presentation tunables shared by the report and the API.
type ReportConfig struct {
	ColorScale  string `yaml:"color_scale"`
	HotspotTopN int    `yaml:"hotspot_top_n"`
	InflowTopN  int    `yaml:"inflow_top_n"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StoreConfig configures optional run persistence. URL is normally taken from
// the environment, see dbURLFromEnv.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
	Schema string `yaml:"schema"`
	Tag    string `yaml:"tag"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			EnrollmentRoot:   "api_data_aadhar_enrolment",
			DemographicRoot:  "api_data_aadhar_demographic",
			EnrollmentCache:  "enrolment_data.parquet",
			DemographicCache: "demographic_data.parquet",
		},
		Columns: ColumnsConfig{
			State:       []string{"state"},
			District:    []string{"district"},
			Date:        []string{"date"},
			BirthProxy:  []string{"age_0_5"},
			ChildUpdate: []string{"demo_age", "demo_age_5_17"},
			AdultUpdate: []string{"demo_age_17_"},
		},
		Batches: BatchesConfig{
			Extensions: []string{".csv", ".xlsx"},
			DateLayouts: []string{
				"2006-01-02",
				"02-01-2006",
				"02/01/2006",
				"2006/01/02",
				"2006-01-02 15:04:05",
				"2006-01-02T15:04:05",
				"2006-01-02T15:04:05Z07:00",
			},
		},
		Index: IndexConfig{
			InflowFloor: 500,
			Critical:    3.0,
			Warning:     1.5,
		},
		Forecast: ForecastConfig{
			Horizon:    3,
			StrideDays: 30,
			MaxGrowth:  0.20,
		},
		Report: ReportConfig{
			ColorScale:  "Reds",
			HotspotTopN: 15,
			InflowTopN:  10,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Store: StoreConfig{
			Driver: "pgx",
			Schema: "migration_pulse",
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig. An empty path returns
// the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.Paths.EnrollmentRoot == "" {
		return errors.New("paths.enrollment_root is required")
	}
	if c.Paths.DemographicRoot == "" {
		return errors.New("paths.demographic_root is required")
	}
	required := map[string][]string{
		"columns.state":        c.Columns.State,
		"columns.district":     c.Columns.District,
		"columns.date":         c.Columns.Date,
		"columns.birth_proxy":  c.Columns.BirthProxy,
		"columns.child_update": c.Columns.ChildUpdate,
		"columns.adult_update": c.Columns.AdultUpdate,
	}
	for name, candidates := range required {
		if len(candidates) == 0 {
			return fmt.Errorf("%s needs at least one candidate name", name)
		}
	}
	if len(c.Batches.Extensions) == 0 {
		return errors.New("batches.extensions must not be empty")
	}
	if len(c.Batches.DateLayouts) == 0 {
		return errors.New("batches.date_layouts must not be empty")
	}
	if c.Index.InflowFloor < 0 {
		return errors.New("index.inflow_floor must not be negative")
	}
	if c.Index.Warning > c.Index.Critical {
		return errors.New("index.warning must not exceed index.critical")
	}
	if c.Forecast.Horizon <= 0 {
		return errors.New("forecast.horizon must be positive")
	}
	if c.Forecast.StrideDays <= 0 {
		return errors.New("forecast.stride_days must be positive")
	}
	if c.Forecast.MaxGrowth < 0 {
		return errors.New("forecast.max_growth must not be negative")
	}
	return nil
}

func dbURLFromEnv() string {
	if value := strings.TrimSpace(os.Getenv("MIGRATION_PULSE_DB_URL")); value != "" {
		return value
	}
	return strings.TrimSpace(os.Getenv("DATABASE_URL"))
}
