package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Region     RegionConfig     `yaml:"region" mapstructure:"region"`
	Data       DataConfig       `yaml:"data" mapstructure:"data"`
	Hex        HexConfig        `yaml:"hex" mapstructure:"hex"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// RegionConfig describes the supported analysis region. The bounding box is
// a deployment constant, not domain logic: pointing the tool at a different
// region is a config change.
type RegionConfig struct {
	Name              string  `yaml:"name" mapstructure:"name"`
	MinLat            float64 `yaml:"min_lat" mapstructure:"min_lat"`
	MaxLat            float64 `yaml:"max_lat" mapstructure:"max_lat"`
	MinLon            float64 `yaml:"min_lon" mapstructure:"min_lon"`
	MaxLon            float64 `yaml:"max_lon" mapstructure:"max_lon"`
	MinRadiusKM       float64 `yaml:"min_radius_km" mapstructure:"min_radius_km"`
	MaxRadiusKM       float64 `yaml:"max_radius_km" mapstructure:"max_radius_km"`
	BoundaryShapefile string  `yaml:"boundary_shapefile" mapstructure:"boundary_shapefile"`
}

// DataConfig configures raster inputs and their download mirrors.
type DataConfig struct {
	Dir           string   `yaml:"dir" mapstructure:"dir"`
	Mirrors       []string `yaml:"mirrors" mapstructure:"mirrors"`
	RequiredFiles []string `yaml:"required_files" mapstructure:"required_files"`
}

// HexConfig configures hex-grid resolutions. Full-extent runs use a coarser
// grid than clipped runs to keep cell counts comparable.
type HexConfig struct {
	Resolution           int `yaml:"resolution" mapstructure:"resolution"`
	FullExtentResolution int `yaml:"full_extent_resolution" mapstructure:"full_extent_resolution"`
}

// CacheConfig configures the on-disk artifact cache.
type CacheConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
	// ProtectedAOIs lists AOI key parts ("lat_lon_radius") that the sweep
	// never removes, on top of full-extent entries and the current run.
	ProtectedAOIs []string `yaml:"protected_aois" mapstructure:"protected_aois"`
}

// ScoringConfig configures the suitability scorer.
type ScoringConfig struct {
	ThresholdsFile string `yaml:"thresholds_file" mapstructure:"thresholds_file"`
	// LowCountWarning flags cells aggregated from fewer points than this.
	LowCountWarning int `yaml:"low_count_warning" mapstructure:"low_count_warning"`
}

// PipelineConfig configures run execution.
type PipelineConfig struct {
	Workers      int    `yaml:"workers" mapstructure:"workers"`
	NodataPolicy string `yaml:"nodata_policy" mapstructure:"nodata_policy"`
}

// StoreConfig configures the run-history database.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ExportConfig configures export targets.
type ExportConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir"`
	PostgresURL string `yaml:"postgres_url" mapstructure:"postgres_url"`
}

// ServerConfig configures the preview API server.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	CacheSize       int      `yaml:"cache_size" mapstructure:"cache_size"`
	CacheTTLMinutes int      `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
	AllowedOrigins  []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures health snapshots and threshold alerts.
// A zero threshold disables its check; an empty webhook URL disables
// delivery while still logging triggered alerts.
type MonitoringConfig struct {
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DegradedRunThreshold int     `yaml:"degraded_run_threshold" mapstructure:"degraded_run_threshold"`
	CacheBudgetMB        int     `yaml:"cache_budget_mb" mapstructure:"cache_budget_mb"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SOILHEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("region.name", "mato-grosso")
	v.SetDefault("region.min_lat", -18.0)
	v.SetDefault("region.max_lat", -7.0)
	v.SetDefault("region.min_lon", -65.0)
	v.SetDefault("region.max_lon", -50.0)
	v.SetDefault("region.min_radius_km", 1.0)
	v.SetDefault("region.max_radius_km", 500.0)
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.required_files", []string{
		"soil_moisture_res_250_sm_surface.nc",
		"soil_organic_carbon_res_250_soc_b0.nc",
		"soil_organic_carbon_res_250_soc_b10.nc",
		"soil_ph_res_250_ph_b0.nc",
		"soil_ph_res_250_ph_b10.nc",
		"soil_temperature_res_250_st_surface.nc",
	})
	v.SetDefault("hex.resolution", 7)
	v.SetDefault("hex.full_extent_resolution", 5)
	v.SetDefault("cache.dir", "cache")
	v.SetDefault("cache.protected_aois", []string{"-13.000000_-56.000000_100.00"})
	v.SetDefault("scoring.low_count_warning", 3)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.nodata_policy", "skip")
	v.SetDefault("store.path", "soilhex.db")
	v.SetDefault("export.dir", "out")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cache_size", 64)
	v.SetDefault("server.cache_ttl_minutes", 15)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.degraded_run_threshold", 0)
	v.SetDefault("monitoring.cache_budget_mb", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration needed for the given mode
// ("run", "fetch", "serve", "export-postgres"). Errors name every missing
// or out-of-range field, not just the first.
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch mode {
	case "run":
		check(c.Region.MinLat < c.Region.MaxLat, "region.min_lat must be < region.max_lat")
		check(c.Region.MinLon < c.Region.MaxLon, "region.min_lon must be < region.max_lon")
		check(c.Region.MinRadiusKM > 0, "region.min_radius_km must be > 0")
		check(c.Region.MinRadiusKM < c.Region.MaxRadiusKM,
			"region.min_radius_km must be < region.max_radius_km")
		check(c.Data.Dir != "", "data.dir is required")
		check(c.Cache.Dir != "", "cache.dir is required")
		check(c.Pipeline.Workers >= 1 && c.Pipeline.Workers <= 32,
			"pipeline.workers must be between 1 and 32")
		check(c.Pipeline.NodataPolicy == "skip" || c.Pipeline.NodataPolicy == "nan",
			"pipeline.nodata_policy must be skip or nan")
		check(c.Hex.Resolution >= 0 && c.Hex.Resolution <= 15,
			"hex.resolution must be between 0 and 15")
		check(c.Hex.FullExtentResolution >= 0 && c.Hex.FullExtentResolution <= 15,
			"hex.full_extent_resolution must be between 0 and 15")
	case "fetch":
		check(c.Data.Dir != "", "data.dir is required")
		check(len(c.Data.Mirrors) > 0, "data.mirrors is required")
		check(len(c.Data.RequiredFiles) > 0, "data.required_files is required")
	case "serve":
		check(c.Server.Port > 0, "server.port must be > 0")
		check(c.Server.CacheSize > 0, "server.cache_size must be > 0")
		check(c.Store.Path != "", "store.path is required")
	case "export-postgres":
		check(c.Export.PostgresURL != "", "export.postgres_url is required")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
