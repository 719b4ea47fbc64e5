package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the assessment service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	CORSOrigins string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	JWTSecret   string
	Compass     CompassConfig
}

// CompassConfig tunes the calculation engines.
type CompassConfig struct {
	EqualityThreshold float64
	WaitingListSize   int
	ConflictTolerance float64
	Retention         time.Duration
	EvictionInterval  time.Duration
	EventChannel      string
	AssessRateLimit   int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "GEMA Compass")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("cors.origins", "*")
	v.SetDefault("compass.equality_threshold", 0.8)
	v.SetDefault("compass.waiting_list_size", 10)
	v.SetDefault("compass.conflict_tolerance", 0.01)
	v.SetDefault("compass.retention_days", 1)
	v.SetDefault("compass.eviction_interval", "24h")
	v.SetDefault("compass.event_channel", "gema:compass")
	v.SetDefault("compass.assess_rate_limit", 30)
}

func fromViper(v *viper.Viper) (Config, error) {
	interval, err := time.ParseDuration(v.GetString("compass.eviction_interval"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid compass eviction interval: %w", err)
	}
	if interval <= 0 {
		return Config{}, fmt.Errorf("compass eviction interval must be positive")
	}

	retentionDays := v.GetInt("compass.retention_days")
	if retentionDays <= 0 {
		return Config{}, fmt.Errorf("compass retention must be at least one day")
	}

	threshold := v.GetFloat64("compass.equality_threshold")
	if threshold < 0 || threshold > 1 {
		return Config{}, fmt.Errorf("compass equality threshold must be within [0,1]")
	}

	cfg := Config{
		AppName:     v.GetString("app.name"),
		AppEnv:      v.GetString("app.env"),
		AppPort:     v.GetString("app.port"),
		CORSOrigins: v.GetString("cors.origins"),
		DatabaseURL: v.GetString("database.url"),
		RedisURL:    v.GetString("redis.url"),
		NATSURL:     v.GetString("nats.url"),
		JWTSecret:   v.GetString("jwt.secret"),
		Compass: CompassConfig{
			EqualityThreshold: threshold,
			WaitingListSize:   v.GetInt("compass.waiting_list_size"),
			ConflictTolerance: v.GetFloat64("compass.conflict_tolerance"),
			Retention:         time.Duration(retentionDays) * 24 * time.Hour,
			EvictionInterval:  interval,
			EventChannel:      v.GetString("compass.event_channel"),
			AssessRateLimit:   v.GetInt("compass.assess_rate_limit"),
		},
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.Compass.WaitingListSize <= 0 {
		cfg.Compass.WaitingListSize = 10
	}

	if cfg.Compass.ConflictTolerance < 0 {
		cfg.Compass.ConflictTolerance = 0.01
	}

	return cfg, nil
}
