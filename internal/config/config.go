package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Nixie-Tech-LLC/inkframe/internal/schedule"
)

const (
	DisplayDriverMQTT = "mqtt"
	DisplayDriverFile = "file"
)

// Config holds environment-based settings.
type Config struct {
	Environment   string
	ServerAddress string
	JWTSecret     string

	DatabaseDriver string
	DatabaseURL    string
	MigrationsPath string

	RedisAddress  string
	RedisUsername string
	RedisPassword string
	RedisDB       int

	UseSpaces       bool
	SpacesEndpoint  string
	SpacesRegion    string
	SpacesBucket    string
	SpacesCDNURL    string
	SpacesAccessKey string
	SpacesSecretKey string
	UploadDir       string

	DisplayDriver   string
	DisplayDir      string
	DisplayDeviceID string
	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string

	Location             *time.Location
	WeekStart            time.Weekday
	SchedulerInterval    time.Duration
	HealthRefreshAt      string
	GeneratorTimeout     time.Duration
	ErrorArtifactTTL     time.Duration
	CacheCapacity        int
	PushTimeout          time.Duration
	PushMaxRetries       int
	PushBackoff          time.Duration
	PlaylistDefaultDwell time.Duration
	OnGenerationFailure  string
	DisplayWidth         int
	DisplayHeight        int
}

// IsDevelopment reports whether APP_ENV selects development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "" || c.Environment == "development"
}

// Load reads configuration from the environment, seeded from a .env file in
// the working directory when one exists. Variables already set win over the
// file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	r := &reader{}
	cfg := &Config{
		Environment:   getEnv("APP_ENV", "development"),
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		JWTSecret:     os.Getenv("JWT_SECRET"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MigrationsPath: os.Getenv("MIGRATIONS_PATH"),

		RedisAddress:  os.Getenv("REDIS_ADDRESS"),
		RedisUsername: os.Getenv("REDIS_USERNAME"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       r.int("REDIS_DB", 0),

		UseSpaces:       r.bool("USE_SPACES", false),
		SpacesEndpoint:  os.Getenv("SPACES_ENDPOINT"),
		SpacesRegion:    os.Getenv("SPACES_REGION"),
		SpacesBucket:    os.Getenv("SPACES_BUCKET"),
		SpacesCDNURL:    os.Getenv("SPACES_CDN_URL"),
		SpacesAccessKey: os.Getenv("SPACES_ACCESS_KEY"),
		SpacesSecretKey: os.Getenv("SPACES_SECRET_KEY"),
		UploadDir:       getEnv("UPLOAD_DIR", "./uploads"),

		DisplayDriver:   getEnv("DISPLAY_DRIVER", DisplayDriverFile),
		DisplayDir:      getEnv("DISPLAY_DIR", "./display"),
		DisplayDeviceID: getEnv("DISPLAY_DEVICE_ID", "inkframe"),
		MQTTBrokerURL:   os.Getenv("MQTT_BROKER_URL"),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "inkframe-server"),
		MQTTUsername:    os.Getenv("MQTT_USERNAME"),
		MQTTPassword:    os.Getenv("MQTT_PASSWORD"),

		SchedulerInterval:    r.duration("SCHEDULER_INTERVAL", time.Minute),
		HealthRefreshAt:      getEnv("HEALTH_REFRESH_AT", "03:00"),
		GeneratorTimeout:     r.duration("GENERATOR_TIMEOUT", 30*time.Second),
		ErrorArtifactTTL:     r.duration("ERROR_ARTIFACT_TTL", 5*time.Minute),
		CacheCapacity:        r.int("CACHE_CAPACITY", 64),
		PushTimeout:          r.duration("PUSH_TIMEOUT", 30*time.Second),
		PushMaxRetries:       r.int("PUSH_MAX_RETRIES", 3),
		PushBackoff:          r.duration("PUSH_BACKOFF", 2*time.Second),
		PlaylistDefaultDwell: r.duration("PLAYLIST_DEFAULT_DWELL", time.Hour),
		OnGenerationFailure:  getEnv("ON_GENERATION_FAILURE", "push"),
		DisplayWidth:         r.int("DISPLAY_WIDTH", 800),
		DisplayHeight:        r.int("DISPLAY_HEIGHT", 480),
	}

	loc, err := time.LoadLocation(getEnv("DISPLAY_TIMEZONE", "Local"))
	if err != nil {
		r.fail("DISPLAY_TIMEZONE", err)
	}
	cfg.Location = loc

	weekStart, err := schedule.ParseWeekday(getEnv("WEEK_START", "monday"))
	if err != nil {
		r.fail("WEEK_START", err)
	}
	cfg.WeekStart = weekStart

	if err := errors.Join(append(r.errs, cfg.validate()...)...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite3" {
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite3, got %q", c.DatabaseDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	switch c.DisplayDriver {
	case DisplayDriverFile:
	case DisplayDriverMQTT:
		if c.MQTTBrokerURL == "" {
			errs = append(errs, errors.New("MQTT_BROKER_URL is required for the mqtt display driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("DISPLAY_DRIVER must be mqtt or file, got %q", c.DisplayDriver))
	}
	if c.UseSpaces && (c.SpacesBucket == "" || c.SpacesEndpoint == "") {
		errs = append(errs, errors.New("SPACES_ENDPOINT and SPACES_BUCKET are required when USE_SPACES is set"))
	}
	if _, err := time.Parse("15:04", c.HealthRefreshAt); err != nil {
		errs = append(errs, fmt.Errorf("HEALTH_REFRESH_AT must be HH:MM, got %q", c.HealthRefreshAt))
	}
	if c.OnGenerationFailure != "push" && c.OnGenerationFailure != "retain" {
		errs = append(errs, fmt.Errorf("ON_GENERATION_FAILURE must be push or retain, got %q", c.OnGenerationFailure))
	}
	if c.CacheCapacity < 1 {
		errs = append(errs, errors.New("CACHE_CAPACITY must be at least 1"))
	}
	if c.PushMaxRetries < 0 {
		errs = append(errs, errors.New("PUSH_MAX_RETRIES must not be negative"))
	}
	if c.DisplayWidth < 1 || c.DisplayHeight < 1 {
		errs = append(errs, errors.New("DISPLAY_WIDTH and DISPLAY_HEIGHT must be positive"))
	}
	for key, d := range map[string]time.Duration{
		"SCHEDULER_INTERVAL": c.SchedulerInterval,
		"GENERATOR_TIMEOUT":  c.GeneratorTimeout,
		"PUSH_TIMEOUT":       c.PushTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	return errs
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// reader collects parse errors so Load reports every bad key at once.
type reader struct {
	errs []error
}

func (r *reader) fail(key string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
}

func (r *reader) int(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return parsed
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return parsed
}

func (r *reader) bool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "":
		return def
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	r.fail(key, errors.New("not a boolean"))
	return def
}
