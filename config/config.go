package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"tidbyt.dev/transit"
	"tidbyt.dev/transit/parse"
	"tidbyt.dev/transit/resolve"
	"tidbyt.dev/transit/routing"
)

const envPrefix = "TRANSIT_"

type Config struct {
	RegistryURL         string        `validate:"required,url"`
	FeedURL             string        `validate:"omitempty,url"`
	FeedFormat          string        `validate:"oneof=json gtfsrt"`
	RoutesFile          string        `validate:"omitempty,file"`
	RoutingURL          string        `validate:"omitempty,url"`
	RoutingProfile      string        `validate:"required"`
	Storage             string        `validate:"oneof=memory sqlite postgres"`
	SQLiteDir           string        `validate:"omitempty,dir"`
	PostgresURL         string        `validate:"required_if=Storage postgres"`
	NATSURL             string        `validate:"omitempty,url"`
	NATSPrefix          string        `validate:"required"`
	ListenAddr          string        `validate:"required"`
	Timezone            string        `validate:"required"`
	PollInterval        time.Duration `validate:"gt=0"`
	GraceWindow         time.Duration `validate:"gte=0"`
	StaleAfter          time.Duration `validate:"gt=0"`
	MaxRetries          int           `validate:"gte=0"`
	Threshold           float64       `validate:"gt=0,lte=1"`
	MaxCoordsPerRequest int           `validate:"gte=2"`
	RefreshInterval     time.Duration `validate:"gte=0"`
	CacheFile           string
	CORSOrigins         []string

	// Set by Validate.
	Location *time.Location `validate:"-"`
}

func Default() *Config {
	return &Config{
		FeedFormat:          string(transit.FeedFormatJSON),
		RoutingProfile:      routing.DefaultProfile,
		Storage:             "memory",
		NATSPrefix:          "transit",
		ListenAddr:          ":8080",
		Timezone:            "UTC",
		PollInterval:        transit.DefaultPollInterval,
		GraceWindow:         transit.DefaultGraceWindow,
		StaleAfter:          parse.DefaultStaleAfter,
		MaxRetries:          transit.DefaultMaxRetries,
		Threshold:           resolve.DefaultThreshold,
		MaxCoordsPerRequest: routing.DefaultMaxCoordsPerRequest,
		RefreshInterval:     time.Hour,
		CORSOrigins:         []string{"*"},
	}
}

// Loads configuration from TRANSIT_ prefixed environment variables,
// on top of the defaults. The given .env files (or ".env" if none)
// are read into the environment first, when present. The result is
// not validated, so callers can apply overrides before Validate.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	cfg := Default()

	cfg.RegistryURL = getenvDefault("REGISTRY_URL", cfg.RegistryURL)
	cfg.FeedURL = getenvDefault("FEED_URL", cfg.FeedURL)
	cfg.FeedFormat = strings.ToLower(getenvDefault("FEED_FORMAT", cfg.FeedFormat))
	cfg.RoutesFile = getenvDefault("ROUTES_FILE", cfg.RoutesFile)
	cfg.RoutingURL = getenvDefault("ROUTING_URL", cfg.RoutingURL)
	cfg.RoutingProfile = getenvDefault("ROUTING_PROFILE", cfg.RoutingProfile)
	cfg.Storage = strings.ToLower(getenvDefault("STORAGE", cfg.Storage))
	cfg.SQLiteDir = getenvDefault("SQLITE_DIR", cfg.SQLiteDir)
	cfg.PostgresURL = firstNonEmpty(os.Getenv(envPrefix+"POSTGRES_URL"), os.Getenv("DATABASE_URL"))
	cfg.NATSURL = getenvDefault("NATS_URL", cfg.NATSURL)
	cfg.NATSPrefix = getenvDefault("NATS_PREFIX", cfg.NATSPrefix)
	cfg.ListenAddr = getenvDefault("LISTEN_ADDR", cfg.ListenAddr)
	cfg.Timezone = firstNonEmpty(os.Getenv(envPrefix+"TIMEZONE"), os.Getenv("TZ"), cfg.Timezone)
	cfg.CacheFile = getenvDefault("CACHE_FILE", cfg.CacheFile)

	if v := os.Getenv(envPrefix + "CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
			}
		}
	}

	var err error
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"POLL_INTERVAL", &cfg.PollInterval},
		{"GRACE_WINDOW", &cfg.GraceWindow},
		{"STALE_AFTER", &cfg.StaleAfter},
		{"REFRESH_INTERVAL", &cfg.RefreshInterval},
	} {
		if v := os.Getenv(envPrefix + d.key); v != "" {
			*d.dst, err = time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s%s: %q", envPrefix, d.key, v)
			}
		}
	}

	for _, i := range []struct {
		key string
		dst *int
	}{
		{"MAX_RETRIES", &cfg.MaxRetries},
		{"MAX_COORDS_PER_REQUEST", &cfg.MaxCoordsPerRequest},
	} {
		if v := os.Getenv(envPrefix + i.key); v != "" {
			*i.dst, err = strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s%s: %q", envPrefix, i.key, v)
			}
		}
	}

	if v := os.Getenv(envPrefix + "MATCH_THRESHOLD"); v != "" {
		cfg.Threshold, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %sMATCH_THRESHOLD: %q", envPrefix, v)
		}
	}

	return cfg, nil
}

// Checks the configuration and resolves the timezone.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone: %w", err)
	}
	c.Location = loc

	return nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(envPrefix + k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
