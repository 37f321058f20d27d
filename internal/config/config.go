package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PollIntervals holds one interval per polled resource.
type PollIntervals struct {
	Jobs          time.Duration `yaml:"jobs"`
	Requests      time.Duration `yaml:"requests"`
	Conversations time.Duration `yaml:"conversations"`
	Messages      time.Duration `yaml:"messages"`
	Listings      time.Duration `yaml:"listings"`
	Notifications time.Duration `yaml:"notifications"`
}

// ConsoleConfig captures all tunable parameters for the console process.
// Values come from an optional YAML file, then environment variables, on top
// of defaults that let the binary run locally against a dev backend.
type ConsoleConfig struct {
	APIBaseURL  string
	WSURL       string
	AuthToken   string
	DriverRole  string
	HTTPTimeout time.Duration

	Poll PollIntervals

	GeocoderURL     string
	OSRMURL         string
	RedisAddr       string
	RedisPassword   string
	GeocodeCacheTTL time.Duration

	PGDSN string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	StripeAPIKey          string
	PaymentVerifyAttempts int
	PaymentVerifyInterval time.Duration

	LocationEmitInterval time.Duration
	InspectAddr          string

	LogLevel string
}

func defaultConsoleConfig() ConsoleConfig {
	return ConsoleConfig{
		APIBaseURL:  "http://localhost:3000/api",
		WSURL:       "ws://localhost:3000/ws",
		DriverRole:  "driver",
		HTTPTimeout: 10 * time.Second,
		Poll: PollIntervals{
			Jobs:          5 * time.Second,
			Requests:      3 * time.Second,
			Conversations: 4 * time.Second,
			Messages:      3 * time.Second,
			Listings:      20 * time.Second,
			Notifications: 10 * time.Second,
		},
		GeocoderURL:           "https://nominatim.openstreetmap.org",
		GeocodeCacheTTL:       24 * time.Hour,
		KafkaTopic:            "job-transitions",
		KafkaGroup:            "driver-console-audit",
		PaymentVerifyAttempts: 10,
		PaymentVerifyInterval: 3 * time.Second,
		LocationEmitInterval:  5 * time.Second,
		InspectAddr:           ":8090",
		LogLevel:              "info",
	}
}

// fileConfig is the YAML overlay. Only the keys present in the file are
// applied.
type fileConfig struct {
	APIBaseURL string         `yaml:"api_base_url"`
	WSURL      string         `yaml:"ws_url"`
	Poll       *PollIntervals `yaml:"poll"`
	Payments   *struct {
		VerifyAttempts int           `yaml:"verify_attempts"`
		VerifyInterval time.Duration `yaml:"verify_interval"`
	} `yaml:"payments"`
}

func LoadConsoleConfig() (ConsoleConfig, error) {
	cfg := defaultConsoleConfig()
	var errs []error

	if path := strings.TrimSpace(os.Getenv("CONSOLE_CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			errs = append(errs, err)
		}
	}

	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	setStringFromEnv(&cfg.WSURL, "WS_URL")
	cfg.AuthToken = strings.TrimSpace(os.Getenv("AUTH_TOKEN"))
	setStringFromEnv(&cfg.DriverRole, "DRIVER_ROLE")
	setDurationFromEnv(&cfg.HTTPTimeout, "HTTP_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.Poll.Jobs, "POLL_JOBS_INTERVAL", &errs)
	setDurationFromEnv(&cfg.Poll.Requests, "POLL_REQUESTS_INTERVAL", &errs)
	setDurationFromEnv(&cfg.Poll.Conversations, "POLL_CONVERSATIONS_INTERVAL", &errs)
	setDurationFromEnv(&cfg.Poll.Messages, "POLL_MESSAGES_INTERVAL", &errs)
	setDurationFromEnv(&cfg.Poll.Listings, "POLL_LISTINGS_INTERVAL", &errs)
	setDurationFromEnv(&cfg.Poll.Notifications, "POLL_NOTIFICATIONS_INTERVAL", &errs)

	setStringFromEnv(&cfg.GeocoderURL, "GEOCODER_URL")
	cfg.OSRMURL = strings.TrimSpace(os.Getenv("OSRM_URL"))
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.GeocodeCacheTTL, "GEOCODE_CACHE_TTL", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setIntFromEnv(&cfg.PaymentVerifyAttempts, "PAYMENT_VERIFY_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.PaymentVerifyInterval, "PAYMENT_VERIFY_INTERVAL", &errs)

	setDurationFromEnv(&cfg.LocationEmitInterval, "LOCATION_EMIT_INTERVAL", &errs)
	setStringFromEnv(&cfg.InspectAddr, "INSPECT_ADDR")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ConsoleConfig) validate() []error {
	var errs []error
	for name, d := range map[string]time.Duration{
		"jobs":          c.Poll.Jobs,
		"requests":      c.Poll.Requests,
		"conversations": c.Poll.Conversations,
		"messages":      c.Poll.Messages,
		"listings":      c.Poll.Listings,
		"notifications": c.Poll.Notifications,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("poll interval for %s must be > 0", name))
		}
	}
	if c.PaymentVerifyAttempts <= 0 {
		errs = append(errs, fmt.Errorf("PAYMENT_VERIFY_ATTEMPTS must be > 0"))
	}
	if c.LocationEmitInterval <= 0 {
		errs = append(errs, fmt.Errorf("LOCATION_EMIT_INTERVAL must be > 0"))
	}
	return errs
}

func applyFile(cfg *ConsoleConfig, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if fc.APIBaseURL != "" {
		cfg.APIBaseURL = fc.APIBaseURL
	}
	if fc.WSURL != "" {
		cfg.WSURL = fc.WSURL
	}
	if p := fc.Poll; p != nil {
		overlay(&cfg.Poll.Jobs, p.Jobs)
		overlay(&cfg.Poll.Requests, p.Requests)
		overlay(&cfg.Poll.Conversations, p.Conversations)
		overlay(&cfg.Poll.Messages, p.Messages)
		overlay(&cfg.Poll.Listings, p.Listings)
		overlay(&cfg.Poll.Notifications, p.Notifications)
	}
	if p := fc.Payments; p != nil {
		if p.VerifyAttempts != 0 {
			cfg.PaymentVerifyAttempts = p.VerifyAttempts
		}
		overlay(&cfg.PaymentVerifyInterval, p.VerifyInterval)
	}
	return nil
}

func overlay(target *time.Duration, v time.Duration) {
	if v != 0 {
		*target = v
	}
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
