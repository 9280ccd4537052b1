package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds service configuration loaded from the environment.
type Config struct {
	AppName  string
	LogLevel string
	HTTPPort string

	// Push service.
	ExpoEndpoint    string
	ExpoAccessToken string
	ProviderTimeout time.Duration
	SendRatePerSec  int
	ForceFCMv1      bool

	// Device registration.
	ProjectID    string
	ManifestPath string
	DeviceOS     string
	BufferSize   int

	// Send request intake.
	RabbitURL       string
	PushQueue       string
	DeadLetterQueue string
	PrefetchCount   int
	WorkerCount     int
	DatabaseURL     string
	RedisURL        string
	StatusTable     string
	SuppressTTL     time.Duration

	DialMaxAttempts    int
	DialInitialBackoff time.Duration
	DialMaxBackoff     time.Duration
}

// Load reads .env (when present) and the environment. The project id falls
// back to the app manifest when EXPO_PROJECT_ID is unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppName:  getEnv("APP_NAME", "expo_push"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPPort: getEnv("HTTP_PORT", "8082"),

		ExpoEndpoint:    getEnv("EXPO_PUSH_ENDPOINT", "https://exp.host/--/api/v2/push/send"),
		ExpoAccessToken: getEnv("EXPO_PUBLIC_NOTIFICATIONS_AUTH_KEY", ""),
		ProviderTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
		SendRatePerSec:  getEnvAsInt("SEND_RATE_PER_SEC", 500),
		ForceFCMv1:      getEnvAsBool("FORCE_FCM_V1", false),

		ProjectID:    getEnv("EXPO_PROJECT_ID", ""),
		ManifestPath: getEnv("APP_MANIFEST", "app.yaml"),
		DeviceOS:     strings.ToLower(getEnv("DEVICE_OS", "android")),
		BufferSize:   getEnvAsInt("NOTIFICATION_BUFFER", 16),

		RabbitURL:       getEnv("RABBITMQ_URL", ""),
		PushQueue:       getEnv("PUSH_QUEUE", "push.queue"),
		DeadLetterQueue: getEnv("PUSH_DLQ", "failed.queue"),
		PrefetchCount:   getEnvAsInt("PUSH_PREFETCH", 100),
		WorkerCount:     getEnvAsInt("WORKER_COUNT", 5),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisURL:        getEnv("REDIS_URL", ""),
		StatusTable:     getEnv("STATUS_TABLE", "push_tickets"),
		SuppressTTL:     getEnvAsDuration("SUPPRESS_TTL", 24*time.Hour),

		DialMaxAttempts:    getEnvAsInt("DIAL_MAX_ATTEMPTS", 5),
		DialInitialBackoff: getEnvAsDuration("DIAL_INITIAL_BACKOFF", time.Second),
		DialMaxBackoff:     getEnvAsDuration("DIAL_MAX_BACKOFF", 15*time.Second),
	}

	if cfg.ProjectID == "" {
		manifest, err := LoadManifest(cfg.ManifestPath)
		switch {
		case err == nil:
			cfg.ProjectID = manifest.ProjectID()
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DeviceOS {
	case "android", "ios", "web":
	default:
		return fmt.Errorf("unsupported DEVICE_OS %q", c.DeviceOS)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("NOTIFICATION_BUFFER must be positive, got %d", c.BufferSize)
	}
	return nil
}

// ValidateConsumer checks the variables only the queue consumer needs.
func (c *Config) ValidateConsumer() error {
	var missing []string
	if c.RabbitURL == "" {
		missing = append(missing, "RABBITMQ_URL")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

func getEnv(key, def string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return value
}

func getEnvAsInt(key string, def int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid int for %s, using default %d: %v", key, def, err)
			return def
		}
		return i
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("invalid bool for %s, using default %t: %v", key, def, err)
			return def
		}
		return b
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			log.Printf("invalid duration for %s, using default %s: %v", key, def, err)
			return def
		}
		return d
	}
	return def
}
