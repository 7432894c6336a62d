package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Provider struct {
	Kind         string
	WebhookURL   string
	WebhookToken string
}

type Config struct {
	Env                 string
	Port                string
	Store               string
	DatabaseURL         string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RedisChannelPrefix  string
	JWTSecret           string
	Location            *time.Location
	CORSOrigins         []string
	RateLimitPerMinute  int
	EventBufferSize     int
	NotifyWorkers       int
	NotifyQueueSize     int
	ApproachingPosition int
	SMSProvider         Provider
	PushProvider        Provider
	ShutdownTimeout     time.Duration
	Tracing             Tracing
}

type Tracing struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// LoadEnvFile reads key=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	store := strings.ToLower(os.Getenv("STORE"))
	if store != StoreMemory {
		store = StorePostgres
	}

	return Config{
		Env:                 readString("APP_ENV", "production"),
		Port:                port,
		Store:               store,
		DatabaseURL:         os.Getenv("DB_DSN"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             readInt("REDIS_DB", 0),
		RedisChannelPrefix:  readString("REDIS_CHANNEL_PREFIX", "smartqueue:"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		Location:            readLocation("TIMEZONE"),
		CORSOrigins:         readList("CORS_ORIGIN", []string{"*"}),
		RateLimitPerMinute:  readInt("RATE_LIMIT_PER_MIN", 120),
		EventBufferSize:     readInt("EVENT_BUFFER_SIZE", 1024),
		NotifyWorkers:       readInt("NOTIFY_WORKERS", 4),
		NotifyQueueSize:     readInt("NOTIFY_QUEUE_SIZE", 256),
		ApproachingPosition: readInt("NOTIFY_APPROACHING_POSITION", 3),
		SMSProvider:         readProvider("NOTIFY_SMS"),
		PushProvider:        readProvider("NOTIFY_PUSH"),
		ShutdownTimeout:     readDurationSeconds("SHUTDOWN_TIMEOUT_SECONDS", 10),
		Tracing: Tracing{
			Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure:    readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio: readFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
	}
}

func readProvider(prefix string) Provider {
	return Provider{
		Kind:         readString(prefix+"_PROVIDER", "log"),
		WebhookURL:   os.Getenv(prefix + "_WEBHOOK_URL"),
		WebhookToken: os.Getenv(prefix + "_WEBHOOK_TOKEN"),
	}
}

func readLocation(key string) *time.Location {
	name := os.Getenv(key)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func readList(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}

func readString(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}
