package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// PlatformConfig holds one platform's API endpoint and credentials.
type PlatformConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RefreshToken string // LWA-style refresh token; empty for key-pair platforms
	TokenURL     string
}

type AppConfig struct {
	Port         string
	DatabasePath string
	LogLevel     string

	APIAuthSecret     string
	AccessTokenExpiry time.Duration

	// Fetcher tuning
	PollBaseDelay        time.Duration
	PollMaxDelay         time.Duration
	PollBackoffFactor    float64
	PollTimeout          time.Duration
	RateLimitMaxAttempts int
	RequestsPerSecond    float64

	// Orchestrator tuning
	RunTimeout             time.Duration
	ConcurrencyPerPlatform int
	ScheduleHour           int
	ScheduleMinute         int
	ScheduleTimezone       string

	AmazonSP  PlatformConfig
	AmazonAds PlatformConfig
	Walmart   PlatformConfig

	Accounts []string // account ids ingested each run

	EmailServiceProvider string
	SMTPServer           string
	SMTPPort             int
	SMTPUser             string
	SMTPPassword         string
	MailgunDomain        string
	MailgunPrivateAPIKey string
	SenderEmail          string
	SenderName           string
	AlertRecipient       string
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found. Relying on OS environment variables and defaults.")
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	apiAuthSecret := getEnv("API_AUTH_SECRET", "a-very-secure-32-byte-long-key-must-be-32-bytes!")
	if apiAuthSecret == "a-very-secure-32-byte-long-key-must-be-32-bytes!" {
		log.Println("WARNING: Using default insecure API_AUTH_SECRET. Set API_AUTH_SECRET environment variable for production.")
	}

	accounts := splitAndTrim(getEnv("INGESTION_ACCOUNT_IDS", "A123456789"))

	Cfg = &AppConfig{
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./reporting.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		APIAuthSecret:     apiAuthSecret,
		AccessTokenExpiry: getEnvDuration("ACCESS_TOKEN_EXPIRY", 60*time.Minute),

		PollBaseDelay:        getEnvDuration("POLL_BASE_DELAY", 15*time.Second),
		PollMaxDelay:         getEnvDuration("POLL_MAX_DELAY", 5*time.Minute),
		PollBackoffFactor:    getEnvFloat("POLL_BACKOFF_FACTOR", 2.0),
		PollTimeout:          getEnvDuration("POLL_TIMEOUT", 20*time.Minute),
		RateLimitMaxAttempts: getEnvInt("RATE_LIMIT_MAX_ATTEMPTS", 8),
		RequestsPerSecond:    getEnvFloat("PLATFORM_REQUESTS_PER_SECOND", 2.0),

		RunTimeout:             getEnvDuration("RUN_TIMEOUT", 30*time.Minute),
		ConcurrencyPerPlatform: getEnvInt("CONCURRENCY_PER_PLATFORM", 4),
		ScheduleHour:           getEnvInt("SCHEDULE_HOUR", 6),
		ScheduleMinute:         getEnvInt("SCHEDULE_MINUTE", 0),
		ScheduleTimezone:       getEnv("SCHEDULE_TIMEZONE", "America/Chicago"),

		AmazonSP: PlatformConfig{
			BaseURL:      getEnv("AMAZON_SP_BASE_URL", "https://sellingpartnerapi-na.amazon.com"),
			ClientID:     getEnv("AMAZON_SP_CLIENT_ID", ""),
			ClientSecret: getEnv("AMAZON_SP_CLIENT_SECRET", ""),
			RefreshToken: getEnv("AMAZON_SP_REFRESH_TOKEN", ""),
			TokenURL:     getEnv("AMAZON_SP_TOKEN_URL", "https://api.amazon.com/auth/o2/token"),
		},
		AmazonAds: PlatformConfig{
			BaseURL:      getEnv("AMAZON_ADS_BASE_URL", "https://advertising-api.amazon.com"),
			ClientID:     getEnv("AMAZON_ADS_CLIENT_ID", ""),
			ClientSecret: getEnv("AMAZON_ADS_CLIENT_SECRET", ""),
			RefreshToken: getEnv("AMAZON_ADS_REFRESH_TOKEN", ""),
			TokenURL:     getEnv("AMAZON_ADS_TOKEN_URL", "https://api.amazon.com/auth/o2/token"),
		},
		Walmart: PlatformConfig{
			BaseURL:      getEnv("WALMART_BASE_URL", "https://marketplace.walmartapis.com"),
			ClientID:     getEnv("WALMART_CLIENT_ID", ""),
			ClientSecret: getEnv("WALMART_CLIENT_SECRET", ""),
			TokenURL:     getEnv("WALMART_TOKEN_URL", "https://marketplace.walmartapis.com/v3/token"),
		},

		Accounts: accounts,

		EmailServiceProvider: getEnv("EMAIL_SERVICE_PROVIDER", "mock"),
		SMTPServer:           getEnv("SMTP_SERVER", ""),
		SMTPPort:             getEnvInt("SMTP_PORT", 587),
		SMTPUser:             getEnv("SMTP_USER", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
		MailgunDomain:        getEnv("MAILGUN_DOMAIN", ""),
		MailgunPrivateAPIKey: getEnv("MAILGUN_PRIVATE_API_KEY", ""),
		SenderEmail:          getEnv("SENDER_EMAIL", ""),
		SenderName:           getEnv("SENDER_NAME", "Ecommerce Reporting"),
		AlertRecipient:       getEnv("ALERT_RECIPIENT_EMAIL", ""),
	}

	log.Println("Application configuration loaded.")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		log.Printf("WARNING: Invalid integer for %s: %q. Using default %d.", key, value, fallback)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Printf("WARNING: Invalid float for %s: %q. Using default %v.", key, value, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("WARNING: Invalid duration for %s: %q. Using default %s.", key, value, fallback)
	}
	return fallback
}

func splitAndTrim(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
