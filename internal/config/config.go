package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	// EncryptionKey decrypts stored mailbox passwords. When empty, every sync
	// fails with a configuration error.
	EncryptionKey      string
	SessionJWTSecret   string
	InternalAPISecret  string
	InternalUserAgents []string

	DBHost     string
	DBPort     string
	DBUsername string
	DBPassword string
	DBName     string
	DBSSLMode  string

	Port     string
	Timezone string

	AMQPURL  string
	RedisURL string

	IMAPConnectTimeout  time.Duration
	SyncBatchSize       int
	DefaultMaxEmails    int
	MaxEmailsLimit      int
	AnalysisBatchSize   int
	AnalysisMaxAttempts int
	AnalysisWebhookURL  string
	SyncSchedule        string
	SentFolderNames     []string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILSYNC_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:         env,
		EncryptionKey:       os.Getenv("MAILSYNC_ENCRYPTION_KEY"),
		SessionJWTSecret:    os.Getenv("SUPABASE_JWT_SECRET"),
		InternalAPISecret:   os.Getenv("MAILSYNC_INTERNAL_SECRET"),
		InternalUserAgents:  splitList(getEnvOrDefault("MAILSYNC_INTERNAL_USER_AGENTS", "mailsync-internal,mailsync-scheduler")),
		DBHost:              getEnvOrDefault("MAILSYNC_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("MAILSYNC_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("MAILSYNC_DB_USER", "mailsync"),
		DBPassword:          os.Getenv("MAILSYNC_DB_PASSWORD"),
		DBName:              getEnvOrDefault("MAILSYNC_DB_NAME", "mailsync"),
		DBSSLMode:           getEnvOrDefault("MAILSYNC_DB_SSLMODE", "disable"),
		Port:                getEnvOrDefault("PORT", "11780"),
		Timezone:            getEnvOrDefault("TZ", "UTC"),
		AMQPURL:             os.Getenv("MAILSYNC_AMQP_URL"),
		RedisURL:            os.Getenv("MAILSYNC_REDIS_URL"),
		AnalysisWebhookURL:  os.Getenv("MAILSYNC_ANALYSIS_WEBHOOK_URL"),
		SyncSchedule:        os.Getenv("MAILSYNC_SYNC_SCHEDULE"),
		SentFolderNames:     splitList(getEnvOrDefault("MAILSYNC_SENT_FOLDERS", "Sent,Sent Items,Sent Mail,Sent Messages,[Gmail]/Sent Mail,INBOX.Sent")),
		IMAPConnectTimeout:  30 * time.Second,
		SyncBatchSize:       10,
		DefaultMaxEmails:    50,
		MaxEmailsLimit:      500,
		AnalysisBatchSize:   10,
		AnalysisMaxAttempts: 3,
	}

	var err error
	if config.IMAPConnectTimeout, err = getDurationOrDefault("MAILSYNC_IMAP_CONNECT_TIMEOUT", config.IMAPConnectTimeout); err != nil {
		return nil, err
	}
	if config.SyncBatchSize, err = getIntOrDefault("MAILSYNC_BATCH_SIZE", config.SyncBatchSize); err != nil {
		return nil, err
	}
	if config.DefaultMaxEmails, err = getIntOrDefault("MAILSYNC_DEFAULT_MAX_EMAILS", config.DefaultMaxEmails); err != nil {
		return nil, err
	}
	if config.MaxEmailsLimit, err = getIntOrDefault("MAILSYNC_MAX_EMAILS_LIMIT", config.MaxEmailsLimit); err != nil {
		return nil, err
	}
	if config.AnalysisBatchSize, err = getIntOrDefault("MAILSYNC_ANALYSIS_BATCH_SIZE", config.AnalysisBatchSize); err != nil {
		return nil, err
	}
	if config.AnalysisMaxAttempts, err = getIntOrDefault("MAILSYNC_ANALYSIS_MAX_ATTEMPTS", config.AnalysisMaxAttempts); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.DBPassword == "" {
		return fmt.Errorf("MAILSYNC_DB_PASSWORD is required")
	}

	if !isValidPort(c.DBPort) {
		return fmt.Errorf("MAILSYNC_DB_PORT is not a valid port number: %q", c.DBPort)
	}

	if !isValidPort(c.Port) {
		return fmt.Errorf("PORT is not a valid port number: %q", c.Port)
	}

	if c.InternalAPISecret != "" && len(c.InternalUserAgents) == 0 {
		return fmt.Errorf("MAILSYNC_INTERNAL_USER_AGENTS must list at least one user agent when MAILSYNC_INTERNAL_SECRET is set")
	}

	if c.SyncBatchSize < 1 {
		return fmt.Errorf("MAILSYNC_BATCH_SIZE must be positive")
	}

	if c.DefaultMaxEmails < 1 || c.DefaultMaxEmails > c.MaxEmailsLimit {
		return fmt.Errorf("MAILSYNC_DEFAULT_MAX_EMAILS must be between 1 and %d", c.MaxEmailsLimit)
	}

	if c.AnalysisWebhookURL != "" {
		u, err := url.Parse(c.AnalysisWebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("MAILSYNC_ANALYSIS_WEBHOOK_URL must use http:// or https:// scheme")
		}
	}

	return nil
}

// GetDatabaseURL builds a postgres URL with the credentials escaped.
func (c *Config) GetDatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUsername, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid integer: %q", key, value)
	}
	return n, nil
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid duration: %q", key, value)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func isValidPort(port string) bool {
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}
