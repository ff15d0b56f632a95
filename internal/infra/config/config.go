package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported document store drivers.
const (
	StoreDriverFirestore = "firestore"
	StoreDriverPostgres  = "postgres"
)

// MissingVariablesError lists every required variable that was not set.
type MissingVariablesError struct {
	Names []string
}

func (e *MissingVariablesError) Error() string {
	return fmt.Sprintf("missing required environment variables: %s", strings.Join(e.Names, ", "))
}

// AppConfig holds all configuration for the application
type AppConfig struct {
	DiscordToken     string
	DiscordClientID  string
	DiscordGuildID   string
	DiscordChannelID string
	CommandPrefix    string
	PresenceText     string

	LogLevel    string
	Environment string

	StoreDriver             string
	FirebaseProjectID       string
	FirebaseCredentialsFile string
	FirebaseAPIKey          string
	DatabaseURL             string

	ReportInterval        time.Duration
	ApplicationsOpenAt    time.Time
	ApplicationsCloseAt   time.Time
	ApplicationEmailField string
	HeartbeatFile         string
	MetricsAddr           string

	TelegramToken  string
	TelegramChatID int64
}

// IsDevelopment reports whether verbose development logging should be enabled.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// TelegramEnabled reports whether the Telegram mirror is configured.
func (c *AppConfig) TelegramEnabled() bool {
	return c.TelegramToken != ""
}

// Load reads configuration from environment variables and .env file (if present).
// Every missing required variable is reported in a single *MissingVariablesError,
// joined with any invalid values found in the same pass.
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	var missing []string
	var invalid []error
	required := func(name string) string {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			missing = append(missing, name)
		}
		return v
	}

	cfg := &AppConfig{
		DiscordToken:     required("DISCORD_TOKEN"),
		DiscordGuildID:   required("DISCORD_GUILD_ID"),
		DiscordChannelID: required("DISCORD_CHANNEL_ID"),
		DiscordClientID:  os.Getenv("DISCORD_CLIENT_ID"),
		CommandPrefix:    envOr("COMMAND_PREFIX", "!"),
		PresenceText:     envOr("PRESENCE_TEXT", "Checking applications"),

		Environment: strings.ToLower(envOr("ENVIRONMENT", "development")),

		StoreDriver: strings.ToLower(envOr("STORE_DRIVER", StoreDriverFirestore)),

		ApplicationEmailField: envOr("APPLICATION_EMAIL_FIELD", "email"),
		HeartbeatFile:         os.Getenv("HEARTBEAT_FILE"),
		MetricsAddr:           os.Getenv("METRICS_ADDR"),
		TelegramToken:         os.Getenv("TELEGRAM_TOKEN"),
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
		if cfg.IsDevelopment() {
			cfg.LogLevel = "debug"
		}
	}

	switch cfg.StoreDriver {
	case StoreDriverFirestore:
		cfg.FirebaseProjectID = required("FIREBASE_PROJECT_ID")
		cfg.FirebaseCredentialsFile = os.Getenv("FIREBASE_CREDENTIALS_FILE")
		cfg.FirebaseAPIKey = os.Getenv("FIREBASE_API_KEY")
		if cfg.FirebaseCredentialsFile == "" && cfg.FirebaseAPIKey == "" {
			missing = append(missing, "FIREBASE_CREDENTIALS_FILE or FIREBASE_API_KEY")
		}
	case StoreDriverPostgres:
		cfg.DatabaseURL = required("DATABASE_URL")
	default:
		invalid = append(invalid, fmt.Errorf("invalid STORE_DRIVER %q: expected %q or %q", cfg.StoreDriver, StoreDriverFirestore, StoreDriverPostgres))
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); cfg.TelegramToken != "" || chatID != "" {
		if cfg.TelegramToken == "" {
			missing = append(missing, "TELEGRAM_TOKEN")
		}
		if chatID == "" {
			missing = append(missing, "TELEGRAM_CHAT_ID")
		} else {
			id, err := strconv.ParseInt(chatID, 10, 64)
			if err != nil {
				invalid = append(invalid, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err))
			}
			cfg.TelegramChatID = id
		}
	}

	if len(missing) > 0 {
		invalid = append([]error{&MissingVariablesError{Names: missing}}, invalid...)
	}
	if len(invalid) > 0 {
		return nil, errors.Join(invalid...)
	}

	var err error
	cfg.ReportInterval, err = time.ParseDuration(envOr("REPORT_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid REPORT_INTERVAL: %w", err)
	}
	if cfg.ReportInterval <= 0 {
		return nil, fmt.Errorf("invalid REPORT_INTERVAL: must be positive")
	}

	cfg.ApplicationsOpenAt, err = parseInstant(envOr("APPLICATIONS_OPEN_AT", "2025-06-06"))
	if err != nil {
		return nil, fmt.Errorf("invalid APPLICATIONS_OPEN_AT: %w", err)
	}
	cfg.ApplicationsCloseAt, err = parseInstant(envOr("APPLICATIONS_CLOSE_AT", "2025-07-09"))
	if err != nil {
		return nil, fmt.Errorf("invalid APPLICATIONS_CLOSE_AT: %w", err)
	}
	if !cfg.ApplicationsCloseAt.After(cfg.ApplicationsOpenAt) {
		return nil, fmt.Errorf("APPLICATIONS_CLOSE_AT must be after APPLICATIONS_OPEN_AT")
	}

	return cfg, nil
}

func envOr(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

// parseInstant accepts RFC 3339 timestamps or plain dates in local time.
func parseInstant(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", v, time.Local)
}
