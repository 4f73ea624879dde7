package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// HTTP front-end
	ListenAddr    string
	SecureCookies bool

	// TableCRM API
	TableCRMAPIURL      string
	TableCRMProxyTarget string
	TableCRMCORSProxy   string
	TableCRMAuthHeader  bool
	TableCRMTimeout     time.Duration

	// Client directory
	ClientsPageSize int
	ClientsMaxTotal int

	// Order listing
	OrdersPageSize      int
	OrdersRetryAttempts int
	OrdersRetryDelay    time.Duration

	SearchDebounce time.Duration

	// Token storage
	DBDriver    string
	DatabaseDSN string

	// Telegram Bot (optional)
	TelegramBotToken string
	AuthorizedUsers  []int64

	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		ListenAddr:          getEnvWithDefault("LISTEN_ADDR", ":3001"),
		TableCRMAPIURL:      strings.TrimRight(getEnvWithDefault("TABLECRM_API_URL", "https://app.tablecrm.com/api/v1"), "/"),
		TableCRMProxyTarget: getEnvWithDefault("TABLECRM_PROXY_TARGET", "https://app.tablecrm.com"),
		TableCRMCORSProxy:   os.Getenv("TABLECRM_CORS_PROXY"),
		DBDriver:            strings.ToLower(getEnvWithDefault("DB_DRIVER", "sqlite")),
		DatabaseDSN:         getEnvWithDefault("DATABASE_DSN", "tablecrm.db"),
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		LogLevel:            getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvWithDefault("LOG_FORMAT", "text"),
	}

	var err error
	if config.SecureCookies, err = getBool("SECURE_COOKIES", false); err != nil {
		return nil, err
	}
	if config.TableCRMAuthHeader, err = getBool("TABLECRM_AUTH_HEADER", false); err != nil {
		return nil, err
	}
	if config.TableCRMTimeout, err = getDuration("TABLECRM_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if config.ClientsPageSize, err = getInt("CLIENTS_PAGE_SIZE", 100); err != nil {
		return nil, err
	}
	if config.ClientsMaxTotal, err = getInt("CLIENTS_MAX_TOTAL", 500); err != nil {
		return nil, err
	}
	if config.OrdersPageSize, err = getInt("ORDERS_PAGE_SIZE", 20); err != nil {
		return nil, err
	}
	if config.OrdersRetryAttempts, err = getInt("ORDERS_RETRY_ATTEMPTS", 2); err != nil {
		return nil, err
	}
	if config.OrdersRetryDelay, err = getDuration("ORDERS_RETRY_DELAY", time.Second); err != nil {
		return nil, err
	}
	if config.SearchDebounce, err = getDuration("SEARCH_DEBOUNCE", 500*time.Millisecond); err != nil {
		return nil, err
	}

	// Parse authorized users
	usersStr := os.Getenv("AUTHORIZED_USERS")
	if usersStr != "" {
		userIDs := strings.Split(usersStr, ",")
		for _, userIDStr := range userIDs {
			userIDStr = strings.TrimSpace(userIDStr)
			if userIDStr != "" {
				userID, err := strconv.ParseInt(userIDStr, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("invalid user ID: %s", userIDStr)
				}
				config.AuthorizedUsers = append(config.AuthorizedUsers, userID)
			}
		}
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() []string {
	var errors []string

	if c.ListenAddr == "" {
		errors = append(errors, "LISTEN_ADDR не установлен")
	}

	if c.TableCRMAPIURL == "" {
		errors = append(errors, "TABLECRM_API_URL не установлен")
	}

	if c.ClientsPageSize <= 0 {
		errors = append(errors, "CLIENTS_PAGE_SIZE должен быть больше нуля")
	}

	if c.ClientsMaxTotal < 0 {
		errors = append(errors, "CLIENTS_MAX_TOTAL не может быть отрицательным")
	}

	if c.OrdersRetryAttempts < 0 {
		errors = append(errors, "ORDERS_RETRY_ATTEMPTS не может быть отрицательным")
	}

	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		errors = append(errors, fmt.Sprintf("DB_DRIVER %q не поддерживается (sqlite, postgres)", c.DBDriver))
	}

	if c.TelegramBotToken != "" && len(c.AuthorizedUsers) == 0 {
		errors = append(errors, "AUTHORIZED_USERS не установлены")
	}

	return errors
}

// BotEnabled reports whether the Telegram front-end should be started
func (c *Config) BotEnabled() bool {
	return c.TelegramBotToken != ""
}

// IsAuthorizedUser checks if the user ID is authorized
func (c *Config) IsAuthorizedUser(userID int64) bool {
	for _, id := range c.AuthorizedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, raw)
	}
	return value, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %s", key, raw)
	}
	return value, nil
}

// getDuration accepts Go durations ("1s", "500ms") or a bare number of milliseconds
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, raw)
	}
	return value, nil
}
