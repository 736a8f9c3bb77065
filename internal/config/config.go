package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"cashqueue/internal/matcher"
	"cashqueue/internal/model"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Log      LogConfig
	Telegram TelegramConfig
	// AdminAPIKey grants cashier rights to HTTP callers that send it as X-API-Key.
	AdminAPIKey  string
	SettingsPath string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	// Store is "sqlite" or "memory".
	Store string
	Path  string
}

type LogConfig struct {
	Level  string
	Format string
}

type TelegramConfig struct {
	BotToken string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  time.Duration(getEnvAsInt("READ_TIMEOUT", 10)) * time.Second,
			WriteTimeout: time.Duration(getEnvAsInt("WRITE_TIMEOUT", 10)) * time.Second,
		},
		Database: DatabaseConfig{
			Store: strings.ToLower(getEnv("STORE", "sqlite")),
			Path:  getEnv("DB_PATH", "./cashqueue.db"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		},
		AdminAPIKey:  getEnv("ADMIN_API_KEY", ""),
		SettingsPath: getEnv("CONFIG_PATH", "config.json"),
	}
}

func getEnv(key string, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}

type RateLimit struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	BurstSize         int `mapstructure:"burst_size"`
}

// Settings are the business knobs read from the JSON config file. Any key
// can be overridden from the environment as CASHQUEUE_<KEY>, with nested
// keys joined by an underscore.
type Settings struct {
	FallbackContacts   map[string]string `mapstructure:"fallback_contacts"`
	StaffUserIDs       []int64           `mapstructure:"staff_user_ids"`
	MatchingMode       string            `mapstructure:"matching_mode"`
	MaxConfirmAttempts int               `mapstructure:"max_confirm_attempts"`
	RateLimit          RateLimit         `mapstructure:"rate_limit"`
	CryptoAddressCheck string            `mapstructure:"crypto_address_check"`
}

const CryptoCheckTON = "ton"

func DefaultSettings() Settings {
	return Settings{
		FallbackContacts:   map[string]string{},
		MatchingMode:       matcher.ModeSingleFit,
		MaxConfirmAttempts: 3,
		RateLimit: RateLimit{
			RequestsPerSecond: 10,
			BurstSize:         20,
		},
	}
}

func newViper() *viper.Viper {
	d := DefaultSettings()
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("CASHQUEUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("matching_mode", d.MatchingMode)
	v.SetDefault("max_confirm_attempts", d.MaxConfirmAttempts)
	v.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst_size", d.RateLimit.BurstSize)
	v.SetDefault("crypto_address_check", d.CryptoAddressCheck)
	return v
}

// LoadSettings reads path over the defaults. A missing file yields the
// defaults plus any environment overrides.
func LoadSettings(path string) (Settings, error) {
	v := newViper()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to read config file: %w", err)
	}

	s := DefaultSettings()
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if _, err := matcher.ForMode(s.MatchingMode); err != nil {
		return err
	}
	if _, err := s.Fallbacks(); err != nil {
		return err
	}
	switch s.CryptoAddressCheck {
	case "", CryptoCheckTON:
	default:
		return fmt.Errorf("unknown crypto_address_check %q", s.CryptoAddressCheck)
	}
	if s.RateLimit.RequestsPerSecond <= 0 || s.RateLimit.BurstSize <= 0 {
		return errors.New("rate_limit values must be positive")
	}
	return nil
}

// Fallbacks keys the fallback contacts by method.
func (s Settings) Fallbacks() (map[model.Method]string, error) {
	out := make(map[model.Method]string, len(s.FallbackContacts))
	for k, v := range s.FallbackContacts {
		m, err := model.ParseMethod(k)
		if err != nil {
			return nil, fmt.Errorf("fallback_contacts %q: %w", k, err)
		}
		out[m] = v
	}
	return out, nil
}

func (s Settings) IsStaff(userID int64) bool {
	return slices.Contains(s.StaffUserIDs, userID)
}
