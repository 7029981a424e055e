// Package config loads runtime settings from flags, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "ACHIEVEMENTS"

	ModePolling = "polling"
	ModeWebhook = "webhook"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	ProviderDeepAI = "deepai"
	ProviderLocal  = "local"

	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultTelegramAPIURL = "https://api.telegram.org"
	defaultMode           = ModePolling
	defaultPollTimeout    = 30 * time.Second
	defaultDatabaseDriver = DriverSQLite
	defaultDatabasePath   = "achievements.db"
	defaultImageProvider  = ProviderLocal
	defaultOperatorIssuer = "achievements-bot"
	defaultOperatorTTL    = 24 * time.Hour
	defaultWorkers        = 4
	defaultLogLevel       = "info"
)

var errInvalidConfig = errors.New("invalid configuration")

// TelegramConfig holds the Bot API settings.
type TelegramConfig struct {
	Token         string
	BotName       string
	APIURL        string
	Mode          string
	WebhookURL    string
	WebhookSecret string
	PollTimeout   time.Duration
}

type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

// S3Config selects the object store for sticker files. An empty endpoint keeps files in memory.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// RedisConfig selects the interaction counter. An empty address counts in memory.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type ImageGenConfig struct {
	Provider     string
	DeepAIToken  string
	TranslateKey string
}

// OperatorConfig enables the operator API when a signing secret is set.
type OperatorConfig struct {
	SigningSecret string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
}

type FilterConfig struct {
	KeyPhrasesPath  string
	BannedWordsPath string
}

// AppConfig captures runtime configuration for the bot process.
type AppConfig struct {
	HTTPAddress string
	Telegram    TelegramConfig
	Database    DatabaseConfig
	S3          S3Config
	Redis       RedisConfig
	ImageGen    ImageGenConfig
	Operator    OperatorConfig
	Filter      FilterConfig
	AdminIDs    []int64
	Workers     int
	LogLevel    string
}

// OperatorEnabled reports whether operator tokens can be issued and validated.
func (c AppConfig) OperatorEnabled() bool {
	return strings.TrimSpace(c.Operator.SigningSecret) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("telegram.api_url", defaultTelegramAPIURL)
	configViper.SetDefault("telegram.mode", defaultMode)
	configViper.SetDefault("telegram.poll_timeout", defaultPollTimeout)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("s3.secure", true)
	configViper.SetDefault("imagegen.provider", defaultImageProvider)
	configViper.SetDefault("operator.issuer", defaultOperatorIssuer)
	configViper.SetDefault("operator.audience", defaultOperatorIssuer)
	configViper.SetDefault("operator.token_ttl", defaultOperatorTTL)
	configViper.SetDefault("workers.count", defaultWorkers)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	adminIDs, err := parseIDs(configViper.GetString("admin.user_ids"))
	if err != nil {
		return AppConfig{}, err
	}
	cfg := AppConfig{
		HTTPAddress: configViper.GetString("http.address"),
		Telegram: TelegramConfig{
			Token:         configViper.GetString("telegram.token"),
			BotName:       configViper.GetString("telegram.bot_name"),
			APIURL:        configViper.GetString("telegram.api_url"),
			Mode:          strings.ToLower(configViper.GetString("telegram.mode")),
			WebhookURL:    configViper.GetString("telegram.webhook_url"),
			WebhookSecret: configViper.GetString("telegram.webhook_secret"),
			PollTimeout:   configViper.GetDuration("telegram.poll_timeout"),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(configViper.GetString("database.driver")),
			Path:   configViper.GetString("database.path"),
			DSN:    configViper.GetString("database.dsn"),
		},
		S3: S3Config{
			Endpoint:  configViper.GetString("s3.endpoint"),
			AccessKey: configViper.GetString("s3.access_key"),
			SecretKey: configViper.GetString("s3.secret_key"),
			Bucket:    configViper.GetString("s3.bucket"),
			Secure:    configViper.GetBool("s3.secure"),
		},
		Redis: RedisConfig{
			Address:  configViper.GetString("redis.address"),
			Password: configViper.GetString("redis.password"),
			DB:       configViper.GetInt("redis.db"),
		},
		ImageGen: ImageGenConfig{
			Provider:     strings.ToLower(configViper.GetString("imagegen.provider")),
			DeepAIToken:  configViper.GetString("imagegen.deepai_token"),
			TranslateKey: configViper.GetString("imagegen.translate_key"),
		},
		Operator: OperatorConfig{
			SigningSecret: configViper.GetString("operator.signing_secret"),
			Issuer:        configViper.GetString("operator.issuer"),
			Audience:      configViper.GetString("operator.audience"),
			TokenTTL:      configViper.GetDuration("operator.token_ttl"),
		},
		Filter: FilterConfig{
			KeyPhrasesPath:  configViper.GetString("filter.key_phrases_path"),
			BannedWordsPath: configViper.GetString("filter.banned_words_path"),
		},
		AdminIDs: adminIDs,
		Workers:  configViper.GetInt("workers.count"),
		LogLevel: configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// parseIDs accepts a comma or space separated list of user ids.
func parseIDs(value string) ([]int64, error) {
	fields := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' })
	ids := make([]int64, 0, len(fields))
	for _, field := range fields {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: admin.user_ids entry %q is not a user id", errInvalidConfig, field)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("%w: telegram.token is required", errInvalidConfig)
	}
	if strings.TrimSpace(c.Telegram.BotName) == "" {
		return fmt.Errorf("%w: telegram.bot_name is required", errInvalidConfig)
	}
	switch c.Telegram.Mode {
	case ModePolling:
	case ModeWebhook:
		if strings.TrimSpace(c.Telegram.WebhookURL) == "" {
			return fmt.Errorf("%w: telegram.webhook_url is required in webhook mode", errInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: telegram.mode must be %q or %q", errInvalidConfig, ModePolling, ModeWebhook)
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("%w: database.path is required", errInvalidConfig)
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("%w: database.dsn is required", errInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: database.driver must be %q or %q", errInvalidConfig, DriverSQLite, DriverPostgres)
	}

	if c.S3.Endpoint != "" && (c.S3.Bucket == "" || c.S3.AccessKey == "" || c.S3.SecretKey == "") {
		return fmt.Errorf("%w: s3.bucket, s3.access_key and s3.secret_key are required with s3.endpoint", errInvalidConfig)
	}

	switch c.ImageGen.Provider {
	case ProviderLocal:
	case ProviderDeepAI:
		if strings.TrimSpace(c.ImageGen.DeepAIToken) == "" {
			return fmt.Errorf("%w: imagegen.deepai_token is required", errInvalidConfig)
		}
		if strings.TrimSpace(c.ImageGen.TranslateKey) == "" {
			return fmt.Errorf("%w: imagegen.translate_key is required", errInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: imagegen.provider must be %q or %q", errInvalidConfig, ProviderDeepAI, ProviderLocal)
	}

	if c.OperatorEnabled() && len(c.Operator.SigningSecret) < 32 {
		return fmt.Errorf("%w: operator.signing_secret must be at least 32 bytes", errInvalidConfig)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers.count must be positive", errInvalidConfig)
	}
	return nil
}
