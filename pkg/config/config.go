package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Image    ImageConfig    `mapstructure:"image"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
	// WindowSize is how many recent messages per chat are sent with each request.
	WindowSize int `mapstructure:"window_size"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`
}

type OpenAIConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	VisionModel       string  `mapstructure:"vision_model"`
	ImageModel        string  `mapstructure:"image_model"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	Temperature       float64 `mapstructure:"temperature"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute"`
}

type EngineConfig struct {
	BotName          string        `mapstructure:"bot_name"`
	Platform         string        `mapstructure:"platform"`
	Personality      string        `mapstructure:"personality"`
	MaxContextTokens int           `mapstructure:"max_context_tokens"`
	FeedbackWindow   time.Duration `mapstructure:"feedback_window"`
}

type ImageConfig struct {
	MaxSize string `mapstructure:"max_size"`
}

// MaxSizeBytes parses MaxSize, accepting forms like "50MB" or "52428800".
func (c ImageConfig) MaxSizeBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("invalid image.max_size %q: %w", c.MaxSize, err)
	}
	return int64(n), nil
}

type ExtractConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	MaxBody string        `mapstructure:"max_body"`
}

func (c ExtractConfig) MaxBodyBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.MaxBody)
	if err != nil {
		return 0, fmt.Errorf("invalid extract.max_body %q: %w", c.MaxBody, err)
	}
	return int64(n), nil
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		if _, err := fmt.Sscanf(u.Port(), "%d", &port); err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q", u.Port())
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Driver:   "postgres",
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		// Remove leading slash from path to get database name
		DBName:  strings.TrimPrefix(u.Path, "/"),
		SSLMode: sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.window_size", 20)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/edubot.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "edubot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("openai.model", "gpt-4")
	v.SetDefault("openai.vision_model", "gpt-4o-mini")
	v.SetDefault("openai.image_model", "dall-e-3")
	v.SetDefault("openai.max_tokens", 700)
	v.SetDefault("openai.temperature", 0.3)
	v.SetDefault("openai.requests_per_minute", 60)
	v.SetDefault("engine.bot_name", "edubot")
	v.SetDefault("engine.platform", "telegram")
	v.SetDefault("engine.max_context_tokens", 7200)
	v.SetDefault("engine.feedback_window", 90*time.Second)
	v.SetDefault("image.max_size", "50MiB")
	v.SetDefault("extract.timeout", 15*time.Second)
	v.SetDefault("extract.max_body", "5MiB")
	v.SetDefault("metrics.addr", ":9090")
}

// LoadConfig reads path (when it exists) on top of the defaults and applies
// environment overrides. A .env file in the working directory is loaded first.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	return &config, nil
}
