package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"35m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`

	// Artifact cache
	FileRoot      string `env:"FILE_ROOT" envDefault:"./captions"`
	CaptionFormat string `env:"CAPTION_FORMAT" envDefault:"vtt"`
	ConverterCmd  string `env:"CONVERTER_CMD" envDefault:"captionconv"`

	// Media origins
	S3Bucket             string `env:"S3_BUCKET,required"`
	OriginProfiles       string `env:"ORIGIN_PROFILES"`
	RepositoryPathMarker string `env:"REPOSITORY_PATH_MARKER" envDefault:"fedora"`

	// Transcription service
	AWS             AWSConfig
	Language        string        `env:"TRANSCRIBE_LANGUAGE" envDefault:"en-US"`
	LanguageOptions []string      `env:"TRANSCRIBE_LANGUAGE_OPTIONS" envSeparator:","`
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	MaxPolls        int           `env:"MAX_POLLS" envDefault:"0"`
	RunTimeout      time.Duration `env:"RUN_TIMEOUT" envDefault:"30m"`
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"60s"`
	ResolverTimeout time.Duration `env:"RESOLVER_TIMEOUT" envDefault:"15s"`

	// Optional integrations
	ArtifactS3  ArtifactS3Config
	Redis       RedisConfig
	DatabaseURL string `env:"DATABASE_URL"`
	MQTT        MQTTConfig
}

// AWSConfig holds SDK settings shared by the transcription and S3 clients.
// Empty keys fall back to the SDK's default credential chain.
type AWSConfig struct {
	Region    string `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"AWS_ACCESS_KEY_ID"`
	SecretKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Endpoint  string `env:"AWS_ENDPOINT_URL"`
}

// ArtifactS3Config enables the optional S3 mirror of the artifact cache.
type ArtifactS3Config struct {
	Bucket string `env:"ARTIFACT_S3_BUCKET"`
	Prefix string `env:"ARTIFACT_S3_PREFIX"`
}

func (c ArtifactS3Config) Enabled() bool { return c.Bucket != "" }

type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	LockTTL  time.Duration `env:"LOCK_TTL" envDefault:"35m"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type MQTTConfig struct {
	BrokerURL   string `env:"MQTT_BROKER_URL"`
	ClientID    string `env:"MQTT_CLIENT_ID" envDefault:"caption-engine"`
	TopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"caption-engine"`
	Username    string `env:"MQTT_USERNAME"`
	Password    string `env:"MQTT_PASSWORD"`
}

func (c MQTTConfig) Enabled() bool { return c.BrokerURL != "" }

// AutoLanguage reports whether the service should identify the language itself.
func (c *Config) AutoLanguage() bool {
	return strings.EqualFold(c.Language, "auto")
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile  string
	HTTPAddr string
	LogLevel string
	FileRoot string
	S3Bucket string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// S3_BUCKET may come from the CLI only
	if overrides.S3Bucket != "" {
		os.Setenv("S3_BUCKET", overrides.S3Bucket)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.FileRoot != "" {
		cfg.FileRoot = overrides.FileRoot
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.CaptionFormat = strings.ToLower(strings.TrimSpace(c.CaptionFormat))
	if c.CaptionFormat != "vtt" && c.CaptionFormat != "srt" {
		return fmt.Errorf("CAPTION_FORMAT must be vtt or srt, got %q", c.CaptionFormat)
	}
	if strings.TrimSpace(c.Language) == "" {
		return fmt.Errorf("TRANSCRIBE_LANGUAGE must not be empty")
	}
	if len(c.LanguageOptions) > 0 && !c.AutoLanguage() {
		return fmt.Errorf("TRANSCRIBE_LANGUAGE_OPTIONS requires TRANSCRIBE_LANGUAGE=auto")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.MaxPolls < 0 {
		return fmt.Errorf("MAX_POLLS must be >= 0, got %d", c.MaxPolls)
	}
	if strings.TrimSpace(c.ConverterCmd) == "" {
		return fmt.Errorf("CONVERTER_CMD must not be empty")
	}
	return nil
}
