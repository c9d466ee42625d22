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
	DeepgramAPIKey   string `env:"DEEPGRAM_API_KEY"`
	AssemblyAIAPIKey string `env:"ASSEMBLYAI_API_KEY"`
	GladiaAPIKey     string `env:"GLADIA_API_KEY"`

	DeepgramURL   string `env:"DEEPGRAM_URL"`
	AssemblyAIURL string `env:"ASSEMBLYAI_URL"`
	GladiaURL     string `env:"GLADIA_URL"`
	DeepgramModel string `env:"DEEPGRAM_MODEL" envDefault:"nova-2"`

	Providers           string        `env:"STT_PROVIDERS" envDefault:"deepgram,assemblyai,gladia"`
	Language            string        `env:"STT_LANGUAGE" envDefault:"en"`
	PollInterval        time.Duration `env:"POLL_INTERVAL" envDefault:"3s"`
	PollTimeout         time.Duration `env:"POLL_TIMEOUT" envDefault:"10m"`
	ProviderTimeout     time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"15m"`
	HTTPClientTimeout   time.Duration `env:"HTTP_CLIENT_TIMEOUT" envDefault:"5m"`
	ProviderConcurrency int           `env:"PROVIDER_CONCURRENCY" envDefault:"0"`

	AudioDir    string `env:"AUDIO_DIR" envDefault:"./test_audio"`
	ResultsDir  string `env:"RESULTS_DIR" envDefault:"./test_results"`
	ResultStore string `env:"RESULT_STORE" envDefault:"local"`
	DatabaseURL string `env:"DATABASE_URL"`

	S3 S3Config `envPrefix:"S3_"`

	MQTTBrokerURL    string `env:"MQTT_BROKER_URL"`
	MQTTTopic        string `env:"MQTT_TOPIC" envDefault:"stt-compare/results"`
	MQTTRequestTopic string `env:"MQTT_REQUEST_TOPIC"`
	MQTTClientID     string `env:"MQTT_CLIENT_ID" envDefault:"stt-compare"`
	MQTTUsername     string `env:"MQTT_USERNAME"`
	MQTTPassword     string `env:"MQTT_PASSWORD"`

	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"20m"`
	IdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES" envDefault:"524288000"`

	Workers       int           `env:"WORKERS" envDefault:"2"`
	QueueSize     int           `env:"QUEUE_SIZE" envDefault:"100"`
	JobTimeout    time.Duration `env:"JOB_TIMEOUT" envDefault:"0"`
	WatchBackfill bool          `env:"WATCH_BACKFILL" envDefault:"true"`

	AuthToken   string `env:"AUTH_TOKEN"`
	CORSOrigins string `env:"CORS_ORIGINS"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
}

// S3Config configures the S3 result store.
type S3Config struct {
	Bucket     string `env:"BUCKET"`
	Endpoint   string `env:"ENDPOINT"`
	Region     string `env:"REGION" envDefault:"us-east-1"`
	AccessKey  string `env:"ACCESS_KEY"`
	SecretKey  string `env:"SECRET_KEY"`
	Prefix     string `env:"PREFIX"`
	LocalCache bool   `env:"LOCAL_CACHE" envDefault:"false"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// CORSOriginList splits CORS_ORIGINS on commas.
func (c *Config) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	AudioDir    string
	ResultsDir  string
	ResultStore string
	Providers   string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.AudioDir != "" {
		cfg.AudioDir = overrides.AudioDir
	}
	if overrides.ResultsDir != "" {
		cfg.ResultsDir = overrides.ResultsDir
	}
	if overrides.ResultStore != "" {
		cfg.ResultStore = overrides.ResultStore
	}
	if overrides.Providers != "" {
		cfg.Providers = overrides.Providers
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.ResultStore = strings.ToLower(strings.TrimSpace(c.ResultStore))
	switch c.ResultStore {
	case "local":
	case "s3":
		if !c.S3.Enabled() {
			return fmt.Errorf("RESULT_STORE=s3 requires S3_BUCKET")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("RESULT_STORE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("RESULT_STORE must be local, s3 or postgres, got %q", c.ResultStore)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.PollTimeout < c.PollInterval {
		return fmt.Errorf("POLL_TIMEOUT (%s) must not be shorter than POLL_INTERVAL (%s)", c.PollTimeout, c.PollInterval)
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.JobTimeout < 0 {
		return fmt.Errorf("JOB_TIMEOUT must not be negative, got %s", c.JobTimeout)
	}
	if c.ProviderConcurrency < 0 {
		c.ProviderConcurrency = 0
	}
	return nil
}
