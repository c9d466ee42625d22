package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/snarg/stt-compare/internal/compare"
	"github.com/snarg/stt-compare/internal/config"
	"github.com/snarg/stt-compare/internal/mqttclient"
	"github.com/snarg/stt-compare/internal/report"
	"github.com/snarg/stt-compare/internal/results"
	"github.com/snarg/stt-compare/internal/transcribe"
)

var version = "dev"

// Globals are flags shared by every command. Non-empty values override the
// environment.
type Globals struct {
	EnvFile     string `name:"env-file" help:"Path to .env file." default:".env" type:"path"`
	LogLevel    string `name:"log-level" help:"Log level (debug, info, warn, error)."`
	ResultsDir  string `name:"results-dir" help:"Directory for result documents and the report." type:"path"`
	AudioDir    string `name:"audio-dir" help:"Directory of audio files to compare." type:"path"`
	Store       string `name:"store" help:"Result store: local, s3 or postgres."`
	Providers   string `name:"providers" help:"Comma-separated providers to run (deepgram, assemblyai, gladia)."`
	DatabaseURL string `name:"database-url" help:"PostgreSQL connection URL for the postgres store."`
}

type CLI struct {
	Globals

	Compare compareCmd `cmd:"" help:"Compare providers on one or more audio files."`
	Batch   batchCmd   `cmd:"" help:"Compare providers on every audio file in a directory."`
	Report  reportCmd  `cmd:"" help:"Aggregate stored results into a comparison report."`
	Serve   serveCmd   `cmd:"" help:"Run the HTTP API."`
	Watch   watchCmd   `cmd:"" help:"Watch the audio directory and compare new files."`

	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("stt-compare"),
		kong.Description("Compare speech-to-text providers on the same audio."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	startTime := time.Now()

	cfg, err := config.Load(config.Overrides{
		EnvFile:     cli.EnvFile,
		LogLevel:    cli.LogLevel,
		DatabaseURL: cli.DatabaseURL,
		AudioDir:    cli.AudioDir,
		ResultsDir:  cli.ResultsDir,
		ResultStore: cli.Store,
		Providers:   cli.Providers,
	})
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	log := newLogger(cfg)
	log.Info().Str("version", version).Str("command", kctx.Command()).Msg("stt-compare starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, log: log, startTime: startTime}
	kctx.BindTo(ctx, (*context.Context)(nil))
	err = kctx.Run(a)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.LogFormat == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.With().Timestamp().Logger().Level(level)
}

// app carries what every command needs.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	startTime time.Time
}

func (a *app) component(name string) zerolog.Logger {
	return a.log.With().Str("component", name).Logger()
}

// orchestrator builds the configured providers. Providers that fail to build
// are logged and skipped; it is an error only if none can be built.
func (a *app) orchestrator() (*compare.Orchestrator, error) {
	ids := transcribe.ParseProviderIDs(a.cfg.Providers)
	if len(ids) == 0 {
		return nil, fmt.Errorf("STT_PROVIDERS is empty")
	}

	providers, err := transcribe.BuildProviders(ids, transcribe.Settings{
		Deepgram: transcribe.VendorSettings{
			APIKey:  a.cfg.DeepgramAPIKey,
			BaseURL: a.cfg.DeepgramURL,
			Model:   a.cfg.DeepgramModel,
		},
		AssemblyAI: transcribe.VendorSettings{
			APIKey:  a.cfg.AssemblyAIAPIKey,
			BaseURL: a.cfg.AssemblyAIURL,
		},
		Gladia: transcribe.VendorSettings{
			APIKey:  a.cfg.GladiaAPIKey,
			BaseURL: a.cfg.GladiaURL,
		},
		Language:       a.cfg.Language,
		PollInterval:   a.cfg.PollInterval,
		PollTimeout:    a.cfg.PollTimeout,
		RequestTimeout: a.cfg.HTTPClientTimeout,
		Log:            a.component("transcribe"),
	})
	if err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			a.log.Warn().Str("error", line).Msg("provider unavailable")
		}
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers could be configured: %w", err)
	}

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	a.log.Info().Strs("providers", names).Msg("providers ready")

	return compare.New(providers, compare.Options{
		Concurrency:     a.cfg.ProviderConcurrency,
		ProviderTimeout: a.cfg.ProviderTimeout,
		Log:             a.component("compare"),
	})
}

func (a *app) openStore(ctx context.Context) (results.Store, error) {
	store, err := results.New(ctx, results.Options{
		Backend:     a.cfg.ResultStore,
		Dir:         a.cfg.ResultsDir,
		S3:          a.cfg.S3,
		DatabaseURL: a.cfg.DatabaseURL,
		Log:         a.component("results"),
	})
	if err != nil {
		return nil, err
	}
	a.log.Info().Str("store", store.Type()).Msg("result store ready")
	return store, nil
}

// connectMQTT returns nil when no broker is configured. A broker that cannot
// be reached is logged and skipped.
func (a *app) connectMQTT() *mqttclient.Client {
	if a.cfg.MQTTBrokerURL == "" {
		return nil
	}
	client, err := mqttclient.Connect(mqttclient.Options{
		BrokerURL:    a.cfg.MQTTBrokerURL,
		ClientID:     a.cfg.MQTTClientID,
		Topic:        a.cfg.MQTTTopic,
		RequestTopic: a.cfg.MQTTRequestTopic,
		Username:     a.cfg.MQTTUsername,
		Password:     a.cfg.MQTTPassword,
		Log:          a.component("mqtt"),
	})
	if err != nil {
		a.log.Warn().Err(err).Str("broker", a.cfg.MQTTBrokerURL).Msg("mqtt unavailable, results will not be published")
		return nil
	}
	return client
}

// publisher logs a transcript preview for each provider that succeeded and
// forwards the result to MQTT when connected.
func (a *app) publisher(mqtt *mqttclient.Client) compare.PublishFunc {
	log := a.component("results")
	return func(r *compare.ComparisonResult) {
		for _, o := range r.Ordered(nil) {
			if !o.Succeeded {
				continue
			}
			log.Info().
				Str("file", r.AudioName).
				Str("provider", string(o.Provider)).
				Str("preview", report.Preview(o.Transcript, 100)).
				Msg("transcript preview")
		}
		if mqtt == nil {
			return
		}
		if err := mqtt.PublishResult(r); err != nil {
			log.Warn().Err(err).Str("key", r.Key()).Msg("failed to publish result")
		}
	}
}
