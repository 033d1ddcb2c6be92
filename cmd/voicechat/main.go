package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"VoiceChat/internal/archive"
	"VoiceChat/internal/bridge"
	"VoiceChat/internal/cache"
	"VoiceChat/internal/chatbot"
	"VoiceChat/internal/config"
	"VoiceChat/internal/speech"
	"VoiceChat/internal/telemetry"
)

func main() {
	var (
		configPath string
		flags      config.Config
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	flag.StringVar(&flags.ServerURL, "server-url", config.DefaultServerURL, "Inference server base URL")
	flag.IntVar(&flags.Timeout, "timeout", config.DefaultTimeoutMS, "Inference request timeout in milliseconds")
	flag.StringVar(&flags.Model, "model", config.DefaultModel, "Model name (format: model:version)")
	flag.StringVar(&flags.Listen, "listen", "", "Serve the browser bridge on this address instead of the terminal")
	flag.StringVar(&flags.ArchiveDB, "archive-db", "", "SQLite file that receives ended conversations")
	flag.StringVar(&flags.User, "user", "", "Log in with this display name at startup")
	flag.BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := loadConfig(configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig layers the YAML file, .env and the environment, then any flag
// given explicitly on the command line.
func loadConfig(path string, flags config.Config) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.LoadEnv(); err != nil {
		return cfg, err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server-url":
			cfg.ServerURL = flags.ServerURL
		case "timeout":
			cfg.Timeout = flags.Timeout
		case "model":
			cfg.Model = flags.Model
		case "listen":
			cfg.Listen = flags.Listen
		case "archive-db":
			cfg.ArchiveDB = flags.ArchiveDB
		case "user":
			cfg.User = flags.User
		case "debug":
			cfg.Debug = flags.Debug
		}
	})
	if cfg.Timeout <= 0 {
		return cfg, fmt.Errorf("timeout must be positive, got %d", cfg.Timeout)
	}
	return cfg, nil
}

func run(cfg config.Config) error {
	logger, logCloser, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanup()

	opts := chatbot.Options{
		Logger: logger,
		Tracer: tracer,
		Meter:  meter,
	}
	if cfg.Cache {
		opts.Cache = cache.New(time.Hour)
	}
	if cfg.ArchiveDB != "" {
		store, err := archive.Open(cfg.ArchiveDB, logger)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		defer store.Close()
		opts.Archive = store
	}

	if cfg.Listen != "" {
		return serveBridge(ctx, cfg, opts, logger)
	}
	return runTerminal(ctx, cfg, opts, logger)
}

func runTerminal(ctx context.Context, cfg config.Config, opts chatbot.Options, logger *slog.Logger) error {
	synth, err := speech.NewCommandSynthesizer(cfg.Speech.OutputCommand, cfg.Locale)
	if err != nil {
		logger.Warn("speech output disabled", "error", err)
	}
	output := speech.NewOutput(nil, logger)
	if synth != nil {
		output = speech.NewOutput(synth, logger)
	}
	defer output.Wait()
	opts.Voice = output

	opts.Recognizer = speech.Unavailable{}
	if rec, err := speech.NewCommandRecognizer(cfg.Speech.CaptureCommand, cfg.Locale); err != nil {
		logger.Warn("speech capture disabled", "error", err)
	} else {
		opts.Recognizer = rec
	}

	opts.Observer = chatbot.NewConsole(os.Stdout)

	bot, err := chatbot.NewChatBot(cfg, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize chatbot: %w", err)
	}
	defer bot.Close()

	bot.Start(ctx)
	if cfg.User != "" {
		if _, err := bot.Login(cfg.User); err != nil {
			return err
		}
	}
	return bot.Run(ctx, os.Stdin, os.Stdout)
}

func serveBridge(ctx context.Context, cfg config.Config, opts chatbot.Options, logger *slog.Logger) error {
	hub := bridge.NewHub(cfg.Locale, logger)
	opts.Voice = hub
	opts.Observer = hub

	bot, err := chatbot.NewChatBot(cfg, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize chatbot: %w", err)
	}
	defer bot.Close()
	bot.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           bridge.NewServer(bot, hub, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bridge listening", "addr", cfg.Listen)
		fmt.Printf("Bridge listening on %s (ws://%s/ws)\n", cfg.Listen, cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("bridge server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down bridge: %w", err)
	}
	logger.Info("bridge stopped")
	return nil
}
