package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kvrelay/internal/config"
	"kvrelay/internal/constants"
	"kvrelay/internal/kv"
	"kvrelay/internal/models"
	"kvrelay/internal/retry"
	"kvrelay/internal/service"
	"kvrelay/internal/tracing"

	"github.com/sirupsen/logrus"
)

const defaultConfigPath = "config.json"

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable debug logging (request headers are logged masked)")
	configPath = flag.String("config", defaultConfigPath, "Path to configuration file")
	envFile    = flag.String("env-file", ".env", "Path to an optional .env file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("kvrelay %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting kvrelay")

	if err := config.LoadDotEnv(*envFile); err != nil {
		return err
	}

	path := resolveConfigPath(*configPath, flagWasSet("config"))
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyLogLevel(logger, cfg.LogLevel, *verbose)
	if *verbose {
		logger.Info("Verbose logging enabled")
	}

	if path != "" {
		watcher := config.NewConfigWatcher(path, cfg, logger)
		watcher.OnConfigChange(func(updated *models.Config) {
			applyLogLevel(logger, updated.LogLevel, *verbose)
		})
		go func() {
			if err := watcher.Start(ctx); err != nil {
				logger.WithError(err).Warn("Configuration watcher stopped")
			}
		}()
	}

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close store")
		}
	}()

	if sweeper, ok := store.(kv.Sweeper); ok {
		scheduler := service.NewScheduler(sweeper, cfg.Store.SweepIntervalSec, logger)
		go scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	relay := service.NewRelayService(store, cfg.Queue, logger)

	server := NewServer(cfg, relay, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// openStore connects to the configured backend, retrying with backoff so
// the relay can start before its database does
func openStore(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (kv.Store, error) {
	backoff := retry.NewBackoff(retry.FromConfig(cfg.Retry))
	backoff.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.WithFields(logrus.Fields{
			service.LogFieldBackend: cfg.Store.Backend,
			"attempt":               attempt,
			"retry_in":              delay.String(),
		}).WithError(err).Warn("Failed to open store, retrying")
	}

	var store kv.Store
	err := backoff.Retry(ctx, func() error {
		var openErr error
		store, openErr = kv.Open(ctx, cfg.Store)
		return openErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store after retries: %w", cfg.Store.Backend, err)
	}

	logger.WithFields(logrus.Fields{
		service.LogFieldBackend: cfg.Store.Backend,
		"encrypted":             cfg.Store.EncryptValues,
	}).Info("Store opened")

	if cfg.Store.Backend == constants.StoreBackendMemory {
		logger.WithField(service.LogFieldBackend, cfg.Store.Backend).
			Warn("Memory backend keeps messages in process only; queued messages are lost on restart")
	}
	return store, nil
}

// resolveConfigPath drops the default path when that file does not exist,
// so the relay can run from environment variables alone. An explicitly
// given path is always used.
func resolveConfigPath(path string, explicit bool) string {
	if explicit || path != defaultConfigPath {
		return path
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ""
	}
	return path
}

func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// applyLogLevel sets the configured level. Debug output needs --verbose;
// without it the level is capped at info.
func applyLogLevel(logger *logrus.Logger, configured string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}

	level, err := logrus.ParseLevel(configured)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", configured)
		level = logrus.InfoLevel
	}
	if level > logrus.InfoLevel {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
