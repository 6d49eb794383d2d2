// Command itemsync-relay runs the session relay: it numbers actors, elects
// the coordinator, routes envelopes and replays buffered messages to
// late joiners.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ProjectRStore/itemsync/internal/config"
	"github.com/ProjectRStore/itemsync/internal/logging"
	intOtel "github.com/ProjectRStore/itemsync/internal/otel"
	"github.com/ProjectRStore/itemsync/internal/relay"
	"github.com/ProjectRStore/itemsync/internal/storage"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

const processName = "itemsync-relay"

// Version and BuildDate can be set at build time via ldflags.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

func main() {
	configDir := pflag.String("config", ".", "directory containing "+config.FileName)
	pflag.String("listen", "", "listen address, overrides relay.listen")
	pflag.String("storage", "", "buffered message store: memory, sqlite or postgres")
	pflag.Parse()

	if err := run(*configDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	startedAt := time.Now()
	configErr := config.Load(configDir)
	if f := pflag.Lookup("listen"); f != nil && f.Changed {
		viper.Set("relay.listen", f.Value.String())
	}
	if f := pflag.Lookup("storage"); f != nil && f.Changed {
		viper.Set("storage.type", f.Value.String())
	}

	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	logPath := logging.LogFilePath(logsDir, processName, startedAt)
	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	out := io.MultiWriter(os.Stdout, logFile)
	level := viper.GetString("logLevel")

	provider, err := intOtel.New(config.GetOTelConfig(), logFile)
	if err != nil {
		return fmt.Errorf("initializing otel: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	}()

	var sinks []io.Writer
	if gl := config.GetGraylogConfig(); gl.Enabled {
		w, err := logging.NewGraylogWriter(gl.Address, processName)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		} else {
			sinks = append(sinks, w)
		}
	}

	logs := logging.NewSlogManager(processName)
	logs.Setup(out, level, provider.LoggerProvider(), sinks...)
	logger := logs.Logger()
	if configErr != nil {
		logger.Warn("Failed to load config, using defaults", "error", configErr)
	}
	logger.Info("Starting relay", "version", Version, "build", BuildDate, "log", logPath)

	store, err := openStore(config.GetStorageConfig(), logging.NewZerolog(out, level))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Closing storage backend", "error", err)
		}
	}()

	codec, err := streaming.CodecByName(viper.GetString("session.codec"))
	if err != nil {
		return err
	}
	hub, err := relay.NewHub(relay.Dependencies{Store: store, Codec: codec, Logger: logger})
	if err != nil {
		return fmt.Errorf("creating hub: %w", err)
	}

	relayCfg := config.GetRelayConfig()
	server := relay.NewServer(hub, relay.ServerConfig{Path: relayCfg.Path, SendBuffer: relayCfg.SendBuffer})
	httpServer := &http.Server{
		Addr:              relayCfg.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Relay listening", "addr", relayCfg.Listen, "path", relayCfg.Path, "codec", codec.Name())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down relay")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Relay shutdown", "error", err)
		}
	}
	_ = logs.Flush(context.Background())
	return nil
}

func openStore(cfg config.StorageConfig, log zerolog.Logger) (storage.Backend, error) {
	store, err := storage.NewBackend(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("initializing %s storage: %w", cfg.Type, err)
	}
	log.Info().Str("type", cfg.Type).Msg("Storage backend ready")
	return store, nil
}
