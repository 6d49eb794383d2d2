// Command itemsync-peer joins a session as one player. Hand and avatar
// poses, grabs and machine presses are typed on stdin; the frame loop
// applies them and keeps the shared world in sync with the other peers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ProjectRStore/itemsync/internal/api"
	"github.com/ProjectRStore/itemsync/internal/channel"
	"github.com/ProjectRStore/itemsync/internal/config"
	"github.com/ProjectRStore/itemsync/internal/influx"
	"github.com/ProjectRStore/itemsync/internal/logging"
	"github.com/ProjectRStore/itemsync/internal/monitor"
	intOtel "github.com/ProjectRStore/itemsync/internal/otel"
	"github.com/ProjectRStore/itemsync/internal/scene"
	"github.com/ProjectRStore/itemsync/internal/session"
	"github.com/ProjectRStore/itemsync/internal/transport/websocket"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

const (
	processName = "itemsync-peer"
	// Commands beyond this wait for the next frame.
	maxCommandsPerFrame = 8
)

// Version and BuildDate can be set at build time via ldflags.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

func main() {
	configDir := pflag.String("config", ".", "directory containing "+config.FileName)
	pflag.String("session", "", "session name, overrides session.name")
	pflag.String("relay", "", "relay websocket URL, overrides session.relayUrl")
	pflag.String("scene", "", "scene manifest, overrides session.scenePath")
	pflag.Parse()

	if err := run(*configDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	startedAt := time.Now()
	configErr := config.Load(configDir)
	for flag, key := range map[string]string{
		"session": "session.name",
		"relay":   "session.relayUrl",
		"scene":   "session.scenePath",
	} {
		if f := pflag.Lookup(flag); f != nil && f.Changed {
			viper.Set(key, f.Value.String())
		}
	}
	cfg := config.GetSessionConfig()

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

	// stdout belongs to the console, so records only go to the file.
	logs := logging.NewSlogManager(processName)
	logs.Setup(logFile, level, provider.LoggerProvider(), sinks...)
	logger := logs.Logger()
	if configErr != nil {
		logger.Warn("Failed to load config, using defaults", "error", configErr)
	}
	logger.Info("Starting peer", "version", Version, "build", BuildDate, "session", cfg.Name, "log", logPath)

	setup, err := scene.Load(cfg.ScenePath)
	if err != nil {
		return err
	}
	codec, err := streaming.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}

	probeRelay(cfg.RelayURL, cfg.Name, logger)
	client := websocket.New(websocket.Config{URL: cfg.RelayURL, Session: cfg.Name}, codec, logger)
	if err := client.Dial(); err != nil {
		return err
	}

	anchors := session.NewAnchors()
	s, err := session.New(cfg, session.Dependencies{
		Transport:      client,
		Codec:          codec,
		Setup:          setup,
		Anchors:        anchors,
		Logger:         logger,
		DispatchLogger: logging.NewDispatcherLogger(logging.NewZerolog(logFile, level)),
		Feedback: func(f session.Feedback) {
			printFeedback(os.Stdout, f)
		},
	})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("creating session: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("Closing session", "error", err)
		}
	}()
	logs.SetContext(logging.SessionContext(s.Name, s.Local, s.Coordinator))

	monCfg := config.GetMonitorConfig()
	deps := monitor.Dependencies{
		Logger:     logger,
		StatusPath: monCfg.StatusPath,
		Session:    cfg.Name,
		Interval:   monCfg.Interval,
	}
	if ic := config.GetInfluxConfig(); ic.Enabled {
		backup := filepath.Join(logsDir, fmt.Sprintf("%s_%s.lp.gz", processName, startedAt.Format("20060102_150405")))
		points := influx.NewManager(ic, backup, logging.NewZerolog(logFile, level))
		if err := points.Connect(context.Background()); err != nil {
			logger.Warn("Status points disabled", "error", err)
		} else {
			defer points.Close()
			deps.Points = points
		}
	}
	mon := monitor.NewService(deps)

	commands := channel.New[command](64)
	go readCommands(os.Stdin, commands, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rate := cfg.FrameRate
	if rate <= 0 {
		rate = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	fmt.Fprintln(os.Stdout, "connected, type help for commands")
	for {
		select {
		case <-ctx.Done():
			logger.Info("Leaving session")
			_ = logs.Flush(context.Background())
			return nil

		case now := <-ticker.C:
			for _, cmd := range commands.Drain(maxCommandsPerFrame) {
				err := cmd(s, anchors, os.Stdout)
				if errors.Is(err, errQuit) {
					logger.Info("Leaving session")
					_ = logs.Flush(context.Background())
					return nil
				}
				if err != nil {
					fmt.Fprintln(os.Stdout, err)
					logs.WriteLog("console", err.Error(), "DEBUG")
				}
			}
			rep := s.Update(now)
			mon.Observe(now, rep, s.Status)
		}
	}
}

// probeRelay logs what the relay reports before joining. Failures are only
// logged; Dial reports the real error.
func probeRelay(relayURL, sessionName string, logger *slog.Logger) {
	c, err := api.FromRelayURL(relayURL)
	if err != nil {
		logger.Warn("Relay status unavailable", "error", err)
		return
	}
	h, err := c.Healthcheck()
	if err != nil {
		logger.Warn("Relay healthcheck failed", "error", err)
		return
	}
	info, err := c.Session(sessionName)
	switch {
	case errors.Is(err, api.ErrUnknownSession):
		logger.Info("Opening new session", "session", sessionName, "sessions", h.Sessions)
	case err != nil:
		logger.Warn("Session lookup failed", "error", err)
	default:
		logger.Info("Joining session", "session", sessionName, "peers", len(info.Peers), "coordinator", info.Coordinator)
	}
}

func printFeedback(w io.Writer, f session.Feedback) {
	if res := f.Result; res != nil {
		switch f.Kind {
		case session.FeedbackArbitration:
			fmt.Fprintf(w, "%s request %s: %s %s\n", res.Kind, res.RequestID, res.Outcome, res.Reason)
			return
		case session.FeedbackBalance:
			fmt.Fprintf(w, "balance %+d (%s)\n", res.Params.Amount, res.Kind)
			return
		}
	}
	if f.Err != nil {
		fmt.Fprintf(w, "%s: object %d %s: %v\n", f.Kind, f.Object, f.Hand, f.Err)
		return
	}
	fmt.Fprintf(w, "%s: object %d %s\n", f.Kind, f.Object, f.Hand)
}
