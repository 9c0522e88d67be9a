package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomrelay/internal/mirror"
	"github.com/Tyrowin/roomrelay/internal/server"
)

var (
	configPath     string
	port           string
	allowedOrigins string
	historyLimit   int
	guardedExit    bool
	logLevel       string
	logFormat      string
	mirrorDriver   string
	mirrorURL      string
)

var rootCmd = &cobra.Command{
	Use:   "roomrelay",
	Short: "Real-time room message relay over Server-Sent Events",
	Long: `Run the room relay server.

Clients join rooms with GET /chat/{room}?userId=<id> and receive the room's
events as a text/event-stream; messages are posted with POST /chat/{room}.

Configuration is read from defaults, then the --config YAML file, then the
environment, then the flags given on the command line.

Examples:
  roomrelay                                  # Listen on :8080
  roomrelay --port :9090 --log-format console
  roomrelay --config relay.yaml --mirror-driver nats --mirror-url nats://localhost:4222`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")
	rootCmd.Flags().StringVarP(&port, "port", "p", "", "listen address, e.g. :8080")
	rootCmd.Flags().StringVar(&allowedOrigins, "allowed-origins", "", "comma-separated list of allowed origins, * for any")
	rootCmd.Flags().IntVar(&historyLimit, "history-limit", 0, "messages kept per room, 0 for unbounded")
	rootCmd.Flags().BoolVar(&guardedExit, "guarded-exit", false, "announce exits only for users that were members")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "", "log format (json, console)")
	rootCmd.Flags().StringVar(&mirrorDriver, "mirror-driver", "", "event mirror driver (amqp, nats), empty to disable")
	rootCmd.Flags().StringVar(&mirrorURL, "mirror-url", "", "event mirror broker URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (server.Config, error) {
	var cfg *server.Config
	if configPath != "" {
		loaded, err := server.LoadConfigFile(configPath)
		if err != nil {
			return server.Config{}, err
		}
		server.ApplyEnv(loaded)
		cfg = loaded
	} else {
		cfg = server.NewConfigFromEnv()
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("allowed-origins") {
		cfg.AllowedOrigins = strings.Split(allowedOrigins, ",")
	}
	if flags.Changed("history-limit") {
		cfg.HistoryLimit = historyLimit
	}
	if flags.Changed("guarded-exit") {
		cfg.GuardedExit = guardedExit
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if flags.Changed("mirror-driver") {
		cfg.Mirror.Driver = mirrorDriver
	}
	if flags.Changed("mirror-url") {
		cfg.Mirror.URL = mirrorURL
	}

	return cfg.Sanitize(), nil
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := server.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, logger)

	stopMirror, err := startMirror(cfg.Mirror, srv, logger)
	if err != nil {
		return err
	}

	httpServer := server.CreateServer(cfg.Port, srv.Handler())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, logger)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed")
		}
		stopMirror()
		return err
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	}

	if err := srv.Hub().Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn().Err(err).Msg("Hub shutdown incomplete")
	}
	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}

	stopMirror()

	logger.Info().Msg("Server stopped")
	return nil
}

// startMirror attaches the event mirror to the server's registry when one is
// configured. The returned function flushes the queue, waits for the worker
// and closes the publisher; it is a no-op when mirroring is disabled.
func startMirror(cfg mirror.Config, srv *server.Server, logger zerolog.Logger) (func(), error) {
	if !cfg.Enabled() {
		return func() {}, nil
	}

	pub, err := mirror.Dial(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("starting event mirror: %w", err)
	}

	m := mirror.New(pub, cfg.Buffer, logger)
	m.Attach(srv.Registry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	logger.Info().Str("driver", cfg.Driver).Msg("Event mirror started")

	return func() {
		cancel()
		<-done
		if err := m.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error closing event mirror")
		}
	}, nil
}
