package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/streamrelay/internal/api"
	"github.com/bryanchriswhite/streamrelay/internal/capture"
	"github.com/bryanchriswhite/streamrelay/internal/config"
	"github.com/bryanchriswhite/streamrelay/internal/logger"
	"github.com/bryanchriswhite/streamrelay/internal/metrics"
	"github.com/bryanchriswhite/streamrelay/internal/source"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the StreamRelay server",
	Long: `Start the StreamRelay HTTP server.

GET /video_feed?url=<locator> relays the source as multipart JPEG. Add
&overlays=1 to draw the stored overlays onto every frame.`,
	Example: `  # Start server on default port (5000)
  streamrelay serve

  # Start server on custom port
  streamrelay serve --port 9090

  # Start with specific config file
  streamrelay serve --config /path/to/config.yaml

  # Start with debug logging
  streamrelay serve --log-level debug`,
	RunE: runServe,
}

var shutdownTimeout time.Duration

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "how long to wait for open streams on shutdown")
}

// newCaptureManager builds the capture manager described by cfg
func newCaptureManager(cfg *config.Config, mt *metrics.Metrics) (*capture.Manager, error) {
	opener, err := capture.NewOpener(cfg.Decoder.Backend, capture.DecoderConfig{
		FFmpegPath:   cfg.Decoder.FFmpegPath,
		FFprobePath:  cfg.Decoder.FFprobePath,
		GstLaunch:    cfg.Decoder.GstLaunchPath,
		ProbeTimeout: cfg.Decoder.ProbeTimeout,
		Debug:        cfg.Decoder.Debug,
	})
	if err != nil {
		return nil, err
	}
	retry := capture.RetryConfig{
		Attempts: cfg.Relay.Attempts,
		Backoff:  cfg.Relay.Backoff,
	}
	return capture.NewManager(opener, retry, capture.WithMetrics(mt)), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	log := logger.WithComponent("serve")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Str("base_dir", cfg.BaseDir).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mt := metrics.New()

	captures, err := newCaptureManager(cfg, mt)
	if err != nil {
		return fmt.Errorf("failed to initialize decoder: %w", err)
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open overlay store: %w", err)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to close overlay store")
		}
	}()

	server := api.NewServer(api.Options{
		Resolver:    source.NewResolver(cfg.BaseDir),
		Captures:    captures,
		Overlays:    store,
		Metrics:     mt,
		JPEGQuality: cfg.Relay.JPEGQuality,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", cfg.ServerPort).
			Str("decoder", captures.Backend()).
			Str("store", cfg.Store.Backend).
			Msg("Server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Msgf("Relay: http://localhost:%d/video_feed?url=<source>", cfg.ServerPort)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Forcing open connections closed")
		return httpServer.Close()
	}
	return nil
}
