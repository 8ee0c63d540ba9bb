package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/streamrelay/internal/config"
	"github.com/bryanchriswhite/streamrelay/internal/logger"
	"github.com/bryanchriswhite/streamrelay/internal/overlay"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "streamrelay",
		Short: "StreamRelay - Relay camera streams and video files to the browser",
		Long: `StreamRelay opens an RTSP/HTTP camera stream or a local video file and
relays it to HTTP clients as a multipart JPEG (MJPEG) stream.

Features:
  • RTSP credentials with reserved characters are encoded automatically
  • Network sources are retried before giving up
  • FFmpeg or GStreamer decoding
  • Optional overlay boxes drawn over every frame
  • Overlay CRUD API backed by a YAML file or MongoDB
  • Prometheus metrics`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Keep command output clean until a command installs its own logger
			level := "warn"
			if cmd.Flags().Changed("log-level") {
				level, _ = cmd.Flags().GetString("log-level")
			}
			logger.InitWriter(level, true, os.Stderr)
		},
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/streamrelay/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 5000)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config manager and applies the global flags that were
// set on the command line. Flag values are never written back to disk.
func loadConfig(cmd *cobra.Command) (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err := configMgr.Get()
	if err != nil {
		return nil, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		if cfg.ServerPort, err = flags.GetInt("port"); err != nil {
			return nil, nil, err
		}
	}
	if flags.Changed("log-level") {
		if cfg.LogLevel, err = flags.GetString("log-level"); err != nil {
			return nil, nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration in %s: %w", configMgr.GetConfigPath(), err)
	}

	return configMgr, cfg, nil
}

// openStore opens the configured overlay store
func openStore(ctx context.Context, cfg config.StoreConfig) (overlay.Store, error) {
	if cfg.Backend == "mongo" {
		store, err := overlay.NewMongoStore(ctx, overlay.MongoConfig{
			URI:        cfg.MongoURI,
			Database:   cfg.Database,
			Collection: cfg.Collection,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	store, err := overlay.NewFileStore(cfg.FilePath)
	if err != nil {
		return nil, err
	}
	return store, nil
}
