package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/streamrelay/internal/output"
	"github.com/bryanchriswhite/streamrelay/internal/source"
)

var probeCmd = &cobra.Command{
	Use:   "probe LOCATOR",
	Short: "Check that a source can be opened",
	Long: `Open a source the same way /video_feed does, read its first frame and
report what was found. Network sources are retried with the configured
attempts and backoff.`,
	Example: `  # Check a camera
  streamrelay probe 'rtsp://admin:p@ss@192.168.1.20/stream1'

  # Save the first frame of a file
  streamrelay probe videos/demo.mp4 --snapshot first.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

var snapshotPath string

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVarP(&snapshotPath, "snapshot", "o", "", "write the first frame to this JPEG file")
}

func runProbe(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	src, err := source.NewResolver(cfg.BaseDir).Resolve(args[0])
	if err != nil {
		return err
	}

	captures, err := newCaptureManager(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize decoder: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	sess, err := captures.Open(ctx, src)
	if err != nil {
		return err
	}
	defer sess.Release()

	frame, err := sess.Read()
	if err != nil {
		return fmt.Errorf("failed to read first frame: %w", err)
	}

	b := frame.Image.Bounds()
	fmt.Printf("Source:   %s\n", src.Redacted())
	fmt.Printf("Kind:     %s\n", src.Kind)
	fmt.Printf("Decoder:  %s\n", captures.Backend())
	fmt.Printf("Attempts: %d\n", sess.AttemptsMade())
	fmt.Printf("Frame:    %dx%d\n", b.Dx(), b.Dy())
	fmt.Printf("Elapsed:  %s\n", time.Since(start).Round(time.Millisecond))

	if snapshotPath == "" {
		return nil
	}

	f, err := os.Create(snapshotPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer f.Close()

	if err := output.NewJPEGEncoder(cfg.Relay.JPEGQuality).Encode(f, frame.Image); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	fmt.Printf("Snapshot: %s\n", snapshotPath)
	return nil
}
