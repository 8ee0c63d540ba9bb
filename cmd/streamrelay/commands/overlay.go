package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/streamrelay/internal/overlay"
)

var overlayCmd = &cobra.Command{
	Use:   "overlay",
	Short: "Manage stored overlays",
	Long: `List, create and delete the overlays drawn by /video_feed?overlays=1.

These commands talk to the configured store directly and do not need a
running server.`,
}

var overlayListCmd = &cobra.Command{
	Use:   "list",
	Short: "List overlays",
	Example: `  # List overlays in table format (default)
  streamrelay overlay list

  # List overlays in JSON format
  streamrelay overlay list --format json`,
	RunE: runOverlayList,
}

var overlayCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an overlay",
	Example: `  # Label the top-left corner
  streamrelay overlay create --type text --content LIVE --x 10 --y 10 --width 80 --height 30`,
	RunE: runOverlayCreate,
}

var overlayDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an overlay",
	Args:  cobra.ExactArgs(1),
	RunE:  runOverlayDelete,
}

var (
	overlayFormat string
	newOverlay    struct {
		kind, content       string
		x, y, width, height float64
	}
)

func init() {
	rootCmd.AddCommand(overlayCmd)
	overlayCmd.AddCommand(overlayListCmd)
	overlayCmd.AddCommand(overlayCreateCmd)
	overlayCmd.AddCommand(overlayDeleteCmd)

	overlayListCmd.Flags().StringVarP(&overlayFormat, "format", "f", "table", "output format (table or json)")

	f := overlayCreateCmd.Flags()
	f.StringVar(&newOverlay.kind, "type", "text", "overlay type (text, image, logo, ...)")
	f.StringVar(&newOverlay.content, "content", "", "label drawn above the box")
	f.Float64Var(&newOverlay.x, "x", 0, "left edge in pixels")
	f.Float64Var(&newOverlay.y, "y", 0, "top edge in pixels")
	f.Float64Var(&newOverlay.width, "width", 0, "width in pixels")
	f.Float64Var(&newOverlay.height, "height", 0, "height in pixels")
	overlayCreateCmd.MarkFlagRequired("width")
	overlayCreateCmd.MarkFlagRequired("height")
}

func withStore(cmd *cobra.Command, fn func(ctx context.Context, store overlay.Store) error) error {
	_, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open overlay store: %w", err)
	}
	defer store.Close(context.Background())

	return fn(ctx, store)
}

func runOverlayList(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store overlay.Store) error {
		list, err := store.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list overlays: %w", err)
		}

		switch overlayFormat {
		case "json":
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(list)
		case "table":
			return printOverlayTable(list)
		default:
			return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", overlayFormat)
		}
	})
}

func printOverlayTable(list []overlay.Overlay) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tTYPE\tCONTENT\tPOSITION\tSIZE")
	fmt.Fprintln(w, "--\t----\t-------\t--------\t----")

	for _, o := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%g,%g\t%gx%g\n",
			o.ID, o.Type, o.Content,
			o.Position.X, o.Position.Y,
			o.Size.Width, o.Size.Height)
	}

	return nil
}

func runOverlayCreate(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store overlay.Store) error {
		id, err := store.Create(ctx, overlay.Overlay{
			Type:     newOverlay.kind,
			Content:  newOverlay.content,
			Position: &overlay.Position{X: newOverlay.x, Y: newOverlay.y},
			Size:     &overlay.Size{Width: newOverlay.width, Height: newOverlay.height},
		})
		if err != nil {
			return fmt.Errorf("failed to create overlay: %w", err)
		}

		fmt.Printf("✅ Created overlay %s\n", id)
		return nil
	})
}

func runOverlayDelete(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store overlay.Store) error {
		ok, err := store.Delete(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to delete overlay: %w", err)
		}
		if !ok {
			return fmt.Errorf("overlay not found: %s", args[0])
		}

		fmt.Printf("✅ Deleted overlay %s\n", args[0])
		return nil
	})
}
