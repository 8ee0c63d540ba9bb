package capture

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bryanchriswhite/streamrelay/internal/logger"
	"github.com/bryanchriswhite/streamrelay/internal/source"
)

// GStreamerOpener decodes sources with a gst-launch-1.0 subprocess.
// This avoids CGO by running the pipeline as a separate process.
type GStreamerOpener struct {
	cfg DecoderConfig
}

// NewGStreamerOpener creates a gst-launch backed opener
func NewGStreamerOpener(cfg DecoderConfig) *GStreamerOpener {
	return &GStreamerOpener{cfg: cfg}
}

// Name implements Opener
func (o *GStreamerOpener) Name() string {
	return "gstreamer"
}

// Open implements Opener
func (o *GStreamerOpener) Open(ctx context.Context, src source.Descriptor) (Handle, error) {
	uri := sourceURI(src)

	width, height, err := o.probeVideoDimensions(ctx, uri)
	if err != nil {
		return nil, err
	}

	// Pipeline: uridecodebin -> videoconvert -> RGBA format -> raw output to stdout
	args := gstPipeline(uri, o.cfg.Debug, "fdsink", "fd=1", "sync=false")
	return newPipeHandle(func() (*decoderProcess, error) {
		return startDecoder(ctx, "gstreamer", o.cfg.GstLaunch, args, width, height, o.cfg.Debug)
	})
}

// sourceURI turns a descriptor into something uridecodebin accepts
func sourceURI(src source.Descriptor) string {
	if src.Kind == source.NetworkStream {
		return src.Locator
	}
	return (&url.URL{Scheme: "file", Path: src.Locator}).String()
}

func gstPipeline(uri string, verbose bool, sink ...string) []string {
	flag := "-q"
	if verbose {
		flag = "-v"
	}
	args := []string{
		flag,
		"uridecodebin", "uri=" + uri, "!",
		"videoconvert", "!",
		"video/x-raw,format=RGBA", "!",
	}
	return append(args, sink...)
}

// probeVideoDimensions runs a one-buffer pipeline and reads the negotiated caps
func (o *GStreamerOpener) probeVideoDimensions(ctx context.Context, uri string) (int, int, error) {
	log := logger.WithComponent("gstreamer")

	probeCtx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
	defer cancel()

	args := gstPipeline(uri, true, "fakesink", "num-buffers=1")
	cmd := exec.CommandContext(probeCtx, o.cfg.GstLaunch, args...)
	output, runErr := cmd.CombinedOutput()
	if runErr != nil {
		// Caps may have been printed before the error
		log.Debug().Err(runErr).Str("output", string(output)).Msg("Probe command output")
	}

	// Look for lines like: /GstPipeline:pipeline0/GstCapsFilter:capsfilter0.GstPad:src: caps = video/x-raw, format=(string)RGBA, width=(int)1280, height=(int)720
	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(line, "video/x-raw") && strings.Contains(line, "width=") {
			width := extractIntFromCaps(line, "width")
			height := extractIntFromCaps(line, "height")
			if width > 0 && height > 0 {
				log.Debug().Int("width", width).Int("height", height).Msg("Video dimensions")
				return width, height, nil
			}
		}
	}

	if runErr != nil {
		return 0, 0, fmt.Errorf("gst-launch probe failed: %w", runErr)
	}
	return 0, 0, fmt.Errorf("could not determine video dimensions")
}

// extractIntFromCaps extracts an integer value from a GStreamer caps string
func extractIntFromCaps(caps, key string) int {
	// Look for patterns like "width=(int)1920" or "width=1920"
	patterns := []string{
		key + "=(int)",
		key + "=",
	}

	for _, pattern := range patterns {
		idx := strings.Index(caps, pattern)
		if idx < 0 {
			continue
		}
		start := idx + len(pattern)
		end := start
		for end < len(caps) && caps[end] >= '0' && caps[end] <= '9' {
			end++
		}
		if end > start {
			if val, err := strconv.Atoi(caps[start:end]); err == nil {
				return val
			}
		}
	}
	return 0
}
