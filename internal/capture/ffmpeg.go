package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/bryanchriswhite/streamrelay/internal/logger"
	"github.com/bryanchriswhite/streamrelay/internal/source"
)

// DecoderConfig holds settings shared by the subprocess backends
type DecoderConfig struct {
	FFmpegPath   string
	FFprobePath  string
	GstLaunch    string
	ProbeTimeout time.Duration
	// Debug turns on verbose decoder diagnostics. It never changes behavior.
	Debug bool
}

// DefaultDecoderConfig returns binaries looked up on PATH
func DefaultDecoderConfig() DecoderConfig {
	return DecoderConfig{
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
		GstLaunch:    "gst-launch-1.0",
		ProbeTimeout: 10 * time.Second,
	}
}

// FFmpegOpener decodes sources with an ffmpeg subprocess.
// ffprobe establishes that the source can be opened and supplies the frame size.
type FFmpegOpener struct {
	cfg DecoderConfig
}

// NewFFmpegOpener creates an ffmpeg backed opener
func NewFFmpegOpener(cfg DecoderConfig) *FFmpegOpener {
	return &FFmpegOpener{cfg: cfg}
}

// Name implements Opener
func (o *FFmpegOpener) Name() string {
	return "ffmpeg"
}

// Open implements Opener
func (o *FFmpegOpener) Open(ctx context.Context, src source.Descriptor) (Handle, error) {
	width, height, err := o.probe(ctx, src)
	if err != nil {
		return nil, err
	}

	args := o.decodeArgs(src)
	return newPipeHandle(func() (*decoderProcess, error) {
		return startDecoder(ctx, "ffmpeg", o.cfg.FFmpegPath, args, width, height, o.cfg.Debug)
	})
}

func (o *FFmpegOpener) logLevel() string {
	if o.cfg.Debug {
		return "debug"
	}
	return "error"
}

func inputArgs(src source.Descriptor) []string {
	if src.Kind == source.NetworkStream && strings.HasPrefix(strings.ToLower(src.Locator), "rtsp://") {
		return []string{"-rtsp_transport", "tcp", "-i", src.Locator}
	}
	return []string{"-i", src.Locator}
}

func (o *FFmpegOpener) probeArgs(src source.Descriptor) []string {
	args := []string{"-v", o.logLevel()}
	if src.Kind == source.NetworkStream && strings.HasPrefix(strings.ToLower(src.Locator), "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	return append(args,
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0:s=x",
		src.Locator,
	)
}

func (o *FFmpegOpener) decodeArgs(src source.Descriptor) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", o.logLevel()}
	args = append(args, inputArgs(src)...)
	return append(args,
		"-map", "0:v:0",
		"-an", "-sn",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)
}

func (o *FFmpegOpener) probe(ctx context.Context, src source.Descriptor) (int, int, error) {
	log := logger.WithComponent("ffmpeg")

	probeCtx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
	defer cancel()

	args := o.probeArgs(src)
	log.Debug().Str("cmd", o.cfg.FFprobePath).Strs("args", redactArgs(args)).Msg("Probing source")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(probeCtx, o.cfg.FFprobePath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if o.cfg.Debug && msg != "" {
			log.Debug().Str("stderr", msg).Msg("ffprobe output")
		}
		if msg != "" {
			return 0, 0, fmt.Errorf("ffprobe failed: %w: %s", err, lastLine(msg))
		}
		return 0, 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	width, height, err := parseDimensions(stdout.String())
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe: %w", err)
	}
	log.Debug().Int("width", width).Int("height", height).Msg("Probed source")
	return width, height, nil
}

// parseDimensions parses ffprobe "WIDTHxHEIGHT" output, using the first
// non-empty line
func parseDimensions(out string) (int, int, error) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		w, h, ok := strings.Cut(line, "x")
		if !ok {
			return 0, 0, fmt.Errorf("unexpected dimensions %q", line)
		}
		width, err1 := strconv.Atoi(strings.TrimSpace(w))
		height, err2 := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(h, "x")))
		if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
			return 0, 0, fmt.Errorf("unexpected dimensions %q", line)
		}
		return width, height, nil
	}
	return 0, 0, fmt.Errorf("no video stream found")
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
