package capture

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/bryanchriswhite/streamrelay/internal/source"
)

// ErrNoFrame is returned by a handle when no further frame is available
// (end of file, stream stalled, decoder exited)
var ErrNoFrame = errors.New("no frame available")

// Handle is one open, positioned video source.
// A handle is owned by exactly one session and is not safe for concurrent use.
type Handle interface {
	// Read decodes the next frame in capture order
	Read() (*image.RGBA, error)

	// Rewind positions the handle so the next Read returns the first frame again
	Rewind() error

	// Release frees the underlying decoder. Handles may assume it is called once.
	Release() error
}

// Opener opens capture handles for resolved sources
type Opener interface {
	// Open returns an open handle or an error when the source cannot be opened.
	// For network sources a successful Open does not guarantee frames will follow.
	Open(ctx context.Context, src source.Descriptor) (Handle, error)

	// Name returns a human-readable name for this backend
	Name() string
}

// Frame is a decoded image plus its read index within the session
type Frame struct {
	Image *image.RGBA
	Index uint64
}

// NewOpener returns the decoder backend named by backend ("ffmpeg" or "gstreamer")
func NewOpener(backend string, cfg DecoderConfig) (Opener, error) {
	switch backend {
	case "", "ffmpeg":
		return NewFFmpegOpener(cfg), nil
	case "gstreamer":
		return NewGStreamerOpener(cfg), nil
	default:
		return nil, fmt.Errorf("unknown decoder backend: %s (use 'ffmpeg' or 'gstreamer')", backend)
	}
}
