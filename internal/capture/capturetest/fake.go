// Package capturetest provides scripted capture handles and openers for tests.
package capturetest

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/bryanchriswhite/streamrelay/internal/capture"
	"github.com/bryanchriswhite/streamrelay/internal/source"
)

// ErrScripted is the read failure injected by FailAt
var ErrScripted = errors.New("scripted read failure")

// Frame returns a w*h frame filled with a gray level identifying it
func Frame(level uint8, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = level
		img.Pix[i+1] = level
		img.Pix[i+2] = level
		img.Pix[i+3] = 255
	}
	return img
}

// Level returns the gray level Frame filled img with
func Level(img image.Image) uint8 {
	r, _, _, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	return uint8(r >> 8)
}

// Frames returns n 8x8 frames with levels 10, 20, 30, ...
func Frames(n int) []*image.RGBA {
	out := make([]*image.RGBA, n)
	for i := range out {
		out[i] = Frame(uint8((i+1)*10), 8, 8)
	}
	return out
}

// Handle is a scripted capture.Handle
type Handle struct {
	mu sync.Mutex

	frames []*image.RGBA
	pos    int
	failAt int // read index that fails, -1 for never

	RewindErr error

	reads    int
	rewinds  int
	releases int
}

var _ capture.Handle = (*Handle)(nil)

// NewHandle returns a handle yielding frames in order, then capture.ErrNoFrame
func NewHandle(frames ...*image.RGBA) *Handle {
	return &Handle{frames: frames, failAt: -1}
}

// FailAt makes the read at position pos fail with ErrScripted
func (h *Handle) FailAt(pos int) *Handle {
	h.failAt = pos
	return h
}

// Read implements capture.Handle
func (h *Handle) Read() (*image.RGBA, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reads++
	if h.pos == h.failAt {
		return nil, ErrScripted
	}
	if h.pos >= len(h.frames) {
		return nil, capture.ErrNoFrame
	}
	img := h.frames[h.pos]
	h.pos++
	return img, nil
}

// Rewind implements capture.Handle
func (h *Handle) Rewind() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rewinds++
	if h.RewindErr != nil {
		return h.RewindErr
	}
	h.pos = 0
	return nil
}

// Release implements capture.Handle
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releases++
	return nil
}

// Releases returns how many times Release was called
func (h *Handle) Releases() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.releases
}

// Rewinds returns how many times Rewind was called
func (h *Handle) Rewinds() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rewinds
}

// Reads returns how many times Read was called
func (h *Handle) Reads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reads
}

// Attempt is the scripted result of one Open call
type Attempt struct {
	Handle *Handle
	Err    error
}

// Opener hands out scripted attempts in order. Calls past the script fail.
type Opener struct {
	mu       sync.Mutex
	attempts []Attempt
	calls    []source.Descriptor
}

var _ capture.Opener = (*Opener)(nil)

// NewOpener returns an opener following the given script
func NewOpener(attempts ...Attempt) *Opener {
	return &Opener{attempts: attempts}
}

// Name implements capture.Opener
func (o *Opener) Name() string {
	return "fake"
}

// Open implements capture.Opener
func (o *Opener) Open(_ context.Context, src source.Descriptor) (capture.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := len(o.calls)
	o.calls = append(o.calls, src)
	if n >= len(o.attempts) {
		return nil, errors.New("no scripted attempt left")
	}
	a := o.attempts[n]
	if a.Err != nil {
		return nil, a.Err
	}
	return a.Handle, nil
}

// Calls returns the descriptors Open was called with
func (o *Opener) Calls() []source.Descriptor {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]source.Descriptor(nil), o.calls...)
}
