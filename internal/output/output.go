package output

import (
	"image"
	"image/jpeg"
	"io"
)

// DefaultQuality is the JPEG quality used for relayed frames
const DefaultQuality = 80

// Encoder defines how a decoded frame is compressed before framing.
// This allows the chunk format to stay fixed while the codec is swapped
// (tests use it to inject failures).
type Encoder interface {
	// Encode writes the compressed form of img to w
	Encode(w io.Writer, img image.Image) error

	// ContentType returns the MIME type written in each chunk header
	ContentType() string
}

// Compositor draws onto a frame in place before it is encoded
type Compositor interface {
	Compose(frame *image.RGBA)
}

// CompositorFunc adapts a plain function to Compositor
type CompositorFunc func(frame *image.RGBA)

// Compose implements Compositor
func (f CompositorFunc) Compose(frame *image.RGBA) {
	f(frame)
}

// JPEGEncoder encodes frames with image/jpeg
type JPEGEncoder struct {
	Quality int
}

// NewJPEGEncoder returns an encoder at the given quality, falling back to
// DefaultQuality when quality is outside 1-100
func NewJPEGEncoder(quality int) JPEGEncoder {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return JPEGEncoder{Quality: quality}
}

// Encode implements Encoder
func (e JPEGEncoder) Encode(w io.Writer, img image.Image) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: e.Quality})
}

// ContentType implements Encoder
func (e JPEGEncoder) ContentType() string {
	return "image/jpeg"
}
