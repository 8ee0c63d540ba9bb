package output

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/streamrelay/internal/capture"
	"github.com/bryanchriswhite/streamrelay/internal/logger"
	"github.com/bryanchriswhite/streamrelay/internal/metrics"
	"github.com/bryanchriswhite/streamrelay/internal/relayerr"
)

// Boundary is the multipart boundary token separating chunks
const Boundary = "frame"

// ContentType is the response content type of a relayed stream
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// Termination reasons reported to metrics and logs
const (
	EndReadFailed   = "read_failed"
	EndEncodeFailed = "encode_failed"
	EndClientGone   = "client_gone"
	EndCancelled    = "context"
)

// Session is the part of a capture session the streamer consumes
type Session interface {
	Read() (capture.Frame, error)
	Release() error
}

// Chunk is one self-delimited part of the multipart stream
type Chunk struct {
	Index   uint64
	Payload []byte // encoded image
	data    []byte
}

// FormatChunk frames payload as
// "--frame\r\nContent-Type: <type>\r\n\r\n<payload>\r\n"
func FormatChunk(contentType string, payload []byte) []byte {
	header := fmt.Sprintf("--%s\r\nContent-Type: %s\r\n\r\n", Boundary, contentType)
	out := make([]byte, 0, len(header)+len(payload)+2)
	out = append(out, header...)
	out = append(out, payload...)
	return append(out, '\r', '\n')
}

// Bytes returns the framed chunk
func (c Chunk) Bytes() []byte {
	return c.data
}

// WriteTo implements io.WriterTo
func (c Chunk) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(c.data)
	return int64(n), err
}

// Streamer turns an open capture session into a sequence of chunks
type Streamer struct {
	encoder    Encoder
	compositor Compositor
	metrics    *metrics.Metrics
}

// Option configures a Streamer
type Option func(*Streamer)

// WithEncoder replaces the JPEG encoder
func WithEncoder(e Encoder) Option {
	return func(s *Streamer) { s.encoder = e }
}

// WithCompositor draws onto every frame before it is encoded
func WithCompositor(c Compositor) Option {
	return func(s *Streamer) { s.compositor = c }
}

// WithMetrics records emitted chunks and terminations
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Streamer) { s.metrics = m }
}

// NewStreamer creates a streamer encoding JPEG at quality
func NewStreamer(quality int, opts ...Option) *Streamer {
	s := &Streamer{encoder: NewJPEGEncoder(quality)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chunks returns the chunk sequence for sess. The sequence ends on the first
// read or encode failure, when the consumer stops iterating or when ctx is
// done. sess is released exactly once before the sequence finishes.
// The sequence can be ranged over once; later iterations yield nothing.
func (s *Streamer) Chunks(ctx context.Context, sess Session) iter.Seq[Chunk] {
	var used atomic.Bool
	return func(yield func(Chunk) bool) {
		if used.Swap(true) {
			return
		}

		log := logger.WithComponent("stream")
		start := time.Now()
		var emitted uint64
		var cause error
		reason := EndReadFailed

		defer func() {
			if err := sess.Release(); err != nil {
				log.Warn().Err(err).Msg("Error releasing capture session")
			}
			s.metrics.StreamEnded(reason)
			log.Info().
				Str("reason", reason).
				AnErr("cause", cause).
				Uint64("frames", emitted).
				Dur("elapsed", time.Since(start)).
				Msg("Stream ended")
		}()

		var buf bytes.Buffer
		for {
			if err := ctx.Err(); err != nil {
				reason, cause = EndCancelled, err
				return
			}

			frame, err := sess.Read()
			if err != nil {
				reason, cause = EndReadFailed, err
				return
			}

			if s.compositor != nil {
				s.compositor.Compose(frame.Image)
			}

			buf.Reset()
			if err := s.encoder.Encode(&buf, frame.Image); err != nil {
				reason = EndEncodeFailed
				cause = fmt.Errorf("%w: encode frame %d: %w", relayerr.ErrStreamInterrupted, frame.Index, err)
				return
			}

			payload := bytes.Clone(buf.Bytes())
			chunk := Chunk{
				Index:   frame.Index,
				Payload: payload,
				data:    FormatChunk(s.encoder.ContentType(), payload),
			}
			s.metrics.ChunkEmitted(len(chunk.data), len(payload))
			emitted++

			if !yield(chunk) {
				reason = EndClientGone
				return
			}
		}
	}
}

// Stream writes the chunk sequence of sess to w, flushing after every chunk
// when w is an http.Flusher. A failed write is treated as the client going
// away. The returned error wraps relayerr.ErrStreamInterrupted for write
// failures and is nil otherwise.
func (s *Streamer) Stream(ctx context.Context, w io.Writer, sess Session) error {
	flusher, _ := w.(http.Flusher)

	var writeErr error
	for chunk := range s.Chunks(ctx, sess) {
		if _, err := chunk.WriteTo(w); err != nil {
			writeErr = fmt.Errorf("%w: write chunk %d: %w", relayerr.ErrStreamInterrupted, chunk.Index, err)
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return writeErr
}
