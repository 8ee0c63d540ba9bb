package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bryanchriswhite/streamrelay/internal/logger"
	"github.com/bryanchriswhite/streamrelay/internal/output"
	"github.com/bryanchriswhite/streamrelay/internal/overlay"
	"github.com/bryanchriswhite/streamrelay/internal/relayerr"
	"github.com/bryanchriswhite/streamrelay/internal/source"
)

// Relay outcomes reported to metrics
const (
	outcomeStreamed   = "streamed"
	outcomeBadRequest = "bad_request"
	outcomeNotFound   = "not_found"
	outcomeUnreadable = "unreadable"
	outcomeUnreach    = "unreachable"
	outcomeInvalid    = "invalid_source"
	outcomeInitFailed = "init_failed"
	outcomeCancelled  = "cancelled"
)

// handleVideoFeed relays ?url= as a multipart JPEG stream.
// With overlays=1 the stored overlays are drawn onto every frame.
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("relay")
	ctx := r.Context()

	raw := r.URL.Query().Get("url")
	if strings.TrimSpace(raw) == "" {
		log.Error().Msg("Missing source URL or file path")
		s.metrics.RelayOutcome(outcomeBadRequest)
		writeError(w, http.StatusBadRequest, "Missing source URL or file path")
		return
	}

	src, err := s.resolver.Resolve(raw)
	if err != nil {
		redacted := source.RedactLocator(strings.TrimSpace(raw))
		log.Error().Err(err).Str("source", redacted).Msg("Failed to resolve source")
		s.metrics.RelayOutcome(outcomeInvalid)
		writeError(w, http.StatusNotFound, fmt.Sprintf("Invalid source: %s", redacted))
		return
	}

	// Everything that can fail while preparing the response happens before
	// the session is opened, so the streamer is the only one releasing it
	if _, ok := w.(http.Flusher); !ok {
		log.Error().Str("source", src.Redacted()).Msg("Response writer does not support flushing")
		s.metrics.RelayOutcome(outcomeInitFailed)
		writeError(w, http.StatusInternalServerError, "Stream error: streaming unsupported")
		return
	}

	opts := []output.Option{output.WithMetrics(s.metrics)}
	if wantOverlays(r) {
		list, err := s.overlays.List(ctx)
		if err != nil {
			log.Error().Err(err).Str("source", src.Redacted()).Msg("Failed to load overlays")
			s.metrics.RelayOutcome(outcomeInitFailed)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Stream error: %v", err))
			return
		}
		renderer := overlay.NewRenderer(list, s.style)
		log.Debug().Int("overlays", renderer.Len()).Msg("Compositing overlays")
		opts = append(opts, output.WithCompositor(renderer))
	}

	sess, err := s.captures.Open(ctx, src)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Str("source", src.Redacted()).Msg("Client went away while opening source")
			s.metrics.RelayOutcome(outcomeCancelled)
			return
		}
		outcome, msg := describeOpenError(err, src)
		s.metrics.RelayOutcome(outcome)
		writeError(w, http.StatusNotFound, msg)
		return
	}

	log.Info().
		Str("source", src.Redacted()).
		Str("kind", src.Kind.String()).
		Int("attempts", sess.AttemptsMade()).
		Msg("Starting MJPEG stream")
	s.metrics.RelayOutcome(outcomeStreamed)

	w.Header().Set("Content-Type", output.ContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	w.(http.Flusher).Flush()

	streamer := output.NewStreamer(s.quality, opts...)
	if err := streamer.Stream(ctx, w, sess); err != nil {
		log.Debug().Err(err).Str("source", src.Redacted()).Msg("Client disconnected")
	}
}

// describeOpenError maps a pre-stream failure to a metrics outcome and a
// client message. Credentials never appear in the message.
func describeOpenError(err error, src source.Descriptor) (string, string) {
	switch {
	case errors.Is(err, relayerr.ErrSourceNotFound):
		return outcomeNotFound, fmt.Sprintf("File not found: %s", src.Locator)
	case errors.Is(err, relayerr.ErrSourceUnreadable):
		return outcomeUnreadable, fmt.Sprintf("Failed to open file: %s", src.Locator)
	case errors.Is(err, relayerr.ErrSourceUnreachable):
		return outcomeUnreach, fmt.Sprintf("Failed to open stream: %s. Source unreachable; check URL, credentials, network, or firewall. Decoder logs may provide details.", src.Redacted())
	default:
		return outcomeInvalid, fmt.Sprintf("Invalid source: %s", src.Redacted())
	}
}

func wantOverlays(r *http.Request) bool {
	v := r.URL.Query().Get("overlays")
	if v == "" {
		return false
	}
	on, err := strconv.ParseBool(v)
	return err == nil && on
}
