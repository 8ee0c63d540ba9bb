package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/bryanchriswhite/streamrelay/internal/logger"
)

// statusRecorder captures the response status and size
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

// Hijack lets websocket upgrades through the recorder
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// flushingRecorder is used when the wrapped writer can flush, so handlers
// still see an http.Flusher
type flushingRecorder struct {
	*statusRecorder
}

func (f flushingRecorder) Flush() {
	f.ResponseWriter.(http.Flusher).Flush()
}

func record(w http.ResponseWriter) (*statusRecorder, http.ResponseWriter) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	if _, ok := w.(http.Flusher); ok {
		return rec, flushingRecorder{rec}
	}
	return rec, rec
}

// instrument logs each request and records it in metrics
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec, wrapped := record(w)

		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		elapsed := time.Since(start)
		s.metrics.HTTPRequest(r.Method, route, strconv.Itoa(rec.status), elapsed)

		logger.WithComponent("api").Info().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Int64("bytes", rec.bytes).
			Dur("duration", elapsed).
			Msg("Request served")
	})
}
