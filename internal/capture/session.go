package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/bryanchriswhite/streamrelay/internal/logger"
	"github.com/bryanchriswhite/streamrelay/internal/metrics"
	"github.com/bryanchriswhite/streamrelay/internal/relayerr"
	"github.com/bryanchriswhite/streamrelay/internal/source"
)

// State is the lifecycle state of a capture session. Manager.Open only
// returns sessions that are already Open; a failed open returns no session.
type State int

const (
	// StateOpen means the handle is validated and positioned at the first frame
	StateOpen State = iota + 1
	// StateClosed means the handle was released after use
	StateClosed
)

// String returns a human-readable name for the state
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RetryConfig controls how network sources are opened
type RetryConfig struct {
	Attempts int           // Open+validate attempts for network sources (default: 3)
	Backoff  time.Duration // Fixed wait between attempts (default: 2 seconds)
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 3,
		Backoff:  2 * time.Second,
	}
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session owns one capture handle for the lifetime of a relay
type Session struct {
	mu           sync.Mutex
	state        State
	handle       Handle
	src          source.Descriptor
	attemptsMade int
	nextIndex    uint64
	openedAt     time.Time

	releaseOnce sync.Once
	releaseErr  error
	metrics     *metrics.Metrics
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Source returns the descriptor the session was opened for
func (s *Session) Source() source.Descriptor {
	return s.src
}

// AttemptsMade returns how many open attempts it took to reach Open
func (s *Session) AttemptsMade() int {
	return s.attemptsMade
}

// Read returns the next frame. Any error is terminal for the stream.
func (s *Session) Read() (Frame, error) {
	s.mu.Lock()
	if s.state != StateOpen {
		state := s.state
		s.mu.Unlock()
		return Frame{}, fmt.Errorf("%w: session is %s", relayerr.ErrStreamInterrupted, state)
	}
	s.mu.Unlock()

	img, err := s.handle.Read()
	if err != nil {
		return Frame{}, fmt.Errorf("%w: read frame %d: %w", relayerr.ErrStreamInterrupted, s.nextIndex, err)
	}
	if img == nil {
		return Frame{}, fmt.Errorf("%w: read frame %d: %w", relayerr.ErrStreamInterrupted, s.nextIndex, ErrNoFrame)
	}

	f := Frame{Image: img, Index: s.nextIndex}
	s.nextIndex++
	return f, nil
}

// Release frees the capture handle. It is idempotent: the handle is released
// exactly once and later calls return the first result.
func (s *Session) Release() error {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		s.releaseErr = s.handle.Release()
		s.metrics.SessionReleased(time.Since(s.openedAt))

		log := logger.WithComponent("capture")
		ev := log.Info()
		if s.releaseErr != nil {
			ev = log.Warn().Err(s.releaseErr)
		}
		ev.Str("source", s.src.Redacted()).
			Uint64("frames_read", s.nextIndex).
			Msg("Released video capture")
	})
	return s.releaseErr
}

// Manager opens capture sessions with the retry policy for the source kind
type Manager struct {
	opener  Opener
	retry   RetryConfig
	sleep   SleepFunc
	stat    func(string) (os.FileInfo, error)
	metrics *metrics.Metrics
}

// Option configures a Manager
type Option func(*Manager)

// WithSleep replaces the backoff wait, mainly for tests
func WithSleep(fn SleepFunc) Option {
	return func(m *Manager) { m.sleep = fn }
}

// WithStat replaces the file existence check, mainly for tests
func WithStat(fn func(string) (os.FileInfo, error)) Option {
	return func(m *Manager) { m.stat = fn }
}

// WithMetrics records attempts and session lifetimes
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a session manager backed by opener
func NewManager(opener Opener, retry RetryConfig, opts ...Option) *Manager {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	if retry.Backoff < 0 {
		retry.Backoff = 0
	}

	m := &Manager{
		opener: opener,
		retry:  retry,
		sleep:  sleepContext,
		stat:   os.Stat,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backend returns the name of the capture backend in use
func (m *Manager) Backend() string {
	return m.opener.Name()
}

// Open acquires an Open session for src or fails with ErrSourceNotFound,
// ErrSourceUnreadable or ErrSourceUnreachable.
// The caller owns the returned session and must Release it.
func (m *Manager) Open(ctx context.Context, src source.Descriptor) (*Session, error) {
	switch src.Kind {
	case source.NetworkStream:
		return m.openNetwork(ctx, src)
	case source.LocalFile:
		return m.openFile(ctx, src)
	default:
		return nil, fmt.Errorf("%w: unknown source kind %d", relayerr.ErrInvalidSource, src.Kind)
	}
}

// retryState is the whole of the network open state machine
type retryState struct {
	attempt int
	lastErr error
}

func (m *Manager) openNetwork(ctx context.Context, src source.Descriptor) (*Session, error) {
	log := logger.WithComponent("capture")
	state := retryState{}

	for state.attempt < m.retry.Attempts {
		if state.attempt > 0 {
			if err := m.sleep(ctx, m.retry.Backoff); err != nil {
				return nil, fmt.Errorf("%w: open of %s cancelled after %d attempts: %w",
					relayerr.ErrSourceUnreachable, src.Redacted(), state.attempt, err)
			}
		}
		state.attempt++

		log.Info().
			Str("source", src.Redacted()).
			Int("attempt", state.attempt).
			Int("max_attempts", m.retry.Attempts).
			Msg("Attempting to open stream")

		handle, err := m.tryNetwork(ctx, src)
		if err != nil {
			state.lastErr = err
			m.metrics.OpenAttempt(src.Kind.String(), "failed")
			log.Warn().
				Err(err).
				Str("source", src.Redacted()).
				Int("attempt", state.attempt).
				Msg("Failed to open stream")
			continue
		}

		m.metrics.OpenAttempt(src.Kind.String(), "ok")
		return m.newSession(src, handle, state.attempt), nil
	}

	log.Error().
		Err(state.lastErr).
		Str("source", src.Redacted()).
		Int("attempts", state.attempt).
		Msg("Failed to open stream, all attempts failed")

	return nil, fmt.Errorf("%w: failed to open stream %s after %d attempts: %w",
		relayerr.ErrSourceUnreachable, src.Redacted(), state.attempt, state.lastErr)
}

// tryNetwork is one open + validation read + rewind. On any failure the
// handle is released before returning.
func (m *Manager) tryNetwork(ctx context.Context, src source.Descriptor) (Handle, error) {
	handle, err := m.opener.Open(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	img, err := handle.Read()
	if err == nil && img == nil {
		err = ErrNoFrame
	}
	if err != nil {
		logger.WithComponent("capture").Warn().
			Err(err).
			Str("source", src.Redacted()).
			Msg("Failed to read initial frame")
		releaseQuietly(handle, src)
		return nil, fmt.Errorf("validation read: %w", err)
	}

	if err := handle.Rewind(); err != nil {
		releaseQuietly(handle, src)
		return nil, fmt.Errorf("rewind after validation read: %w", err)
	}

	return handle, nil
}

func (m *Manager) openFile(ctx context.Context, src source.Descriptor) (*Session, error) {
	log := logger.WithComponent("capture")

	if _, err := m.stat(src.Locator); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Error().Str("path", src.Locator).Msg("File not found")
			return nil, fmt.Errorf("%w: File not found: %s", relayerr.ErrSourceNotFound, src.Locator)
		}
		log.Error().Err(err).Str("path", src.Locator).Msg("Failed to stat local file")
		return nil, fmt.Errorf("%w: Failed to open file: %s: %w", relayerr.ErrSourceUnreadable, src.Locator, err)
	}

	handle, err := m.opener.Open(ctx, src)
	if err != nil {
		m.metrics.OpenAttempt(src.Kind.String(), "failed")
		log.Error().Err(err).Str("path", src.Locator).Msg("Failed to open local file")
		return nil, fmt.Errorf("%w: Failed to open file: %s: %w", relayerr.ErrSourceUnreadable, src.Locator, err)
	}

	m.metrics.OpenAttempt(src.Kind.String(), "ok")
	return m.newSession(src, handle, 1), nil
}

func (m *Manager) newSession(src source.Descriptor, handle Handle, attempts int) *Session {
	m.metrics.SessionOpened()
	return &Session{
		state:        StateOpen,
		handle:       handle,
		src:          src,
		attemptsMade: attempts,
		openedAt:     time.Now(),
		metrics:      m.metrics,
	}
}

func releaseQuietly(h Handle, src source.Descriptor) {
	if err := h.Release(); err != nil {
		logger.WithComponent("capture").Debug().
			Err(err).
			Str("source", src.Redacted()).
			Msg("Error releasing discarded handle")
	}
}
