// Package relayerr defines the failure taxonomy shared by the relay pipeline.
//
// Resolver and session failures wrap one of the sentinels below, so callers
// classify them with errors.Is regardless of the added context.
package relayerr

import "errors"

var (
	// ErrInvalidSource is returned for an empty or malformed locator.
	ErrInvalidSource = errors.New("invalid source")

	// ErrSourceNotFound is returned when a local file does not exist.
	ErrSourceNotFound = errors.New("source not found")

	// ErrSourceUnreadable is returned when a local file exists but cannot be opened.
	ErrSourceUnreadable = errors.New("source unreadable")

	// ErrSourceUnreachable is returned when a network stream exhausted its open attempts.
	ErrSourceUnreachable = errors.New("source unreachable")

	// ErrStreamInterrupted ends a chunk sequence after streaming has started.
	// It is never reported to the client as a status code.
	ErrStreamInterrupted = errors.New("stream interrupted")
)

// IsPreStream reports whether err belongs to the failures that are surfaced
// to the client before any streaming begins.
func IsPreStream(err error) bool {
	return errors.Is(err, ErrInvalidSource) ||
		errors.Is(err, ErrSourceNotFound) ||
		errors.Is(err, ErrSourceUnreadable) ||
		errors.Is(err, ErrSourceUnreachable)
}
