package capture_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/streamrelay/internal/capture"
	"github.com/bryanchriswhite/streamrelay/internal/capture/capturetest"
	"github.com/bryanchriswhite/streamrelay/internal/relayerr"
	"github.com/bryanchriswhite/streamrelay/internal/source"
)

// recordingSleep records requested waits without waiting
type recordingSleep struct {
	waits []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func (r *recordingSleep) total() time.Duration {
	var sum time.Duration
	for _, d := range r.waits {
		sum += d
	}
	return sum
}

var network = source.Descriptor{Kind: source.NetworkStream, Locator: "rtsp://camera.local:554/live"}

func TestOpenLocalFileMissing(t *testing.T) {
	opener := capturetest.NewOpener()
	sl := &recordingSleep{}
	m := capture.NewManager(opener, capture.DefaultRetryConfig(), capture.WithSleep(sl.sleep))

	src := source.Descriptor{Kind: source.LocalFile, Locator: filepath.Join(t.TempDir(), "missing.mp4")}
	sess, err := m.Open(context.Background(), src)

	require.ErrorIs(t, err, relayerr.ErrSourceNotFound)
	assert.Nil(t, sess)
	assert.Empty(t, opener.Calls(), "no open attempt for a missing file")
	assert.Empty(t, sl.waits, "no retry for local files")
}

func TestOpenLocalFileUnreadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not a video"), 0o644))

	opener := capturetest.NewOpener(
		capturetest.Attempt{Err: errors.New("moov atom not found")},
		capturetest.Attempt{Handle: capturetest.NewHandle(capturetest.Frames(1)...)},
	)
	sl := &recordingSleep{}
	m := capture.NewManager(opener, capture.DefaultRetryConfig(), capture.WithSleep(sl.sleep))

	_, err := m.Open(context.Background(), source.Descriptor{Kind: source.LocalFile, Locator: path})

	require.ErrorIs(t, err, relayerr.ErrSourceUnreadable)
	assert.Len(t, opener.Calls(), 1, "single attempt for local files")
	assert.Empty(t, sl.waits)
}

func TestOpenLocalFileStatError(t *testing.T) {
	opener := capturetest.NewOpener()
	m := capture.NewManager(opener, capture.DefaultRetryConfig(),
		capture.WithStat(func(string) (os.FileInfo, error) { return nil, fs.ErrPermission }),
	)

	_, err := m.Open(context.Background(), source.Descriptor{Kind: source.LocalFile, Locator: "/secret.mp4"})
	require.ErrorIs(t, err, relayerr.ErrSourceUnreadable)
	assert.Empty(t, opener.Calls())
}

func TestOpenLocalFileSkipsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	h := capturetest.NewHandle(capturetest.Frames(2)...)
	m := capture.NewManager(capturetest.NewOpener(capturetest.Attempt{Handle: h}), capture.DefaultRetryConfig())

	sess, err := m.Open(context.Background(), source.Descriptor{Kind: source.LocalFile, Locator: path})
	require.NoError(t, err)
	defer sess.Release()

	assert.Equal(t, capture.StateOpen, sess.State())
	assert.Equal(t, 1, sess.AttemptsMade())
	assert.Zero(t, h.Reads(), "local files are not probed")
	assert.Zero(t, h.Rewinds())
}

func TestOpenNetworkExhaustsAttempts(t *testing.T) {
	handles := []*capturetest.Handle{
		capturetest.NewHandle(), // opens, never produces a frame
		capturetest.NewHandle().FailAt(0),
		capturetest.NewHandle(),
	}
	opener := capturetest.NewOpener(
		capturetest.Attempt{Handle: handles[0]},
		capturetest.Attempt{Handle: handles[1]},
		capturetest.Attempt{Handle: handles[2]},
	)
	sl := &recordingSleep{}
	m := capture.NewManager(opener, capture.RetryConfig{Attempts: 3, Backoff: 2 * time.Second}, capture.WithSleep(sl.sleep))

	sess, err := m.Open(context.Background(), network)

	require.ErrorIs(t, err, relayerr.ErrSourceUnreachable)
	assert.Nil(t, sess)
	assert.Len(t, opener.Calls(), 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sl.waits, "backoff only between attempts")
	assert.Equal(t, 4*time.Second, sl.total())
	for i, h := range handles {
		assert.Equal(t, 1, h.Releases(), "discarded handle %d released once", i)
	}
}

func TestOpenNetworkRecoversOnLaterAttempt(t *testing.T) {
	failing := capturetest.NewHandle().FailAt(0)
	good := capturetest.NewHandle(capturetest.Frames(3)...)
	opener := capturetest.NewOpener(
		capturetest.Attempt{Err: errors.New("connection refused")},
		capturetest.Attempt{Handle: failing},
		capturetest.Attempt{Handle: good},
	)
	sl := &recordingSleep{}
	m := capture.NewManager(opener, capture.DefaultRetryConfig(), capture.WithSleep(sl.sleep))

	sess, err := m.Open(context.Background(), network)
	require.NoError(t, err)
	defer sess.Release()

	assert.Equal(t, capture.StateOpen, sess.State())
	assert.Equal(t, 3, sess.AttemptsMade())
	assert.Len(t, sl.waits, 2)
	assert.Equal(t, 1, failing.Releases())
	assert.Zero(t, good.Releases(), "the winning handle stays open")
	assert.Equal(t, 1, good.Rewinds())

	f, err := sess.Read()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.Index)
	assert.Equal(t, uint8(10), capturetest.Level(f.Image), "validation frame is not lost")
}

func TestOpenNetworkRewindFailureDiscardsAttempt(t *testing.T) {
	broken := capturetest.NewHandle(capturetest.Frames(1)...)
	broken.RewindErr = errors.New("seek not supported")
	good := capturetest.NewHandle(capturetest.Frames(1)...)

	m := capture.NewManager(
		capturetest.NewOpener(capturetest.Attempt{Handle: broken}, capturetest.Attempt{Handle: good}),
		capture.DefaultRetryConfig(),
		capture.WithSleep((&recordingSleep{}).sleep),
	)

	sess, err := m.Open(context.Background(), network)
	require.NoError(t, err)
	defer sess.Release()

	assert.Equal(t, 1, broken.Releases())
	assert.Equal(t, 2, sess.AttemptsMade())
}

func TestOpenNetworkCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opener := capturetest.NewOpener(capturetest.Attempt{Handle: capturetest.NewHandle()})
	m := capture.NewManager(opener, capture.DefaultRetryConfig(), capture.WithSleep((&recordingSleep{}).sleep))

	_, err := m.Open(ctx, network)
	require.ErrorIs(t, err, relayerr.ErrSourceUnreachable)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, opener.Calls(), 1)
}

func TestOpenNetworkRealBackoffElapsed(t *testing.T) {
	opener := capturetest.NewOpener(
		capturetest.Attempt{Handle: capturetest.NewHandle()},
		capturetest.Attempt{Handle: capturetest.NewHandle()},
		capturetest.Attempt{Handle: capturetest.NewHandle()},
	)
	backoff := 20 * time.Millisecond
	m := capture.NewManager(opener, capture.RetryConfig{Attempts: 3, Backoff: backoff})

	start := time.Now()
	_, err := m.Open(context.Background(), network)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, relayerr.ErrSourceUnreachable)
	assert.GreaterOrEqual(t, elapsed, 2*backoff)
	assert.Less(t, elapsed, 3*backoff+time.Second)
}

func TestSessionReleaseIsIdempotent(t *testing.T) {
	h := capturetest.NewHandle(capturetest.Frames(2)...)
	m := capture.NewManager(capturetest.NewOpener(capturetest.Attempt{Handle: h}), capture.DefaultRetryConfig())

	sess, err := m.Open(context.Background(), network)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, sess.Release())
	}
	assert.Equal(t, 1, h.Releases())
	assert.Equal(t, capture.StateClosed, sess.State())

	_, err = sess.Read()
	require.ErrorIs(t, err, relayerr.ErrStreamInterrupted)
}

func TestSessionReadIndexesFramesInOrder(t *testing.T) {
	h := capturetest.NewHandle(capturetest.Frames(3)...)
	m := capture.NewManager(capturetest.NewOpener(capturetest.Attempt{Handle: h}), capture.DefaultRetryConfig())

	sess, err := m.Open(context.Background(), network)
	require.NoError(t, err)
	defer sess.Release()

	for i := 0; i < 3; i++ {
		f, err := sess.Read()
		require.NoError(t, err)
		assert.Equal(t, uint64(i), f.Index)
		assert.Equal(t, uint8((i+1)*10), capturetest.Level(f.Image))
	}

	_, err = sess.Read()
	require.ErrorIs(t, err, relayerr.ErrStreamInterrupted)
	require.ErrorIs(t, err, capture.ErrNoFrame)
}

func TestUnknownSourceKind(t *testing.T) {
	m := capture.NewManager(capturetest.NewOpener(), capture.DefaultRetryConfig())
	_, err := m.Open(context.Background(), source.Descriptor{Kind: source.Kind(42)})
	require.ErrorIs(t, err, relayerr.ErrInvalidSource)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "open", capture.StateOpen.String())
	assert.Equal(t, "closed", capture.StateClosed.String())
	assert.Equal(t, "unknown", capture.State(0).String(), "zero value is not a lifecycle state")
}
