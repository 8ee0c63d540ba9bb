package overlay_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/streamrelay/internal/overlay"
)

func TestHubSubscribeUnsubscribe(t *testing.T) {
	hub := overlay.NewHub()
	a := hub.Subscribe()
	b := hub.Subscribe()
	assert.Equal(t, 2, hub.Listeners())

	hub.Publish(overlay.Event{Type: overlay.EventDeleted, ID: "x"})

	ev := <-a
	assert.Equal(t, overlay.EventDeleted, ev.Type)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, "x", (<-b).ID)

	hub.Unsubscribe(a)
	_, open := <-a
	assert.False(t, open, "unsubscribed channel is closed")
	assert.Equal(t, 1, hub.Listeners())
}

func TestHubDropsForSlowListener(t *testing.T) {
	hub := overlay.NewHub()
	ch := hub.Subscribe()
	for i := 0; i < 100; i++ {
		hub.Publish(overlay.Event{Type: overlay.EventUpdated})
	}
	assert.Len(t, ch, cap(ch))
}

func TestWithEventsPublishesSuccessfulChanges(t *testing.T) {
	ctx := context.Background()
	fs, err := overlay.NewFileStore(filepath.Join(t.TempDir(), "overlays.yaml"))
	require.NoError(t, err)

	hub := overlay.NewHub()
	events := hub.Subscribe()
	store := overlay.WithEvents(fs, hub)

	id, err := store.Create(ctx, sample())
	require.NoError(t, err)
	ev := <-events
	assert.Equal(t, overlay.EventCreated, ev.Type)
	assert.Equal(t, id, ev.ID)
	require.NotNil(t, ev.Overlay)
	assert.Equal(t, id, ev.Overlay.ID)

	_, err = store.Create(ctx, overlay.Overlay{Type: "text"})
	require.ErrorIs(t, err, overlay.ErrMissingGeometry)

	ok, err := store.Update(ctx, id, overlay.Patch{Content: ptr("NEW")})
	require.NoError(t, err)
	require.True(t, ok)
	ev = <-events
	assert.Equal(t, overlay.EventUpdated, ev.Type)

	ok, err = store.Update(ctx, id, overlay.Patch{Content: ptr("NEW")})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.Delete(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	ev = <-events
	assert.Equal(t, overlay.EventDeleted, ev.Type)

	assert.Empty(t, events, "failed and no-op changes publish nothing")
}
