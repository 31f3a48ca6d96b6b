package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northstar-wraith/wraith/server"
)

func newHistory(t *testing.T) *History {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "wraith.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewHistory(db)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t)
	base := time.Now().Add(-time.Hour).UTC()

	h.Record(server.Event{Server: "alpha", Type: server.EventStarted, PID: 10, AuthPort: 8081, GamePort: 37015, At: base})
	h.Record(server.Event{Server: "bravo", Type: server.EventStarted, PID: 11, At: base.Add(time.Second)})
	h.Record(server.Event{Server: "alpha", Type: server.EventLaunchFailed, Error: "no such file", At: base.Add(2 * time.Second)})

	t.Run("newest first", func(t *testing.T) {
		events, err := h.History(ctx, "", 0)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, server.EventLaunchFailed, events[0].Type)
		assert.Equal(t, "no such file", events[0].Error)
		assert.Equal(t, "bravo", events[1].Server)
		assert.Equal(t, uint16(8081), events[2].AuthPort)
		assert.Empty(t, events[2].Error)
	})

	t.Run("filtered by server", func(t *testing.T) {
		events, err := h.History(ctx, "alpha", 1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "alpha", events[0].Server)
		assert.Equal(t, server.EventLaunchFailed, events[0].Type)
	})

	t.Run("prune", func(t *testing.T) {
		n, err := h.Prune(ctx, base.Add(1500*time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		events, err := h.History(ctx, "", 0)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}
