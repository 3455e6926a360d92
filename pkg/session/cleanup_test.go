package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func age(t *testing.T, dir, key string, d time.Duration) {
	t.Helper()
	past := time.Now().Add(-d)
	require.NoError(t, os.Chtimes(filepath.Join(dir, key+".jsonl"), past, past))
}

func TestNewCleanup(t *testing.T) {
	sm, _ := setupTestManager(t)

	c, err := NewCleanup(sm, CleanupConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedule, c.cfg.Schedule)
	assert.Equal(t, DefaultRetention, c.cfg.Retention)

	_, err = NewCleanup(sm, CleanupConfig{Schedule: "whenever"})
	assert.Error(t, err)
}

func TestCleanup_StartStop(t *testing.T) {
	sm, _ := setupTestManager(t)
	c, err := NewCleanup(sm, CleanupConfig{Schedule: "*/5 * * * *"})
	require.NoError(t, err)

	assert.True(t, c.NextRun().IsZero())
	require.NoError(t, c.Start())
	assert.Error(t, c.Start())
	assert.True(t, c.IsRunning())
	assert.True(t, c.NextRun().After(time.Now()))

	c.Stop()
	c.Stop()
	assert.False(t, c.IsRunning())
}

func TestCleanup_RunNow(t *testing.T) {
	sm, dir := setupTestManager(t)
	ctx := context.Background()

	for _, key := range []string{"old", "fresh", "active"} {
		require.NoError(t, sm.Append(ctx, key, Message{Role: "user", Content: "hi"}))
	}
	age(t, dir, "old", 10*24*time.Hour)
	age(t, dir, "active", 10*24*time.Hour)

	afterRuns := 0
	c, err := NewCleanup(sm, CleanupConfig{
		Retention: 7 * 24 * time.Hour,
		IsActive:  func(key string) bool { return key == "active" },
		AfterRun:  func(context.Context) { afterRuns++ },
	})
	require.NoError(t, err)

	result, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, afterRuns)

	keys, err := sm.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"active", "fresh"}, keys)
}

func TestCleanup_Prunes(t *testing.T) {
	sm, _ := setupTestManager(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, sm.Append(ctx, "long", Message{Role: "user", Content: string(rune('a' + i))}))
	}

	c, err := NewCleanup(sm, CleanupConfig{MaxEntries: 3})
	require.NoError(t, err)

	result, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pruned)

	entries, err := sm.Load(ctx, "long")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].Message.Content)
}
