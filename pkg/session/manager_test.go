package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestManager(t *testing.T) (*SessionManager, string) {
	tempDir := t.TempDir()
	sm, err := New(tempDir)
	require.NoError(t, err)
	t.Cleanup(func() { sm.Close() })
	return sm, tempDir
}

func TestValidateSessionKey(t *testing.T) {
	tests := []struct {
		key       string
		shouldErr bool
	}{
		{"call-abc123", false},
		{"barista_V1StGXR8", false},
		{"", true},
		{"../etc/passwd", true},
		{"a/b", true},
		{"a\\b", true},
		{"a\x00b", true},
	}

	for _, tt := range tests {
		err := ValidateSessionKey(tt.key)
		if tt.shouldErr {
			assert.Error(t, err, tt.key)
		} else {
			assert.NoError(t, err, tt.key)
		}
	}
}

func TestSessionManager_AppendAndLoad(t *testing.T) {
	sm, dir := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, sm.Append(ctx, "call-1", Message{Role: "user", Content: "I'd like a latte"}))
	require.NoError(t, sm.Append(ctx, "call-1", Message{
		Role:     "assistant",
		Content:  "What size?",
		Metadata: map[string]interface{}{"source": "llm"},
	}))

	entries, err := sm.Load(ctx, "call-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Message.Role)
	assert.Equal(t, "What size?", entries[1].Message.Content)
	assert.Equal(t, "llm", entries[1].Message.Metadata["source"])
	assert.False(t, entries[0].Message.Timestamp.IsZero())

	stat, err := os.Stat(filepath.Join(dir, "call-1.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), stat.Mode().Perm())
}

func TestSessionManager_AppendValidation(t *testing.T) {
	sm, _ := setupTestManager(t)
	ctx := context.Background()

	assert.Error(t, sm.Append(ctx, "call-1", Message{Content: "x"}))
	assert.Error(t, sm.Append(ctx, "call-1", Message{Role: "user"}))
	assert.Error(t, sm.Append(ctx, "../x", Message{Role: "user", Content: "x"}))
}

func TestSessionManager_LoadMissing(t *testing.T) {
	sm, _ := setupTestManager(t)

	entries, err := sm.Load(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSessionManager_SkipsCorruptLines(t *testing.T) {
	sm, dir := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, sm.Append(ctx, "call-1", Message{Role: "user", Content: "hello"}))
	f, err := os.OpenFile(filepath.Join(dir, "call-1.jsonl"), os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, _ = f.WriteString("{not json\n")
	_, _ = f.WriteString(`{"sessionKey":"call-1","message":{"role":"","content":""}}` + "\n")
	f.Close()
	require.NoError(t, sm.Append(ctx, "call-1", Message{Role: "assistant", Content: "hi"}))

	entries, err := sm.Load(ctx, "call-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	kept, err := sm.Repair(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, 2, kept)

	data, err := os.ReadFile(filepath.Join(dir, "call-1.jsonl"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "not json")
}

func TestSessionManager_Messages(t *testing.T) {
	sm, _ := setupTestManager(t)
	ctx := context.Background()

	for _, c := range []string{"one", "two", "three"} {
		require.NoError(t, sm.Append(ctx, "call-1", Message{Role: "user", Content: c}))
	}

	all, err := sm.Messages(ctx, "call-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	tail, err := sm.Messages(ctx, "call-1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "two", tail[0].Content)
}

func TestSessionManager_DeleteAndList(t *testing.T) {
	sm, _ := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, sm.Append(ctx, "b-call", Message{Role: "user", Content: "x"}))
	require.NoError(t, sm.Append(ctx, "a-call", Message{Role: "user", Content: "x"}))

	keys, err := sm.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a-call", "b-call"}, keys)

	require.NoError(t, sm.Delete(ctx, "a-call"))
	require.NoError(t, sm.Delete(ctx, "a-call"))

	keys, err = sm.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b-call"}, keys)
}

func TestSessionManager_Info(t *testing.T) {
	sm, _ := setupTestManager(t)
	ctx := context.Background()

	_, err := sm.Info(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, sm.Append(ctx, "call-1", Message{Role: "user", Content: "hello"}))
	info, err := sm.Info(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, 1, info.MessageCount)
	assert.Greater(t, info.Size, int64(0))
	assert.WithinDuration(t, time.Now(), info.LastModified, time.Minute)
}

func TestSessionManager_ConcurrentAppends(t *testing.T) {
	sm, _ := setupTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sm.Append(ctx, "call-1", Message{Role: "user", Content: "concurrent"}))
		}()
	}
	wg.Wait()

	entries, err := sm.Load(ctx, "call-1")
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}
