package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/voicedesk/internal/observability"
	"github.com/harun/voicedesk/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNotFound is returned by Info for a session with no transcript.
var ErrNotFound = errors.New("session does not exist")

// Message is one transcript turn.
type Message struct {
	Role      string                 `json:"role"` // user, assistant
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SessionEntry is the JSONL line written for a message.
type SessionEntry struct {
	SessionKey string  `json:"sessionKey"`
	Message    Message `json:"message"`
}

// Info describes a stored transcript.
type Info struct {
	SessionKey   string    `json:"session_key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	MessageCount int       `json:"message_count"`
}

// SessionManager persists call transcripts as one JSONL file per session key.
type SessionManager struct {
	sessionsDir string
	writeLocks  map[string]*sync.Mutex
	locksMu     sync.Mutex
}

// New creates the sessions directory and returns a manager rooted at it.
func New(sessionsDir string) (*SessionManager, error) {
	observability.EnsureRegistered()

	if sessionsDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		sessionsDir = filepath.Join(homeDir, ".voicedesk", "sessions")
	}

	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	sm := &SessionManager{
		sessionsDir: sessionsDir,
		writeLocks:  make(map[string]*sync.Mutex),
	}

	log.Debug().Str("dir", sessionsDir).Msg("Session manager initialized")
	sm.updateStoredMetric()
	return sm, nil
}

// Dir returns the directory transcripts are stored in.
func (sm *SessionManager) Dir() string {
	return sm.sessionsDir
}

// ValidateSessionKey rejects keys that could escape the sessions directory.
func ValidateSessionKey(sessionKey string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(sessionKey, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(sessionKey, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(sessionKey, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (sm *SessionManager) path(sessionKey string) string {
	return filepath.Join(sm.sessionsDir, sessionKey+".jsonl")
}

func (sm *SessionManager) updateStoredMetric() {
	sessions, err := sm.List()
	if err != nil {
		return
	}
	observability.SetStoredTranscripts(len(sessions))
}

func (sm *SessionManager) lock(sessionKey string) *sync.Mutex {
	sm.locksMu.Lock()
	defer sm.locksMu.Unlock()

	if l, ok := sm.writeLocks[sessionKey]; ok {
		return l
	}
	l := &sync.Mutex{}
	sm.writeLocks[sessionKey] = l
	return l
}

// Append writes one message to the session transcript, creating it on first use.
func (sm *SessionManager) Append(ctx context.Context, sessionKey string, message Message) error {
	ctx, span := tracing.StartSpan(tracing.WithSessionKey(ctx, sessionKey), "voicedesk.session", "session.append",
		attribute.String("session_key", sessionKey),
		attribute.String("role", message.Role),
	)
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordSessionSave(time.Since(start)) }()

	if err := ValidateSessionKey(sessionKey); err != nil {
		tracing.FailSpan(span, err)
		return err
	}
	if message.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	if message.Content == "" {
		return fmt.Errorf("message content cannot be empty")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	data, err := json.Marshal(SessionEntry{SessionKey: sessionKey, Message: message})
	if err != nil {
		tracing.FailSpan(span, err)
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	l := sm.lock(sessionKey)
	l.Lock()
	defer l.Unlock()

	path := sm.path(sessionKey)
	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		tracing.FailSpan(span, err)
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		tracing.FailSpan(span, err)
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := file.Sync(); err != nil {
		tracing.FailSpan(span, err)
		return fmt.Errorf("failed to sync file: %w", err)
	}

	if created {
		sm.updateStoredMetric()
	}
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("role", message.Role).
		Msg("Message appended")
	return nil
}

// Load returns every valid entry of a transcript. Corrupt lines are skipped.
func (sm *SessionManager) Load(ctx context.Context, sessionKey string) ([]SessionEntry, error) {
	ctx, span := tracing.StartSpan(tracing.WithSessionKey(ctx, sessionKey), "voicedesk.session", "session.load",
		attribute.String("session_key", sessionKey),
	)
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordSessionLoad(time.Since(start)) }()

	if err := ValidateSessionKey(sessionKey); err != nil {
		tracing.FailSpan(span, err)
		return nil, err
	}

	file, err := os.Open(sm.path(sessionKey))
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionEntry{}, nil
		}
		tracing.FailSpan(span, err)
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	entries := []SessionEntry{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry SessionEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		if entry.Message.Role == "" || entry.Message.Content == "" {
			logger.Warn().Int("line", lineNum).Msg("Invalid entry, skipping")
			continue
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		tracing.FailSpan(span, err)
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	span.SetAttributes(attribute.Int("session.messages", len(entries)))
	return entries, nil
}

// Messages returns the last limit messages of a transcript, or all when limit <= 0.
func (sm *SessionManager) Messages(ctx context.Context, sessionKey string, limit int) ([]Message, error) {
	entries, err := sm.Load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	messages := make([]Message, len(entries))
	for i, e := range entries {
		messages[i] = e.Message
	}
	return messages, nil
}

// Replace atomically rewrites a transcript with the given entries.
func (sm *SessionManager) Replace(ctx context.Context, sessionKey string, entries []SessionEntry) error {
	if err := ValidateSessionKey(sessionKey); err != nil {
		return err
	}

	l := sm.lock(sessionKey)
	l.Lock()
	defer l.Unlock()

	return sm.writeAll(sessionKey, entries)
}

func (sm *SessionManager) writeAll(sessionKey string, entries []SessionEntry) error {
	path := sm.path(sessionKey)
	tmp, err := os.CreateTemp(sm.sessionsDir, sessionKey+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write entries: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	tmp.Close()

	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Delete removes a transcript. Deleting a missing transcript is not an error.
func (sm *SessionManager) Delete(ctx context.Context, sessionKey string) error {
	ctx, span := tracing.StartSpan(tracing.WithSessionKey(ctx, sessionKey), "voicedesk.session", "session.delete",
		attribute.String("session_key", sessionKey),
	)
	defer span.End()

	if err := ValidateSessionKey(sessionKey); err != nil {
		tracing.FailSpan(span, err)
		return err
	}

	l := sm.lock(sessionKey)
	l.Lock()
	err := os.Remove(sm.path(sessionKey))
	l.Unlock()

	if err != nil && !os.IsNotExist(err) {
		tracing.FailSpan(span, err)
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	sm.locksMu.Lock()
	delete(sm.writeLocks, sessionKey)
	sm.locksMu.Unlock()

	sm.updateStoredMetric()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Info().Msg("Session deleted")
	return nil
}

// List returns the keys of all stored transcripts, sorted.
func (sm *SessionManager) List() ([]string, error) {
	entries, err := os.ReadDir(sm.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	sessions := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(name, ".jsonl"))
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Repair rewrites a transcript keeping only its parseable entries.
func (sm *SessionManager) Repair(ctx context.Context, sessionKey string) (int, error) {
	entries, err := sm.Load(ctx, sessionKey)
	if err != nil {
		return 0, err
	}
	if err := sm.Replace(ctx, sessionKey, entries); err != nil {
		return 0, err
	}

	log.Info().
		Str("session_key", sessionKey).
		Int("entries", len(entries)).
		Msg("Session repaired")
	return len(entries), nil
}

// Info returns size, modification time and message count of a transcript.
func (sm *SessionManager) Info(ctx context.Context, sessionKey string) (*Info, error) {
	if err := ValidateSessionKey(sessionKey); err != nil {
		return nil, err
	}

	stat, err := os.Stat(sm.path(sessionKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat session file: %w", err)
	}

	entries, err := sm.Load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}

	return &Info{
		SessionKey:   sessionKey,
		Size:         stat.Size(),
		LastModified: stat.ModTime(),
		MessageCount: len(entries),
	}, nil
}

// Close drops the per-session locks.
func (sm *SessionManager) Close() error {
	sm.locksMu.Lock()
	sm.writeLocks = make(map[string]*sync.Mutex)
	sm.locksMu.Unlock()
	return nil
}
