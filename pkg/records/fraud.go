package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harun/voicedesk/internal/observability"
	"github.com/harun/voicedesk/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrCaseNotFound is returned when no case matches the user name.
	ErrCaseNotFound = errors.New("fraud case not found")
	// ErrInvalidStatus is returned for a status outside ValidStatuses.
	ErrInvalidStatus = errors.New("invalid fraud case status")
)

// ValidStatuses lists the case outcomes an agent may record.
var ValidStatuses = []string{
	"pending_review",
	"confirmed_safe",
	"confirmed_fraud",
	"verification_failed",
}

// FraudCase is one case object. It stays a map so fields this package does
// not know about survive a rewrite.
type FraudCase map[string]interface{}

func (c FraudCase) str(key string) string {
	s, _ := c[key].(string)
	return s
}

func (c FraudCase) UserName() string         { return c.str("userName") }
func (c FraudCase) Status() string           { return c.str("status") }
func (c FraudCase) SecurityQuestion() string { return c.str("securityQuestion") }

// Redacted returns a copy without the security answer.
func (c FraudCase) Redacted() FraudCase {
	out := make(FraudCase, len(c))
	for k, v := range c {
		if k == "securityAnswer" {
			continue
		}
		out[k] = v
	}
	return out
}

// IsValidStatus reports whether status is one of ValidStatuses.
func IsValidStatus(status string) bool {
	for _, s := range ValidStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// FraudCases is a JSON array file used as a small case database. All
// read-modify-write cycles run under one mutex and rewrite the file atomically.
type FraudCases struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewFraudCases opens the case file at path. The file need not exist yet.
func NewFraudCases(path string) *FraudCases {
	return &FraudCases{path: path, now: time.Now}
}

// Path returns the case file location.
func (f *FraudCases) Path() string {
	return f.path
}

// All returns every case. A missing or malformed file yields no cases.
func (f *FraudCases) All() []FraudCase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

// Find returns the case whose trimmed userName matches case-insensitively.
func (f *FraudCases) Find(userName string) (FraudCase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cases := f.load()
	if i := indexOf(cases, userName); i >= 0 {
		return cases[i], nil
	}
	return nil, ErrCaseNotFound
}

// VerifyAnswer compares answer with the case's security answer, trimmed and
// case-insensitive.
func (f *FraudCases) VerifyAnswer(userName, answer string) (bool, error) {
	c, err := f.Find(userName)
	if err != nil {
		return false, err
	}
	expected := strings.ToLower(strings.TrimSpace(c.str("securityAnswer")))
	if expected == "" {
		return false, nil
	}
	return strings.ToLower(strings.TrimSpace(answer)) == expected, nil
}

// Update sets status, outcomeNote and updatedAt on the matching case and
// rewrites the file.
func (f *FraudCases) Update(ctx context.Context, userName, status, note string) (updated FraudCase, err error) {
	ctx, span := tracing.StartSpan(ctx, "voicedesk.records", "fraud.update",
		attribute.String("fraud.status", status),
	)
	defer span.End()
	defer func() {
		if err != nil {
			tracing.FailSpan(span, err)
		}
		observability.RecordCaseAudit(ctx, tracing.GetSessionKey(ctx), userName, status, err)
	}()

	if !IsValidStatus(status) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cases := f.load()
	i := indexOf(cases, userName)
	if i < 0 {
		return nil, ErrCaseNotFound
	}

	cases[i]["status"] = status
	cases[i]["outcomeNote"] = note
	cases[i]["updatedAt"] = f.now().Format("2006-01-02T15:04:05")

	if err := f.write(cases); err != nil {
		return nil, err
	}
	log.Info().
		Str("user_name", cases[i].UserName()).
		Str("status", status).
		Msg("Fraud case updated")
	return cases[i], nil
}

func indexOf(cases []FraudCase, userName string) int {
	want := strings.ToLower(strings.TrimSpace(userName))
	if want == "" {
		return -1
	}
	for i, c := range cases {
		if strings.ToLower(strings.TrimSpace(c.UserName())) == want {
			return i
		}
	}
	return -1
}

func (f *FraudCases) load() []FraudCase {
	data, err := os.ReadFile(f.path)
	if err != nil {
		log.Error().Err(err).Str("path", f.path).Msg("Fraud case file not readable")
		return nil
	}
	var cases []FraudCase
	if err := json.Unmarshal(data, &cases); err != nil {
		log.Error().Err(err).Str("path", f.path).Msg("Fraud case file is not a JSON list")
		return nil
	}
	return cases
}

func (f *FraudCases) write(cases []FraudCase) error {
	data, err := json.MarshalIndent(cases, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode fraud cases: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create fraud case directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".fraud-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write fraud cases: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace fraud case file: %w", err)
	}
	return nil
}
