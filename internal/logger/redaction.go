package logger

import (
	"io"
	"regexp"
)

// Redactor redacts sensitive information from logs
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor covering the vendor credentials the service handles.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// OpenAI / Anthropic keys
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),

			// Google API keys
			regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`),

			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),

			// Deepgram authorization header
			regexp.MustCompile(`Token\s+[a-fA-F0-9]{32,}`),

			// Murf api-key header or field
			regexp.MustCompile(`api[-_]key["\s:=]+[a-zA-Z0-9._-]{16,}`),

			// Fraud case security answers and full card numbers
			regexp.MustCompile(`securityAnswer"?\s*[:=]\s*"?[^",}\s]+"?`),
			regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{1,7}\b`),

			regexp.MustCompile(`password["\s:=]+"?[^\s"]+"?`),
			regexp.MustCompile(`token["\s:=]+[a-zA-Z0-9._-]{20,}`),
			regexp.MustCompile(`secret["\s:=]+"?[^\s"]+"?`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports the caller's length so zerolog does not treat a shorter redacted line as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	return len(p), nil
}
