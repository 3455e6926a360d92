package persona

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/harun/voicedesk/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// toolLogger tags log lines from a tool handler with the calling session.
func toolLogger(ctx context.Context, tool string) *zerolog.Logger {
	l := log.With().Str("tool", tool)
	if execCtx := toolexecutor.ExecutionFromContext(ctx); execCtx != nil {
		l = l.Str("session_key", execCtx.SessionKey).Str("persona", execCtx.Persona)
	}
	logger := l.Logger()
	return &logger
}

func stringParam(params map[string]interface{}, key string) string {
	switch v := params[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func intParam(params map[string]interface{}, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func stringSliceParam(params map[string]interface{}, key string) []string {
	out := []string{}
	switch v := params[key].(type) {
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}

func errorStatus(err error) map[string]interface{} {
	return map[string]interface{}{"status": "error", "error": err.Error()}
}
