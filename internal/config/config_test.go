package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 8787, cfg.Gateway.Port)
	assert.Equal(t, "en-US-matthew", cfg.Speech.TTS.Voice)
	assert.Equal(t, "Conversation", cfg.Speech.TTS.Style)
	assert.Equal(t, 2, cfg.Speech.TTS.MinSentenceLen)
	assert.Equal(t, "en-US", cfg.Speech.STT.Language)
	assert.Equal(t, 7, cfg.Sessions.RetentionDays)
	assert.Equal(t, "0 3 * * *", cfg.Sessions.CleanupSchedule)
}

func TestResolvePaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/voicedesk"
	cfg.Records.SQLitePath = "records.db"
	cfg.Content.PromptsFile = "prompts.yaml"
	cfg.ResolvePaths()

	assert.Equal(t, "/var/lib/voicedesk/voicedesk.log", cfg.Logging.File)
	assert.Equal(t, "/var/lib/voicedesk/shared-data", cfg.Content.Dir)
	assert.Equal(t, "/var/lib/voicedesk/records", cfg.Records.Dir)
	assert.Equal(t, "/var/lib/voicedesk/records.db", cfg.Records.SQLitePath)
	assert.Equal(t, "/var/lib/voicedesk/shared-data/prompts.yaml", cfg.Content.PromptsFile)
	assert.Equal(t, filepath.Join(cfg.Content.Dir, "catalog_day7.json"), cfg.ContentPath(cfg.Content.CatalogFile))
	assert.Equal(t, "/abs/file.json", cfg.ContentPath("/abs/file.json"))
}
