package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearProviderEnv keeps the host environment out of loader tests.
func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"GOOGLE_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"DEEPGRAM_API_KEY", "MURF_API_KEY", "REDIS_URL",
		"VOICEDESK_GATEWAY_PORT", "VOICEDESK_DATA_DIR",
	} {
		t.Setenv(name, "")
	}
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file is missing", func(t *testing.T) {
		clearProviderEnv(t)
		tmpDir := t.TempDir()
		t.Setenv("VOICEDESK_DATA_DIR", tmpDir)

		cfg, err := NewLoader(filepath.Join(tmpDir, "missing.json")).WithEnvFiles().Load()
		require.NoError(t, err)

		assert.Equal(t, tmpDir, cfg.DataDir)
		assert.Equal(t, 8787, cfg.Gateway.Port)
		assert.Equal(t, "gemini-2.5-flash", cfg.AI.Model)
		assert.Equal(t, "nova-3", cfg.Speech.STT.Model)
		assert.Equal(t, "memory", cfg.Cart.Backend)
		assert.Equal(t, filepath.Join(tmpDir, "shared-data"), cfg.Content.Dir)
		assert.Equal(t, filepath.Join(tmpDir, "shared-data", "day6_fraud_cases.json"), cfg.Records.FraudCases)
		assert.Equal(t, filepath.Join(tmpDir, "sessions"), cfg.Sessions.Dir)
		assert.Empty(t, cfg.AI.Profiles)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		clearProviderEnv(t)
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "voicedesk.json")

		require.NoError(t, os.WriteFile(configPath, []byte(`{
			"data_dir": "`+tmpDir+`",
			"gateway": {"port": 9000},
			"cart": {"backend": "redis", "redis": {"addr": "cache:6379"}},
			"ai": {"profiles": [{"id": "main", "provider": "gemini", "api_key": "AIza-test", "priority": 1}]}
		}`), 0644))

		cfg, err := NewLoader(configPath).WithEnvFiles().Load()
		require.NoError(t, err)

		assert.Equal(t, 9000, cfg.Gateway.Port)
		assert.Equal(t, "redis", cfg.Cart.Backend)
		assert.Equal(t, "cache:6379", cfg.Cart.Redis.Addr)
		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "main", cfg.AI.Profiles[0].ID)
		assert.Equal(t, "nova-3", cfg.Speech.STT.Model)
	})

	t.Run("env overrides and vendor keys", func(t *testing.T) {
		clearProviderEnv(t)
		tmpDir := t.TempDir()
		t.Setenv("VOICEDESK_DATA_DIR", tmpDir)
		t.Setenv("VOICEDESK_GATEWAY_PORT", "9100")
		t.Setenv("DEEPGRAM_API_KEY", "dg-key")
		t.Setenv("MURF_API_KEY", "murf-key")

		cfg, err := NewLoader(filepath.Join(tmpDir, "missing.json")).WithEnvFiles().Load()
		require.NoError(t, err)

		assert.Equal(t, 9100, cfg.Gateway.Port)
		assert.Equal(t, "dg-key", cfg.Speech.STT.APIKey)
		assert.Equal(t, "murf-key", cfg.Speech.TTS.APIKey)
	})

	t.Run("profiles synthesized from dotenv file", func(t *testing.T) {
		clearProviderEnv(t)
		tmpDir := t.TempDir()
		t.Setenv("VOICEDESK_DATA_DIR", tmpDir)

		envFile := filepath.Join(tmpDir, ".env.local")
		require.NoError(t, os.WriteFile(envFile, []byte("ANTHROPIC_API_KEY=sk-ant-abc\nGOOGLE_API_KEY=AIza-abc\n"), 0644))
		// godotenv does not override variables already present, even empty ones.
		os.Unsetenv("ANTHROPIC_API_KEY")
		os.Unsetenv("GOOGLE_API_KEY")
		t.Cleanup(func() {
			os.Unsetenv("ANTHROPIC_API_KEY")
			os.Unsetenv("GOOGLE_API_KEY")
		})

		cfg, err := NewLoader(filepath.Join(tmpDir, "missing.json")).WithEnvFiles(envFile, filepath.Join(tmpDir, ".env")).Load()
		require.NoError(t, err)

		require.Len(t, cfg.AI.Profiles, 2)
		assert.Equal(t, "gemini", cfg.AI.Profiles[0].Provider)
		assert.Equal(t, 1, cfg.AI.Profiles[0].Priority)
		assert.Equal(t, "anthropic", cfg.AI.Profiles[1].Provider)
		assert.Equal(t, 2, cfg.AI.Profiles[1].Priority)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		clearProviderEnv(t)
		configPath := filepath.Join(t.TempDir(), "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0644))

		_, err := NewLoader(configPath).WithEnvFiles().Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	clearProviderEnv(t)
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "voicedesk.json")

	cfg := DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Gateway.SharedSecret = "s3cret"
	cfg.AI.Profiles = []AIProfile{{ID: "oa", Provider: "openai", APIKey: "sk-test", Priority: 1}}

	require.NoError(t, NewLoader(configPath).Save(cfg))

	loaded, err := NewLoader(configPath).WithEnvFiles().Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", loaded.Gateway.SharedSecret)
	require.Len(t, loaded.AI.Profiles, 1)
	assert.Equal(t, "sk-test", loaded.AI.Profiles[0].APIKey)
	assert.Equal(t, "0 3 * * *", loaded.Sessions.CleanupSchedule)
}

func TestLoaderGetConfigPath(t *testing.T) {
	assert.Equal(t, "/custom/path/config.json", NewLoader("/custom/path/config.json").GetConfigPath())

	path := NewLoader("").GetConfigPath()
	assert.Contains(t, path, filepath.Join(".voicedesk", "voicedesk.json"))
}
