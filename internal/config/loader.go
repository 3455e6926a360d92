package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "VOICEDESK"
	defaultDirName = ".voicedesk"
	defaultFile    = "voicedesk.json"
)

// envKeys are config keys overridable through VOICEDESK_<KEY> variables.
var envKeys = []string{
	"data_dir",
	"logging.level",
	"logging.file",
	"gateway.host",
	"gateway.port",
	"gateway.shared_secret",
	"ai.model",
	"ai.temperature",
	"cart.backend",
	"cart.redis.password",
	"content.dir",
	"records.dir",
	"records.sqlite_path",
}

// vendorEnv maps config keys to the variable names the speech vendors document.
var vendorEnv = map[string]string{
	"speech.stt.api_key": "DEEPGRAM_API_KEY",
	"speech.tts.api_key": "MURF_API_KEY",
	"cart.redis.addr":    "REDIS_URL",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFiles   []string
}

// NewLoader creates a loader that also reads .env.local and .env from the working directory.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFiles:   []string{".env.local", ".env"},
	}
}

// WithEnvFiles replaces the dotenv files read before loading.
func (l *Loader) WithEnvFiles(files ...string) *Loader {
	l.envFiles = files
	return l
}

// Load reads dotenv files, the JSON config and environment overrides.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDotenv(); err != nil {
		return nil, err
	}

	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	for key, name := range vendorEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, defaultDirName)
	}

	if len(cfg.AI.Profiles) == 0 {
		cfg.AI.Profiles = profilesFromEnv()
	}
	cfg.ResolvePaths()

	return cfg, nil
}

func (l *Loader) loadDotenv() error {
	for _, file := range l.envFiles {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// profilesFromEnv builds failover profiles from provider keys, Gemini first.
func profilesFromEnv() []AIProfile {
	var profiles []AIProfile
	add := func(provider string, names ...string) {
		for _, name := range names {
			if key := strings.TrimSpace(os.Getenv(name)); key != "" {
				profiles = append(profiles, AIProfile{
					ID:       provider + "-env",
					Provider: provider,
					APIKey:   key,
					Priority: len(profiles) + 1,
				})
				return
			}
		}
	}

	add("gemini", "GOOGLE_API_KEY", "GEMINI_API_KEY")
	add("openai", "OPENAI_API_KEY")
	add("anthropic", "ANTHROPIC_API_KEY")
	return profiles
}

// Save writes cfg as JSON, creating the directory if needed.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")

	v.Set("data_dir", cfg.DataDir)
	v.Set("logging", cfg.Logging)
	v.Set("gateway", cfg.Gateway)
	v.Set("ai", cfg.AI)
	v.Set("speech", cfg.Speech)
	v.Set("content", cfg.Content)
	v.Set("records", cfg.Records)
	v.Set("cart", cfg.Cart)
	v.Set("sessions", cfg.Sessions)
	v.Set("tools", cfg.Tools)
	v.Set("tracing", cfg.Tracing)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultDirName, defaultFile)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
