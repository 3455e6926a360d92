package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// Config is the voicedesk configuration file (~/.voicedesk/voicedesk.json).
type Config struct {
	DataDir  string         `json:"data_dir" mapstructure:"data_dir"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Gateway  GatewayConfig  `json:"gateway" mapstructure:"gateway"`
	AI       AIConfig       `json:"ai" mapstructure:"ai"`
	Speech   SpeechConfig   `json:"speech" mapstructure:"speech"`
	Content  ContentConfig  `json:"content" mapstructure:"content"`
	Records  RecordsConfig  `json:"records" mapstructure:"records"`
	Cart     CartConfig     `json:"cart" mapstructure:"cart"`
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`
	Tools    ToolsConfig    `json:"tools" mapstructure:"tools"`
	Tracing  TracingConfig  `json:"tracing" mapstructure:"tracing"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// GatewayConfig holds the websocket call gateway settings.
type GatewayConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// AIConfig holds model parameters and the provider profiles used for failover.
type AIConfig struct {
	Model       string      `json:"model" mapstructure:"model"`
	Temperature float64     `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int         `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries  int         `json:"max_retries" mapstructure:"max_retries"`
	Profiles    []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // gemini, openai, anthropic
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Model    string `json:"model,omitempty" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"` // lower is tried first
}

type SpeechConfig struct {
	STT STTConfig `json:"stt" mapstructure:"stt"`
	TTS TTSConfig `json:"tts" mapstructure:"tts"`
	VAD VADConfig `json:"vad" mapstructure:"vad"`
}

// STTConfig configures the Deepgram prerecorded transcription client.
type STTConfig struct {
	APIKey         string `json:"api_key" mapstructure:"api_key"`
	BaseURL        string `json:"base_url" mapstructure:"base_url"`
	Model          string `json:"model" mapstructure:"model"`
	Language       string `json:"language" mapstructure:"language"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// TTSConfig configures the Murf synthesis client.
type TTSConfig struct {
	APIKey         string `json:"api_key" mapstructure:"api_key"`
	BaseURL        string `json:"base_url" mapstructure:"base_url"`
	Voice          string `json:"voice" mapstructure:"voice"`
	Style          string `json:"style" mapstructure:"style"`
	SampleRate     int    `json:"sample_rate" mapstructure:"sample_rate"`
	MinSentenceLen int    `json:"min_sentence_len" mapstructure:"min_sentence_len"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// VADConfig tunes the energy based utterance segmenter.
type VADConfig struct {
	SampleRate  int     `json:"sample_rate" mapstructure:"sample_rate"`
	Threshold   float64 `json:"threshold" mapstructure:"threshold"`
	MinSpeechMs int     `json:"min_speech_ms" mapstructure:"min_speech_ms"`
	SilenceMs   int     `json:"silence_ms" mapstructure:"silence_ms"`
}

// ContentConfig locates the static JSON content files.
type ContentConfig struct {
	Dir          string `json:"dir" mapstructure:"dir"`
	ConceptsFile string `json:"concepts_file" mapstructure:"concepts_file"`
	FAQFile      string `json:"faq_file" mapstructure:"faq_file"`
	CatalogFile  string `json:"catalog_file" mapstructure:"catalog_file"`
	PromptsFile  string `json:"prompts_file" mapstructure:"prompts_file"`
	Watch        bool   `json:"watch" mapstructure:"watch"`
}

// RecordsConfig locates written records and the fraud case database.
type RecordsConfig struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	FraudCases string `json:"fraud_cases" mapstructure:"fraud_cases"`
	SQLitePath string `json:"sqlite_path" mapstructure:"sqlite_path"`
}

type CartConfig struct {
	Backend    string      `json:"backend" mapstructure:"backend"` // memory, redis
	Redis      RedisConfig `json:"redis" mapstructure:"redis"`
	TTLSeconds int         `json:"ttl_seconds" mapstructure:"ttl_seconds"`
}

type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

// SessionsConfig controls transcript storage and retention.
type SessionsConfig struct {
	Dir             string `json:"dir" mapstructure:"dir"`
	RetentionDays   int    `json:"retention_days" mapstructure:"retention_days"`
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
}

// ToolsConfig holds tool execution limits and policy.
type ToolsConfig struct {
	TimeoutSeconds int      `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	Allow          []string `json:"allow" mapstructure:"allow"`
	Deny           []string `json:"deny" mapstructure:"deny"`
}

type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   50,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Gateway: GatewayConfig{
			Port: 8787,
			Host: "127.0.0.1",
		},
		AI: AIConfig{
			Model:       "gemini-2.5-flash",
			Temperature: 0.7,
			MaxTokens:   1024,
			MaxRetries:  3,
			Profiles:    []AIProfile{},
		},
		Speech: SpeechConfig{
			STT: STTConfig{
				BaseURL:        "https://api.deepgram.com",
				Model:          "nova-3",
				Language:       "en-US",
				TimeoutSeconds: 30,
			},
			TTS: TTSConfig{
				BaseURL:        "https://api.murf.ai",
				Voice:          "en-US-matthew",
				Style:          "Conversation",
				SampleRate:     24000,
				MinSentenceLen: 2,
				TimeoutSeconds: 30,
			},
			VAD: VADConfig{
				SampleRate:  16000,
				Threshold:   500,
				MinSpeechMs: 200,
				SilenceMs:   700,
			},
		},
		Content: ContentConfig{
			Dir:          "shared-data",
			ConceptsFile: "day4_tutor_content.json",
			FAQFile:      "day1_moonbill_faq.json",
			CatalogFile:  "catalog_day7.json",
			Watch:        true,
		},
		Records: RecordsConfig{
			Dir:        "records",
			FraudCases: "day6_fraud_cases.json",
		},
		Cart: CartConfig{
			Backend:    "memory",
			Redis:      RedisConfig{Addr: "localhost:6379"},
			TTLSeconds: 86400,
		},
		Sessions: SessionsConfig{
			RetentionDays:   7,
			CleanupSchedule: "0 3 * * *",
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 30,
		},
		Tracing: TracingConfig{
			SampleRatio: 1.0,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// ResolvePaths anchors relative paths to DataDir.
func (c *Config) ResolvePaths() {
	resolve := func(p *string, def string) {
		if *p == "" {
			*p = def
		}
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(c.DataDir, *p)
		}
	}

	resolve(&c.Logging.File, "voicedesk.log")
	resolve(&c.Content.Dir, "shared-data")
	resolve(&c.Records.Dir, "records")
	resolve(&c.Sessions.Dir, "sessions")
	if c.Records.SQLitePath != "" {
		resolve(&c.Records.SQLitePath, "")
	}
	if c.Content.PromptsFile != "" && !filepath.IsAbs(c.Content.PromptsFile) {
		c.Content.PromptsFile = filepath.Join(c.Content.Dir, c.Content.PromptsFile)
	}
	if c.Records.FraudCases != "" && !filepath.IsAbs(c.Records.FraudCases) {
		c.Records.FraudCases = filepath.Join(c.Content.Dir, c.Records.FraudCases)
	}
}

// ContentPath returns the absolute path of a content file name.
func (c *Config) ContentPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Content.Dir, name)
}

// Validate returns the first configuration problem, if any.
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: set GOOGLE_API_KEY, OPENAI_API_KEY or ANTHROPIC_API_KEY, or add an ai profile")
	}
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
