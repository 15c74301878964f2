package common

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix scopes environment overrides: DOCTR_STORE__DRIVER -> store.driver.
const EnvPrefix = "DOCTR_"

// Config holds all application configuration
type Config struct {
	Log    LogConfig    `koanf:"log"`
	Server ServerConfig `koanf:"server"`
	Store  StoreConfig  `koanf:"store"`
	Engine EngineConfig `koanf:"engine"`
	OCR    OCRConfig    `koanf:"ocr"`
	LLM    LLMConfig    `koanf:"llm"`
	Ingest IngestConfig `koanf:"ingest"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr       string `koanf:"grpc_addr" validate:"required"`
	UploadDir      string `koanf:"upload_dir"`
	MaxUploadBytes int64  `koanf:"max_upload_bytes" validate:"gte=0"`
}

// StoreConfig selects and tunes the job record store.
type StoreConfig struct {
	Driver           string        `koanf:"driver" validate:"oneof=memory sqlite postgres"`
	DSN              string        `koanf:"dsn"`
	SQLitePath       string        `koanf:"sqlite_path"`
	MaxConns         int32         `koanf:"max_conns"`
	MinConns         int32         `koanf:"min_conns"`
	MaxConnLifetime  time.Duration `koanf:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `koanf:"max_conn_idle_time"`
	DialTimeout      time.Duration `koanf:"dial_timeout"`
	StatementTimeout time.Duration `koanf:"statement_timeout"`
}

// EngineConfig tunes the scheduler and its workers.
type EngineConfig struct {
	StageTimeout       time.Duration `koanf:"stage_timeout"`
	CheckpointInterval time.Duration `koanf:"checkpoint_interval"`
	MaxActive          int64         `koanf:"max_active" validate:"gte=0"`
	StaleRetries       int           `koanf:"stale_retries" validate:"gte=1"`
	AutoResume         bool          `koanf:"auto_resume"`
	EventBuffer        int           `koanf:"event_buffer" validate:"gte=0"`
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Pdfinfo     string `koanf:"pdfinfo"`
	Pdftoppm    string `koanf:"pdftoppm"`
	Tesseract   string `koanf:"tesseract"`
	Lang        string `koanf:"lang"`
	DPI         int    `koanf:"dpi"`
	MaxPages    int    `koanf:"max_pages"`
	TessdataDir string `koanf:"tessdata_dir"`

	// HeicConverter is magick, heif-convert or sips.
	HeicConverter string `koanf:"heic_converter" validate:"omitempty,oneof=magick heif-convert sips"`
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	BaseURL           string          `koanf:"base_url"`
	APIKey            string          `koanf:"api_key"`
	Model             string          `koanf:"model"`
	Temperature       float32         `koanf:"temperature"`
	Timeout           time.Duration   `koanf:"timeout"`
	MaxRetries        int             `koanf:"max_retries" validate:"gte=1"`
	RetryDelays       []time.Duration `koanf:"retry_delays"`
	RequestsPerMinute int             `koanf:"requests_per_minute" validate:"gte=0"`
	MaxConcurrent     int64           `koanf:"max_concurrent" validate:"gte=0"`
	// CorrectionTokens bounds how much of a user's correction history is
	// added to each prompt. 0 disables correction examples.
	CorrectionTokens int `koanf:"correction_tokens" validate:"gte=0"`
}

// IngestConfig configures the watched upload inbox.
type IngestConfig struct {
	InboxDir       string        `koanf:"inbox_dir"`
	OwnerID        string        `koanf:"owner_id"`
	SourceLanguage string        `koanf:"source_language"`
	TargetLanguage string        `koanf:"target_language"`
	AutoTranslate  bool          `koanf:"auto_translate"`
	Debounce       time.Duration `koanf:"debounce"`
}

// Defaults returns the baseline configuration as flat koanf keys.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"log.level":                  "info",
		"log.format":                 "text",
		"server.grpc_addr":           ":8080",
		"server.upload_dir":          "./data/uploads",
		"server.max_upload_bytes":    50 << 20,
		"store.driver":               "sqlite",
		"store.sqlite_path":          "./data/jobs.db",
		"store.max_conns":            20,
		"store.min_conns":            2,
		"store.max_conn_lifetime":    30 * time.Minute,
		"store.max_conn_idle_time":   5 * time.Minute,
		"store.dial_timeout":         3 * time.Second,
		"store.statement_timeout":    time.Duration(0),
		"engine.stage_timeout":       30 * time.Minute,
		"engine.checkpoint_interval": time.Second,
		"engine.max_active":          4,
		"engine.stale_retries":       5,
		"engine.auto_resume":         false,
		"engine.event_buffer":        1024,
		"ocr.pdfinfo":                "pdfinfo",
		"ocr.pdftoppm":               "pdftoppm",
		"ocr.tesseract":              "tesseract",
		"ocr.lang":                   "eng",
		"ocr.dpi":                    150,
		"ocr.max_pages":              0,
		"ocr.heic_converter":         "magick",
		"llm.base_url":               "https://api.openai.com/v1",
		"llm.model":                  "gpt-4o-mini",
		"llm.temperature":            0.3,
		"llm.timeout":                60 * time.Second,
		"llm.max_retries":            3,
		"llm.retry_delays":           []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
		"llm.requests_per_minute":    60,
		"llm.max_concurrent":         5,
		"llm.correction_tokens":      4000,
		"ingest.source_language":     "auto",
		"ingest.target_language":     "en",
		"ingest.auto_translate":      true,
		"ingest.debounce":            500 * time.Millisecond,
	}
}

// legacyEnv keeps the historical variable names working.
var legacyEnv = map[string]string{
	"DB_URL":          "store.dsn",
	"GRPC_ADDR":       "server.grpc_addr",
	"OPENAI_API_KEY":  "llm.api_key",
	"OPENAI_MODEL":    "llm.model",
	"OPENAI_BASE_URL": "llm.base_url",
	"TESSDATA_PREFIX": "ocr.tessdata_dir",
	"HEIC_CONVERTER":  "ocr.heic_converter",
}

// LoadOptions tells LoadConfig where to look beyond defaults and the environment.
type LoadOptions struct {
	File  string
	Flags *pflag.FlagSet
	// FlagKeys maps flag names to config keys; unmapped flags are ignored.
	FlagKeys map[string]string
}

// LoadConfig layers defaults, the optional YAML file, environment and changed flags.
func LoadConfig(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if opts.File != "" {
		if _, err := os.Stat(opts.File); err != nil {
			return nil, NewAppError(CodeConfig, "config file "+opts.File, err)
		}
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, NewAppError(CodeConfig, "parse config file "+opts.File, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(key string) string {
		return legacyEnv[key]
	}), nil); err != nil {
		return nil, fmt.Errorf("load legacy env: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(key string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if opts.Flags != nil && len(opts.FlagKeys) > 0 {
		cb := func(f *pflag.Flag) (string, interface{}) {
			key, ok := opts.FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, f.Value.String()
		}
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, cb), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, NewAppError(CodeConfig, "decode configuration", err)
	}
	return &cfg, nil
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if err := ValidateStruct(c); err != nil {
		return NewAppError(CodeConfig, "invalid configuration", err)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError(CodeConfig, "server.grpc_addr is required", ErrInvalidInput)
	}
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DSN == "" {
			return NewAppError(CodeConfig, "store.dsn (DB_URL) is required for postgres", ErrInvalidInput)
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return NewAppError(CodeConfig, "store.sqlite_path is required for sqlite", ErrInvalidInput)
		}
	}
	if c.Ingest.InboxDir != "" && c.Ingest.OwnerID == "" {
		return NewAppError(CodeConfig, "ingest.owner_id is required when ingest.inbox_dir is set", ErrInvalidInput)
	}
	return nil
}
