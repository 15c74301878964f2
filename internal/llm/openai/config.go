package openai

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/llm"
)

// Config for the OpenAI client.
type Config struct {
	APIKey      string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL     string        // default https://api.openai.com/v1
	Model       string        // e.g., "gpt-4o-mini"
	Temperature float32       // 0..2
	MaxTokens   int           // default 4000
	Timeout     time.Duration // http client timeout

	MaxRetries  int // attempts per sentence, default 3
	RetryDelays []time.Duration

	RequestsPerMinute int
	MaxConcurrent     int64
}

type Client struct {
	cfg     Config
	http    *http.Client
	logger  *slog.Logger
	limiter *llm.Limiter
	retry   llm.RetryPolicy

	// compiled once; every answer is checked against it
	schema       *jsonschema.Schema
	schemaPrompt string
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if len(cfg.RetryDelays) == 0 {
		cfg.RetryDelays = llm.DefaultRetryDelays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		limiter: llm.NewLimiter(cfg.RequestsPerMinute, cfg.MaxConcurrent),
		retry:   llm.RetryPolicy{MaxAttempts: cfg.MaxRetries, Delays: cfg.RetryDelays},

		schema:       llm.TranslationSchema(),
		schemaPrompt: "JSON Schema:\n" + mustJSON(llm.TranslationJSONSchema()),
	}
}

// NewClientFromConfig builds a client from the llm config section.
func NewClientFromConfig(cfg common.LLMConfig, logger *slog.Logger) *Client {
	return NewClient(Config{
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.BaseURL,
		Model:             cfg.Model,
		Temperature:       cfg.Temperature,
		Timeout:           cfg.Timeout,
		MaxRetries:        cfg.MaxRetries,
		RetryDelays:       cfg.RetryDelays,
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxConcurrent:     cfg.MaxConcurrent,
	}, logger)
}
