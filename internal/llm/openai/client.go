package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/llm"
)

var _ llm.Translator = (*Client)(nil)

// Translate implements llm.Translator using chat/completions in JSON mode.
// Transport errors, 429 and 5xx answers are retried; a malformed answer is not.
func (c *Client) Translate(ctx context.Context, req llm.TranslateRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return req.Text, nil
	}
	rid := uuid.New().String()
	start := time.Now()

	c.logger.Debug("llm.translate.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"source", req.SourceLanguage,
		"target", req.TargetLanguage,
		"text_len", len(req.Text),
	)

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"max_tokens":      c.cfg.MaxTokens,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": buildSystemPrompt(req)},
			{"role": "user", "content": buildUserPrompt(req)},
			{"role": "system", "content": c.schemaPrompt},
		},
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"

	var out string
	err := c.retry.Do(ctx, c.logger, "translate", func(attempt int) error {
		release, err := c.limiter.Acquire(ctx)
		if err != nil {
			return err
		}
		defer release()

		raw, _, err := llm.SendJSON(ctx, c.http, endpoint, body, c.headers(), c.logger)
		if err != nil {
			return err
		}
		out, err = decodeTranslation(raw, c.schema)
		return err
	})
	if err != nil {
		c.logger.Error("llm.translate.failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", common.NewAppError(common.CodeUpstream, "translate", errors.Join(common.ErrUpstream, err))
	}

	c.logger.Debug("llm.translate.ok",
		"req_id", rid,
		"out_len", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (c *Client) headers() map[string]string {
	h := map[string]string{}
	if c.cfg.APIKey != "" {
		h["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	return h
}

func decodeTranslation(raw []byte, schema *jsonschema.Schema) (string, error) {
	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", llm.Permanent(fmt.Errorf("decode openai response: %w", err))
	}
	if len(cc.Choices) == 0 {
		return "", llm.Permanent(fmt.Errorf("no choices in openai response"))
	}
	content := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))
	if err := llm.ValidateJSON(schema, content); err != nil {
		return "", llm.Permanent(fmt.Errorf("schema validation failed: %w", err))
	}
	var t llm.Translation
	if err := json.Unmarshal(content, &t); err != nil {
		return "", llm.Permanent(fmt.Errorf("unmarshal translation: %w", err))
	}
	return strings.TrimSpace(t.Translation), nil
}

// maxPromptExamples caps how many corrections go into one prompt.
const maxPromptExamples = 10

func buildSystemPrompt(req llm.TranslateRequest) string {
	parts := []string{
		fmt.Sprintf("You are a professional translator. Translate the following %s text to %s.",
			constants.LanguageName(req.SourceLanguage), constants.LanguageName(req.TargetLanguage)),
		"Provide accurate and natural translations.",
		"Preserve the original meaning and tone.",
		"Use appropriate terminology for the context.",
		`Return ONLY a JSON object of the form {"translation": "..."} with no explanations.`,
	}
	prompt := strings.Join(parts, " ")
	if len(req.Examples) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nPrevious corrections to follow:\n")
	for i, ex := range req.Examples {
		if i == maxPromptExamples {
			break
		}
		fmt.Fprintf(&b, "%d. %q -> %q\n", i+1, ex.Source, ex.Translation)
	}
	b.WriteString("Keep the translation consistent with these corrections.")
	return b.String()
}

func buildUserPrompt(req llm.TranslateRequest) string {
	if req.Context == "" {
		return req.Text
	}
	var b strings.Builder
	b.WriteString("Surrounding text (do not translate):\n")
	b.WriteString(req.Context)
	b.WriteString("\n\nText to translate:\n")
	b.WriteString(req.Text)
	return b.String()
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
