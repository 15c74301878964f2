package llm

import "context"

// TranslateRequest is one unit of text to translate.
type TranslateRequest struct {
	Text           string
	SourceLanguage string // language code; never "auto" here
	TargetLanguage string
	// Context is optional surrounding text that helps disambiguate Text. It is not translated.
	Context string
	// Examples are earlier corrected translations for the same language pair
	// that the answer should stay consistent with.
	Examples []Example
}

// Example is one source sentence and its preferred translation.
type Example struct {
	Source      string
	Translation string
}

// Translation is the normalized shape we want from the LLM.
type Translation struct {
	Translation string `json:"translation"`
}

// Translator is the interface the translate stage depends on.
type Translator interface {
	Translate(ctx context.Context, req TranslateRequest) (string, error)
}

// TranslatorFunc adapts a function to Translator.
type TranslatorFunc func(ctx context.Context, req TranslateRequest) (string, error)

func (f TranslatorFunc) Translate(ctx context.Context, req TranslateRequest) (string, error) {
	return f(ctx, req)
}
