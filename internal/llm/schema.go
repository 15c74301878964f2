package llm

import "github.com/santhosh-tekuri/jsonschema/v5"

const translationSchemaName = "translation.json"

// TranslationJSONSchema returns the JSON-Schema the model's answer must match.
// It is sent to the model as an instruction; TranslationSchema is the compiled
// form used to check the answer.
func TranslationJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"translation": map[string]any{"type": "string"},
		},
		"required": []string{"translation"},
	}
}

// TranslationSchema compiles TranslationJSONSchema. Callers compile it once and keep it.
func TranslationSchema() *jsonschema.Schema {
	return MustCompileSchema(translationSchemaName, TranslationJSONSchema())
}
