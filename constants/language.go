package constants

// LanguageAuto asks the translate stage to detect the source language.
const LanguageAuto = "auto"

// Languages maps supported language codes to the names used in prompts.
var Languages = map[string]string{
	"en": "English",
	"de": "German",
	"ru": "Russian",
	"zh": "Chinese",
}

// IsSupportedLanguage reports whether code is a known target language.
func IsSupportedLanguage(code string) bool {
	_, ok := Languages[code]
	return ok
}

// LanguageName returns the display name for code, or code itself when unknown.
func LanguageName(code string) string {
	if n, ok := Languages[code]; ok {
		return n
	}
	return code
}
