// Package textsplit breaks OCR text into translatable sentences.
package textsplit

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	paragraphBreak = regexp.MustCompile(`\n\n+`)
	terminalEnd    = regexp.MustCompile(`[.!?。！？]\s*$`)
)

const titleMaxLen = 100

// Split returns the sentences of text in reading order. Paragraphs are split on
// blank lines; a short single-line paragraph without terminal punctuation is
// kept whole as a heading. lang selects the sentence boundary rule and falls
// back to English.
func Split(text, lang string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []string
	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if isHeading(para) {
			out = append(out, para)
			continue
		}
		var parts []string
		if lang == "zh" {
			parts = splitCJK(para)
		} else {
			parts = splitLatin(para, upperFor(lang))
		}
		for _, s := range parts {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Paragraphs returns the sentences of text grouped by paragraph.
func Paragraphs(text, lang string) [][]string {
	var out [][]string
	for _, para := range paragraphBreak.Split(text, -1) {
		if s := Split(para, lang); len(s) > 0 {
			out = append(out, s)
		}
	}
	return out
}

func isHeading(para string) bool {
	return !strings.Contains(para, "\n") && utf8.RuneCountInString(para) < titleMaxLen && !terminalEnd.MatchString(para)
}

func upperFor(lang string) func(rune) bool {
	switch lang {
	case "de":
		return func(r rune) bool {
			return (r >= 'A' && r <= 'Z') || r == 'Ä' || r == 'Ö' || r == 'Ü' || r == 'ẞ'
		}
	case "ru":
		return func(r rune) bool {
			return (r >= 'А' && r <= 'Я') || r == 'Ё'
		}
	default:
		return func(r rune) bool { return r >= 'A' && r <= 'Z' }
	}
}

// splitLatin cuts after . ! or ? when whitespace and an upper-case letter follow.
func splitLatin(para string, upper func(rune) bool) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(para)
	for i := 0; i < len(runes); i++ {
		if !strings.ContainsRune(".!?", runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j == i+1 || j >= len(runes) || !upper(runes[j]) {
			continue
		}
		out = append(out, string(runes[start:i+1]))
		start = j
		i = j - 1
	}
	return append(out, string(runes[start:]))
}

// splitCJK cuts after every run of 。！？ and keeps the punctuation with its sentence.
func splitCJK(para string) []string {
	var (
		out []string
		b   strings.Builder
	)
	runes := []rune(para)
	for i, r := range runes {
		b.WriteRune(r)
		if isCJKTerminal(r) && (i+1 == len(runes) || !isCJKTerminal(runes[i+1])) {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func isCJKTerminal(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

// DetectLanguage guesses en, de, ru or zh from character ranges.
func DetectLanguage(text string) string {
	total := utf8.RuneCountInString(text)
	if total == 0 {
		return "en"
	}
	var han, cyr, de int
	for _, r := range text {
		switch {
		case r >= 0x4e00 && r <= 0x9fff:
			han++
		case r >= 0x0400 && r <= 0x04ff:
			cyr++
		case strings.ContainsRune("äöüßÄÖÜẞ", r):
			de++
		}
	}
	n := float64(total)
	switch {
	case float64(han)/n > 0.3:
		return "zh"
	case float64(cyr)/n > 0.3:
		return "ru"
	case float64(de)/n > 0.05:
		return "de"
	}
	return "en"
}

// Page is the OCR text of one page.
type Page struct {
	Number int
	Text   string
}

// Block is text that may span several pages.
type Block struct {
	Pages []int
	Text  string
}

// MergePages joins a page onto the previous block when that block stops in
// the middle of a sentence. Empty pages are skipped.
func MergePages(pages []Page) []Block {
	var out []Block
	for _, p := range pages {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		if n := len(out); n > 0 && !terminalEnd.MatchString(out[n-1].Text) {
			out[n-1].Text += " " + text
			out[n-1].Pages = append(out[n-1].Pages, p.Number)
			continue
		}
		out = append(out, Block{Pages: []int{p.Number}, Text: text})
	}
	return out
}

// JoinBlocks renders merged blocks as paragraphs.
func JoinBlocks(blocks []Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n\n")
}
