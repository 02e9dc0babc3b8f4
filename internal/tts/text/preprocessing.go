// Package text provides text normalization for TTS input.
//
// The normalizer is language-agnostic apart from tatweel removal, since the
// default voice is Egyptian Arabic. Sentence punctuation is left to the caller.
package text

import (
	"regexp"
	"strings"
	"unicode"
)

// Regex patterns for text preprocessing.
const (
	whitespaceRegexPattern = `\s+`
)

// Punctuation and formatting constants.
const (
	emDash        = "—"
	enDash        = "–"
	figureDash    = "‒"
	ellipsis      = "..."
	ellipsisChar  = "…"
	tatweel       = "ـ"
	zeroWidthJoin = "\u200d"
	zeroWidthNon  = "\u200c"
	byteOrderMark = "\ufeff"
)

// Preprocessor normalizes free text before it reaches the model.
type Preprocessor struct {
	whitespacePattern *regexp.Regexp
	glyphReplacer     *strings.Replacer
}

// NewPreprocessor creates a new text preprocessor with compiled patterns and replacers.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		glyphReplacer: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
			"«", `"`, "»", `"`,
			tatweel, "",
			zeroWidthJoin, "",
			zeroWidthNon, "",
			byteOrderMark, "",
		),
	}
}

// PreprocessText normalizes glyphs and collapses whitespace and repeated
// punctuation. No terminator is added. Empty or whitespace-only input
// yields an empty string.
func (p *Preprocessor) PreprocessText(text string) string {
	if text == "" {
		return text
	}

	normalizedText := p.normalizeGlyphs(text)

	normalizedText = p.normalizeWhitespace(normalizedText)
	if normalizedText == "" {
		return ""
	}

	return p.removeRepeatedPunctuation(normalizedText)
}

// normalizeGlyphs replaces typographic variants with their plain forms.
func (p *Preprocessor) normalizeGlyphs(text string) string {
	return p.glyphReplacer.Replace(text)
}

// normalizeWhitespace collapses every whitespace run to a single space.
func (p *Preprocessor) normalizeWhitespace(text string) string {
	text = p.whitespacePattern.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}

// removeRepeatedPunctuation collapses runs of the same punctuation mark
// ("!!!" -> "!", "؟؟" -> "؟"). The ASCII ellipsis is kept.
func (p *Preprocessor) removeRepeatedPunctuation(text string) string {
	var (
		builder  strings.Builder
		previous rune
		run      int
	)

	builder.Grow(len(text))

	for _, char := range text {
		if char == previous && unicode.IsPunct(char) {
			run++
			if char != '.' || run > len(ellipsis) {
				continue
			}
		} else {
			run = 1
		}

		builder.WriteRune(char)
		previous = char
	}

	return builder.String()
}
