// Package tokens estimates token counts for message bookkeeping.
//
// The counts are advisory: nothing correctness-critical truncates on them.
// Rather than shipping a BPE tokenizer (the Go ports fetch their encoding
// files at runtime), the counter keeps a per-encoding characters-per-token
// ratio calibrated against English chat text and blends it with a word
// count. The floor is the classic ceil(len/4) estimate; accuracy degrades
// accordingly for code-heavy or non-Latin content.
package tokens

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type encoding struct {
	name          string
	charsPerToken float64
}

var (
	encO200k  = encoding{name: "o200k_base", charsPerToken: 4.4}
	encCl100k = encoding{name: "cl100k_base", charsPerToken: 4.0}
	encP50k   = encoding{name: "p50k_base", charsPerToken: 3.8}

	// defaultEncoding applies to unrecognized model names.
	defaultEncoding = encCl100k
)

// modelPrefixes maps model-name prefixes to encodings, checked in order.
var modelPrefixes = []struct {
	prefix string
	enc    encoding
}{
	{"gpt-4o", encO200k},
	{"gpt-4.1", encO200k},
	{"o1", encO200k},
	{"o3", encO200k},
	{"gpt-4", encCl100k},
	{"gpt-3.5", encCl100k},
	{"text-embedding-3", encCl100k},
	{"text-embedding-ada", encCl100k},
	{"claude", encCl100k},
	{"text-davinci", encP50k},
	{"code-", encP50k},
}

// EncodingName returns the encoding used for a model name. Unknown models
// fall back to the default encoding.
func EncodingName(model string) string {
	return encodingFor(model).name
}

func encodingFor(model string) encoding {
	m := strings.ToLower(strings.TrimSpace(model))
	for _, mp := range modelPrefixes {
		if strings.HasPrefix(m, mp.prefix) {
			return mp.enc
		}
	}
	return defaultEncoding
}

// CountTokens estimates the number of tokens in text for the given model.
// Returns 0 only for empty text; any non-empty text counts at least one
// token.
func CountTokens(text, model string) int {
	if text == "" {
		return 0
	}
	enc := encodingFor(model)

	chars := utf8.RuneCountInString(text)
	byRatio := int(float64(chars)/enc.charsPerToken + 0.999)

	// Whitespace-delimited words under-count punctuation-heavy text; the
	// ratio estimate under-counts long words. Take the larger of the two.
	words := countWords(text)
	est := byRatio
	if words > est {
		est = words
	}

	// ceil(len/4) last-resort floor
	if floor := (chars + 3) / 4; est < floor {
		est = floor
	}
	if est < 1 {
		est = 1
	}
	return est
}

func countWords(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}
