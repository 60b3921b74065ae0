// Package tokenizer turns question text into index terms. Indexing and
// querying must go through the same Tokenizer so both sides agree on terms.
package tokenizer

import (
	"regexp"
	"strings"
)

var nonWord = regexp.MustCompile(`[^a-z0-9\s\-']+`)

type Tokenizer struct {
	stopWords map[string]bool
}

type Token struct {
	Word     string
	Position int
}

func NewTokenizer() *Tokenizer {
	stopWords := map[string]bool{
		"a": true, "an": true, "and": true, "are": true, "as": true,
		"at": true, "be": true, "by": true, "for": true, "from": true,
		"has": true, "he": true, "in": true, "is": true, "it": true,
		"its": true, "of": true, "on": true, "that": true, "the": true,
		"to": true, "was": true, "will": true, "with": true,
		"which": true, "what": true, "following": true,
	}

	return &Tokenizer{stopWords: stopWords}
}

func (t *Tokenizer) Tokenize(text string) []Token {
	text = nonWord.ReplaceAllString(strings.ToLower(text), " ")

	tokens := make([]Token, 0)
	position := 0
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, "-'")
		if len(word) < 2 || t.stopWords[word] {
			continue
		}

		tokens = append(tokens, Token{
			Word:     t.stem(word),
			Position: position,
		})
		position++
	}

	return tokens
}

// Terms returns the distinct terms of text in first-seen order.
func (t *Tokenizer) Terms(text string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, tok := range t.Tokenize(text) {
		if !seen[tok.Word] {
			seen[tok.Word] = true
			terms = append(terms, tok.Word)
		}
	}
	return terms
}

func (t *Tokenizer) stem(word string) string {
	wordLen := len(word)

	if wordLen > 4 && strings.HasSuffix(word, "ies") {
		return word[:wordLen-3] + "y"
	}

	if wordLen > 3 && strings.HasSuffix(word, "es") && !strings.HasSuffix(word, "oes") {
		stem := word[:wordLen-2]
		if strings.ContainsAny(stem[len(stem)-1:], "sxz") ||
			strings.HasSuffix(stem, "ch") ||
			strings.HasSuffix(stem, "sh") {
			return stem
		}
	}

	if wordLen > 3 && strings.HasSuffix(word, "s") &&
		!strings.HasSuffix(word, "ss") &&
		!strings.HasSuffix(word, "us") &&
		!strings.HasSuffix(word, "is") {
		return word[:wordLen-1]
	}

	if wordLen > 5 && strings.HasSuffix(word, "ing") {
		stem := word[:wordLen-3]
		if strings.ContainsAny(stem, "aeiou") {
			return stem
		}
	}

	if wordLen > 4 && strings.HasSuffix(word, "ed") {
		stem := word[:wordLen-2]
		if strings.ContainsAny(stem, "aeiou") {
			return stem
		}
	}

	return word
}
