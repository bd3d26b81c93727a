package store

import (
	"strings"
	"unicode"
)

// DefaultStopWordList is a compact English stop list for prose corpora.
var DefaultStopWordList = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for",
	"from", "has", "have", "how", "in", "is", "it", "its", "of", "on",
	"or", "that", "the", "their", "this", "to", "was", "were", "what",
	"when", "where", "which", "who", "why", "will", "with",
}

// DefaultStopWords returns DefaultStopWordList as a lookup set.
func DefaultStopWords() map[string]struct{} {
	return BuildStopWordMap(DefaultStopWordList)
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit. Non-ASCII letters are kept.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !isTokenRune(r)
	})
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}

func isTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Analyze is the shared index/query pipeline: tokenize, drop short tokens,
// drop stop words.
func Analyze(text string, stopWords map[string]struct{}, minLen int) []string {
	tokens := Tokenize(text)
	out := tokens[:0]
	for _, t := range tokens {
		if len([]rune(t)) < minLen {
			continue
		}
		if _, stop := stopWords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
