package search

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kljensen/snowball"
)

// AlwaysFalse is the canonical zero-result query. An empty app-set filter
// compiles to it: no apps selected means no results, and the index adapter
// short-circuits on the token instead of special-casing empty sets
// downstream.
const AlwaysFalse = "1 = 0"

// Filter is the app-scoping half of a search request. AppSet distinguishes
// absent (nil) from present-but-empty (non-nil, len 0): the latter turns
// the whole query into AlwaysFalse.
type Filter struct {
	Text    string
	AppName string
	AppSet  []string
}

// textFields are the document fields matched against free-text tokens.
var textFields = []string{"anno_text_stems", "app_name_stems"}

// Compile turns a search request into a single boolean filter expression
// in the index's query grammar. It is pure and deterministic: identical
// inputs produce a byte-identical string. Absent inputs contribute no
// clause at all; the parts that remain are joined with AND.
func Compile(f Filter) string {
	if f.AppSet != nil && len(f.AppSet) == 0 {
		return AlwaysFalse
	}

	var parts []string
	if len(f.AppSet) > 0 {
		clauses := make([]string, 0, len(f.AppSet))
		for _, app := range f.AppSet {
			clauses = append(clauses, fmt.Sprintf("app_name = %q", app))
		}
		parts = append(parts, "("+strings.Join(clauses, " OR ")+")")
	}
	if stems := Stems(f.Text); len(stems) > 0 {
		fieldClauses := make([]string, 0, len(textFields))
		for _, field := range textFields {
			fieldClauses = append(fieldClauses, stemClause(field, stems))
		}
		parts = append(parts, "("+strings.Join(fieldClauses, " OR ")+")")
	}
	if strings.TrimSpace(f.AppName) != "" {
		parts = append(parts, fmt.Sprintf("(app_name = %q)", f.AppName))
	}
	return strings.Join(parts, " AND ")
}

// stemClause emits the stemmed-OR group for one field:
// (field = "s1" OR field = "s2" OR ...).
func stemClause(field string, stems []string) string {
	clauses := make([]string, 0, len(stems))
	for _, stem := range stems {
		clauses = append(clauses, fmt.Sprintf("%s = %q", field, stem))
	}
	return "(" + strings.Join(clauses, " OR ") + ")"
}

// Tokenize splits free text on word boundaries and lowercases the tokens.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, word := range words {
		words[i] = strings.ToLower(word)
	}
	return words
}

// Stems tokenizes text and reduces each token to its English stem. The
// same function feeds both the compiler and the document builder, so
// query-time and index-time stems always agree. Tokens the stemmer cannot
// handle pass through unchanged.
func Stems(text string) []string {
	words := Tokenize(text)
	if len(words) == 0 {
		return nil
	}
	stems := make([]string, 0, len(words))
	for _, word := range words {
		stem, err := snowball.Stem(word, "english", false)
		if err != nil || stem == "" {
			stem = word
		}
		stems = append(stems, stem)
	}
	return stems
}
