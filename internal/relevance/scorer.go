// Package relevance scores text against a keyword with a lexical model:
// cleaned, stemmed tokens compared by character-bigram overlap.
package relevance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/kljensen/snowball"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
)

var (
	urlPattern   = regexp.MustCompile(`(?i)^(https?://|www\.)\S+$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Scorer implements crawler.Scorer.
type Scorer struct{}

// New returns a Scorer.
func New() *Scorer {
	return &Scorer{}
}

// Tokens lower-cases text, drops URLs, e-mail addresses, punctuation, digits
// and stop-words, and returns the English stems of what remains.
func Tokens(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if urlPattern.MatchString(field) || emailPattern.MatchString(field) {
			continue
		}
		words := strings.FieldsFunc(strings.ToLower(field), func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		for _, w := range words {
			if len([]rune(w)) < 2 {
				continue
			}
			if _, stop := stopSet[w]; stop {
				continue
			}
			out = append(out, stem(w))
		}
	}
	return out
}

// Clean returns the cleaned, stemmed form of text joined by single spaces.
func Clean(text string) string {
	return strings.Join(Tokens(text), " ")
}

// Score returns, for every token of text, its best similarity to any
// keyword token. Text without scorable tokens yields an empty slice.
func (Scorer) Score(ctx context.Context, keyword, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("score canceled: %w", err)
	}
	keys := keywordStems(keyword)
	if len(keys) == 0 {
		return nil, nil
	}
	tokens := Tokens(text)
	scores := make([]float64, 0, len(tokens))
	for _, tok := range tokens {
		best := 0.0
		for _, k := range keys {
			if s := Similarity(tok, k); s > best {
				best = s
			}
		}
		scores = append(scores, best)
	}
	return scores, nil
}

// PageScore is the share of the page's tokens that match a keyword stem.
func (Scorer) PageScore(keyword, fullText string) float64 {
	keys := keywordStems(keyword)
	tokens := Tokens(fullText)
	if len(tokens) == 0 || len(keys) == 0 {
		return 0
	}
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	hits := 0
	for _, tok := range tokens {
		if _, ok := want[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

// Similarity is 1 for equal stems, otherwise the Sørensen–Dice coefficient
// of their character bigrams.
func Similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	ab, bb := bigrams(a), bigrams(b)
	if len(ab) == 0 || len(bb) == 0 {
		return 0
	}
	counts := make(map[string]int, len(ab))
	for _, g := range ab {
		counts[g]++
	}
	overlap := 0
	for _, g := range bb {
		if counts[g] > 0 {
			counts[g]--
			overlap++
		}
	}
	return 2 * float64(overlap) / float64(len(ab)+len(bb))
}

// keywordStems cleans keyword like page text; a keyword made only of
// stop-words is kept verbatim so it still matches itself.
func keywordStems(keyword string) []string {
	if keys := Tokens(keyword); len(keys) > 0 {
		return keys
	}
	if k := strings.ToLower(strings.TrimSpace(keyword)); k != "" {
		return strings.Fields(k)
	}
	return nil
}

func bigrams(s string) []string {
	r := []rune(s)
	if len(r) < 2 {
		return nil
	}
	out := make([]string, 0, len(r)-1)
	for i := 0; i+1 < len(r); i++ {
		out = append(out, string(r[i:i+2]))
	}
	return out
}

func stem(word string) string {
	stemmed, err := snowball.Stem(word, "english", true)
	if err != nil || stemmed == "" {
		return word
	}
	return stemmed
}

var _ crawler.Scorer = Scorer{}
