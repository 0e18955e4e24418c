package similarity

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const minTokenRunes = 3

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"from": {}, "into": {}, "are": {}, "was": {}, "were": {}, "has": {},
	"have": {}, "had": {}, "not": {}, "but": {}, "our": {}, "you": {},
	"your": {}, "its": {}, "they": {}, "them": {}, "their": {}, "what": {},
	"when": {}, "which": {}, "how": {}, "should": {}, "would": {}, "could": {},
	"will": {}, "can": {}, "all": {}, "any": {}, "some": {}, "very": {},
}

// Set is a set of normalized tokens.
type Set map[string]struct{}

// Tokens splits text into lower-cased alphanumeric tokens, dropping short
// tokens and stopwords. Text made only of dropped words yields its joined
// words as a single token, so any non-empty text is similar to itself.
func Tokens(text string) Set {
	out := make(Set)
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if utf8.RuneCountInString(f) < minTokenRunes {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	if len(out) == 0 && len(fields) > 0 {
		out[strings.Join(fields, " ")] = struct{}{}
	}
	return out
}

// FeatureSet reduces an arbitrary decoded JSON value to its token set.
// String values and string elements of lists are tokenized; numbers,
// booleans and map keys contribute nothing. nil yields an empty set.
func FeatureSet(v any) Set {
	out := make(Set)
	collect(v, out)
	return out
}

func collect(v any, out Set) {
	switch val := v.(type) {
	case string:
		for t := range Tokens(val) {
			out[t] = struct{}{}
		}
	case []string:
		for _, s := range val {
			collect(s, out)
		}
	case []any:
		for _, e := range val {
			collect(e, out)
		}
	case map[string]any:
		for _, e := range val {
			collect(e, out)
		}
	case map[string]string:
		for _, e := range val {
			collect(e, out)
		}
	}
}

// Sorted returns the set members in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets score 0.
func Jaccard(a, b Set) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
