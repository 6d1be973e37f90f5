package nlp

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// tokenSetRatio computes a word-order-insensitive similarity between two
// strings in [0, 1]. Both inputs are lowercased and split into unique word
// sets; the score is the best of three normalized Levenshtein ratios over
// the sorted intersection and each side's sorted union, which makes a
// keyword phrase score high against a longer utterance containing its words
// in any order.
func tokenSetRatio(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	var inter, diffA, diffB []string
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter = append(inter, w)
		} else {
			diffA = append(diffA, w)
		}
	}
	for w := range setB {
		if _, ok := setA[w]; !ok {
			diffB = append(diffB, w)
		}
	}
	sort.Strings(inter)
	sort.Strings(diffA)
	sort.Strings(diffB)

	base := strings.Join(inter, " ")
	combA := joinNonEmpty(base, strings.Join(diffA, " "))
	combB := joinNonEmpty(base, strings.Join(diffB, " "))

	best := levenshteinRatio(base, combA)
	if r := levenshteinRatio(base, combB); r > best {
		best = r
	}
	if r := levenshteinRatio(combA, combB); r > best {
		best = r
	}
	return best
}

// levenshteinRatio normalizes edit distance to a similarity in [0, 1].
// Two empty strings are identical by definition.
func levenshteinRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	longer := len([]rune(a))
	if l := len([]rune(b)); l > longer {
		longer = l
	}
	if longer == 0 {
		return 1
	}
	dist := matchr.Levenshtein(a, b)
	return 1 - float64(dist)/float64(longer)
}

// wordSet lowercases s and returns its unique words.
func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
