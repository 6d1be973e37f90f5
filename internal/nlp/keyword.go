package nlp

import (
	"errors"
	"fmt"
	"regexp"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// Match is one keyword hit against the window haystack.
type Match struct {
	Rule        types.KeywordRule
	MatchedText string

	// Similarity is 1.0 for exact hits, the token-set ratio for fuzzy hits,
	// and 0 for regex hits.
	Similarity float64
}

type regexRule struct {
	re   *regexp.Regexp
	rule types.KeywordRule
}

// RuleIndex holds the compiled form of one rule set generation: an
// Aho-Corasick automaton for the exact rules, the fuzzy rule list, and the
// compiled regex rules. An index is immutable once built; the hot-reloader
// swaps whole generations atomically.
type RuleIndex struct {
	automaton  ahocorasick.AhoCorasick
	hasExact   bool
	exactRules []types.KeywordRule // indexed by automaton pattern id
	fuzzy      []types.KeywordRule
	regex      []regexRule

	defaultFuzzyThreshold float64
}

// BuildIndex compiles the enabled rules. Invalid regex rules are excluded
// and reported in the returned error; the index is still usable, so the
// caller logs the error and keeps going.
func BuildIndex(rules []types.KeywordRule, defaultFuzzyThreshold float64) (*RuleIndex, error) {
	idx := &RuleIndex{defaultFuzzyThreshold: defaultFuzzyThreshold}

	var patterns []string
	var errs []error
	for _, rule := range rules {
		if !rule.Enabled || rule.Keyword == "" {
			continue
		}
		switch rule.MatchType {
		case types.MatchExact:
			patterns = append(patterns, rule.Keyword)
			idx.exactRules = append(idx.exactRules, rule)
		case types.MatchFuzzy:
			idx.fuzzy = append(idx.fuzzy, rule)
		case types.MatchRegex:
			re, err := regexp.Compile("(?i)" + rule.Keyword)
			if err != nil {
				errs = append(errs, fmt.Errorf("rule %s: invalid regex %q: %w", rule.RuleID, rule.Keyword, err))
				continue
			}
			idx.regex = append(idx.regex, regexRule{re: re, rule: rule})
		default:
			errs = append(errs, fmt.Errorf("rule %s: unknown match type %q", rule.RuleID, rule.MatchType))
		}
	}

	if len(patterns) > 0 {
		// Substring semantics: a rule fires inside larger words too.
		builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
			AsciiCaseInsensitive: true,
			MatchKind:            ahocorasick.StandardMatch,
		})
		idx.automaton = builder.Build(patterns)
		idx.hasExact = true
	}

	return idx, errors.Join(errs...)
}

// RuleCount returns how many rules the index carries, by matcher.
func (idx *RuleIndex) RuleCount() (exact, fuzzy, regex int) {
	return len(idx.exactRules), len(idx.fuzzy), len(idx.regex)
}

// Detect runs all three matchers over the haystack and returns every hit.
// Exact matching is overlapping, so "gun" and "gunshot" both fire on
// "gunshot" when both are rules; regex matching is non-overlapping per rule.
func (idx *RuleIndex) Detect(haystack string) []Match {
	if haystack == "" {
		return nil
	}

	var matches []Match

	if idx.hasExact {
		iter := idx.automaton.IterOverlapping(haystack)
		for next := iter.Next(); next != nil; next = iter.Next() {
			rule := idx.exactRules[next.Pattern()]
			matches = append(matches, Match{
				Rule:        rule,
				MatchedText: haystack[next.Start():next.End()],
				Similarity:  1.0,
			})
		}
	}

	for _, rule := range idx.fuzzy {
		threshold := rule.FuzzyThreshold
		if threshold <= 0 {
			threshold = idx.defaultFuzzyThreshold
		}
		ratio := tokenSetRatio(rule.Keyword, haystack)
		// A ratio equal to the threshold matches.
		if ratio >= threshold {
			matches = append(matches, Match{
				Rule:        rule,
				MatchedText: rule.Keyword,
				Similarity:  ratio,
			})
		}
	}

	for _, rr := range idx.regex {
		for _, hit := range rr.re.FindAllString(haystack, -1) {
			matches = append(matches, Match{
				Rule:        rr.rule,
				MatchedText: hit,
				Similarity:  0,
			})
		}
	}

	return matches
}
