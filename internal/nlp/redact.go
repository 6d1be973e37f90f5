package nlp

import (
	"regexp"
	"sort"
	"strings"
)

// Recognizer finds PII spans of one entity type in text. The built-in
// recognizers are regex-based; a model-backed recognizer for names and
// locations can be added through [NewRedactor].
type Recognizer interface {
	// Entity returns the placeholder type, e.g. "EMAIL_ADDRESS".
	Entity() string

	// Find returns the byte-offset spans of every occurrence in text.
	Find(text string) [][2]int
}

// regexRecognizer implements [Recognizer] with a single pattern.
type regexRecognizer struct {
	entity string
	re     *regexp.Regexp
}

func (r *regexRecognizer) Entity() string { return r.entity }

func (r *regexRecognizer) Find(text string) [][2]int {
	var spans [][2]int
	for _, loc := range r.re.FindAllStringIndex(text, -1) {
		spans = append(spans, [2]int{loc[0], loc[1]})
	}
	return spans
}

// triggerRecognizer finds entities introduced by a spoken trigger phrase
// ("my name is", "i live in"). The pattern's single capture group holds the
// entity span; the trigger itself is not redacted.
type triggerRecognizer struct {
	entity string
	re     *regexp.Regexp
}

func (r *triggerRecognizer) Entity() string { return r.entity }

func (r *triggerRecognizer) Find(text string) [][2]int {
	var spans [][2]int
	for _, loc := range r.re.FindAllStringSubmatchIndex(text, -1) {
		if len(loc) >= 4 && loc[2] >= 0 {
			spans = append(spans, [2]int{loc[2], loc[3]})
		}
	}
	return spans
}

// Built-in recognizer patterns. Spoken-transcript PII is messier than typed
// input, so the patterns tolerate spaces and dashes between digit groups.
// Names and locations have no reliable lexical shape, so those recognizers
// key on the phrases speakers use to introduce them; a model-backed
// recognizer can be added through [NewRedactor] for broader coverage.
var builtinRecognizers = []Recognizer{
	&regexRecognizer{
		entity: "EMAIL_ADDRESS",
		re:     regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	},
	&regexRecognizer{
		entity: "PHONE_NUMBER",
		re:     regexp.MustCompile(`\+?\d{1,3}[\s.\-]?\(?\d{2,4}\)?[\s.\-]?\d{3,4}[\s.\-]?\d{3,4}`),
	},
	&regexRecognizer{
		entity: "CREDIT_CARD",
		re:     regexp.MustCompile(`\b(?:\d[\s\-]?){13,18}\d\b`),
	},
	&regexRecognizer{
		entity: "SSN",
		re:     regexp.MustCompile(`\b\d{3}[\s\-]\d{2}[\s\-]\d{4}\b`),
	},
	&regexRecognizer{
		entity: "IBAN",
		re:     regexp.MustCompile(`\b[A-Z]{2}\d{2}(?:[\s]?[A-Z0-9]{4}){3,7}\b`),
	},
	&regexRecognizer{
		entity: "IP_ADDRESS",
		re:     regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
	},
	&triggerRecognizer{
		entity: "PERSON",
		re:     regexp.MustCompile(`(?:(?i:my name is|this is|i am|i'm|speaking with)[\s,]+)([A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,2})`),
	},
	&triggerRecognizer{
		entity: "LOCATION",
		re:     regexp.MustCompile(`(?:(?i:i live (?:in|at)|located (?:in|at)|my address is|address is)[\s,]+)((?:\d+\s+)?[A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,3})`),
	},
}

// Redactor replaces PII spans with typed placeholders like [EMAIL_ADDRESS].
// Safe for concurrent use; recognizers are read-only after construction.
type Redactor struct {
	recognizers []Recognizer
}

// NewRedactor creates a redactor with the built-in pattern recognizers plus
// any extra (typically model-backed) recognizers. Running without extras is
// the normal degraded mode when no NER model is configured.
func NewRedactor(extra ...Recognizer) *Redactor {
	recognizers := make([]Recognizer, 0, len(builtinRecognizers)+len(extra))
	recognizers = append(recognizers, builtinRecognizers...)
	recognizers = append(recognizers, extra...)
	return &Redactor{recognizers: recognizers}
}

// span is a resolved match tagged with its entity type.
type span struct {
	start, end int
	entity     string
}

// Redact returns text with every detected span replaced by its placeholder,
// plus the sorted, de-duplicated list of entity types found.
func (r *Redactor) Redact(text string) (redacted string, entities []string) {
	if text == "" {
		return "", nil
	}

	var spans []span
	for _, rec := range r.recognizers {
		for _, s := range rec.Find(text) {
			spans = append(spans, span{start: s[0], end: s[1], entity: rec.Entity()})
		}
	}
	if len(spans) == 0 {
		return text, nil
	}

	// Longer spans win overlaps (a credit card number also looks like a
	// phone number); resolve by sorting longest-first and keeping
	// non-overlapping spans.
	sort.Slice(spans, func(i, j int) bool {
		li, lj := spans[i].end-spans[i].start, spans[j].end-spans[j].start
		if li != lj {
			return li > lj
		}
		return spans[i].start < spans[j].start
	})
	var kept []span
	for _, s := range spans {
		overlaps := false
		for _, k := range kept {
			if s.start < k.end && k.start < s.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, s)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].start < kept[j].start })

	var b strings.Builder
	seen := make(map[string]struct{})
	last := 0
	for _, s := range kept {
		b.WriteString(text[last:s.start])
		b.WriteString("[")
		b.WriteString(s.entity)
		b.WriteString("]")
		last = s.end
		seen[s.entity] = struct{}{}
	}
	b.WriteString(text[last:])

	entities = make([]string, 0, len(seen))
	for e := range seen {
		entities = append(entities, e)
	}
	sort.Strings(entities)
	return b.String(), entities
}
