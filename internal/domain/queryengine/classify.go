package queryengine

import (
	"strings"
	"unicode"
)

// QueryType is the rule-based classification of a question (§4.8 step 3).
type QueryType string

const (
	QueryFollowUp    QueryType = "follow_up"
	QueryExplanatory QueryType = "explanatory"
	QueryFactual     QueryType = "factual"
	QueryComparative QueryType = "comparative"
	QueryHowTo       QueryType = "how_to"
	QueryAnalytical  QueryType = "analytical"
)

// Complexity buckets a question by word/keyword count.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Analysis is the result of rule-based query analysis.
type Analysis struct {
	Type       QueryType
	Keywords   []string
	Entities   []string
	Complexity Complexity
}

var followUpMarkers = []string{"it", "this", "that", "the book", "the author", "who wrote"}
var explanatoryMarkers = []string{"what is", "explain", "define"}
var factualMarkers = []string{"who", "when", "where", "how many"}
var comparativeMarkers = []string{"compare", "vs", "difference"}
var howToMarkers = []string{"how to", "steps"}
var analyticalMarkers = []string{"why", "analyze"}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"of": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"with": true, "about": true, "this": true, "that": true, "it": true,
	"do": true, "does": true, "did": true, "can": true, "could": true, "would": true,
}

// Analyze classifies the question's type, extracts keywords and entities,
// and buckets complexity, without invoking an LLM.
func Analyze(question string) Analysis {
	lower := strings.ToLower(question)
	return Analysis{
		Type:       classifyType(lower),
		Keywords:   extractKeywords(lower),
		Entities:   extractEntities(question),
		Complexity: "", // set below once keyword count is known
	}.withComplexity(question)
}

func (a Analysis) withComplexity(question string) Analysis {
	words := len(strings.Fields(question))
	keywords := len(a.Keywords)
	switch {
	case words <= 10 && keywords <= 3:
		a.Complexity = ComplexitySimple
	case words > 20 || keywords > 5:
		a.Complexity = ComplexityComplex
	default:
		a.Complexity = ComplexityMedium
	}
	return a
}

func classifyType(lower string) QueryType {
	switch {
	case containsAny(lower, followUpMarkers):
		return QueryFollowUp
	case containsAny(lower, howToMarkers):
		return QueryHowTo
	case containsAny(lower, comparativeMarkers):
		return QueryComparative
	case containsAny(lower, analyticalMarkers):
		return QueryAnalytical
	case containsAny(lower, factualMarkers):
		return QueryFactual
	case containsAny(lower, explanatoryMarkers):
		return QueryExplanatory
	default:
		return QueryExplanatory
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// extractKeywords case-folds, strips stopwords and short tokens, dedups and
// caps at 10.
func extractKeywords(lower string) []string {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := map[string]bool{}
	var out []string
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) >= 10 {
			break
		}
	}
	return out
}

// extractEntities picks capitalized tokens and multi-word title-case runs,
// dedups and caps at 10.
func extractEntities(original string) []string {
	fields := strings.Fields(original)
	seen := map[string]bool{}
	var out []string
	var run []string

	flushRun := func() {
		if len(run) == 0 {
			return
		}
		entity := strings.Join(run, " ")
		if !seen[entity] {
			seen[entity] = true
			out = append(out, entity)
		}
		run = nil
	}

	for _, f := range fields {
		trimmed := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) })
		if trimmed == "" {
			flushRun()
			continue
		}
		if unicode.IsUpper(rune(trimmed[0])) {
			run = append(run, trimmed)
		} else {
			flushRun()
		}
		if len(out) >= 10 {
			break
		}
	}
	flushRun()
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}
