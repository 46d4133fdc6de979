// Package classify maps a query string to a complexity tier using an
// ordered list of keyword and length rules. The rule order is load-bearing:
// routing must stay reproducible, so this is a first-match cascade rather
// than a weighted scorer.
package classify

import (
	"strings"
	"unicode/utf8"
)

// Tier is a named complexity bucket. Each tier maps to exactly one
// provider/model pair in the dispatch table.
type Tier string

const (
	TierSimple    Tier = "simple"
	TierMedium    Tier = "medium"
	TierComplex   Tier = "complex"
	TierCodex     Tier = "codex"
	TierReasoning Tier = "reasoning"
	TierOnDemand  Tier = "ondemand"
)

// ModelAuto requests classification; every other pinnable name bypasses it.
const ModelAuto = "auto"

// Tiers lists every tier in a stable order, used by the models endpoint.
func Tiers() []Tier {
	return []Tier{TierSimple, TierMedium, TierComplex, TierCodex, TierReasoning, TierOnDemand}
}

// FromModel resolves an explicitly pinned tier from a requested model name.
// Pinning tokens embedded in message content are deliberately not honored;
// only the model field can pin a tier.
func FromModel(model string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(model))) {
	case TierSimple:
		return TierSimple, true
	case TierMedium:
		return TierMedium, true
	case TierComplex:
		return TierComplex, true
	case TierCodex:
		return TierCodex, true
	case TierReasoning:
		return TierReasoning, true
	case TierOnDemand:
		return TierOnDemand, true
	}
	return "", false
}

// Classification is heuristic, so only a bounded prefix of the query is
// inspected. Sizes here are byte counts; the truncation cut is backed up to
// a rune boundary so a multi-byte character is never split.
const maxClassifyChars = 4000

// Length thresholds, in bytes of the inspected prefix.
const (
	shortQueryChars    = 120
	absoluteShortChars = 40
	mediumQueryChars   = 600
	longQueryChars     = 1500
)

var reasoningKeywords = []string{
	"step by step", "chain of thought", "prove", "theorem", "derive",
	"reason through", "think carefully", "formal proof", "logically",
	"deduce", "from first principles", "rigorous",
}

var codeKeywords = []string{
	"func ", "def ", "class ", "import ", "return ", "compile", "refactor",
	"stack trace", "traceback", "exception", "regex", "json", "sql",
	"unit test", "debug", "segfault", "nullpointer", "api endpoint",
	"implement", "algorithm", "pull request", "git ", "```",
}

var simpleKeywords = []string{
	"hi", "hello", "hey", "thanks", "thank you", "good morning",
	"good evening", "how are you", "what time", "who are you", "bye",
}

var technicalKeywords = []string{
	"kubernetes", "docker", "nginx", "redis", "postgres", "database",
	"deployment", "terraform", "linux", "systemd", "tcp", "dns",
	"load balancer", "microservice", "kafka", "grpc", "tls",
}

// Classify maps a query to a tier. Deterministic and pure: the same query
// always yields the same tier. First matching rule wins.
func Classify(query string) Tier {
	if len(query) > maxClassifyChars {
		cut := maxClassifyChars
		for cut > 0 && !utf8.RuneStart(query[cut]) {
			cut--
		}
		query = query[:cut]
	}
	lower := strings.ToLower(query)
	n := len(lower)

	reasoning := countHits(lower, reasoningKeywords)
	code := countHits(lower, codeKeywords)
	simple := countHits(lower, simpleKeywords)
	technical := countHits(lower, technicalKeywords)

	switch {
	case reasoning >= 2:
		return TierReasoning
	case n < shortQueryChars && simple >= 1 && code == 0 && technical == 0:
		return TierSimple
	case n < absoluteShortChars:
		// Greetings and one-liners with no keyword match at all.
		return TierSimple
	case code >= 3 || (code >= 2 && technical >= 1):
		return TierCodex
	case code >= 1 && n > longQueryChars:
		return TierCodex
	case technical >= 1 || code >= 1 || n > mediumQueryChars:
		return TierMedium
	default:
		return TierSimple
	}
}

// countHits counts how many keywords from the set occur in the query.
// Each keyword counts at most once.
func countHits(lower string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return hits
}
