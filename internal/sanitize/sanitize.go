// Package sanitize strips provider-emitted tool-call markup that leaks into
// plain text responses. Some upstream models emit their function-calling
// tokens verbatim when no tool is registered; those tokens must never reach
// the end client.
package sanitize

import (
	"regexp"
	"strings"
)

// indicators gate the regex pass. The common case has no markup and must
// return immediately without paying any regex cost.
var indicators = []string{"<|", "<tool_call", "</tool_call", "<function"}

var (
	pairedTagRe = regexp.MustCompile(`(?s)<tool_call>.*?</tool_call>`)
	functionRe  = regexp.MustCompile(`(?s)<function(?:_call)?>.*?</function(?:_call)?>`)
	tokenRe     = regexp.MustCompile(`<\|[a-zA-Z0-9_▁]+\|>`)
	danglingRe  = regexp.MustCompile(`</?tool_call>|</?function(?:_call)?>`)
)

// Sanitize removes tool-call markup from text. Idempotent:
// Sanitize(Sanitize(x)) == Sanitize(x) for any input.
func Sanitize(text string) string {
	if !hasIndicator(text) {
		return text
	}
	// Removing one layer of markup can expose another, so strip to fixpoint.
	for {
		next := strip(text)
		if next == text {
			return strings.TrimSpace(text)
		}
		text = next
	}
}

func strip(text string) string {
	text = pairedTagRe.ReplaceAllString(text, "")
	text = functionRe.ReplaceAllString(text, "")
	text = tokenRe.ReplaceAllString(text, "")
	return danglingRe.ReplaceAllString(text, "")
}

func hasIndicator(text string) bool {
	for _, ind := range indicators {
		if strings.Contains(text, ind) {
			return true
		}
	}
	return false
}
