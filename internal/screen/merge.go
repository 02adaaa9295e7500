// Package screen implements the screening pipeline: message dispatch, job
// processing, chunk fan-out, and result merging.
package screen

import (
	"encoding/json"
	"regexp"

	"github.com/verifyd/screening-worker/internal/domain"
)

// Status marker conventions in model output.
const (
	statusField = "status"
	statusGood  = "Good"
	statusBad   = "Bad"
)

var (
	// Fenced ```json blocks take precedence over bare objects.
	fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

	// Bare JSON objects, tolerating one level of nesting.
	braceJSONPattern = regexp.MustCompile(`\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)
)

// ExtractJSON pulls the first parseable JSON object out of raw model
// output. Models wrap their structured answer in markdown fences or prose;
// fenced blocks are tried first, then any brace-delimited candidate.
func ExtractJSON(raw string) (domain.Result, bool) {
	if m := fencedJSONPattern.FindStringSubmatch(raw); len(m) == 2 {
		if result, ok := parseObject(m[1]); ok {
			return result, true
		}
	}

	for _, candidate := range braceJSONPattern.FindAllString(raw, -1) {
		if result, ok := parseObject(candidate); ok {
			return result, true
		}
	}

	return nil, false
}

func parseObject(s string) (domain.Result, bool) {
	var result domain.Result
	if err := json.Unmarshal([]byte(s), &result); err != nil {
		return nil, false
	}
	if len(result) == 0 {
		return nil, false
	}
	return result, true
}

// MergeResults selects the winning payload among successful chunk outputs,
// given in completion order. The first payload whose extracted status is
// "Good" wins; otherwise the first extractable payload; otherwise the first
// raw payload wrapped verbatim. An empty input yields the fallback.
//
// When several payloads carry a "Good" status the winner depends on chunk
// completion order, which is not deterministic across runs.
func MergeResults(payloads []string) domain.Result {
	if len(payloads) == 0 {
		return FallbackResult()
	}

	var firstExtracted domain.Result
	for _, payload := range payloads {
		result, ok := ExtractJSON(payload)
		if !ok {
			continue
		}
		if firstExtracted == nil {
			firstExtracted = result
		}
		if status, _ := result[statusField].(string); status == statusGood {
			return result
		}
	}

	if firstExtracted != nil {
		return firstExtracted
	}

	return domain.Result{"raw_response": payloads[0]}
}

// FallbackResult is the fixed low-confidence payload produced when every
// chunk of a document failed. It is a normal completed result, not an
// error.
func FallbackResult() domain.Result {
	return domain.Result{
		statusField:         statusBad,
		"validation_reason": "document could not be processed",
		"quality_analysis":  "automated processing failed for all document segments",
		"confidence":        0.0,
	}
}
