// Package policy applies data-handling rules to call content before it
// leaves the bridge. Secondary observers receive caller transcripts with
// high-risk identifiers masked; the primary operator console receives the
// original.
package policy

import (
	"encoding/json"
	"regexp"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactPII masks common high-risk identifier patterns in spoken text.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Card redaction runs before phone so card numbers are not classified
	// as phone numbers.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// transcript fields carried by model events that quote caller or assistant
// speech.
var transcriptFields = []string{"transcript", "delta", "text"}

// RedactTranscriptEvent masks identifiers inside the speech-bearing fields
// of a raw model event. Events without such fields, and frames that fail to
// parse, pass through unchanged.
func RedactTranscriptEvent(raw []byte) []byte {
	var m map[string]any
	if json.Unmarshal(raw, &m) != nil {
		return raw
	}

	changed := false
	for _, field := range transcriptFields {
		v, ok := m[field].(string)
		if !ok || v == "" {
			continue
		}
		if out, c := RedactPII(v); c {
			m[field] = out
			changed = true
		}
	}
	if !changed {
		return raw
	}
	out, err := json.Marshal(m)
	if err != nil {
		return raw
	}
	return out
}
