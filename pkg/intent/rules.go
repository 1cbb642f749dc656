package intent

import (
	"sort"
	"strings"
)

// vocabulary is a set of trigger phrases matched on word boundaries.
type vocabulary []string

// compileVocabulary lowercases triggers and orders them longest first so
// that the most specific phrase is reported when several overlap.
func compileVocabulary(triggers ...string) vocabulary {
	v := make(vocabulary, 0, len(triggers))
	for _, t := range triggers {
		v = append(v, strings.ToLower(t))
	}
	sort.SliceStable(v, func(i, j int) bool {
		return len(v[i]) > len(v[j])
	})
	return v
}

// matches returns every trigger found in the lowercased prompt.
func (v vocabulary) matches(promptLower string) []string {
	var matched []string
	for _, trigger := range v {
		if containsTrigger(promptLower, trigger) {
			matched = append(matched, trigger)
		}
	}
	return matched
}

// first returns the earliest position of any trigger, or -1.
func (v vocabulary) first(promptLower string) int {
	best := -1
	for _, trigger := range v {
		idx := indexTrigger(promptLower, trigger)
		if idx >= 0 && (best < 0 || idx < best) {
			best = idx
		}
	}
	return best
}

// containsTrigger checks if the prompt contains the trigger phrase as a
// whole word or phrase.
func containsTrigger(prompt, trigger string) bool {
	return indexTrigger(prompt, trigger) >= 0
}

// indexTrigger returns the first word-bounded occurrence of trigger.
func indexTrigger(prompt, trigger string) int {
	if trigger == "" {
		return -1
	}
	offset := 0
	for {
		idx := strings.Index(prompt[offset:], trigger)
		if idx == -1 {
			return -1
		}
		idx += offset
		endIdx := idx + len(trigger)

		before := idx == 0 || !isWordChar(prompt[idx-1])
		after := endIdx >= len(prompt) || !isWordChar(prompt[endIdx])
		if before && after {
			return idx
		}
		offset = idx + 1
		if offset >= len(prompt) {
			return -1
		}
	}
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}

func hasWordChar(s string) bool {
	for i := 0; i < len(s); i++ {
		if isWordChar(s[i]) || s[i] >= 0x80 {
			return true
		}
	}
	return false
}
