// Package troubleshoot filters network event logs and classifies them,
// first against an offline keyword knowledge base and then, on request,
// through a language model.
package troubleshoot

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/util"
)

// UnknownType stands in for events that carry no type.
const UnknownType = "unknown"

// PageSize is the number of events shown per page.
const PageSize = 10

// EventTypes returns the distinct event types, sorted.
func EventTypes(events []meraki.Event) []string {
	seen := make(map[string]bool)
	for _, e := range events {
		t := e.Type
		if t == "" {
			t = UnknownType
		}
		seen[t] = true
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Filter keeps events of exactly eventType whose JSON form contains any of
// the comma-separated keywords, case-insensitively. No keywords keeps all
// events of the type.
func Filter(events []meraki.Event, eventType, keywords string) []meraki.Event {
	var words []string
	for _, k := range util.SplitCommaSeparated(keywords) {
		words = append(words, strings.ToLower(k))
	}
	var out []meraki.Event
	for _, e := range events {
		if e.Type != eventType {
			continue
		}
		if len(words) == 0 || containsAny(text(e), words) {
			out = append(out, e)
		}
	}
	return out
}

// Pages splits events into pages of size events.
func Pages(events []meraki.Event, size int) [][]meraki.Event {
	if size <= 0 {
		size = PageSize
	}
	return util.Chunk(events, size)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// text is the lowercased JSON of v, the haystack for keyword matching.
func text(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.ToLower(string(data))
}
