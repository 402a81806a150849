// Package reconcile implements the bulk reconciliation workflow: fetch the
// remote state of a scope, merge the desired records into it, snapshot the
// prior state and apply the merged result.
package reconcile

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Kind names a remote collection the engine knows how to reconcile.
type Kind string

const (
	KindVLAN            Kind = "vlan"
	KindDHCP            Kind = "dhcp"
	KindFixedIP         Kind = "fixed-ip"
	KindReservedRange   Kind = "reserved-range"
	KindFirewallRuleSet Kind = "firewall"
	KindPolicyObject    Kind = "policy-object"
	KindVpnExclusion    Kind = "vpn-exclusion"
	KindVpnMajorApp     Kind = "vpn-major-app"
)

// Scope identifies one remote aggregate that is written as a unit.
type Scope struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

func (s Scope) String() string {
	return string(s.Kind) + "/" + s.ID
}

// Record is one entry of a scope, in the vendor's JSON field names.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Overlay returns a copy of base with every field of top written over it.
func Overlay(base, top Record) Record {
	out := base.Clone()
	for k, v := range top {
		out[k] = v
	}
	return out
}

// Subsumes reports whether every field of candidate already holds the
// same value in existing.
func Subsumes(existing, candidate Record) bool {
	for k, v := range candidate {
		ev, ok := existing[k]
		if !ok || !sameValue(ev, v) {
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	// Values from different decoders (json.Number vs int vs string) are
	// compared by their canonical JSON form.
	ja, errA := json.Marshal(normalizeValue(a))
	jb, errB := json.Marshal(normalizeValue(b))
	return errA == nil && errB == nil && string(ja) == string(jb)
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		return scalarString(t)
	case int, int64, float64, uint, int32:
		return scalarString(t)
	case string:
		return t
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalizeValue(t[i])
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = normalizeValue(x)
		}
		return out
	case Record:
		return normalizeValue(map[string]any(t))
	}
	return v
}

// IdentityKey lists the fields whose values identify a record within its
// scope. Two records with equal key values are the same entry.
type IdentityKey []string

// ParseIdentityKey parses "protocol,destination,port".
func ParseIdentityKey(s string) IdentityKey {
	var key IdentityKey
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			key = append(key, f)
		}
	}
	return key
}

func (k IdentityKey) String() string {
	return strings.Join(k, ",")
}

// Of returns the identity of r. Field values are rendered as strings,
// trimmed and NFC-normalised, so "10" and 10 identify the same VLAN.
func (k IdentityKey) Of(r Record) string {
	parts := make([]string, len(k))
	for i, field := range k {
		parts[i] = norm.NFC.String(strings.TrimSpace(scalarString(r[field])))
	}
	return strings.Join(parts, "\x1f")
}

// Display renders the identity of r for operators: "any|10.0.0.1|any".
func (k IdentityKey) Display(r Record) string {
	return strings.ReplaceAll(k.Of(r), "\x1f", "|")
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprintf("%v", v)
}

// ExistingState is the remote state of a scope as fetched for one pass.
// Document is the full fetched body; Records are extracted from it.
type ExistingState struct {
	Scope     Scope     `json:"scope"`
	Records   []Record  `json:"records"`
	Document  any       `json:"document"`
	FetchedAt time.Time `json:"fetched_at"`
}

// SortedKeys returns the field names of r in lexical order.
func SortedKeys(r Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
