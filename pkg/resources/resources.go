// Package resources binds each reconcilable kind to its vendor API
// endpoints. Every client fetches the full JSON document of a scope,
// exposes the managed section as records, and writes back a document in
// which only that section differs from what was fetched.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/util"
)

// API is the request surface of *meraki.Client used by resource clients.
type API interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string) error
}

var _ API = (*meraki.Client)(nil)

// Client is a reconcile.Client that can also write a snapshot back.
type Client interface {
	reconcile.Client
	Restore(ctx context.Context, scope reconcile.Scope, current, snapshot *reconcile.ExistingState) (reconcile.ApplyResult, error)
}

// Kinds lists every kind New accepts.
var Kinds = []reconcile.Kind{
	reconcile.KindVLAN,
	reconcile.KindDHCP,
	reconcile.KindFixedIP,
	reconcile.KindReservedRange,
	reconcile.KindFirewallRuleSet,
	reconcile.KindPolicyObject,
	reconcile.KindVpnExclusion,
	reconcile.KindVpnMajorApp,
}

// New returns the client for kind.
func New(api API, kind reconcile.Kind) (Client, error) {
	switch kind {
	case reconcile.KindVLAN:
		return newVLANClient(api), nil
	case reconcile.KindDHCP:
		return newDHCPClient(api), nil
	case reconcile.KindFixedIP:
		return newFixedIPClient(api), nil
	case reconcile.KindReservedRange:
		return newReservedRangeClient(api), nil
	case reconcile.KindFirewallRuleSet:
		return newFirewallClient(api), nil
	case reconcile.KindPolicyObject:
		return newPolicyObjectClient(api), nil
	case reconcile.KindVpnExclusion:
		return newVpnExclusionClient(api), nil
	case reconcile.KindVpnMajorApp:
		return newVpnMajorAppClient(api), nil
	}
	return nil, fmt.Errorf("%w: unknown resource kind %q", util.ErrInvalidConfig, kind)
}

// DefaultKey returns the identity key a workflow uses for kind. VPN
// exclusion removal matches on destination alone.
func DefaultKey(kind reconcile.Kind, mode reconcile.Mode) reconcile.IdentityKey {
	switch kind {
	case reconcile.KindVLAN, reconcile.KindVpnMajorApp:
		return reconcile.IdentityKey{"id"}
	case reconcile.KindDHCP:
		return reconcile.IdentityKey{"vlan"}
	case reconcile.KindFixedIP:
		return reconcile.IdentityKey{"mac"}
	case reconcile.KindReservedRange:
		return reconcile.IdentityKey{"start", "end"}
	case reconcile.KindFirewallRuleSet:
		return reconcile.IdentityKey{"policy", "protocol", "srcCidr", "srcPort", "destCidr", "destPort"}
	case reconcile.KindPolicyObject:
		return reconcile.IdentityKey{"name"}
	case reconcile.KindVpnExclusion:
		if mode == reconcile.ModeRemove {
			return reconcile.IdentityKey{"destination"}
		}
		return reconcile.IdentityKey{"protocol", "destination", "port"}
	}
	return nil
}

// NetworkVLANScope builds the scope id for kinds addressed by network and VLAN.
func NetworkVLANScope(kind reconcile.Kind, networkID, vlanID string) reconcile.Scope {
	return reconcile.Scope{Kind: kind, ID: networkID + "/" + vlanID}
}

// SplitScopeID splits "<network>/<sub>" scope ids.
func SplitScopeID(scope reconcile.Scope) (string, string, error) {
	network, sub, ok := strings.Cut(scope.ID, "/")
	if !ok || network == "" || sub == "" {
		return "", "", fmt.Errorf("%w: scope %s: want <network>/<id>", util.ErrValidationFailed, scope)
	}
	return network, sub, nil
}

// fieldString renders a scalar field for use in a URL path.
func fieldString(r reconcile.Record, field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// records converts a decoded JSON list into records, ignoring non-objects.
func records(list any) []reconcile.Record {
	items, _ := list.([]any)
	out := make([]reconcile.Record, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, reconcile.Record(m))
		}
	}
	return out
}

// toList converts records back into a JSON list.
func toList(rs []reconcile.Record) []any {
	out := make([]any, len(rs))
	for i, r := range rs {
		out[i] = map[string]any(r)
	}
	return out
}

func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func without(r reconcile.Record, fields ...string) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// docOf recovers a JSON object document from a state, including one
// decoded from a snapshot.
func docOf(state *reconcile.ExistingState) (map[string]any, error) {
	if state == nil {
		return nil, fmt.Errorf("no state")
	}
	switch d := state.Document.(type) {
	case map[string]any:
		return d, nil
	case reconcile.Record:
		return map[string]any(d), nil
	}
	return nil, fmt.Errorf("%w: document of %s is %T, want object", util.ErrValidationFailed, state.Scope, state.Document)
}

func resultOf(plan *reconcile.MergeResult, requests int) reconcile.ApplyResult {
	return reconcile.ApplyResult{
		Requests: requests,
		Created:  len(plan.Added),
		Updated:  len(plan.Overwrites()),
		Deleted:  len(plan.Removed),
	}
}
