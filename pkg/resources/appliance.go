package resources

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/util"
)

// DHCPFields are the VLAN fields a DHCP record manages.
var DHCPFields = []string{
	"dhcpHandling",
	"dhcpLeaseTime",
	"dhcpBootOptionsEnabled",
	"dhcpBootNextServer",
	"dhcpBootFilename",
	"dhcpOptions",
	"dhcpRelayServerIps",
	"dnsNameservers",
	"mandatoryDhcp",
}

// Firewall rule sets addressed by the second half of a firewall scope id.
const (
	RuleSetL3      = "l3"
	RuleSetInbound = "inbound"
)

// DefaultRuleComment marks the rule the vendor appends to every rule set.
const DefaultRuleComment = "Default rule"

func vlanPath(scope reconcile.Scope) (string, error) {
	network, vlan, err := SplitScopeID(scope)
	if err != nil {
		return "", err
	}
	return meraki.VLANPath(network, vlan), nil
}

func vlanOf(doc map[string]any) string {
	return fieldString(doc, "id")
}

// newDHCPClient manages the DHCP settings of one VLAN as a single record
// identified by the VLAN id.
func newDHCPClient(api API) *sectionClient {
	return &sectionClient{
		api:  api,
		kind: reconcile.KindDHCP,
		path: vlanPath,
		extract: func(doc map[string]any) []reconcile.Record {
			r := reconcile.Record{"vlan": vlanOf(doc)}
			for _, f := range DHCPFields {
				if v, ok := doc[f]; ok {
					r[f] = v
				}
			}
			return []reconcile.Record{r}
		},
		compose: func(doc map[string]any, final []reconcile.Record) (map[string]any, error) {
			if len(final) > 1 {
				return nil, fmt.Errorf("%w: %d DHCP records for VLAN %s", util.ErrValidationFailed, len(final), vlanOf(doc))
			}
			out := cloneDoc(doc)
			for _, r := range final {
				for k, v := range r {
					if k != "vlan" {
						out[k] = v
					}
				}
			}
			return out, nil
		},
		now: time.Now,
	}
}

// newFixedIPClient manages the fixedIpAssignments map of one VLAN as
// {mac, ip, name} records ordered by MAC.
func newFixedIPClient(api API) *sectionClient {
	return &sectionClient{
		api:  api,
		kind: reconcile.KindFixedIP,
		path: vlanPath,
		extract: func(doc map[string]any) []reconcile.Record {
			assigned, _ := doc["fixedIpAssignments"].(map[string]any)
			macs := make([]string, 0, len(assigned))
			for mac := range assigned {
				macs = append(macs, mac)
			}
			sort.Strings(macs)
			out := make([]reconcile.Record, 0, len(macs))
			for _, mac := range macs {
				r := reconcile.Record{"mac": strings.ToLower(mac)}
				if fields, ok := assigned[mac].(map[string]any); ok {
					for k, v := range fields {
						r[k] = v
					}
				}
				out = append(out, r)
			}
			return out
		},
		compose: func(doc map[string]any, final []reconcile.Record) (map[string]any, error) {
			assigned := make(map[string]any, len(final))
			for _, r := range final {
				mac := fieldString(r, "mac")
				if mac == "" {
					return nil, fmt.Errorf("%w: fixed IP record without mac", util.ErrValidationFailed)
				}
				assigned[strings.ToLower(mac)] = without(r, "mac", "vlan")
			}
			out := cloneDoc(doc)
			out["fixedIpAssignments"] = assigned
			return out, nil
		},
		now: time.Now,
	}
}

// newReservedRangeClient manages the reservedIpRanges list of one VLAN.
func newReservedRangeClient(api API) *sectionClient {
	extract, compose := listSection("reservedIpRanges")
	return &sectionClient{
		api:     api,
		kind:    reconcile.KindReservedRange,
		path:    vlanPath,
		extract: extract,
		compose: func(doc map[string]any, final []reconcile.Record) (map[string]any, error) {
			cleaned := make([]reconcile.Record, len(final))
			for i, r := range final {
				cleaned[i] = without(r, "vlan")
			}
			return compose(doc, cleaned)
		},
		now: time.Now,
	}
}

// FirewallPath is the rule set endpoint of a network.
func FirewallPath(networkID, ruleSet string) (string, error) {
	switch ruleSet {
	case RuleSetL3, RuleSetInbound:
		return "/networks/" + url.PathEscape(networkID) + "/appliance/firewall/" + ruleSet + "FirewallRules", nil
	}
	return "", fmt.Errorf("%w: unknown firewall rule set %q (want %s or %s)",
		util.ErrValidationFailed, ruleSet, RuleSetL3, RuleSetInbound)
}

// isDefaultRule reports whether r is the vendor-maintained trailing rule.
func isDefaultRule(r reconcile.Record) bool {
	return strings.EqualFold(fieldString(r, "comment"), DefaultRuleComment)
}

// newFirewallClient manages one rule set. The trailing default rule is
// left out of the records and never sent back.
func newFirewallClient(api API) *sectionClient {
	return &sectionClient{
		api:  api,
		kind: reconcile.KindFirewallRuleSet,
		path: func(scope reconcile.Scope) (string, error) {
			network, set, err := SplitScopeID(scope)
			if err != nil {
				return "", err
			}
			return FirewallPath(network, set)
		},
		extract: func(doc map[string]any) []reconcile.Record {
			rules := records(doc["rules"])
			if n := len(rules); n > 0 && isDefaultRule(rules[n-1]) {
				rules = rules[:n-1]
			}
			return rules
		},
		compose: func(doc map[string]any, final []reconcile.Record) (map[string]any, error) {
			rules := make([]reconcile.Record, 0, len(final))
			for _, r := range final {
				if !isDefaultRule(r) {
					rules = append(rules, r)
				}
			}
			out := cloneDoc(doc)
			out["rules"] = toList(rules)
			return out, nil
		},
		now: time.Now,
	}
}

// VpnExclusionsPath is the VPN exclusion endpoint of a network.
func VpnExclusionsPath(networkID string) string {
	return "/networks/" + url.PathEscape(networkID) + "/appliance/trafficShaping/vpnExclusions"
}

func networkID(scope reconcile.Scope) (string, error) {
	if scope.ID == "" || strings.Contains(scope.ID, "/") {
		return "", fmt.Errorf("%w: scope %s: want a network id", util.ErrValidationFailed, scope)
	}
	return scope.ID, nil
}

func vpnExclusionsPath(scope reconcile.Scope) (string, error) {
	network, err := networkID(scope)
	if err != nil {
		return "", err
	}
	return VpnExclusionsPath(network), nil
}

func newVpnExclusionClient(api API) *sectionClient {
	extract, compose := listSection("custom")
	return &sectionClient{api: api, kind: reconcile.KindVpnExclusion, path: vpnExclusionsPath, extract: extract, compose: compose, now: time.Now}
}

func newVpnMajorAppClient(api API) *sectionClient {
	extract, compose := listSection("majorApplications")
	return &sectionClient{api: api, kind: reconcile.KindVpnMajorApp, path: vpnExclusionsPath, extract: extract, compose: compose, now: time.Now}
}
