package batch

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/resources"
	"github.com/merakimate/merakimate/pkg/util"
)

// Default bulk file names under the data directory.
const (
	VLANsFile           = "vlans.yaml"
	DHCPFile            = "dhcp.yaml"
	FixedIPsFile        = "fixed_ips.yaml"
	ReservedRangesFile  = "reserved_ranges.yaml"
	L3FirewallFile      = "l3_firewall_rules.yaml"
	InboundFirewallFile = "inbound_firewall_rules.yaml"
	PolicyObjectsFile   = "policy_objects.yaml"
)

// readList loads the list stored under key in a YAML mapping. An empty
// key accepts a top-level list as well.
func readList(path, key string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", util.ErrValidationFailed, path, err)
	}

	var items []any
	switch d := doc.(type) {
	case []any:
		items = d
	case map[string]any:
		list, ok := d[key].([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s: no %q list", util.ErrValidationFailed, path, key)
		}
		items = list
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s: unexpected document %T", util.ErrValidationFailed, path, doc)
	}

	rows := make([]map[string]any, len(items))
	for i, item := range items {
		m, _ := item.(map[string]any)
		rows[i] = m
	}
	return rows, nil
}

// VLANs reads `vlans:` entries (id, name, subnet, appliance_ip) for one network.
func VLANs(path, networkID string) (Source, error) {
	rows, err := readList(path, "vlans")
	if err != nil {
		return nil, err
	}
	scope := reconcile.Scope{Kind: reconcile.KindVLAN, ID: networkID}
	return newRowSource(rows, func(_ int, row map[string]any) ([]Entry, error) {
		v, err := required(row, "id", "name", "subnet", "appliance_ip")
		if err != nil {
			return nil, err
		}
		if err := validateVLAN(v[0]); err != nil {
			return nil, err
		}
		if !util.IsValidIPv4CIDR(v[2]) {
			return nil, invalid("subnet", "%q is not an IPv4 CIDR", v[2])
		}
		if !util.IsValidIPv4(v[3]) {
			return nil, invalid("appliance_ip", "%q is not an IPv4 address", v[3])
		}
		return []Entry{{Scope: scope, Record: reconcile.Record{
			"id":          v[0],
			"name":        v[1],
			"subnet":      v[2],
			"applianceIp": v[3],
		}}}, nil
	}), nil
}

// DHCP reads `dhcp_settings:` entries. Every field other than vlan_id is
// passed through in the vendor's field names.
func DHCP(path, networkID string) (Source, error) {
	rows, err := readList(path, "dhcp_settings")
	if err != nil {
		return nil, err
	}
	return newRowSource(rows, func(_ int, row map[string]any) ([]Entry, error) {
		v, err := required(row, "vlan_id")
		if err != nil {
			return nil, err
		}
		if err := validateVLAN(v[0]); err != nil {
			return nil, err
		}
		rec := reconcile.Record{"vlan": v[0]}
		for k, val := range row {
			if k != "vlan_id" {
				rec[k] = val
			}
		}
		if len(rec) == 1 {
			return nil, invalid("", "no DHCP fields for VLAN %s", v[0])
		}
		return []Entry{{Scope: resources.NetworkVLANScope(reconcile.KindDHCP, networkID, v[0]), Record: rec}}, nil
	}), nil
}

// FixedIPs reads `fixed_ips:` entries (vlan_id, mac, ip, name).
func FixedIPs(path, networkID string) (Source, error) {
	rows, err := readList(path, "fixed_ips")
	if err != nil {
		return nil, err
	}
	return newRowSource(rows, func(_ int, row map[string]any) ([]Entry, error) {
		v, err := required(row, "vlan_id", "mac", "ip", "name")
		if err != nil {
			return nil, err
		}
		if err := validateVLAN(v[0]); err != nil {
			return nil, err
		}
		mac, err := util.NormalizeMAC(v[1])
		if err != nil {
			return nil, invalid("mac", "%v", err)
		}
		if !util.IsValidIPv4(v[2]) {
			return nil, invalid("ip", "%q is not an IPv4 address", v[2])
		}
		return []Entry{{
			Scope:  resources.NetworkVLANScope(reconcile.KindFixedIP, networkID, v[0]),
			Record: reconcile.Record{"mac": mac, "ip": v[2], "name": v[3]},
		}}, nil
	}), nil
}

// ReservedRanges reads `reserved_ranges:` entries (vlan_id, start, end, comment).
func ReservedRanges(path, networkID string) (Source, error) {
	rows, err := readList(path, "reserved_ranges")
	if err != nil {
		return nil, err
	}
	return newRowSource(rows, func(_ int, row map[string]any) ([]Entry, error) {
		v, err := required(row, "vlan_id", "start", "end")
		if err != nil {
			return nil, err
		}
		if err := validateVLAN(v[0]); err != nil {
			return nil, err
		}
		for i, f := range []string{"start", "end"} {
			if !util.IsValidIPv4(v[i+1]) {
				return nil, invalid(f, "%q is not an IPv4 address", v[i+1])
			}
		}
		return []Entry{{
			Scope:  resources.NetworkVLANScope(reconcile.KindReservedRange, networkID, v[0]),
			Record: reconcile.Record{"start": v[1], "end": v[2], "comment": text(row["comment"])},
		}}, nil
	}), nil
}

// FirewallRules reads a rule list, either top-level or under `rules:`.
func FirewallRules(path, networkID, ruleSet string) (Source, error) {
	scope, err := FirewallScope(networkID, ruleSet)
	if err != nil {
		return nil, err
	}
	rows, err := readList(path, "rules")
	if err != nil {
		return nil, err
	}
	return newRowSource(rows, func(_ int, row map[string]any) ([]Entry, error) {
		rec, err := FirewallRule(row)
		if err != nil {
			return nil, err
		}
		return []Entry{{Scope: scope, Record: rec}}, nil
	}), nil
}

// FirewallScope is the scope of one rule set of a network.
func FirewallScope(networkID, ruleSet string) (reconcile.Scope, error) {
	if _, err := resources.FirewallPath(networkID, ruleSet); err != nil {
		return reconcile.Scope{}, err
	}
	return reconcile.Scope{Kind: reconcile.KindFirewallRuleSet, ID: networkID + "/" + ruleSet}, nil
}

// FirewallRule normalizes one rule row. policy, protocol and destCidr are
// required; missing source/destination ports and source CIDR default to
// "Any". Other fields pass through.
func FirewallRule(row map[string]any) (reconcile.Record, error) {
	v, err := required(row, "policy", "protocol", "destCidr")
	if err != nil {
		return nil, err
	}
	policy := strings.ToLower(v[0])
	if policy != "allow" && policy != "deny" {
		return nil, invalid("policy", "%q is not allow or deny", v[0])
	}
	rec := reconcile.Record{}
	for k, val := range row {
		rec[k] = val
	}
	rec["policy"] = policy
	rec["protocol"] = strings.ToLower(v[1])
	for _, f := range []string{"srcCidr", "srcPort", "destPort"} {
		if text(rec[f]) == "" {
			rec[f] = "Any"
		}
	}
	return rec, nil
}

// PolicyObjectIPs reads an `ips:` list and yields one /32 cidr object per
// address, named <base>-<ip with dashes>.
func PolicyObjectIPs(path, orgID, baseName string) (Source, error) {
	if strings.TrimSpace(baseName) == "" {
		return nil, fmt.Errorf("%w: policy object base name required", util.ErrValidationFailed)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var doc struct {
		IPs []any `yaml:"ips"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", util.ErrValidationFailed, path, err)
	}
	rows := make([]map[string]any, len(doc.IPs))
	for i, ip := range doc.IPs {
		rows[i] = map[string]any{"ip": ip}
	}
	return IPList(rows, orgID, baseName), nil
}

// IPList yields policy objects for rows holding an "ip" field.
func IPList(rows []map[string]any, orgID, baseName string) Source {
	scope := reconcile.Scope{Kind: reconcile.KindPolicyObject, ID: orgID}
	return newRowSource(rows, func(_ int, row map[string]any) ([]Entry, error) {
		v, err := required(row, "ip")
		if err != nil {
			return nil, err
		}
		if !util.IsValidIPv4(v[0]) {
			return nil, invalid("ip", "%q is not an IPv4 address", v[0])
		}
		return []Entry{{Scope: scope, Record: PolicyObjectRecord(baseName, v[0])}}, nil
	})
}

// PolicyObjectRecord is the cidr object created for one address.
func PolicyObjectRecord(baseName, ip string) reconcile.Record {
	return reconcile.Record{
		"name":     baseName + "-" + strings.ReplaceAll(ip, ".", "-"),
		"category": "network",
		"type":     "cidr",
		"cidr":     ip + "/32",
	}
}

func validateVLAN(id string) error {
	ids, err := util.ExpandVLANRange(id)
	if err != nil || len(ids) != 1 {
		return invalid("vlan_id", "%q is not a VLAN id", id)
	}
	return nil
}
