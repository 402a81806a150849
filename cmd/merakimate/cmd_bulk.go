package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/merakimate/merakimate/pkg/batch"
	"github.com/merakimate/merakimate/pkg/cli"
	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/resources"
	"github.com/merakimate/merakimate/pkg/util"
)

// fileSource opens a bulk file for the selected network.
type fileSource func(path, networkID string) (batch.Source, error)

// pushCmd builds "<noun> push [file]" for a network-scoped bulk file.
func pushCmd(operation, defaultFile string, open fileSource) *cobra.Command {
	return &cobra.Command{
		Use:   "push [file]",
		Short: "Merge a bulk file into the network (default: <bulk_dir>/" + defaultFile + ")",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			network, err := requireNetwork()
			if err != nil {
				return err
			}
			src, err := open(bulkPath(args, 0, defaultFile), network)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return runBatch(ctx, s, operation, reconcile.ModeMerge, src)
			})
		},
	}
}

var vlanCmd = &cobra.Command{
	Use:   "vlan",
	Short: "Manage appliance VLANs",
	Long: `Manage MX appliance VLANs of the selected network.

vlans.yaml:
  vlans:
    - id: 10
      name: Data
      subnet: 192.168.10.0/24
      appliance_ip: 192.168.10.1

Examples:
  merakimate -n N_1 vlan list
  merakimate -n N_1 vlan push
  merakimate -n N_1 vlan create 20 Voice 192.168.20.0/24 192.168.20.1 -x`,
}

var vlanListCmd = &cobra.Command{
	Use:   "list",
	Short: "List VLANs",
	RunE: func(cmd *cobra.Command, args []string) error {
		network, err := requireNetwork()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			vlans, err := s.VLANs(ctx, network)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(vlans)
			}
			t := cli.NewTable("ID", "NAME", "SUBNET", "APPLIANCE IP")
			for _, v := range vlans {
				t.Row(v.ID.String(), v.Name, v.Subnet, v.ApplianceIP)
			}
			t.Flush()
			return nil
		})
	},
}

var vlanCreateCmd = &cobra.Command{
	Use:   "create <id> <name> <subnet> <appliance-ip>",
	Short: "Create one VLAN",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		network, err := requireNetwork()
		if err != nil {
			return err
		}
		src, err := manualVLAN(network, args[0], args[1], args[2], args[3])
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return runBatch(ctx, s, "vlan-create", reconcile.ModeMerge, src)
		})
	},
}

func manualVLAN(network, id, name, subnet, applianceIP string) (batch.Source, error) {
	v := util.ValidationBuilder{}
	ids, err := util.ExpandVLANRange(id)
	v.Add(err == nil && len(ids) == 1, fmt.Sprintf("%q is not a VLAN id", id))
	v.Add(name != "", "VLAN name required")
	v.Add(util.IsValidIPv4CIDR(subnet), fmt.Sprintf("%q is not an IPv4 CIDR", subnet))
	v.Add(util.IsValidIPv4(applianceIP), fmt.Sprintf("%q is not an IPv4 address", applianceIP))
	if err := v.Build(); err != nil {
		return nil, err
	}
	return batch.Manual(reconcile.Scope{Kind: reconcile.KindVLAN, ID: network}, reconcile.Record{
		"id":          id,
		"name":        name,
		"subnet":      subnet,
		"applianceIp": applianceIP,
	}), nil
}

var dhcpCmd = &cobra.Command{
	Use:   "dhcp",
	Short: "Manage per-VLAN DHCP settings",
	Long: `Manage DHCP handling of appliance VLANs.

dhcp.yaml:
  dhcp_settings:
    - vlan_id: 10
      dhcpHandling: Run a DHCP server
      dhcpLeaseTime: 1 day
      dnsNameservers: upstream_dns

Examples:
  merakimate -n N_1 dhcp push
  merakimate -n N_1 dhcp set 10 --lease "12 hours" --dns google_dns -x
  merakimate -n N_1 dhcp set 20 --relay 10.0.0.5,10.0.0.6 -x`,
}

var (
	dhcpLease string
	dhcpDNS   string
	dhcpRelay string
)

// DHCP handling values accepted by the dashboard.
const (
	dhcpServer = "Run a DHCP server"
	dhcpRelays = "Relay DHCP to another server"
)

var dhcpSetCmd = &cobra.Command{
	Use:   "set <vlan>",
	Short: "Configure DHCP server or relay for one VLAN",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		network, err := requireNetwork()
		if err != nil {
			return err
		}
		rec, err := dhcpRecord(args[0], dhcpLease, dhcpDNS, dhcpRelay)
		if err != nil {
			return err
		}
		src := batch.Manual(resources.NetworkVLANScope(reconcile.KindDHCP, network, args[0]), rec)
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return runBatch(ctx, s, "dhcp-set", reconcile.ModeMerge, src)
		})
	},
}

// dhcpRecord builds a relay record when relay is set, else a server
// record. A dns value other than the named resolvers is a custom list.
func dhcpRecord(vlan, lease, dns, relay string) (reconcile.Record, error) {
	if ids, err := util.ExpandVLANRange(vlan); err != nil || len(ids) != 1 {
		return nil, util.NewValidationError(fmt.Sprintf("%q is not a VLAN id", vlan))
	}
	rec := reconcile.Record{"vlan": vlan}
	if relay != "" {
		ips := util.SplitCommaSeparated(relay)
		list := make([]any, 0, len(ips))
		for _, ip := range ips {
			if !util.IsValidIPv4(ip) {
				return nil, util.NewValidationError(fmt.Sprintf("relay server %q is not an IPv4 address", ip))
			}
			list = append(list, ip)
		}
		rec["dhcpHandling"] = dhcpRelays
		rec["dhcpRelayServerIps"] = list
		return rec, nil
	}
	rec["dhcpHandling"] = dhcpServer
	rec["dhcpLeaseTime"] = lease
	switch dns {
	case "upstream_dns", "google_dns", "opendns":
		rec["dnsNameservers"] = dns
	default:
		rec["dnsNameservers"] = "custom"
		servers := util.SplitCommaSeparated(dns)
		list := make([]any, len(servers))
		for i, ip := range servers {
			list[i] = ip
		}
		rec["dnsCustomNameservers"] = list
	}
	return rec, nil
}

var fixedIPCmd = &cobra.Command{
	Use:   "fixed-ip",
	Short: "Manage DHCP fixed IP assignments",
	Long: `Manage MAC to IP reservations of appliance VLANs.

fixed_ips.yaml:
  fixed_ips:
    - vlan_id: 10
      mac: "00:11:22:33:44:55"
      ip: 192.168.10.50
      name: printer

Examples:
  merakimate -n N_1 fixed-ip push
  merakimate -n N_1 fixed-ip push --on-conflict overwrite-all -x`,
}

var reservedRangeCmd = &cobra.Command{
	Use:   "reserved-range",
	Short: "Manage DHCP reserved ranges",
	Long: `Manage reserved address ranges of appliance VLANs.

reserved_ranges.yaml:
  reserved_ranges:
    - vlan_id: 10
      start: 192.168.10.200
      end: 192.168.10.220
      comment: cameras`,
}

var firewallCmd = &cobra.Command{
	Use:   "firewall",
	Short: "Manage appliance L3 and inbound firewall rules",
	Long: `Manage MX firewall rule sets. The rule set is l3 or inbound.

Rule files hold a list, either top-level or under rules:
  rules:
    - comment: block guest
      policy: deny
      protocol: any
      destCidr: 10.0.0.0/8

srcCidr, srcPort and destPort default to Any.

Examples:
  merakimate -n N_1 firewall list l3
  merakimate -n N_1 firewall push l3
  merakimate -n N_1 firewall push inbound inbound.yaml -x
  merakimate -n N_1 firewall add l3 --policy deny --dest 10.0.0.0/8 --comment "block rfc1918" -x`,
}

var firewallListCmd = &cobra.Command{
	Use:       "list <l3|inbound>",
	Short:     "Show the rules of a rule set",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"l3", "inbound"},
	RunE: func(cmd *cobra.Command, args []string) error {
		network, err := requireNetwork()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return showFirewall(ctx, s, network, args[0])
		})
	},
}

// showFirewall prints the managed rules of a rule set in order. The
// trailing default rule is not managed and only noted.
func showFirewall(ctx context.Context, s *session, network, ruleSet string) error {
	scope, err := batch.FirewallScope(network, ruleSet)
	if err != nil {
		return err
	}
	client, err := resources.New(s.Client, reconcile.KindFirewallRuleSet)
	if err != nil {
		return err
	}
	state, err := client.Fetch(ctx, scope)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(state.Records)
	}
	if len(state.Records) == 0 {
		fmt.Printf("No %s rules besides the default rule\n", ruleSet)
		return nil
	}
	t := cli.NewTable("#", "POLICY", "PROTOCOL", "SOURCE", "SRC PORT", "DESTINATION", "DST PORT", "COMMENT")
	for i, r := range state.Records {
		row := []string{fmt.Sprint(i + 1)}
		for _, f := range []string{"policy", "protocol", "srcCidr", "srcPort", "destCidr", "destPort", "comment"} {
			v := ""
			if r[f] != nil {
				v = fmt.Sprint(r[f])
			}
			row = append(row, v)
		}
		t.Row(row...)
	}
	t.Flush()
	fmt.Println(cli.Dim("(followed by the default rule)"))
	return nil
}

var (
	ruleFlags struct {
		policy, protocol, src, srcPort, dest, destPort, comment string
	}
	ruleProtocols = []string{"any", "tcp", "udp", "icmp", "icmp6"}
)

var firewallAddCmd = &cobra.Command{
	Use:       "add <l3|inbound>",
	Short:     "Append one rule to a rule set",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"l3", "inbound"},
	RunE: func(cmd *cobra.Command, args []string) error {
		network, err := requireNetwork()
		if err != nil {
			return err
		}
		f := ruleFlags
		src, err := manualFirewallRule(network, args[0], f.policy, f.protocol, f.src, f.srcPort, f.dest, f.destPort, f.comment)
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return runBatch(ctx, s, "firewall-add", reconcile.ModeMerge, src)
		})
	},
}

// manualFirewallRule validates one rule and wraps it as a single-entry
// source. Addresses are "Any" or comma-separated IPv4 addresses and CIDRs.
func manualFirewallRule(network, ruleSet, policy, protocol, src, srcPort, dest, destPort, comment string) (batch.Source, error) {
	scope, err := batch.FirewallScope(network, ruleSet)
	if err != nil {
		return nil, err
	}
	v := util.ValidationBuilder{}
	v.Add(slices.Contains(ruleProtocols, strings.ToLower(protocol)),
		fmt.Sprintf("unknown protocol %q (valid: %s)", protocol, strings.Join(ruleProtocols, ", ")))
	v.Add(dest != "", "destination required")
	for _, addr := range []string{src, dest} {
		v.Add(validRuleAddress(addr), fmt.Sprintf("%q is not Any or a list of IPv4 addresses and CIDRs", addr))
	}
	if err := v.Build(); err != nil {
		return nil, err
	}
	rec, err := batch.FirewallRule(map[string]any{
		"policy":   policy,
		"protocol": protocol,
		"srcCidr":  src,
		"srcPort":  srcPort,
		"destCidr": dest,
		"destPort": destPort,
		"comment":  comment,
	})
	if err != nil {
		return nil, util.NewValidationError(err.Error())
	}
	return batch.Manual(scope, rec), nil
}

func validRuleAddress(addr string) bool {
	if strings.EqualFold(addr, "any") || addr == "" {
		return true
	}
	for _, part := range util.SplitCommaSeparated(addr) {
		if !util.IsValidIPv4(part) && !util.IsValidIPv4CIDR(part) {
			return false
		}
	}
	return true
}

var firewallPushCmd = &cobra.Command{
	Use:       "push <l3|inbound> [file]",
	Short:     "Merge a rule file into a rule set",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"l3", "inbound"},
	RunE: func(cmd *cobra.Command, args []string) error {
		network, err := requireNetwork()
		if err != nil {
			return err
		}
		name := batch.L3FirewallFile
		if args[0] == "inbound" {
			name = batch.InboundFirewallFile
		}
		src, err := batch.FirewallRules(bulkPath(args, 1, name), network, args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return runBatch(ctx, s, "firewall-push", reconcile.ModeMerge, src)
		})
	},
}

func init() {
	vlanCmd.AddCommand(vlanListCmd, vlanCreateCmd, pushCmd("vlan-push", batch.VLANsFile, batch.VLANs))

	dhcpSetCmd.Flags().StringVar(&dhcpLease, "lease", "1 day", "Lease time (30 minutes, 1 hour, 12 hours, 1 day, 1 week)")
	dhcpSetCmd.Flags().StringVar(&dhcpDNS, "dns", "upstream_dns", "upstream_dns, google_dns, opendns, or a comma-separated server list")
	dhcpSetCmd.Flags().StringVar(&dhcpRelay, "relay", "", "Relay to these servers instead of serving DHCP (comma-separated)")
	dhcpCmd.AddCommand(dhcpSetCmd, pushCmd("dhcp-push", batch.DHCPFile, batch.DHCP))

	fixedIPCmd.AddCommand(pushCmd("fixed-ip-push", batch.FixedIPsFile, batch.FixedIPs))
	reservedRangeCmd.AddCommand(pushCmd("reserved-range-push", batch.ReservedRangesFile, batch.ReservedRanges))
	ff := firewallAddCmd.Flags()
	ff.StringVar(&ruleFlags.policy, "policy", "deny", "allow or deny")
	ff.StringVar(&ruleFlags.protocol, "protocol", "any", strings.Join(ruleProtocols, ", "))
	ff.StringVar(&ruleFlags.src, "src", "Any", "Source addresses or CIDRs")
	ff.StringVar(&ruleFlags.srcPort, "src-port", "Any", "Source ports")
	ff.StringVar(&ruleFlags.dest, "dest", "", "Destination addresses or CIDRs")
	ff.StringVar(&ruleFlags.destPort, "dest-port", "Any", "Destination ports")
	ff.StringVar(&ruleFlags.comment, "comment", "", "Rule comment")
	firewallCmd.AddCommand(firewallListCmd, firewallPushCmd, firewallAddCmd)
}
