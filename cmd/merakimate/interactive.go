package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/merakimate/merakimate/pkg/batch"
	"github.com/merakimate/merakimate/pkg/cli"
	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/resources"
	"github.com/merakimate/merakimate/pkg/secret"
	"github.com/merakimate/merakimate/pkg/troubleshoot"
	"github.com/merakimate/merakimate/pkg/util"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Enter interactive mode",
	Long: `Enter interactive menu mode.

The API key is resolved once. Pick an organization and network, then run
bulk pushes, browse event logs, view device status and inventory, or
create networks and configure devices. Every change is previewed first
and applied only after confirmation.

Examples:
  merakimate interactive
  merakimate -o 123 -n N_1 interactive`,
	Aliases: []string{"i"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			err := runInteractiveMode(ctx, s, stdin())
			if errors.Is(err, cli.ErrInputClosed) {
				return nil
			}
			return err
		})
	},
}

func runInteractiveMode(ctx context.Context, s *session, p *cli.Prompter) error {
	for {
		fmt.Println()
		fmt.Println(bold("=== Merakimate Interactive Mode ==="))
		if orgID != "" {
			fmt.Printf("Organization: %s\n", orgID)
		}
		if networkID != "" {
			fmt.Printf("Network: %s\n", networkID)
		}
		fmt.Println()
		fmt.Println("Main Menu:")
		fmt.Println("  1. Select organization")
		fmt.Println("  2. Select network")
		fmt.Println("  3. Bulk configuration")
		fmt.Println("  4. Event logs")
		fmt.Println("  5. Device status")
		fmt.Println("  6. Inventory")
		fmt.Println("  7. Site-to-site VPN")
		fmt.Println("  8. Networks and devices")
		fmt.Println("  q. Quit")
		fmt.Println()

		input, err := p.Ask("Select option", "")
		if err != nil {
			return err
		}

		switch input {
		case "1":
			err = selectOrganization(ctx, s, p)
		case "2":
			err = selectNetwork(ctx, s, p)
		case "3":
			err = bulkMenu(ctx, s, p)
		case "4":
			err = eventsMenu(ctx, s, p)
		case "5":
			if _, err = requireOrg(); err == nil {
				err = showStatus(ctx, s, orgID, statusThreshold, askExport(p))
			}
		case "6":
			if _, err = requireOrg(); err == nil {
				var filter string
				if filter, err = p.Ask("Filter (blank for all)", ""); err == nil {
					err = showInventory(ctx, s, orgID, filter, askExport(p))
				}
			}
		case "7":
			if _, err = requireOrg(); err == nil {
				err = showSiteToSite(ctx, s, orgID, networkID, false)
			}
		case "8":
			err = runMenu(ctx, s, p, "Networks and Devices", networkMenuItems())
		case "q", "Q", "quit", "exit":
			fmt.Println("Goodbye!")
			return nil
		default:
			fmt.Println(red("Invalid option"))
		}
		if errors.Is(err, cli.ErrInputClosed) {
			return err
		}
		if err != nil {
			fmt.Println(red("Error: " + err.Error()))
		}
	}
}

func askExport(p *cli.Prompter) bool {
	ok, _ := p.Confirm("Export as CSV and XLSX?", false)
	return ok
}

func selectOrganization(ctx context.Context, s *session, p *cli.Prompter) error {
	orgs, err := s.Organizations(ctx)
	if err != nil {
		return err
	}
	names := make([]string, len(orgs))
	for i, o := range orgs {
		names[i] = fmt.Sprintf("%s (%s)", o.Name, o.ID)
	}
	i, err := p.Choose("Organization", names)
	if err != nil {
		return err
	}
	if orgs[i].ID != orgID {
		networkID = ""
	}
	orgID = orgs[i].ID
	return nil
}

func selectNetwork(ctx context.Context, s *session, p *cli.Prompter) error {
	if _, err := requireOrg(); err != nil {
		return err
	}
	nets, err := s.Networks(ctx, orgID)
	if err != nil {
		return err
	}
	names := make([]string, len(nets))
	for i, n := range nets {
		names[i] = fmt.Sprintf("%s (%s)", n.Name, n.ID)
	}
	i, err := p.Choose("Network", names)
	if err != nil {
		return err
	}
	networkID = nets[i].ID
	return nil
}

// bulkItem is one bulk push offered by the menu.
type bulkItem struct {
	label string
	file  string
	open  func(path string) (batch.Source, error)
}

func bulkItems() []bulkItem {
	network := func(read func(path, networkID string) (batch.Source, error)) func(string) (batch.Source, error) {
		return func(path string) (batch.Source, error) {
			if _, err := requireNetwork(); err != nil {
				return nil, err
			}
			return read(path, networkID)
		}
	}
	firewall := func(ruleSet string) func(string) (batch.Source, error) {
		return network(func(path, id string) (batch.Source, error) { return batch.FirewallRules(path, id, ruleSet) })
	}
	return []bulkItem{
		{"VLANs", batch.VLANsFile, network(batch.VLANs)},
		{"DHCP settings", batch.DHCPFile, network(batch.DHCP)},
		{"Fixed IP assignments", batch.FixedIPsFile, network(batch.FixedIPs)},
		{"Reserved ranges", batch.ReservedRangesFile, network(batch.ReservedRanges)},
		{"L3 firewall rules", batch.L3FirewallFile, firewall("l3")},
		{"Inbound firewall rules", batch.InboundFirewallFile, firewall("inbound")},
	}
}

// menuItem is one numbered entry of a submenu.
type menuItem struct {
	label string
	run   func(ctx context.Context, s *session, p *cli.Prompter) error
}

// runMenu shows items until the operator goes back. Errors are printed
// and the menu shown again; closed input ends the loop.
func runMenu(ctx context.Context, s *session, p *cli.Prompter, title string, items []menuItem) error {
	for {
		fmt.Println()
		fmt.Println(bold(title))
		for i, it := range items {
			fmt.Printf("  %d. %s\n", i+1, it.label)
		}
		fmt.Println("  b. Back")

		input, err := p.Ask("Select", "")
		if err != nil {
			return err
		}
		if input == "b" {
			return nil
		}
		n := 0
		fmt.Sscan(input, &n)
		if n < 1 || n > len(items) {
			fmt.Println(red("Invalid option"))
			continue
		}
		err = items[n-1].run(ctx, s, p)
		if errors.Is(err, cli.ErrInputClosed) {
			return err
		}
		if err != nil {
			fmt.Println(red("Error: " + err.Error()))
		}
	}
}

func bulkMenuItems() []menuItem {
	var items []menuItem
	for _, it := range bulkItems() {
		items = append(items, menuItem{it.label, func(ctx context.Context, s *session, p *cli.Prompter) error {
			return interactivePush(ctx, s, p, it)
		}})
	}
	return append(items,
		menuItem{"Create one VLAN", interactiveVLAN},
		menuItem{"DHCP for one VLAN", interactiveDHCP},
		menuItem{"Show firewall rules", interactiveShowFirewall},
		menuItem{"Add one firewall rule", interactiveFirewallRule},
		menuItem{"Policy objects", func(ctx context.Context, s *session, p *cli.Prompter) error {
			return runMenu(ctx, s, p, "Policy Objects", policyMenuItems())
		}},
		menuItem{"VPN exclusions (push)", func(ctx context.Context, s *session, p *cli.Prompter) error {
			return interactiveVpn(ctx, s, p, reconcile.ModeMerge)
		}},
		menuItem{"VPN exclusions (remove)", func(ctx context.Context, s *session, p *cli.Prompter) error {
			return interactiveVpn(ctx, s, p, reconcile.ModeRemove)
		}},
	)
}

func bulkMenu(ctx context.Context, s *session, p *cli.Prompter) error {
	return runMenu(ctx, s, p, "Bulk Configuration", bulkMenuItems())
}

func policyMenuItems() []menuItem {
	return []menuItem{
		{"List objects", func(ctx context.Context, s *session, _ *cli.Prompter) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			return listPolicyObjects(ctx, s, org)
		}},
		{"List groups", func(ctx context.Context, s *session, _ *cli.Prompter) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			return listPolicyGroups(ctx, s, org)
		}},
		{"Push objects from an IP list", interactivePolicyObjects},
		{"Delete objects by name", func(ctx context.Context, s *session, p *cli.Prompter) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			search, err := p.Required("Name contains")
			if err != nil {
				return err
			}
			_, err = previewThenRun(p, func() error { return deletePolicyObjects(ctx, s, org, search) })
			return err
		}},
		{"Delete groups", func(ctx context.Context, s *session, p *cli.Prompter) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			ids, err := p.Required("Group ids (comma-separated)")
			if err != nil {
				return err
			}
			_, err = previewThenRun(p, func() error {
				return deletePolicyGroups(ctx, s, org, util.SplitCommaSeparated(ids))
			})
			return err
		}},
	}
}

func networkMenuItems() []menuItem {
	return []menuItem{
		{"Create network", interactiveCreateNetwork},
		{"Claim devices", func(ctx context.Context, s *session, p *cli.Prompter) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			network, err := requireNetwork()
			if err != nil {
				return err
			}
			serials, err := p.Required("Serials (comma-separated)")
			if err != nil {
				return err
			}
			_, err = previewThenRun(p, func() error {
				return claimDevices(ctx, s, org, network, util.SplitCommaSeparated(serials))
			})
			return err
		}},
		{"Rename device", func(ctx context.Context, s *session, p *cli.Prompter) error {
			serial, err := p.Required("Serial")
			if err != nil {
				return err
			}
			name, err := p.Required("New name")
			if err != nil {
				return err
			}
			_, err = previewThenRun(p, func() error { return renameDevice(ctx, s, serial, name) })
			return err
		}},
		{"Switch ports", interactiveSwitchPorts},
		{"Wireless SSID", interactiveSSID},
	}
}

// previewThenRun calls fn once as a dry run and, after confirmation,
// again in execute mode. It reports whether the second call ran.
func previewThenRun(p *cli.Prompter, fn func() error) (bool, error) {
	saved := executeMode
	defer func() { executeMode = saved }()

	executeMode = false
	if err := fn(); err != nil {
		return false, err
	}
	ok, err := p.Confirm("Apply these changes?", false)
	if err != nil || !ok {
		if err == nil {
			fmt.Println("Cancelled.")
		}
		return false, err
	}
	executeMode = true
	return true, fn()
}

func interactiveCreateNetwork(ctx context.Context, s *session, p *cli.Prompter) error {
	org, err := requireOrg()
	if err != nil {
		return err
	}
	name, err := p.Required("Network name")
	if err != nil {
		return err
	}
	products, err := p.Ask("Product types", "appliance,switch,wireless")
	if err != nil {
		return err
	}
	tags, err := p.Ask("Tags (comma-separated)", "")
	if err != nil {
		return err
	}
	tz, err := p.Ask("Time zone", meraki.DefaultTimeZone)
	if err != nil {
		return err
	}
	req, err := networkRequest(name, products, tags, tz)
	if err != nil {
		return err
	}
	_, err = previewThenRun(p, func() error { return createNetwork(ctx, s, org, req) })
	return err
}

func interactiveSwitchPorts(ctx context.Context, s *session, p *cli.Prompter) error {
	network, err := requireNetwork()
	if err != nil {
		return err
	}
	serial, err := p.Ask("Switch serial (blank for every switch)", "")
	if err != nil {
		return err
	}
	replicate := false
	if serial != "" {
		if replicate, err = p.Confirm("Replicate to the other switches?", false); err != nil {
			return err
		}
	}
	access, err := p.Ask("Access ports (e.g. 1-8, blank for none)", "")
	if err != nil {
		return err
	}
	vlan := 0
	if access != "" {
		if vlan, err = p.Int("Access VLAN", 1, 1, 4094); err != nil {
			return err
		}
	}
	trunk, err := p.Ask("Trunk ports (blank for none)", "")
	if err != nil {
		return err
	}
	native, allowed := 1, "all"
	if trunk != "" {
		if native, err = p.Int("Native VLAN", 1, 1, 4094); err != nil {
			return err
		}
		if allowed, err = p.Ask("Allowed VLANs", "all"); err != nil {
			return err
		}
	}
	plan, err := portPlan(access, vlan, trunk, native, allowed)
	if err != nil {
		return err
	}
	_, err = previewThenRun(p, func() error { return runPortPlan(ctx, s, network, serial, replicate, plan) })
	return err
}

func interactiveSSID(ctx context.Context, s *session, p *cli.Prompter) error {
	network, err := requireNetwork()
	if err != nil {
		return err
	}
	number, err := p.Int("SSID number", 0, 0, meraki.MaxSSIDNumber)
	if err != nil {
		return err
	}
	var opts meraki.SSIDOptions
	if opts.Name, err = p.Required("SSID name"); err != nil {
		return err
	}
	if opts.Corporate, err = p.Confirm("Corporate (WPA2-Enterprise with RADIUS)?", false); err != nil {
		return err
	}
	if opts.Corporate {
		if opts.Radius.Host, err = p.Required("RADIUS host"); err != nil {
			return err
		}
		if opts.Radius.Port, err = p.Int("RADIUS port", 1812, 1, 65535); err != nil {
			return err
		}
		if opts.Radius.Secret, err = askSecret(ctx, p, "RADIUS secret"); err != nil {
			return err
		}
	} else if opts.PSK, err = askSecret(ctx, p, "Pre-shared key"); err != nil {
		return err
	}
	if opts.Bridge, err = p.Confirm("Bridge clients onto the LAN?", false); err != nil {
		return err
	}
	if opts.Bridge {
		if opts.VLAN, err = p.Int("Tagged VLAN (0 for none)", 0, 0, 4094); err != nil {
			return err
		}
	}
	wpa, err := p.Choose("WPA encryption mode", meraki.WPAModes)
	if err != nil {
		return err
	}
	opts.WPAMode = meraki.WPAModes[wpa]
	ssid, err := meraki.NewSSID(opts)
	if err != nil {
		return util.NewValidationError(err.Error())
	}
	_, err = previewThenRun(p, func() error { return configureSSID(ctx, s, network, number, ssid) })
	return err
}

// askSecret reads without echo on a terminal. Piped input goes through
// p so its buffer is not bypassed.
func askSecret(ctx context.Context, p *cli.Prompter, label string) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return secret.Prompt{Label: label + ": ", Out: os.Stderr}.Secret(ctx)
	}
	return p.Required(label)
}

func interactiveVLAN(ctx context.Context, s *session, p *cli.Prompter) error {
	network, err := requireNetwork()
	if err != nil {
		return err
	}
	var fields [4]string
	for i, label := range []string{"VLAN id", "Name", "Subnet (CIDR)", "Appliance IP"} {
		if fields[i], err = p.Required(label); err != nil {
			return err
		}
	}
	src, err := manualVLAN(network, fields[0], fields[1], fields[2], fields[3])
	if err != nil {
		return err
	}
	_, err = previewThenApply(ctx, s, p, "vlan-create", reconcile.ModeMerge, groupJobs(src, reconcile.ModeMerge))
	return err
}

func interactiveDHCP(ctx context.Context, s *session, p *cli.Prompter) error {
	network, err := requireNetwork()
	if err != nil {
		return err
	}
	vlan, err := p.Required("VLAN id")
	if err != nil {
		return err
	}
	relay, err := p.Ask("Relay servers (comma-separated, blank to run a DHCP server)", "")
	if err != nil {
		return err
	}
	lease, dns := "1 day", "upstream_dns"
	if relay == "" {
		if lease, err = p.Ask("Lease time", lease); err != nil {
			return err
		}
		if dns, err = p.Ask("DNS (upstream_dns, google_dns, opendns or servers)", dns); err != nil {
			return err
		}
	}
	rec, err := dhcpRecord(vlan, lease, dns, relay)
	if err != nil {
		return err
	}
	src := batch.Manual(resources.NetworkVLANScope(reconcile.KindDHCP, network, vlan), rec)
	_, err = previewThenApply(ctx, s, p, "dhcp-set", reconcile.ModeMerge, groupJobs(src, reconcile.ModeMerge))
	return err
}

func chooseRuleSet(p *cli.Prompter) (string, error) {
	sets := []string{resources.RuleSetL3, resources.RuleSetInbound}
	i, err := p.Choose("Rule set", sets)
	if err != nil {
		return "", err
	}
	return sets[i], nil
}

func interactiveShowFirewall(ctx context.Context, s *session, p *cli.Prompter) error {
	network, err := requireNetwork()
	if err != nil {
		return err
	}
	set, err := chooseRuleSet(p)
	if err != nil {
		return err
	}
	return showFirewall(ctx, s, network, set)
}

func interactiveFirewallRule(ctx context.Context, s *session, p *cli.Prompter) error {
	network, err := requireNetwork()
	if err != nil {
		return err
	}
	set, err := chooseRuleSet(p)
	if err != nil {
		return err
	}
	if err := showFirewall(ctx, s, network, set); err != nil {
		return err
	}
	answers := map[string]string{}
	for _, q := range []struct{ field, label, def string }{
		{"policy", "Policy (allow/deny)", "deny"},
		{"protocol", "Protocol", "any"},
		{"src", "Source", "Any"},
		{"srcPort", "Source port", "Any"},
		{"dest", "Destination", ""},
		{"destPort", "Destination port", "Any"},
		{"comment", "Comment", ""},
	} {
		v, err := p.Ask(q.label, q.def)
		if err != nil {
			return err
		}
		answers[q.field] = v
	}
	src, err := manualFirewallRule(network, set, answers["policy"], answers["protocol"], answers["src"],
		answers["srcPort"], answers["dest"], answers["destPort"], answers["comment"])
	if err != nil {
		return err
	}
	_, err = previewThenApply(ctx, s, p, "firewall-add", reconcile.ModeMerge, groupJobs(src, reconcile.ModeMerge))
	return err
}

// previewThenApply runs jobs as a dry run and, after confirmation, again
// for real. It reports whether the jobs were applied.
func previewThenApply(ctx context.Context, s *session, p *cli.Prompter, operation string, mode reconcile.Mode, jobs []reconcile.Job) (bool, error) {
	if len(jobs) == 0 {
		fmt.Println("Nothing to reconcile.")
		return false, nil
	}
	saved := executeMode
	defer func() { executeMode = saved }()

	executeMode = false
	if err := runJobs(ctx, s, operation, mode, jobs); err != nil {
		fmt.Println(red(err.Error()))
	}
	ok, err := p.Confirm("Apply these changes?", false)
	if err != nil || !ok {
		if err == nil {
			fmt.Println("Cancelled.")
		}
		return false, err
	}
	executeMode = true
	return true, runJobs(ctx, s, operation, mode, jobs)
}

func interactivePush(ctx context.Context, s *session, p *cli.Prompter, it bulkItem) error {
	path, err := p.Ask("File", bulkPath(nil, 0, it.file))
	if err != nil {
		return err
	}
	src, err := it.open(path)
	if err != nil {
		return err
	}
	jobs := groupJobs(src, reconcile.ModeMerge)
	_, err = previewThenApply(ctx, s, p, "interactive-push", reconcile.ModeMerge, jobs)
	return err
}

func interactivePolicyObjects(ctx context.Context, s *session, p *cli.Prompter) error {
	org, err := requireOrg()
	if err != nil {
		return err
	}
	base, err := p.Required("Base name")
	if err != nil {
		return err
	}
	path, err := p.Ask("File", bulkPath(nil, 0, batch.PolicyObjectsFile))
	if err != nil {
		return err
	}
	src, err := batch.PolicyObjectIPs(path, org, base)
	if err != nil {
		return err
	}
	jobs := groupJobs(src, reconcile.ModeMerge)
	applied, err := previewThenApply(ctx, s, p, "policy-object-push", reconcile.ModeMerge, jobs)
	if err != nil || !applied {
		return err
	}
	group, err := p.Confirm("Group the objects?", false)
	if err != nil || !group {
		return err
	}
	return groupPushed(ctx, s, org, base, jobs)
}

func interactiveVpn(ctx context.Context, s *session, p *cli.Prompter, mode reconcile.Mode) error {
	path, err := p.Ask("Workbook", bulkPath(nil, 0, vpnWorkbookFile))
	if err != nil {
		return err
	}
	wb, err := batch.ReadVpnWorkbook(path)
	if err != nil {
		return err
	}
	saved := executeMode
	defer func() { executeMode = saved }()
	ok, err := p.Confirm("Apply changes (no preview)?", false)
	if err != nil {
		return err
	}
	executeMode = ok
	return pushVpnWorkbook(ctx, s, wb, mode, "")
}

func eventsMenu(ctx context.Context, s *session, p *cli.Prompter) error {
	network, err := requireNetwork()
	if err != nil {
		return err
	}
	days, err := p.Int("Days of history", 1, 1, 31)
	if err != nil {
		return err
	}
	products := []string{"all", "appliance", "switch", "wireless"}
	pi, err := p.Choose("Product type", products)
	if err != nil {
		return err
	}
	events, _, err := s.NetworkEvents(ctx, network, meraki.EventQuery{Days: days, ProductType: products[pi], Now: time.Now()})
	if err != nil {
		return err
	}
	types := troubleshoot.EventTypes(events)
	if len(types) == 0 {
		fmt.Println("No events in the selected window.")
		return nil
	}
	ti, err := p.Choose("Event type", types)
	if err != nil {
		return err
	}
	keywords, err := p.Ask("Keywords (comma-separated, blank for all)", "")
	if err != nil {
		return err
	}
	filtered := troubleshoot.Filter(events, types[ti], keywords)
	if len(filtered) == 0 {
		fmt.Println("No events matched.")
		return nil
	}
	return pageEvents(ctx, p, types[ti], filtered)
}

// pageEvents shows one page at a time until the operator goes back.
func pageEvents(ctx context.Context, p *cli.Prompter, eventType string, events []meraki.Event) error {
	pages := troubleshoot.Pages(events, troubleshoot.PageSize)
	i := 0
	for {
		headers, rows := troubleshoot.Rows(eventType, pages[i])
		fmt.Printf("\n%s\n", bold(fmt.Sprintf("Page %d/%d", i+1, len(pages))))
		t := cli.NewTable(headers...)
		t.Rows(rows)
		t.Flush()

		input, err := p.Ask("[n]ext, [p]revious, [a]nalyze, [e]xport, [b]ack", "b")
		if err != nil {
			return err
		}
		switch input {
		case "n":
			if i < len(pages)-1 {
				i++
			}
		case "p":
			if i > 0 {
				i--
			}
		case "a":
			if err := analyzeEvents(ctx, eventType, events); err != nil {
				fmt.Println(red("Error: " + err.Error()))
			}
		case "e":
			path, err := troubleshoot.Export(userSettings.GetOutputDir(), events, time.Now())
			if err != nil {
				fmt.Println(red("Error: " + err.Error()))
				continue
			}
			fmt.Printf("%s %s\n", green("Exported"), path)
		case "b":
			return nil
		default:
			fmt.Println(red("Invalid option"))
		}
	}
}
