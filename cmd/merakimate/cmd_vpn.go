package main

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/merakimate/merakimate/pkg/batch"
	"github.com/merakimate/merakimate/pkg/cli"
	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/util"
)

// Default workbook under the bulk directory.
const vpnWorkbookFile = "vpn_exclusion_input.xlsx"

var vpnExclusionCmd = &cobra.Command{
	Use:   "vpn-exclusion",
	Short: "Push or remove VPN exclusions from a workbook",
	Long: `Push or remove appliance VPN exclusions across organizations.

The workbook has an Organizations sheet (OrganizationId column), an IPList
sheet (IP column) and, for push, an optional AppList sheet (id, name) of
major applications to exclude.

For every organization the networks are listed and selected either with
--networks (comma-separated ids, or "all") or interactively.

Examples:
  merakimate vpn-exclusion push
  merakimate vpn-exclusion push sites.xlsx --networks all -x
  merakimate vpn-exclusion remove sites.xlsx --networks L_1,L_2 -x`,
}

var vpnNetworks string

var vpnPushCmd = &cobra.Command{
	Use:   "push [workbook]",
	Short: "Add the workbook's IPs (and apps) to the selected networks",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVpnWorkbook(cmd, args, reconcile.ModeMerge)
	},
}

var vpnRemoveCmd = &cobra.Command{
	Use:   "remove [workbook]",
	Short: "Remove the workbook's IPs from the selected networks",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVpnWorkbook(cmd, args, reconcile.ModeRemove)
	},
}

func runVpnWorkbook(cmd *cobra.Command, args []string, mode reconcile.Mode) error {
	wb, err := batch.ReadVpnWorkbook(bulkPath(args, 0, vpnWorkbookFile))
	if err != nil {
		return err
	}
	return withSession(cmd, func(ctx context.Context, s *session) error {
		return pushVpnWorkbook(ctx, s, wb, mode, vpnNetworks)
	})
}

// pushVpnWorkbook selects networks in every workbook organization and
// reconciles the workbook's exclusions into them.
func pushVpnWorkbook(ctx context.Context, s *session, wb *batch.VpnWorkbook, mode reconcile.Mode, spec string) error {
	operation := "vpn-exclusion-push"
	if mode == reconcile.ModeRemove {
		operation = "vpn-exclusion-remove"
	}
	var networks []string
	for _, org := range wb.Organizations {
		items, err := s.VpnExclusionsByNetwork(ctx, org)
		if err != nil {
			fmt.Printf("%s organization %s: %v\n", red("Skipping"), org, err)
			continue
		}
		picked, err := selectNetworks(org, items, spec)
		if err != nil {
			return err
		}
		networks = append(networks, picked...)
	}
	if len(networks) == 0 {
		fmt.Println("No networks selected.")
		return nil
	}

	jobs := groupJobs(wb.Exclusions(networks, mode), mode)
	if mode == reconcile.ModeMerge && len(wb.Apps) > 0 {
		jobs = append(jobs, groupJobs(wb.MajorApps(networks), mode)...)
	}
	return runJobs(ctx, s, operation, mode, jobs)
}

// selectNetworks picks networks of one organization. spec is "all", a
// list of network ids, or empty to ask the operator.
func selectNetworks(org string, items []meraki.NetworkExclusions, spec string) ([]string, error) {
	if len(items) == 0 {
		fmt.Printf("No appliance networks in organization %s\n", org)
		return nil, nil
	}
	ids := make([]string, len(items))
	for i, n := range items {
		ids[i] = n.NetworkID
	}
	switch spec {
	case "all":
		return ids, nil
	case "":
	default:
		var picked []string
		for _, id := range util.SplitCommaSeparated(spec) {
			if slices.Contains(ids, id) {
				picked = append(picked, id)
			}
		}
		return picked, nil
	}

	p := stdin()
	fmt.Fprintf(p.Out(), "\n%s\n", bold("Networks in organization "+org+":"))
	for i, n := range items {
		fmt.Fprintf(p.Out(), "  [%d] %s (%s)\n", i, n.NetworkName, n.NetworkID)
	}
	for {
		answer, err := p.Ask("Indexes (e.g. 0,2), c for all, s to skip", "s")
		if err != nil {
			return nil, err
		}
		switch answer {
		case "s":
			return nil, nil
		case "c":
			return ids, nil
		}
		picked, ok := pickIndexes(answer, ids)
		if ok {
			return picked, nil
		}
		fmt.Fprintln(p.Out(), yellow("Invalid selection."))
	}
}

// pickIndexes returns the ids at the comma-separated indexes in answer.
func pickIndexes(answer string, ids []string) ([]string, bool) {
	var out []string
	for _, f := range util.SplitCommaSeparated(answer) {
		i, err := strconv.Atoi(f)
		if err != nil || i < 0 || i >= len(ids) {
			return nil, false
		}
		out = append(out, ids[i])
	}
	return out, len(out) > 0
}

var s2sUnmask bool

var s2sCmd = &cobra.Command{
	Use:   "s2s",
	Short: "Show site-to-site VPN peers and settings",
	Long: `Show the organization's third-party VPN peers and, when a network is
selected, its site-to-site VPN mode, subnets and hubs.

Peer secrets are masked. --unmask shows them only when the API key can
write to the organization (checked by creating and deleting a throwaway policy object).

Examples:
  merakimate -o 123 s2s
  merakimate -o 123 -n N_1 s2s --unmask`,
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return showSiteToSite(ctx, s, org, networkID, s2sUnmask)
		})
	},
}

// showSiteToSite prints the organization's peers and, when network is set,
// its site-to-site settings.
func showSiteToSite(ctx context.Context, s *session, org, network string, unmaskSecrets bool) error {
	peers, err := s.ThirdPartyPeers(ctx, org)
	if err != nil {
		return err
	}
	unmask := false
	if unmaskSecrets {
		unmask, err = s.HasWriteAccess(ctx, org)
		if err != nil {
			util.Warnf("write check cleanup: %v", err)
		}
		if !unmask {
			fmt.Println(yellow("API key has no write access; secrets stay masked."))
		}
	}
	for i := range peers {
		if !unmask {
			peers[i].Secret = util.MaskSecret(peers[i].Secret)
		}
	}

	var vpn *meraki.SiteToSiteVPN
	if network != "" {
		if vpn, err = s.SiteToSiteVPN(ctx, network); err != nil {
			return err
		}
	}
	if jsonOutput {
		return printJSON(map[string]any{"peers": peers, "site_to_site": vpn})
	}
	printPeers(peers)
	if vpn != nil {
		printSiteToSite(vpn)
	}
	return nil
}

func printPeers(peers []meraki.ThirdPartyPeer) {
	if len(peers) == 0 {
		fmt.Println("No VPN peers found.")
		return
	}
	fmt.Println(bold("Site-to-Site VPN Peers"))
	t := cli.NewTable("NAME", "PUBLIC IP", "IKE", "SECRET", "SUBNETS", "PRIORITY")
	for _, p := range peers {
		priority := "N/A"
		if p.PriorityInGroup != nil {
			priority = strconv.Itoa(*p.PriorityInGroup)
		}
		t.Row(orNA(p.Name), orNA(p.PublicIP), orNA(p.IkeVersion), orNA(p.Secret), strings.Join(p.PrivateSubnets, ", "), priority)
	}
	t.Flush()
}

func printSiteToSite(vpn *meraki.SiteToSiteVPN) {
	fmt.Printf("\n%s %s\n", bold("Mode:"), orNA(vpn.Mode))
	if len(vpn.Subnets) == 0 {
		fmt.Println("No subnets in VPN config.")
	} else {
		t := cli.NewTable("LOCAL SUBNET", "USE VPN")
		for _, sn := range vpn.Subnets {
			t.Row(sn.LocalSubnet, strconv.FormatBool(sn.UseVpn))
		}
		t.Flush()
	}
	if vpn.Mode == "hub" && len(vpn.Hubs) > 0 {
		fmt.Println()
		t := cli.NewTable("HUB ID", "DEFAULT ROUTE")
		for _, h := range vpn.Hubs {
			t.Row(h.HubID, strconv.FormatBool(h.UseDefaultRoute))
		}
		t.Flush()
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func init() {
	vpnExclusionCmd.PersistentFlags().StringVar(&vpnNetworks, "networks", "", `Networks to update: comma-separated ids or "all" (default: ask)`)
	vpnExclusionCmd.AddCommand(vpnPushCmd, vpnRemoveCmd)
	s2sCmd.Flags().BoolVar(&s2sUnmask, "unmask", false, "Show peer secrets when the key has write access")
}
