package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/merakimate/merakimate/pkg/cli"
	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/util"
)

var orgsCmd = &cobra.Command{
	Use:   "orgs",
	Short: "List organizations visible to the API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			orgs, err := s.Organizations(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(orgs)
			}
			if len(orgs) == 0 {
				fmt.Println("No organizations found")
				return nil
			}
			t := cli.NewTable("ID", "NAME")
			for _, o := range orgs {
				t.Row(o.ID, o.Name)
			}
			t.Flush()
			return nil
		})
	},
}

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "List and create networks",
	Long: `List and create networks of the selected organization.

Examples:
  merakimate -o 123 network list
  merakimate -o 123 network create Branch-42 --products appliance,switch,wireless -x
  merakimate -o 123 network create Lab --tags lab,test --tz Europe/Berlin -x`,
}

var networkListCmd = &cobra.Command{
	Use:   "list",
	Short: "List networks",
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			nets, err := s.Networks(ctx, org)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(nets)
			}
			if len(nets) == 0 {
				fmt.Println("No networks found")
				return nil
			}
			t := cli.NewTable("ID", "NAME", "PRODUCTS", "TIME ZONE", "TAGS")
			for _, n := range nets {
				t.Row(n.ID, n.Name, strings.Join(n.ProductTypes, ","), n.TimeZone, strings.Join(n.Tags, ","))
			}
			t.Flush()
			return nil
		})
	},
}

var (
	networkProducts string
	networkTags     string
	networkTZ       string
)

// Product types a new network may combine.
var productTypes = []string{"appliance", "switch", "wireless", "camera", "cellularGateway", "sensor"}

var networkCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		req, err := networkRequest(args[0], networkProducts, networkTags, networkTZ)
		if err != nil {
			return err
		}

		return withSession(cmd, func(ctx context.Context, s *session) error {
			return createNetwork(ctx, s, org, req)
		})
	},
}

// createNetwork prints req and, in execute mode, creates the network.
func createNetwork(ctx context.Context, s *session, org string, req meraki.CreateNetworkRequest) error {
	fmt.Printf("Network: %s\n", bold(req.Name))
	fmt.Printf("  products:  %s\n", strings.Join(req.ProductTypes, ", "))
	fmt.Printf("  time zone: %s\n", req.TimeZone)
	if len(req.Tags) > 0 {
		fmt.Printf("  tags:      %s\n", strings.Join(req.Tags, ", "))
	}
	if !executeMode {
		printDryRunNotice()
		return nil
	}
	n, err := s.CreateNetwork(ctx, org, req)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(n)
	}
	fmt.Printf("%s network %s (%s)\n", green("Created"), n.Name, n.ID)
	return nil
}

// networkRequest validates the create flags.
func networkRequest(name, products, tags, tz string) (meraki.CreateNetworkRequest, error) {
	req := meraki.CreateNetworkRequest{
		Name:         strings.TrimSpace(name),
		ProductTypes: util.SplitCommaSeparated(products),
		Tags:         util.SplitCommaSeparated(tags),
		TimeZone:     tz,
	}
	if req.TimeZone == "" {
		req.TimeZone = meraki.DefaultTimeZone
	}
	v := util.ValidationBuilder{}
	v.Add(req.Name != "", "network name required")
	v.Add(len(req.ProductTypes) > 0, "at least one product type required")
	for _, p := range req.ProductTypes {
		v.Add(slices.Contains(productTypes, p), fmt.Sprintf("unknown product type %q (valid: %s)", p, strings.Join(productTypes, ", ")))
	}
	return req, v.Build()
}

var claimCmd = &cobra.Command{
	Use:   "claim <serial>...",
	Short: "Claim devices into the selected network",
	Long: `Claim devices into the selected network.

Serials already present in the organization are skipped.

Examples:
  merakimate -o 123 -n N_1 claim Q2XX-AAAA-0001 Q2XX-AAAA-0002 -x`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		network, err := requireNetwork()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return claimDevices(ctx, s, org, network, args)
		})
	},
}

// claimDevices claims the serials not yet in the organization.
func claimDevices(ctx context.Context, s *session, org, network string, serials []string) error {
	devices, err := s.OrganizationDevices(ctx, org)
	if err != nil {
		return err
	}
	serials = unclaimed(serials, devices)
	if len(serials) == 0 {
		fmt.Println("All devices are already claimed.")
		return nil
	}
	fmt.Printf("Devices to claim into %s: %s\n", network, strings.Join(serials, ", "))
	if !executeMode {
		printDryRunNotice()
		return nil
	}
	if err := s.ClaimDevices(ctx, network, serials); err != nil {
		return err
	}
	fmt.Printf("%s %d device(s)\n", green("Claimed"), len(serials))
	return nil
}

// unclaimed returns the upper-cased serials, without duplicates, that are
// not in devices.
func unclaimed(serials []string, devices []meraki.Device) []string {
	have := map[string]bool{}
	for _, d := range devices {
		have[strings.ToUpper(d.Serial)] = true
	}
	var out []string
	for _, s := range serials {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || have[s] {
			continue
		}
		have[s] = true
		out = append(out, s)
	}
	return out
}

func init() {
	networkCreateCmd.Flags().StringVar(&networkProducts, "products", "appliance,switch,wireless", "Comma-separated product types")
	networkCreateCmd.Flags().StringVar(&networkTags, "tags", "", "Comma-separated tags")
	networkCreateCmd.Flags().StringVar(&networkTZ, "tz", "", "Time zone (default "+meraki.DefaultTimeZone+")")
	networkCmd.AddCommand(networkListCmd, networkCreateCmd)
}
