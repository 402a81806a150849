package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/merakimate/merakimate/pkg/cli"
	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/secret"
	"github.com/merakimate/merakimate/pkg/util"
)

var renameCmd = &cobra.Command{
	Use:   "rename <serial> <name>",
	Short: "Rename a device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		serial, name := args[0], args[1]
		if name == "" {
			return util.NewValidationError("device name required")
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return renameDevice(ctx, s, serial, name)
		})
	},
}

func renameDevice(ctx context.Context, s *session, serial, name string) error {
	fmt.Printf("Rename %s to %s\n", serial, bold(name))
	if !executeMode {
		printDryRunNotice()
		return nil
	}
	if err := s.RenameDevice(ctx, serial, name); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", green("Renamed"), serial)
	return nil
}

var (
	portSerial    string
	portAccess    string
	portVLAN      int
	portTrunk     string
	portNative    int
	portAllowed   string
	portReplicate bool
)

var switchPortCmd = &cobra.Command{
	Use:   "switch-port",
	Short: "Set access and trunk VLANs on switch ports",
	Long: `Set access and trunk VLANs on MS switch ports.

Ports are given as ranges ("1-8,10"). With --serial only that switch is
changed, and --replicate replays the same plan on every other switch of
the network. Without --serial every switch of the network is changed.

Examples:
  merakimate -n N_1 switch-port --serial Q2XX-AAAA-0001 --access 1-8 --vlan 10
  merakimate -n N_1 switch-port --trunk 47-48 --native 1 --allowed 1-100 -x
  merakimate -n N_1 switch-port --serial Q2XX-AAAA-0001 --access 1-24 --vlan 20 --replicate -x`,
	RunE: func(cmd *cobra.Command, args []string) error {
		network, err := requireNetwork()
		if err != nil {
			return err
		}
		plan, err := portPlan(portAccess, portVLAN, portTrunk, portNative, portAllowed)
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return runPortPlan(ctx, s, network, portSerial, portReplicate, plan)
		})
	},
}

// runPortPlan applies plan to the switches switchTargets picks and
// reports each one.
func runPortPlan(ctx context.Context, s *session, network, serial string, replicate bool, plan meraki.PortPlan) error {
	devices, err := s.NetworkDevices(ctx, network)
	if err != nil {
		return err
	}
	serials := switchTargets(devices, serial, replicate)
	if len(serials) == 0 {
		return fmt.Errorf("no switches in network %s", network)
	}
	failed := 0
	for _, sw := range serials {
		n, err := applyPortPlan(ctx, s, sw, plan)
		if err != nil {
			fmt.Printf("%s %s: %v\n", red("FAILED"), sw, err)
			failed++
			continue
		}
		verb := "planned"
		if executeMode {
			verb = "updated"
		}
		fmt.Printf("%s: %d port(s) %s\n", sw, n, verb)
	}
	printDryRunNotice()
	if failed > 0 {
		return fmt.Errorf("%d of %d switches failed", failed, len(serials))
	}
	return nil
}

// portPlan builds the plan from the command flags.
func portPlan(access string, vlan int, trunk string, native int, allowed string) (meraki.PortPlan, error) {
	var plan meraki.PortPlan
	if access != "" {
		if vlan < 1 || vlan > 4094 {
			return plan, util.NewValidationError("--vlan must be 1-4094 with --access")
		}
		if err := plan.SetAccess(access, vlan); err != nil {
			return plan, err
		}
	}
	if trunk != "" {
		if native < 1 || native > 4094 {
			return plan, util.NewValidationError("--native must be 1-4094 with --trunk")
		}
		if allowed == "" {
			allowed = "all"
		}
		if err := plan.SetTrunk(trunk, meraki.Trunk{Native: native, Allowed: allowed}); err != nil {
			return plan, err
		}
	}
	if plan.Empty() {
		return plan, util.NewValidationError("nothing to change: use --access/--vlan or --trunk/--native")
	}
	return plan, nil
}

// switchTargets picks the switches a plan runs on. serial first when
// given, then the others only when replicate is set.
func switchTargets(devices []meraki.Device, serial string, replicate bool) []string {
	var out []string
	if serial != "" {
		out = append(out, serial)
	}
	if serial != "" && !replicate {
		return out
	}
	for _, d := range devices {
		if d.ProductType() == "switch" && d.Serial != serial {
			out = append(out, d.Serial)
		}
	}
	return out
}

// applyPortPlan lays plan over the switch's ports and, in execute mode,
// writes every changed port. It returns how many ports the plan touches.
func applyPortPlan(ctx context.Context, s *session, serial string, plan meraki.PortPlan) (int, error) {
	ports, err := s.SwitchPorts(ctx, serial)
	if err != nil {
		return 0, err
	}
	t := cli.NewTable("PORT", "TYPE", "VLAN", "ALLOWED")
	n := 0
	for _, p := range ports {
		updated, ok := plan.Apply(p)
		if !ok {
			continue
		}
		n++
		allowed, _ := updated["allowedVlans"].(string)
		t.Row(updated.PortID(), fmt.Sprint(updated["type"]), fmt.Sprint(updated["vlan"]), allowed)
		if !executeMode {
			continue
		}
		if err := s.UpdateSwitchPort(ctx, serial, updated); err != nil {
			t.Flush()
			return n, fmt.Errorf("port %s: %w", updated.PortID(), err)
		}
	}
	if !jsonOutput {
		fmt.Println(bold(serial))
		t.Flush()
	}
	return n, nil
}

var (
	ssidName       string
	ssidCorporate  bool
	ssidPSK        string
	ssidRadiusHost string
	ssidRadiusPort int
	ssidRadiusKey  string
	ssidBridge     bool
	ssidVLAN       int
	ssidWPA        string
)

var ssidCmd = &cobra.Command{
	Use:   "ssid <number>",
	Short: "Configure a wireless SSID",
	Long: `Configure SSID <number> (0-14) of the selected network.

A guest SSID uses a pre-shared key. A corporate SSID uses WPA2-Enterprise
against a RADIUS server; the RADIUS secret is prompted when not given.
--bridge puts clients on the LAN, tagged with --vlan when set.

Examples:
  merakimate -n N_1 ssid 1 --name Guest --psk 'correct horse' -x
  merakimate -n N_1 ssid 2 --name Corp --corporate --radius-host 10.0.0.5 --bridge --vlan 30 -x`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		network, err := requireNetwork()
		if err != nil {
			return err
		}
		number, err := strconv.Atoi(args[0])
		if err != nil || number < 0 || number > meraki.MaxSSIDNumber {
			return util.NewValidationError(fmt.Sprintf("SSID number must be 0-%d", meraki.MaxSSIDNumber))
		}

		opts := meraki.SSIDOptions{
			Name:      ssidName,
			Corporate: ssidCorporate,
			Bridge:    ssidBridge,
			VLAN:      ssidVLAN,
			WPAMode:   ssidWPA,
			PSK:       ssidPSK,
			Radius: meraki.RadiusServer{
				Host:   ssidRadiusHost,
				Port:   ssidRadiusPort,
				Secret: ssidRadiusKey,
			},
		}
		if opts.Corporate && opts.Radius.Host != "" && opts.Radius.Secret == "" {
			key, err := secret.Prompt{Label: "RADIUS secret: ", Out: os.Stderr}.Secret(cmd.Context())
			if err != nil {
				return err
			}
			opts.Radius.Secret = key
		}
		ssid, err := meraki.NewSSID(opts)
		if err != nil {
			return util.NewValidationError(err.Error())
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return configureSSID(ctx, s, network, number, ssid)
		})
	},
}

func configureSSID(ctx context.Context, s *session, network string, number int, ssid meraki.SSID) error {
	fmt.Printf("SSID %d: %s (%s, %s, %s)\n", number, bold(ssid.Name), ssid.AuthMode, ssid.WpaEncryptionMode, ssid.IPAssignmentMode)
	if !executeMode {
		printDryRunNotice()
		return nil
	}
	if err := s.UpdateSSID(ctx, network, number, ssid); err != nil {
		return err
	}
	fmt.Printf("%s SSID %d\n", green("Updated"), number)
	return nil
}

func init() {
	f := switchPortCmd.Flags()
	f.StringVar(&portSerial, "serial", "", "Switch serial (default: every switch in the network)")
	f.StringVar(&portAccess, "access", "", "Access ports, e.g. 1-8,10")
	f.IntVar(&portVLAN, "vlan", 0, "Access VLAN")
	f.StringVar(&portTrunk, "trunk", "", "Trunk ports, e.g. 47-48")
	f.IntVar(&portNative, "native", 1, "Trunk native VLAN")
	f.StringVar(&portAllowed, "allowed", "all", "Trunk allowed VLANs")
	f.BoolVar(&portReplicate, "replicate", false, "Replay the plan on the network's other switches")

	f = ssidCmd.Flags()
	f.StringVar(&ssidName, "name", "", "SSID name")
	f.BoolVar(&ssidCorporate, "corporate", false, "WPA2-Enterprise with RADIUS instead of a PSK")
	f.StringVar(&ssidPSK, "psk", "", "Pre-shared key (guest SSIDs)")
	f.StringVar(&ssidRadiusHost, "radius-host", "", "RADIUS server address")
	f.IntVar(&ssidRadiusPort, "radius-port", 1812, "RADIUS server port")
	f.StringVar(&ssidRadiusKey, "radius-secret", "", "RADIUS shared secret (prompted when empty)")
	f.BoolVar(&ssidBridge, "bridge", false, "Bridge mode instead of NAT")
	f.IntVar(&ssidVLAN, "vlan", 0, "Tagged VLAN in bridge mode")
	f.StringVar(&ssidWPA, "wpa", meraki.WPAModes[0], "WPA encryption mode")
}
