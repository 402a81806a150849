package inventory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/merakimate/merakimate/pkg/export"
	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/util"
)

// Source is the read-only slice of the dashboard API the inventory needs.
type Source interface {
	Networks(ctx context.Context, orgID string) ([]meraki.Network, error)
	FirmwareUpgrades(ctx context.Context, orgID string) ([]meraki.FirmwareUpgrade, error)
	NetworkDevices(ctx context.Context, networkID string) ([]meraki.Device, error)
	Device(ctx context.Context, serial string) (*meraki.Device, error)
	VLANs(ctx context.Context, networkID string) ([]meraki.VLAN, error)
	L3Interfaces(ctx context.Context, serial string) ([]meraki.L3Interface, error)
}

var _ Source = (*meraki.Client)(nil)

// Layer-3 row kinds.
const (
	KindAccessPoint = "MR Access Point"
	KindMXVLAN      = "MX VLAN"
	KindMSInterface = "MS L3 Interface"
)

const dash = "—"

// Row is one inventory line: an access point, an appliance VLAN or a
// switch routed interface.
type Row struct {
	Model       string `json:"model"`
	DeviceName  string `json:"device_name"`
	Serial      string `json:"serial"`
	LanIP       string `json:"lan_ip"`
	WanIP       string `json:"wan_ip"`
	L3Type      string `json:"l3_type"`
	VlanID      string `json:"vlan_id"`
	VlanName    string `json:"vlan_name"`
	Subnet      string `json:"subnet"`
	InterfaceIP string `json:"interface_ip"`
	Firmware    string `json:"firmware"`
	Network     string `json:"network"`
}

// Headers are the column titles matching Row.Values.
var Headers = []string{"Model", "Device Name", "Serial", "LAN IP", "WAN IP", "L3 Type", "VLAN ID", "VLAN Name / Interface", "Subnet", "Interface IP", "Firmware", "Network"}

// Values returns the row's cells in Headers order.
func (r Row) Values() []string {
	return []string{r.Model, r.DeviceName, r.Serial, r.LanIP, r.WanIP, r.L3Type, r.VlanID, r.VlanName, r.Subnet, r.InterfaceIP, r.Firmware, r.Network}
}

// Matches reports whether any cell contains the filter text, case-insensitively.
func (r Row) Matches(filter string) bool {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		return true
	}
	for _, v := range r.Values() {
		if strings.Contains(strings.ToLower(v), filter) {
			return true
		}
	}
	return false
}

// NetworkRows groups the matching rows of one network.
type NetworkRows struct {
	Network meraki.Network
	Rows    []Row
}

type firmwareKey struct {
	network, product string
}

// FirmwareLookup maps (network, product type) to the target firmware version.
func FirmwareLookup(upgrades []meraki.FirmwareUpgrade) map[firmwareKey]string {
	out := make(map[firmwareKey]string)
	for _, u := range upgrades {
		if u.Network.ID != "" && u.ProductTypes != "" && u.ToVersion.ShortName != "" {
			out[firmwareKey{u.Network.ID, u.ProductTypes}] = u.ToVersion.ShortName
		}
	}
	return out
}

// Collect walks every network of the organization and returns the rows
// matching filter, grouped by network. Networks without matches are omitted.
// Failures fetching a device's VLANs or interfaces skip that device.
func Collect(ctx context.Context, src Source, orgID, filter string) ([]NetworkRows, error) {
	networks, err := src.Networks(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing networks: %w", err)
	}
	upgrades, err := src.FirmwareUpgrades(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing firmware upgrades: %w", err)
	}
	firmware := FirmwareLookup(upgrades)

	var out []NetworkRows
	for _, n := range networks {
		rows, err := networkRows(ctx, src, n, firmware)
		if err != nil {
			return out, err
		}
		var matched []Row
		for _, r := range rows {
			if r.Matches(filter) {
				matched = append(matched, r)
			}
		}
		if len(matched) > 0 {
			out = append(out, NetworkRows{Network: n, Rows: matched})
		}
	}
	return out, nil
}

func networkRows(ctx context.Context, src Source, n meraki.Network, firmware map[firmwareKey]string) ([]Row, error) {
	log := util.WithNetwork(n.ID)
	devices, err := src.NetworkDevices(ctx, n.ID)
	if err != nil {
		return nil, fmt.Errorf("listing devices of %s: %w", n.Name, err)
	}

	var rows []Row
	for _, d := range devices {
		base := Row{
			Model:      orNA(d.Model),
			DeviceName: orNA(d.Name),
			Serial:     orNA(d.Serial),
			LanIP:      orDash(d.LanIP),
			WanIP:      dash,
			Firmware:   dash,
			Network:    n.Name,
		}
		if detail, err := src.Device(ctx, d.Serial); err == nil {
			base.WanIP = orDash(detail.Wan1IP)
		} else {
			log.WithField("serial", d.Serial).Debugf("Device detail unavailable: %v", err)
		}
		if v, ok := firmware[firmwareKey{n.ID, d.ProductType()}]; ok {
			base.Firmware = v
		}

		switch d.ProductType() {
		case "wireless":
			r := base
			r.L3Type = KindAccessPoint
			r.VlanID, r.VlanName, r.Subnet, r.InterfaceIP = dash, dash, dash, dash
			rows = append(rows, r)
		case "appliance":
			vlans, err := src.VLANs(ctx, n.ID)
			if err != nil {
				log.WithField("serial", d.Serial).Warnf("Skipping appliance VLANs: %v", err)
				continue
			}
			for _, v := range vlans {
				r := base
				r.L3Type = KindMXVLAN
				r.VlanID, r.VlanName, r.Subnet, r.InterfaceIP = orDash(v.ID.String()), orDash(v.Name), orDash(v.Subnet), orDash(v.ApplianceIP)
				rows = append(rows, r)
			}
		case "switch":
			ifaces, err := src.L3Interfaces(ctx, d.Serial)
			if err != nil {
				log.WithField("serial", d.Serial).Warnf("Skipping switch interfaces: %v", err)
				continue
			}
			for _, i := range ifaces {
				r := base
				r.L3Type = KindMSInterface
				r.VlanID = dash
				if i.VlanID != 0 {
					r.VlanID = strconv.Itoa(i.VlanID)
				}
				r.VlanName, r.Subnet, r.InterfaceIP = orDash(i.Name), orDash(i.Subnet), orDash(i.InterfaceIP)
				rows = append(rows, r)
			}
		}
	}
	return rows, nil
}

func orDash(s string) string {
	if s == "" {
		return dash
	}
	return s
}

// Table flattens grouped rows into one exportable table.
func Table(groups []NetworkRows) export.Table {
	t := export.Table{Title: "Inventory", Headers: Headers}
	for _, g := range groups {
		for _, r := range g.Rows {
			t.Rows = append(t.Rows, r.Values())
		}
	}
	return t
}
