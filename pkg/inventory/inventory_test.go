package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/util"
)

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func TestReportedText(t *testing.T) {
	tests := []struct {
		name   string
		last   *time.Time
		status string
		want   string
		hours  float64
	}{
		{"online hours", at("2026-10-14T09:30:00Z"), "online", "Reported 2 hours ago", 2.5},
		{"online minutes", at("2026-10-14T11:59:00Z"), "online", "Reported 1 minute ago", 0.02},
		{"online just now", at("2026-10-14T12:00:00Z"), "online", "Reported just now", 0},
		{"online calendar", at("2025-08-12T11:00:00Z"), "online", "Reported 1 year, 2 months, 2 days, 1 hour ago", 10273},
		{"offline", at("2026-10-14T00:00:00Z"), "offline", "Offline for 12 hours", 12},
		{"dormant", at("2026-10-13T22:30:00Z"), "dormant", "Offline for 13.5 hours", 13.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, hours, known := ReportedText(tt.last, tt.status, now)
			assert.True(t, known)
			assert.Equal(t, tt.want, got)
			assert.InDelta(t, tt.hours, hours, 0.001)
		})
	}

	got, _, known := ReportedText(nil, "online", now)
	assert.False(t, known)
	assert.Equal(t, "N/A", got)
}

func TestStatusRowsFlagsLongOffline(t *testing.T) {
	rows := StatusRows([]meraki.DeviceStatus{
		{Name: "core", Serial: "Q-1", Model: "MX68", Status: "online", LastReportedAt: at("2026-10-14T11:00:00Z")},
		{Serial: "Q-2", Status: "offline", LastReportedAt: at("2026-10-13T00:00:00Z")},
		{Serial: "Q-3", Status: "offline", LastReportedAt: at("2026-10-14T06:00:00Z")},
		{Serial: "Q-4"},
	}, now, DefaultOfflineThreshold)

	require.Len(t, rows, 4)
	assert.False(t, rows[0].Flagged)
	assert.True(t, rows[1].Flagged)
	assert.Equal(t, "N/A", rows[1].Name)
	assert.False(t, rows[2].Flagged)
	assert.Equal(t, "offline", rows[3].Status)
	assert.Equal(t, "N/A", rows[3].LastReported)
	assert.False(t, rows[3].Flagged)

	table := StatusTable(rows)
	assert.Len(t, table.Rows, 4)
	assert.Equal(t, "Reported 1 hour ago", table.Rows[0][5])
}

type fakeSource struct {
	networks []meraki.Network
	upgrades []meraki.FirmwareUpgrade
	devices  map[string][]meraki.Device
	vlans    map[string][]meraki.VLAN
	ifaces   map[string][]meraki.L3Interface
	vlanErr  error
}

func (f *fakeSource) Networks(context.Context, string) ([]meraki.Network, error) {
	return f.networks, nil
}

func (f *fakeSource) FirmwareUpgrades(context.Context, string) ([]meraki.FirmwareUpgrade, error) {
	return f.upgrades, nil
}

func (f *fakeSource) NetworkDevices(_ context.Context, id string) ([]meraki.Device, error) {
	return f.devices[id], nil
}

func (f *fakeSource) Device(_ context.Context, serial string) (*meraki.Device, error) {
	if serial == "Q-AP" {
		return nil, util.ErrNotFound
	}
	return &meraki.Device{Serial: serial, Wan1IP: "203.0.113.7"}, nil
}

func (f *fakeSource) VLANs(_ context.Context, id string) ([]meraki.VLAN, error) {
	if f.vlanErr != nil {
		return nil, f.vlanErr
	}
	return f.vlans[id], nil
}

func (f *fakeSource) L3Interfaces(_ context.Context, serial string) ([]meraki.L3Interface, error) {
	return f.ifaces[serial], nil
}

func newFakeSource() *fakeSource {
	up := meraki.FirmwareUpgrade{ProductTypes: "appliance"}
	up.Network.ID = "N_1"
	up.ToVersion.ShortName = "MX 18.211"
	return &fakeSource{
		networks: []meraki.Network{{ID: "N_1", Name: "HQ"}, {ID: "N_2", Name: "Branch"}},
		upgrades: []meraki.FirmwareUpgrade{up},
		devices: map[string][]meraki.Device{
			"N_1": {
				{Serial: "Q-MX", Model: "MX68", Name: "edge", LanIP: "10.0.0.1"},
				{Serial: "Q-MS", Model: "MS250", Name: "core"},
				{Serial: "Q-AP", Model: "MR46"},
			},
			"N_2": {{Serial: "Q-MG", Model: "MG21"}},
		},
		vlans: map[string][]meraki.VLAN{
			"N_1": {{ID: "10", Name: "Data", Subnet: "10.0.10.0/24", ApplianceIP: "10.0.10.1"}, {ID: "20", Name: "Voice"}},
		},
		ifaces: map[string][]meraki.L3Interface{
			"Q-MS": {{Name: "mgmt", Subnet: "10.9.0.0/24", InterfaceIP: "10.9.0.2", VlanID: 900}},
		},
	}
}

func TestCollect(t *testing.T) {
	groups, err := Collect(context.Background(), newFakeSource(), "O_1", "")
	require.NoError(t, err)

	require.Len(t, groups, 1, "networks without layer-3 rows are omitted")
	assert.Equal(t, "HQ", groups[0].Network.Name)

	rows := groups[0].Rows
	require.Len(t, rows, 4)
	assert.Equal(t, Row{
		Model: "MX68", DeviceName: "edge", Serial: "Q-MX", LanIP: "10.0.0.1", WanIP: "203.0.113.7",
		L3Type: KindMXVLAN, VlanID: "10", VlanName: "Data", Subnet: "10.0.10.0/24", InterfaceIP: "10.0.10.1",
		Firmware: "MX 18.211", Network: "HQ",
	}, rows[0])
	assert.Equal(t, "—", rows[1].Subnet)
	assert.Equal(t, KindMSInterface, rows[2].L3Type)
	assert.Equal(t, "900", rows[2].VlanID)
	assert.Equal(t, "—", rows[2].Firmware)
	assert.Equal(t, KindAccessPoint, rows[3].L3Type)
	assert.Equal(t, "N/A", rows[3].DeviceName)
	assert.Equal(t, "—", rows[3].WanIP)

	assert.Len(t, Table(groups).Rows, 4)
}

func TestCollectFilter(t *testing.T) {
	groups, err := Collect(context.Background(), newFakeSource(), "O_1", "  VOICE ")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Rows, 1)
	assert.Equal(t, "20", groups[0].Rows[0].VlanID)

	groups, err = Collect(context.Background(), newFakeSource(), "O_1", "nothing-matches")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestCollectSkipsFailedDevice(t *testing.T) {
	src := newFakeSource()
	src.vlanErr = errors.New("boom")

	groups, err := Collect(context.Background(), src, "O_1", "")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Rows, 2)
}
