package resources

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merakimate/merakimate/pkg/backup"
	"github.com/merakimate/merakimate/pkg/blob/memory"
	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/util"
)

const vlan10 = `{
  "id": 10,
  "networkId": "N_1",
  "name": "Printers",
  "applianceIp": "10.10.10.1",
  "subnet": "10.10.10.0/24",
  "fixedIpAssignments": {},
  "reservedIpRanges": [{"start": "10.10.10.200", "end": "10.10.10.250", "comment": "pool"}],
  "dnsNameservers": "upstream_dns",
  "dhcpHandling": "Run a DHCP server",
  "dhcpLeaseTime": "1 day",
  "dhcpOptions": []
}`

func run(t *testing.T, client Client, cfg reconcile.Config, jobs ...reconcile.Job) *reconcile.Report {
	t.Helper()
	if cfg.Backup == nil {
		cfg.Backup = backup.New(memory.New())
	}
	r, err := reconcile.New(client, cfg)
	require.NoError(t, err)
	return r.Run(context.Background(), jobs)
}

func TestNewKnowsEveryKind(t *testing.T) {
	for _, kind := range Kinds {
		c, err := New(nil, kind)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, c.Kind())
		assert.NotEmpty(t, DefaultKey(kind, reconcile.ModeMerge), kind)
	}
	_, err := New(nil, "ssid")
	assert.ErrorIs(t, err, util.ErrInvalidConfig)
}

func TestDefaultKeyVpnRemove(t *testing.T) {
	assert.Equal(t, reconcile.IdentityKey{"protocol", "destination", "port"}, DefaultKey(reconcile.KindVpnExclusion, reconcile.ModeMerge))
	assert.Equal(t, reconcile.IdentityKey{"destination"}, DefaultKey(reconcile.KindVpnExclusion, reconcile.ModeRemove))
}

func TestFixedIPLeavesOtherFieldsUntouched(t *testing.T) {
	api, mc := newFakeAPI(t, map[string]string{"/networks/N_1/appliance/vlans/10": vlan10})
	client, err := New(mc, reconcile.KindFixedIP)
	require.NoError(t, err)

	scope := NetworkVLANScope(reconcile.KindFixedIP, "N_1", "10")
	rep := run(t, client, reconcile.Config{OnConflict: reconcile.OverwriteAll}, reconcile.Job{
		Scope:   scope,
		Key:     DefaultKey(reconcile.KindFixedIP, reconcile.ModeMerge),
		Records: []reconcile.Record{{"mac": "aa:bb:cc:dd:ee:ff", "ip": "10.10.10.5", "name": "printer"}},
	})
	require.Len(t, rep.Outcomes, 1)
	require.Equal(t, reconcile.StateDone, rep.Outcomes[0].State, rep.Outcomes[0].Detail())

	puts := api.calls(http.MethodPut)
	require.Len(t, puts, 1)
	assert.Equal(t, "/networks/N_1/appliance/vlans/10", puts[0].Path)

	body := puts[0].Body.(map[string]any)
	assert.Equal(t, `{"aa:bb:cc:dd:ee:ff":{"ip":"10.10.10.5","name":"printer"}}`, compactJSON(t, body["fixedIpAssignments"]))

	fetched := decode(t, vlan10).(map[string]any)
	for k, v := range fetched {
		if k == "fixedIpAssignments" {
			continue
		}
		assert.Equal(t, compactJSON(t, v), compactJSON(t, body[k]), "field %s", k)
	}
	assert.Len(t, body, len(fetched))
}

func TestFixedIPRecordsSortedAndLowercase(t *testing.T) {
	doc := `{"id": 20, "fixedIpAssignments": {"BB:00:00:00:00:02": {"ip": "10.0.0.2", "name": "b"}, "aa:00:00:00:00:01": {"ip": "10.0.0.1", "name": "a"}}}`
	_, mc := newFakeAPI(t, map[string]string{"/networks/N_1/appliance/vlans/20": doc})
	client, _ := New(mc, reconcile.KindFixedIP)

	state, err := client.Fetch(context.Background(), NetworkVLANScope(reconcile.KindFixedIP, "N_1", "20"))
	require.NoError(t, err)
	require.Len(t, state.Records, 2)
	assert.Equal(t, "aa:00:00:00:00:01", state.Records[0]["mac"])
	assert.Equal(t, "bb:00:00:00:00:02", state.Records[1]["mac"])
}

func TestVpnExclusionSkipAll(t *testing.T) {
	doc := `{"custom": [{"protocol": "any", "destination": "10.0.0.1", "port": "any"}], "majorApplications": [{"id": "meraki:vpnExclusion/application/2", "name": "Office 365 Sharepoint"}]}`
	api, mc := newFakeAPI(t, map[string]string{"/networks/N_1/appliance/trafficShaping/vpnExclusions": doc})
	client, _ := New(mc, reconcile.KindVpnExclusion)

	rep := run(t, client, reconcile.Config{OnConflict: reconcile.SkipAll}, reconcile.Job{
		Scope: reconcile.Scope{Kind: reconcile.KindVpnExclusion, ID: "N_1"},
		Key:   DefaultKey(reconcile.KindVpnExclusion, reconcile.ModeMerge),
		Records: []reconcile.Record{
			{"protocol": "any", "destination": "10.0.0.1", "port": "any"},
			{"protocol": "any", "destination": "10.0.0.2", "port": "any"},
		},
	})
	o := rep.Outcomes[0]
	require.Equal(t, reconcile.StateDone, o.State, o.Detail())
	assert.Equal(t, 1, o.Counts.Added)
	assert.Equal(t, 1, o.Counts.Skipped)
	assert.NotEmpty(t, o.Snapshot)

	puts := api.calls(http.MethodPut)
	require.Len(t, puts, 1)
	body := puts[0].Body.(map[string]any)
	assert.Len(t, body["custom"], 2)
	assert.Len(t, body["majorApplications"], 1)
}

func TestVpnExclusionRemoveByDestination(t *testing.T) {
	doc := `{"custom": [{"protocol": "tcp", "destination": "10.0.0.1", "port": "443"}, {"protocol": "any", "destination": "10.0.0.9", "port": "any"}], "majorApplications": []}`
	api, mc := newFakeAPI(t, map[string]string{"/networks/N_1/appliance/trafficShaping/vpnExclusions": doc})
	client, _ := New(mc, reconcile.KindVpnExclusion)

	rep := run(t, client, reconcile.Config{Mode: reconcile.ModeRemove}, reconcile.Job{
		Scope:   reconcile.Scope{Kind: reconcile.KindVpnExclusion, ID: "N_1"},
		Key:     DefaultKey(reconcile.KindVpnExclusion, reconcile.ModeRemove),
		Records: []reconcile.Record{{"destination": "10.0.0.1"}, {"destination": "10.0.0.5"}},
	})
	o := rep.Outcomes[0]
	require.Equal(t, reconcile.StateDone, o.State, o.Detail())
	assert.Equal(t, 1, o.Counts.Removed)
	assert.Equal(t, 1, o.Counts.Missing)

	body := api.calls(http.MethodPut)[0].Body.(map[string]any)
	custom := body["custom"].([]any)
	require.Len(t, custom, 1)
	assert.Equal(t, "10.0.0.9", custom[0].(map[string]any)["destination"])
}

func TestFirewallDefaultRuleNotManaged(t *testing.T) {
	doc := `{"rules": [
	  {"comment": "web", "policy": "allow", "protocol": "tcp", "srcCidr": "Any", "srcPort": "Any", "destCidr": "10.0.0.0/24", "destPort": "443"},
	  {"comment": "Default rule", "policy": "allow", "protocol": "Any", "srcCidr": "Any", "srcPort": "Any", "destCidr": "Any", "destPort": "Any"}
	], "syslogDefaultRule": false}`
	api, mc := newFakeAPI(t, map[string]string{"/networks/N_1/appliance/firewall/l3FirewallRules": doc})
	client, _ := New(mc, reconcile.KindFirewallRuleSet)
	scope := reconcile.Scope{Kind: reconcile.KindFirewallRuleSet, ID: "N_1/" + RuleSetL3}

	state, err := client.Fetch(context.Background(), scope)
	require.NoError(t, err)
	require.Len(t, state.Records, 1)

	rep := run(t, client, reconcile.Config{OnConflict: reconcile.SkipAll}, reconcile.Job{
		Scope: scope,
		Key:   DefaultKey(reconcile.KindFirewallRuleSet, reconcile.ModeMerge),
		Records: []reconcile.Record{
			{"comment": "dns", "policy": "deny", "protocol": "udp", "srcCidr": "Any", "srcPort": "Any", "destCidr": "8.8.8.8/32", "destPort": "53"},
		},
	})
	require.Equal(t, reconcile.StateDone, rep.Outcomes[0].State, rep.Outcomes[0].Detail())

	body := api.calls(http.MethodPut)[0].Body.(map[string]any)
	rules := body["rules"].([]any)
	require.Len(t, rules, 2)
	assert.Equal(t, "web", rules[0].(map[string]any)["comment"])
	assert.Equal(t, "dns", rules[1].(map[string]any)["comment"])
	assert.Equal(t, false, body["syslogDefaultRule"])
}

func TestFirewallUnknownRuleSet(t *testing.T) {
	_, mc := newFakeAPI(t, nil)
	client, _ := New(mc, reconcile.KindFirewallRuleSet)
	_, err := client.Fetch(context.Background(), reconcile.Scope{Kind: reconcile.KindFirewallRuleSet, ID: "N_1/l7"})
	assert.ErrorIs(t, err, util.ErrValidationFailed)
}

func TestDHCPOverwrite(t *testing.T) {
	api, mc := newFakeAPI(t, map[string]string{"/networks/N_1/appliance/vlans/10": vlan10})
	client, _ := New(mc, reconcile.KindDHCP)

	rep := run(t, client, reconcile.Config{OnConflict: reconcile.OverwriteAll}, reconcile.Job{
		Scope: NetworkVLANScope(reconcile.KindDHCP, "N_1", "10"),
		Key:   DefaultKey(reconcile.KindDHCP, reconcile.ModeMerge),
		Records: []reconcile.Record{{
			"vlan":               "10",
			"dhcpHandling":       "Relay DHCP to another server",
			"dhcpRelayServerIps": []any{"10.1.1.1"},
		}},
	})
	o := rep.Outcomes[0]
	require.Equal(t, reconcile.StateDone, o.State, o.Detail())
	assert.Equal(t, 1, o.Counts.Overwritten)

	body := api.calls(http.MethodPut)[0].Body.(map[string]any)
	assert.Equal(t, "Relay DHCP to another server", body["dhcpHandling"])
	assert.Equal(t, "Printers", body["name"])
	assert.NotContains(t, body, "vlan")
}

func TestDHCPIdenticalIsNoChange(t *testing.T) {
	api, mc := newFakeAPI(t, map[string]string{"/networks/N_1/appliance/vlans/10": vlan10})
	client, _ := New(mc, reconcile.KindDHCP)

	decider := reconcile.DeciderFunc(func(context.Context, reconcile.Scope, reconcile.Conflict) (reconcile.Decision, error) {
		t.Error("decider called for an identical record")
		return reconcile.DecisionSkip, nil
	})
	rep := run(t, client, reconcile.Config{Decider: decider}, reconcile.Job{
		Scope:   NetworkVLANScope(reconcile.KindDHCP, "N_1", "10"),
		Key:     DefaultKey(reconcile.KindDHCP, reconcile.ModeMerge),
		Records: []reconcile.Record{{"vlan": "10", "dhcpLeaseTime": "1 day"}},
	})
	assert.True(t, rep.Outcomes[0].NoChange)
	assert.Empty(t, api.calls(http.MethodPut))
}

func TestReservedRangeAppend(t *testing.T) {
	api, mc := newFakeAPI(t, map[string]string{"/networks/N_1/appliance/vlans/10": vlan10})
	client, _ := New(mc, reconcile.KindReservedRange)

	rep := run(t, client, reconcile.Config{OnConflict: reconcile.SkipAll}, reconcile.Job{
		Scope:   NetworkVLANScope(reconcile.KindReservedRange, "N_1", "10"),
		Key:     DefaultKey(reconcile.KindReservedRange, reconcile.ModeMerge),
		Records: []reconcile.Record{{"vlan": "10", "start": "10.10.10.10", "end": "10.10.10.20", "comment": "printers"}},
	})
	require.Equal(t, reconcile.StateDone, rep.Outcomes[0].State)

	body := api.calls(http.MethodPut)[0].Body.(map[string]any)
	ranges := body["reservedIpRanges"].([]any)
	require.Len(t, ranges, 2)
	assert.NotContains(t, ranges[1].(map[string]any), "vlan")
}

func TestVLANCollection(t *testing.T) {
	doc := `[{"id": 10, "networkId": "N_1", "name": "Printers", "subnet": "10.10.10.0/24", "applianceIp": "10.10.10.1"}]`
	api, mc := newFakeAPI(t, map[string]string{"/networks/N_1/appliance/vlans": doc})
	client, _ := New(mc, reconcile.KindVLAN)

	rep := run(t, client, reconcile.Config{OnConflict: reconcile.OverwriteAll}, reconcile.Job{
		Scope: reconcile.Scope{Kind: reconcile.KindVLAN, ID: "N_1"},
		Key:   DefaultKey(reconcile.KindVLAN, reconcile.ModeMerge),
		Records: []reconcile.Record{
			{"id": "10", "name": "Print"},
			{"id": "20", "name": "Voice", "subnet": "10.20.0.0/24", "applianceIp": "10.20.0.1"},
		},
	})
	o := rep.Outcomes[0]
	require.Equal(t, reconcile.StateDone, o.State, o.Detail())
	assert.Equal(t, reconcile.ApplyResult{Requests: 2, Created: 1, Updated: 1}, o.Applied)

	puts := api.calls(http.MethodPut)
	require.Len(t, puts, 1)
	assert.Equal(t, "/networks/N_1/appliance/vlans/10", puts[0].Path)
	put := puts[0].Body.(map[string]any)
	assert.Equal(t, "Print", put["name"])
	assert.NotContains(t, put, "id")
	assert.NotContains(t, put, "networkId")

	posts := api.calls(http.MethodPost)
	require.Len(t, posts, 1)
	assert.Equal(t, "/networks/N_1/appliance/vlans", posts[0].Path)
	assert.Equal(t, "20", posts[0].Body.(map[string]any)["id"])
}

func TestVLANRetryResumesAfterPartialApply(t *testing.T) {
	api, mc := newFakeAPI(t, map[string]string{"/networks/N_1/appliance/vlans": `[]`})
	posts := 0
	api.reject = func(req request, seen []request) int {
		if req.Method != http.MethodPost {
			return 0
		}
		posts++
		if posts == 2 {
			return http.StatusBadGateway
		}
		id := req.Body.(map[string]any)["id"]
		for _, prev := range seen {
			if prev.Method == http.MethodPost && prev.Body.(map[string]any)["id"] == id {
				return http.StatusBadRequest
			}
		}
		return 0
	}
	client, _ := New(mc, reconcile.KindVLAN)

	rep := run(t, client, reconcile.Config{
		Retries: 2,
		Sleep:   func(context.Context, time.Duration) error { return nil },
	}, reconcile.Job{
		Scope: reconcile.Scope{Kind: reconcile.KindVLAN, ID: "N_1"},
		Key:   DefaultKey(reconcile.KindVLAN, reconcile.ModeMerge),
		Records: []reconcile.Record{
			{"id": "10", "name": "Data", "subnet": "10.10.0.0/24", "applianceIp": "10.10.0.1"},
			{"id": "20", "name": "Voice", "subnet": "10.20.0.0/24", "applianceIp": "10.20.0.1"},
		},
	})
	o := rep.Outcomes[0]
	require.Equal(t, reconcile.StateDone, o.State, o.Detail())
	assert.Equal(t, 2, o.ApplyAttempts)
	assert.Equal(t, reconcile.ApplyResult{Requests: 2, Created: 2}, o.Applied)

	sent := api.calls(http.MethodPost)
	require.Len(t, sent, 2)
	assert.Equal(t, "10", sent[0].Body.(map[string]any)["id"])
	assert.Equal(t, "20", sent[1].Body.(map[string]any)["id"])
}

func TestPolicyObjectRemove(t *testing.T) {
	doc := `[{"id": "101", "name": "web-10-0-0-1", "category": "network", "type": "cidr", "cidr": "10.0.0.1/32"}]`
	api, mc := newFakeAPI(t, map[string]string{"/organizations/O_1/policyObjects": doc})
	client, _ := New(mc, reconcile.KindPolicyObject)

	rep := run(t, client, reconcile.Config{Mode: reconcile.ModeRemove}, reconcile.Job{
		Scope:   reconcile.Scope{Kind: reconcile.KindPolicyObject, ID: "O_1"},
		Key:     DefaultKey(reconcile.KindPolicyObject, reconcile.ModeRemove),
		Records: []reconcile.Record{{"name": "web-10-0-0-1"}},
	})
	require.Equal(t, reconcile.StateDone, rep.Outcomes[0].State, rep.Outcomes[0].Detail())

	dels := api.calls(http.MethodDelete)
	require.Len(t, dels, 1)
	assert.Equal(t, "/organizations/O_1/policyObjects/101", dels[0].Path)
}

func TestMissingScopeIsNotFound(t *testing.T) {
	_, mc := newFakeAPI(t, map[string]string{})
	client, _ := New(mc, reconcile.KindVpnExclusion)

	rep := run(t, client, reconcile.Config{OnConflict: reconcile.SkipAll}, reconcile.Job{
		Scope: reconcile.Scope{Kind: reconcile.KindVpnExclusion, ID: "N_404"},
		Key:   DefaultKey(reconcile.KindVpnExclusion, reconcile.ModeMerge),
	})
	o := rep.Outcomes[0]
	assert.Equal(t, reconcile.StateFailed, o.State)
	assert.Equal(t, reconcile.ReasonScopeMissing, o.Reason)
	assert.True(t, errors.Is(o.Err, util.ErrNotFound))
}

func TestScopeValidation(t *testing.T) {
	_, mc := newFakeAPI(t, nil)
	dhcp, _ := New(mc, reconcile.KindDHCP)
	_, err := dhcp.Fetch(context.Background(), reconcile.Scope{Kind: reconcile.KindDHCP, ID: "N_1"})
	assert.ErrorIs(t, err, util.ErrValidationFailed)

	vpn, _ := New(mc, reconcile.KindVpnExclusion)
	_, err = vpn.Fetch(context.Background(), reconcile.Scope{Kind: reconcile.KindVpnExclusion, ID: "N_1/10"})
	assert.ErrorIs(t, err, util.ErrValidationFailed)
}

func TestRestoreSectionRecomposes(t *testing.T) {
	api, mc := newFakeAPI(t, nil)
	client, _ := New(mc, reconcile.KindFirewallRuleSet)
	scope := reconcile.Scope{Kind: reconcile.KindFirewallRuleSet, ID: "N_1/inbound"}

	snapshot := &reconcile.ExistingState{
		Scope:    scope,
		Records:  []reconcile.Record{{"comment": "ssh", "policy": "allow"}},
		Document: decode(t, `{"rules": [{"comment": "ssh", "policy": "allow"}, {"comment": "Default rule", "policy": "deny"}], "syslogDefaultRule": true}`),
	}
	res, err := client.Restore(context.Background(), scope, nil, snapshot)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requests)

	puts := api.calls(http.MethodPut)
	require.Len(t, puts, 1)
	assert.Equal(t, "/networks/N_1/appliance/firewall/inboundFirewallRules", puts[0].Path)
	body := puts[0].Body.(map[string]any)
	assert.Len(t, body["rules"], 1)
	assert.Equal(t, true, body["syslogDefaultRule"])
}

func TestRestoreCollection(t *testing.T) {
	api, mc := newFakeAPI(t, nil)
	client, _ := New(mc, reconcile.KindVLAN)
	scope := reconcile.Scope{Kind: reconcile.KindVLAN, ID: "N_1"}

	current := &reconcile.ExistingState{Records: []reconcile.Record{
		{"id": "10", "name": "Renamed"},
		{"id": "30", "name": "New"},
	}}
	snapshot := &reconcile.ExistingState{Records: []reconcile.Record{
		{"id": "10", "name": "Printers"},
		{"id": "20", "name": "Voice"},
	}}
	res, err := client.Restore(context.Background(), scope, current, snapshot)
	require.NoError(t, err)
	assert.Equal(t, reconcile.ApplyResult{Requests: 2, Created: 1, Updated: 1}, res)
	assert.Len(t, api.calls(http.MethodPut), 1)
	assert.Len(t, api.calls(http.MethodPost), 1)
	assert.Empty(t, api.calls(http.MethodDelete))
}
