package troubleshoot

import (
	"encoding/json"
	"fmt"

	"github.com/merakimate/merakimate/pkg/meraki"
)

const na = "N/A"

// View is the table layout for one event type.
type View struct {
	Headers []string
	Row     func(meraki.Event) []string
}

var views = map[string]View{
	"cf_block": {
		Headers: []string{"Time", "Type", "Description", "Client", "URL"},
		Row: func(e meraki.Event) []string {
			return []string{occurred(e), e.Type, e.Description, or(e.ClientDescription, e.ClientID), data(e, "url")}
		},
	},
	"dhcp_lease": {
		Headers: []string{"Time", "Client", "IP", "VLAN", "Duration", "DNS"},
		Row: func(e meraki.Event) []string {
			return []string{occurred(e), or(e.ClientDescription), data(e, "ip"), data(e, "vlan"), data(e, "duration"), data(e, "dns")}
		},
	},
	"dhcp_problem": {
		Headers: []string{"Time", "Client", "VLAN", "Issue"},
		Row: func(e meraki.Event) []string {
			return []string{occurred(e), or(e.ClientDescription), data(e, "vlan"), data(e, "extra")}
		},
	},
	"martian_vlan": {
		Headers: []string{"Time", "Client", "VLAN", "Note"},
		Row: func(e meraki.Event) []string {
			return []string{occurred(e), or(e.ClientDescription), data(e, "vlan"), data(e, "extra")}
		},
	},
	"non_meraki_vpn": {
		Headers: []string{"Time", "Device", "Message"},
		Row: func(e meraki.Event) []string {
			return []string{occurred(e), or(e.DeviceName), data(e, "msg")}
		},
	},
	"dhcp_release": {
		Headers: []string{"Time", "Client", "VLAN", "Device"},
		Row: func(e meraki.Event) []string {
			return []string{occurred(e), or(e.ClientDescription), data(e, "vlan"), or(e.DeviceName)}
		},
	},
}

var genericView = View{
	Headers: []string{"Time", "Type", "Description", "Category", "Client", "Device", "eventData"},
	Row: func(e meraki.Event) []string {
		extra, _ := json.Marshal(e.EventData)
		if e.EventData == nil {
			extra = []byte("{}")
		}
		return []string{occurred(e), e.Type, e.Description, or(e.Category), or(e.ClientDescription, e.ClientMac, e.ClientID), or(e.DeviceName, e.DeviceSerial), string(extra)}
	},
}

// ViewFor returns the layout used for eventType, falling back to a generic one.
func ViewFor(eventType string) View {
	if v, ok := views[eventType]; ok {
		return v
	}
	return genericView
}

// Rows renders events with the layout of their shared type.
func Rows(eventType string, events []meraki.Event) (headers []string, rows [][]string) {
	v := ViewFor(eventType)
	rows = make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, v.Row(e))
	}
	return v.Headers, rows
}

// occurred trims the timestamp to seconds.
func occurred(e meraki.Event) string {
	if len(e.OccurredAt) > 19 {
		return e.OccurredAt[:19]
	}
	return e.OccurredAt
}

func or(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return na
}

func data(e meraki.Event, key string) string {
	v, ok := e.EventData[key]
	if !ok || v == nil {
		return na
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
