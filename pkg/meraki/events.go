package meraki

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"
)

// Event is one network event log entry.
type Event struct {
	OccurredAt        string         `json:"occurredAt"`
	NetworkID         string         `json:"networkId,omitempty"`
	Type              string         `json:"type"`
	Description       string         `json:"description"`
	Category          string         `json:"category,omitempty"`
	ClientID          string         `json:"clientId,omitempty"`
	ClientDescription string         `json:"clientDescription,omitempty"`
	ClientMac         string         `json:"clientMac,omitempty"`
	DeviceName        string         `json:"deviceName,omitempty"`
	DeviceSerial      string         `json:"deviceSerial,omitempty"`
	EventData         map[string]any `json:"eventData,omitempty"`
}

// EventQuery selects network events.
type EventQuery struct {
	Days        int
	ProductType string // "all" or empty for no filter
	PerPage     int
	MaxPages    int
	Now         time.Time
}

// EventWindow is the time range actually requested.
type EventWindow struct {
	T0, T1 time.Time
}

// NetworkEvents fetches events for the last q.Days, following pagination.
func (c *Client) NetworkEvents(ctx context.Context, networkID string, q EventQuery) ([]Event, EventWindow, error) {
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}
	days := q.Days
	if days <= 0 {
		days = 1
	}
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = 1000
	}
	win := EventWindow{T0: now.UTC().Add(-time.Duration(days) * 24 * time.Hour), T1: now.UTC()}

	query := url.Values{}
	query.Set("perPage", strconv.Itoa(perPage))
	query.Set("t0", win.T0.Format(time.RFC3339))
	query.Set("t1", win.T1.Format(time.RFC3339))
	if q.ProductType != "" && q.ProductType != "all" {
		query.Set("productType", q.ProductType)
	}

	var events []Event
	err := c.GetPages(ctx, "/networks/"+url.PathEscape(networkID)+"/events", query, q.MaxPages, func(page []byte) error {
		var body struct {
			Events []Event `json:"events"`
		}
		if err := json.Unmarshal(page, &body); err != nil {
			return err
		}
		events = append(events, body.Events...)
		return nil
	})
	return events, win, err
}
