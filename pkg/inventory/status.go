// Package inventory builds the read-only device status and inventory reports.
package inventory

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/merakimate/merakimate/pkg/export"
	"github.com/merakimate/merakimate/pkg/meraki"
)

// DefaultOfflineThreshold is how long a device may be offline before it is flagged.
const DefaultOfflineThreshold = 12 * time.Hour

const na = "N/A"

// StatusRow is one line of the device status report.
type StatusRow struct {
	Name         string  `json:"name"`
	Model        string  `json:"model"`
	Serial       string  `json:"serial"`
	Status       string  `json:"status"`
	LastReported string  `json:"lastReportedAt"`
	Uptime       string  `json:"uptime"`
	Hours        float64 `json:"-"`
	Flagged      bool    `json:"-"`
}

// StatusRows turns organization device statuses into report rows. Offline
// devices silent for longer than threshold are flagged.
func StatusRows(statuses []meraki.DeviceStatus, now time.Time, threshold time.Duration) []StatusRow {
	rows := make([]StatusRow, 0, len(statuses))
	for _, s := range statuses {
		status := s.Status
		if status == "" {
			status = "offline"
		}
		row := StatusRow{
			Name:         orNA(s.Name),
			Model:        orNA(s.Model),
			Serial:       orNA(s.Serial),
			Status:       status,
			LastReported: na,
		}
		if s.LastReportedAt != nil {
			row.LastReported = s.LastReportedAt.UTC().Format(time.RFC3339)
		}
		var known bool
		row.Uptime, row.Hours, known = ReportedText(s.LastReportedAt, status, now)
		row.Flagged = known && status == "offline" && row.Hours > threshold.Hours()
		rows = append(rows, row)
	}
	return rows
}

// ReportedText describes when a device last reported: "Reported 2 days,
// 3 hours ago" when online, "Offline for 14.5 hours" otherwise. hours is the
// elapsed time rounded to two decimals; known is false without a timestamp.
func ReportedText(last *time.Time, status string, now time.Time) (text string, hours float64, known bool) {
	if last == nil || last.IsZero() {
		return na, 0, false
	}
	elapsed := now.Sub(*last)
	hours = math.Round(elapsed.Hours()*100) / 100
	if status != "online" {
		return "Offline for " + strconv.FormatFloat(hours, 'f', -1, 64) + " hours", hours, true
	}

	d := between(*last, now)
	var parts []string
	for _, u := range []struct {
		n    int
		unit string
	}{{d.years, "year"}, {d.months, "month"}, {d.days, "day"}, {d.hours, "hour"}} {
		if u.n > 0 {
			parts = append(parts, plural(u.n, u.unit))
		}
	}
	if len(parts) == 0 {
		if d.minutes == 0 {
			return "Reported just now", hours, true
		}
		parts = append(parts, plural(d.minutes, "minute"))
	}
	return "Reported " + strings.Join(parts, ", ") + " ago", hours, true
}

type span struct {
	years, months, days, hours, minutes int
}

// between is the calendar difference from a to b in UTC.
func between(a, b time.Time) span {
	a, b = a.UTC(), b.UTC()
	if b.Before(a) {
		return span{}
	}
	months := (b.Year()-a.Year())*12 + int(b.Month()-a.Month())
	if months > 0 && a.AddDate(0, months, 0).After(b) {
		months--
	}
	rest := b.Sub(a.AddDate(0, months, 0))
	return span{
		years:   months / 12,
		months:  months % 12,
		days:    int(rest / (24 * time.Hour)),
		hours:   int(rest % (24 * time.Hour) / time.Hour),
		minutes: int(rest % time.Hour / time.Minute),
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func orNA(s string) string {
	if s == "" {
		return na
	}
	return s
}

// StatusTable is the exportable form of the status report.
func StatusTable(rows []StatusRow) export.Table {
	t := export.Table{
		Title:   "Device Status",
		Headers: []string{"Name", "Model", "Serial", "Status", "Last Reported", "Last Reported / Offline Duration"},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{r.Name, r.Model, r.Serial, r.Status, r.LastReported, r.Uptime})
	}
	return t
}
