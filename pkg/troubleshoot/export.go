package troubleshoot

import (
	"time"

	"github.com/merakimate/merakimate/pkg/export"
	"github.com/merakimate/merakimate/pkg/meraki"
)

// Export writes events to dir/filtered_events_<timestamp>.json and returns the path.
func Export(dir string, events []meraki.Event, now time.Time) (string, error) {
	path := export.FileName(dir, "filtered_events", "json", now)
	if events == nil {
		events = []meraki.Event{}
	}
	return path, export.SaveJSON(path, events)
}
