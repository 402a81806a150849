package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/merakimate/merakimate/pkg/cli"
	"github.com/merakimate/merakimate/pkg/export"
	"github.com/merakimate/merakimate/pkg/inventory"
	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/secret"
	"github.com/merakimate/merakimate/pkg/troubleshoot"
	"github.com/merakimate/merakimate/pkg/util"
)

var (
	eventDays     int
	eventProduct  string
	eventType     string
	eventKeywords string
	eventAnalyze  bool
	eventExport   bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Browse, filter and analyze network event logs",
	Long: `Fetch the selected network's event log, filter it and optionally analyze it.

Without --type the event types found in the window are listed.
--analyze matches the events against the offline knowledge base and, when
nothing matches and OPENAI_API_KEY is set, asks before sending them to the
LLM classifier.

Examples:
  merakimate -n N_1 events --days 3
  merakimate -n N_1 events --type association --keywords fail,timeout
  merakimate -n N_1 events --product wireless --type 8021x_auth --analyze --export`,
	RunE: func(cmd *cobra.Command, args []string) error {
		network, err := requireNetwork()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			events, window, err := s.NetworkEvents(ctx, network, meraki.EventQuery{
				Days:        eventDays,
				ProductType: eventProduct,
				Now:         time.Now(),
			})
			if err != nil {
				return err
			}
			util.WithNetwork(network).Debugf("fetched %d events from %s to %s", len(events), window.T0.Format(time.RFC3339), window.T1.Format(time.RFC3339))

			if eventType == "" {
				return printEventTypes(events)
			}
			return showEvents(ctx, events, eventType, eventKeywords, eventAnalyze, eventExport)
		})
	},
}

func printEventTypes(events []meraki.Event) error {
	types := troubleshoot.EventTypes(events)
	if jsonOutput {
		return printJSON(types)
	}
	if len(types) == 0 {
		fmt.Println("No events in the selected window.")
		return nil
	}
	counts := map[string]int{}
	for _, e := range events {
		t := e.Type
		if t == "" {
			t = troubleshoot.UnknownType
		}
		counts[t]++
	}
	t := cli.NewTable("TYPE", "EVENTS")
	for _, et := range types {
		t.Row(et, fmt.Sprint(counts[et]))
	}
	t.Flush()
	fmt.Println("\nUse --type <type> to show events.")
	return nil
}

// showEvents prints the events of one type page by page, then exports and
// analyzes them as requested.
func showEvents(ctx context.Context, events []meraki.Event, eventType, keywords string, analyze, save bool) error {
	filtered := troubleshoot.Filter(events, eventType, keywords)
	if jsonOutput {
		if err := printJSON(filtered); err != nil {
			return err
		}
	} else if len(filtered) == 0 {
		fmt.Printf("No %s events matched.\n", eventType)
	} else {
		pages := troubleshoot.Pages(filtered, troubleshoot.PageSize)
		for i, page := range pages {
			headers, rows := troubleshoot.Rows(eventType, page)
			fmt.Printf("\n%s\n", bold(fmt.Sprintf("Page %d/%d", i+1, len(pages))))
			t := cli.NewTable(headers...)
			t.Rows(rows)
			t.Flush()
		}
	}

	if save {
		path, err := troubleshoot.Export(userSettings.GetOutputDir(), filtered, time.Now())
		if err != nil {
			return fmt.Errorf("exporting events: %w", err)
		}
		fmt.Printf("%s %s\n", green("Exported"), path)
	}
	if !analyze || len(filtered) == 0 {
		return nil
	}
	return analyzeEvents(ctx, eventType, filtered)
}

func analyzeEvents(ctx context.Context, eventType string, events []meraki.Event) error {
	kb, created, err := troubleshoot.LoadKnowledge(userSettings.GetKnowledgeBase())
	if err != nil {
		return fmt.Errorf("knowledge base: %w", err)
	}
	if created {
		fmt.Printf("Created knowledge base %s\n", filepath.Clean(userSettings.GetKnowledgeBase()))
	}

	a := &troubleshoot.Assistant{Offline: &troubleshoot.Offline{KB: kb}}
	if key, _ := (secret.Env{Var: secret.EnvOpenAIKey}).Secret(ctx); key != "" {
		llm, err := troubleshoot.NewLLM(troubleshoot.LLMConfig{APIKey: key})
		if err != nil {
			return err
		}
		a.Fallback = llm
		a.Consent = func(context.Context) (bool, error) {
			return stdin().Confirm("No offline match. Send these events to the LLM classifier?", false)
		}
	}

	res, err := a.Analyze(ctx, eventType, events)
	if errors.Is(err, troubleshoot.ErrNoMatch) {
		fmt.Println("No analysis available for these events.")
		return nil
	}
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(res)
	}
	label := string(res.Source)
	if res.Keyword != "" {
		label += ": " + res.Keyword
	}
	if res.Model != "" {
		label += " (" + res.Model + ")"
	}
	fmt.Printf("\n%s\n%s\n", bold("Analysis ["+label+"]"), res.Text)
	return nil
}

var (
	statusThreshold time.Duration
	viewExport      bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show device online status and last report times",
	Long: `Show every device of the organization with its status and how long ago it
last reported. Devices silent for longer than --threshold are highlighted.

Examples:
  merakimate -o 123 status
  merakimate -o 123 status --threshold 2h --export`,
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return showStatus(ctx, s, org, statusThreshold, viewExport)
		})
	},
}

func showStatus(ctx context.Context, s *session, org string, threshold time.Duration, save bool) error {
	statuses, err := s.DeviceStatuses(ctx, org)
	if err != nil {
		return err
	}
	now := time.Now()
	rows := inventory.StatusRows(statuses, now, threshold)
	if jsonOutput {
		return printJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Println("No devices found")
		return nil
	}
	t := cli.NewTable("NAME", "MODEL", "SERIAL", "STATUS", "LAST REPORTED", "DURATION")
	for _, r := range rows {
		status := r.Status
		switch {
		case r.Flagged:
			status = red(status)
		case status == "online":
			status = green(status)
		}
		t.Row(r.Name, r.Model, r.Serial, status, r.LastReported, r.Uptime)
	}
	t.Flush()
	if save {
		return saveTables("device_status", now, inventory.StatusTable(rows))
	}
	return nil
}

var inventoryFilter string

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Show MX VLANs, MS L3 interfaces and MR access points",
	Long: `Walk every network of the organization and list appliance VLANs, switch
L3 interfaces and access points with their addressing and firmware.
--filter keeps rows containing the text in any column.

Examples:
  merakimate -o 123 inventory
  merakimate -o 123 inventory --filter 10.20. --export`,
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return showInventory(ctx, s, org, inventoryFilter, viewExport)
		})
	},
}

func showInventory(ctx context.Context, s *session, org, filter string, save bool) error {
	groups, err := inventory.Collect(ctx, s.Client, org, filter)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(groups)
	}
	if len(groups) == 0 {
		fmt.Println("No inventory rows matched")
		return nil
	}
	for _, g := range groups {
		fmt.Printf("\n%s\n", bold(g.Network.Name+" ("+g.Network.ID+")"))
		t := cli.NewTable(inventory.Headers...)
		for _, r := range g.Rows {
			t.Row(r.Values()...)
		}
		t.Flush()
	}
	if save {
		return saveTables("inventory", time.Now(), inventory.Table(groups))
	}
	return nil
}

// saveTables writes t as CSV and XLSX under the output directory.
func saveTables(prefix string, now time.Time, t export.Table) error {
	dir := userSettings.GetOutputDir()
	csvPath := export.FileName(dir, prefix, "csv", now)
	if err := export.SaveCSV(csvPath, t); err != nil {
		return err
	}
	xlsxPath := export.FileName(dir, prefix, "xlsx", now)
	if err := export.SaveXLSX(xlsxPath, t); err != nil {
		return err
	}
	fmt.Printf("%s %s, %s\n", green("Exported"), csvPath, xlsxPath)
	return nil
}

func init() {
	f := eventsCmd.Flags()
	f.IntVar(&eventDays, "days", 1, "Days of history to fetch")
	f.StringVar(&eventProduct, "product", "all", "Product type filter (appliance, switch, wireless, all)")
	f.StringVar(&eventType, "type", "", "Event type to show (lists types when empty)")
	f.StringVar(&eventKeywords, "keywords", "", "Comma-separated keywords, any of which must match")
	f.BoolVar(&eventAnalyze, "analyze", false, "Analyze the matched events")
	f.BoolVar(&eventExport, "export", false, "Export the matched events as JSON")

	statusCmd.Flags().DurationVar(&statusThreshold, "threshold", inventory.DefaultOfflineThreshold, "Highlight devices silent for longer than this")
	statusCmd.Flags().BoolVar(&viewExport, "export", false, "Export as CSV and XLSX")
	inventoryCmd.Flags().StringVar(&inventoryFilter, "filter", "", "Keep rows containing this text")
	inventoryCmd.Flags().BoolVar(&viewExport, "export", false, "Export as CSV and XLSX")
}
