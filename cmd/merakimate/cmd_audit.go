package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/merakimate/merakimate/pkg/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View audit logs",
	Long: `View audit logs of configuration changes.

Every scope of every push is logged with:
  - Timestamp and user
  - Kind and scope affected
  - Final state, counts and snapshot handle
  - Success/failure status

Examples:
  merakimate audit list --kind vlan
  merakimate audit list --last 24h
  merakimate audit list --scope N_1 --failures
  merakimate audit list --reason auth-rejected
  merakimate audit runs --last 168h`,
}

var (
	auditKind     string
	auditScope    string
	auditUser     string
	auditRun      string
	auditState    string
	auditReason   string
	auditLast     string
	auditLimit    int
	auditFailures bool
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := auditFilter()
		if err != nil {
			return err
		}
		events, err := audit.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		if jsonOutput {
			return printJSON(events)
		}

		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tUSER\tSCOPE\tOPERATION\tCHANGES\tSTATUS")
		fmt.Fprintln(w, "---------\t----\t-----\t---------\t-------\t------")

		for _, event := range events {
			status := green("ok")
			if !event.Success {
				status = red("failed")
				if event.Reason != "" {
					status = red(event.Reason)
				}
			}
			if event.DryRun {
				status = yellow("dry-run")
			}

			fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\t%s\t%s\n",
				event.Timestamp.Format("2006-01-02 15:04:05"),
				event.User,
				event.Kind,
				event.Scope,
				event.Operation,
				event.Counts,
				status,
			)
		}
		w.Flush()

		return nil
	},
}

var auditRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Summarise audit events per batch run",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := auditFilter()
		if err != nil {
			return err
		}
		limit := filter.Limit
		filter.Limit = 0
		events, err := audit.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}
		runs := audit.Runs(events)
		if limit > 0 && len(runs) > limit {
			runs = runs[:limit]
		}
		if jsonOutput {
			return printJSON(runs)
		}
		if len(runs) == 0 {
			fmt.Println("No audit events found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tRUN\tUSER\tOPERATION\tSCOPES\tDONE\tFAILED\tREASONS")
		for _, r := range runs {
			op := r.Operation
			if r.DryRun {
				op += " " + yellow("(dry-run)")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				r.Started.Local().Format("2006-01-02 15:04:05"),
				r.RunID,
				r.User,
				op,
				r.Scopes,
				r.Done,
				r.Failed,
				reasonList(r.Reasons),
			)
		}
		return w.Flush()
	},
}

func auditFilter() (audit.Filter, error) {
	filter := audit.Filter{
		Kind:     auditKind,
		Scope:    auditScope,
		User:     auditUser,
		RunID:    auditRun,
		State:    auditState,
		Reason:   auditReason,
		Limit:    auditLimit,
		Failures: auditFailures,
	}
	if auditLast != "" {
		d, err := time.ParseDuration(auditLast)
		if err != nil {
			return filter, fmt.Errorf("invalid duration: %s", auditLast)
		}
		filter.Since = time.Now().Add(-d)
	}
	return filter, nil
}

func reasonList(reasons map[string]int) string {
	if len(reasons) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(reasons))
	for k := range reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, reasons[k])
	}
	return strings.Join(parts, ",")
}

func init() {
	for _, c := range []*cobra.Command{auditListCmd, auditRunsCmd} {
		c.Flags().StringVar(&auditKind, "kind", "", "Filter by resource kind")
		c.Flags().StringVar(&auditScope, "scope", "", "Filter by scope id")
		c.Flags().StringVar(&auditUser, "user", "", "Filter by user")
		c.Flags().StringVar(&auditRun, "run", "", "Filter by run id")
		c.Flags().StringVar(&auditState, "state", "", "Filter by final state (DONE, FAILED)")
		c.Flags().StringVar(&auditReason, "reason", "", "Filter by failure reason (e.g. apply-rejected)")
		c.Flags().StringVar(&auditLast, "last", "", "Show events from last duration (e.g., 24h, 90m)")
		c.Flags().IntVar(&auditLimit, "limit", 100, "Maximum entries to show")
		c.Flags().BoolVar(&auditFailures, "failures", false, "Show only failed scopes")
		addOutputFlags(c)
	}
	auditCmd.AddCommand(auditListCmd, auditRunsCmd)
}
