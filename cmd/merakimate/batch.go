package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/merakimate/merakimate/pkg/audit"
	"github.com/merakimate/merakimate/pkg/backup"
	"github.com/merakimate/merakimate/pkg/batch"
	"github.com/merakimate/merakimate/pkg/metrics"
	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/resources"
	"github.com/merakimate/merakimate/pkg/util"
)

// bulkPath returns args[i] when given, else name under the bulk directory.
func bulkPath(args []string, i int, name string) string {
	if len(args) > i && args[i] != "" {
		return args[i]
	}
	return filepath.Join(userSettings.GetBulkDir(), name)
}

// openBackups opens the snapshot store configured in settings.
func openBackups(ctx context.Context) (*backup.Store, error) {
	driver, err := userSettings.GetBackupDriver()
	if err != nil {
		return nil, err
	}
	return backup.Open(ctx, backup.Options{
		Driver:     driver,
		Dir:        userSettings.GetBackupDir(),
		Bucket:     userSettings.BackupBucket,
		Prefix:     userSettings.BackupPrefix,
		Region:     userSettings.BackupRegion,
		Endpoint:   userSettings.BackupEndpoint,
		PathStyle:  userSettings.BackupEndpoint != "",
		RedisAddr:  userSettings.BackupRedisAddr,
		SQLitePath: userSettings.GetBackupSQLitePath(),
	})
}

// reconcileConfig merges flags over settings.
func reconcileConfig(mode reconcile.Mode) (reconcile.Config, error) {
	p, err := userSettings.GetOnConflict()
	if onConflict != "" {
		p, err = reconcile.ParseConflictPolicy(onConflict)
	}
	if err != nil {
		return reconcile.Config{}, err
	}
	cfg := reconcile.Config{
		OnConflict: p,
		Mode:       mode,
		Retries:    userSettings.GetRetries(),
		Backoff:    userSettings.GetRetryBackoff(),
		Workers:    userSettings.GetWorkers(),
		DryRun:     !executeMode,
	}
	if rootCmd.PersistentFlags().Changed("retries") {
		cfg.Retries = retries
	}
	if rootCmd.PersistentFlags().Changed("workers") {
		cfg.Workers = workers
	}
	if p == reconcile.AskPerConflict {
		cfg.Decider = stdin().Decider()
	}
	return cfg, nil
}

// groupJobs drains src into jobs and reports the rows it skipped.
func groupJobs(src batch.Source, mode reconcile.Mode) []reconcile.Job {
	jobs := batch.Group(src, func(k reconcile.Kind) reconcile.IdentityKey { return resources.DefaultKey(k, mode) })
	for _, e := range src.Skipped() {
		fmt.Println(yellow("Skipped") + " " + e.Error())
	}
	return jobs
}

// runBatch drains src and reconciles its scopes.
func runBatch(ctx context.Context, s *session, operation string, mode reconcile.Mode, src batch.Source) error {
	return runJobs(ctx, s, operation, mode, groupJobs(src, mode))
}

// runJobs reconciles jobs, one run per resource kind in order of first
// appearance. It returns an error when any scope failed.
func runJobs(ctx context.Context, s *session, operation string, mode reconcile.Mode, jobs []reconcile.Job) error {
	if len(jobs) == 0 {
		fmt.Println("Nothing to reconcile.")
		return nil
	}

	cfg, err := reconcileConfig(mode)
	if err != nil {
		return err
	}
	if executeMode {
		store, err := openBackups(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		cfg.Backup = store
	}
	rec := metrics.New()
	cfg.Observers = []reconcile.Observer{
		rec,
		audit.NewRecorder(nil, currentUser(), orgID, operation, executeMode),
	}

	reports, failed, err := runByKind(jobs, func(kind reconcile.Kind, jobs []reconcile.Job) (*reconcile.Report, error) {
		client, err := resources.New(s.Client, kind)
		if err != nil {
			return nil, err
		}
		r, err := reconcile.New(client, cfg)
		if err != nil {
			return nil, err
		}
		util.WithOperation(operation).WithField("kind", kind).Debugf("reconciling %d scope(s)", len(jobs))
		report := r.Run(ctx, jobs)
		if !jsonOutput {
			printReport(report)
		}
		return report, nil
	})
	if err != nil {
		return err
	}

	if path := userSettings.MetricsFile; path != "" {
		if err := rec.WriteTextfile(path); err != nil {
			util.Warnf("Could not write metrics: %v", err)
		}
	}
	if jsonOutput {
		if err := printJSON(reports); err != nil {
			return err
		}
	} else {
		printDryRunNotice()
	}
	if failed > 0 {
		return fmt.Errorf("%d scope(s) failed", failed)
	}
	return nil
}

// runByKind calls run once per kind, in order of first appearance, and
// returns the reports with the number of failed scopes. Rejected
// credentials stop the remaining kinds; their scopes count as failed.
func runByKind(jobs []reconcile.Job, run func(reconcile.Kind, []reconcile.Job) (*reconcile.Report, error)) ([]*reconcile.Report, int, error) {
	var kinds []reconcile.Kind
	byKind := map[reconcile.Kind][]reconcile.Job{}
	for _, j := range jobs {
		if _, ok := byKind[j.Scope.Kind]; !ok {
			kinds = append(kinds, j.Scope.Kind)
		}
		byKind[j.Scope.Kind] = append(byKind[j.Scope.Kind], j)
	}

	var reports []*reconcile.Report
	failed := 0
	for i, kind := range kinds {
		report, err := run(kind, byKind[kind])
		if err != nil {
			return reports, failed, err
		}
		reports = append(reports, report)
		failed += report.Summary().Failed
		if report.AuthRejected() {
			for _, rest := range kinds[i+1:] {
				failed += len(byKind[rest])
				fmt.Printf("%s %d %s scope(s): credentials were rejected\n", yellow("Skipped"), len(byKind[rest]), rest)
			}
			break
		}
	}
	return reports, failed, nil
}

func printReport(report *reconcile.Report) {
	for _, o := range report.Outcomes {
		fmt.Println()
		if err := reconcile.WritePlan(os.Stdout, o, report.DryRun); err != nil {
			util.Warnf("rendering plan for %s: %v", o.Scope, err)
		}
		switch {
		case o.State == reconcile.StateFailed:
			fmt.Printf("  %s %s: %s\n", red("FAILED"), o.Reason, o.Detail())
		case o.DryRun:
			fmt.Printf("  %s\n", yellow("planned"))
		case o.NoChange:
			fmt.Printf("  %s\n", green("unchanged"))
		default:
			fmt.Printf("  %s %d request(s), snapshot %s\n", green("applied"), o.Applied.Requests, o.Snapshot)
		}
	}
	fmt.Printf("\n%s %s\n", bold(string(report.Kind)+":"), report.Summary())
}
