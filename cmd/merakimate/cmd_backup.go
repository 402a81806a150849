package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/merakimate/merakimate/pkg/audit"
	"github.com/merakimate/merakimate/pkg/backup"
	"github.com/merakimate/merakimate/pkg/cli"
	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/resources"
	"github.com/merakimate/merakimate/pkg/util"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "List, inspect and restore scope snapshots",
	Long: `Every applied scope is snapshotted first. Snapshots live in the store
selected by the backup_driver setting (fs, memory, s3, redis, sqlite).

Restoring fetches and snapshots the current state before writing the old
one back, so a restore can itself be undone.

Examples:
  merakimate backup list
  merakimate backup list --kind fixed-ip
  merakimate backup show vlan/N-1_20260101T120000Z.json
  merakimate backup restore vlan/N-1_20260101T120000Z.json -x`,
}

var backupKind string

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackups(cmd, func(ctx context.Context, store *backup.Store) error {
			metas, err := store.List(ctx, reconcile.Kind(backupKind))
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(metas)
			}
			if len(metas) == 0 {
				fmt.Println("No snapshots found")
				return nil
			}
			t := cli.NewTable("HANDLE", "KIND", "SCOPE", "TAKEN", "SIZE")
			for _, m := range metas {
				t.Row(m.Handle, string(m.Kind), m.Name, m.Taken.Local().Format("2006-01-02 15:04:05"), strconv.FormatInt(m.Size, 10))
			}
			t.Flush()
			return nil
		})
	},
}

var backupShowCmd = &cobra.Command{
	Use:   "show <handle>",
	Short: "Show a snapshot's records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackups(cmd, func(ctx context.Context, store *backup.Store) error {
			snap, err := store.Load(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(snap)
			}
			fmt.Printf("Snapshot: %s\n", snap.Handle)
			fmt.Printf("Scope:    %s\n", snap.Scope)
			fmt.Printf("Fetched:  %s\n", snap.FetchedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("Records:  %d\n\n", len(snap.Records))
			key := resources.DefaultKey(snap.Scope.Kind, reconcile.ModeMerge)
			for _, r := range snap.Records {
				fmt.Printf("  %s\n", key.Display(r))
			}
			return nil
		})
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <handle>",
	Short: "Write a snapshot back to its scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackups(cmd, func(ctx context.Context, store *backup.Store) error {
			snap, err := store.Load(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Restore %s: %d record(s) into %s\n", snap.Handle, len(snap.Records), snap.Scope)
			if !executeMode {
				printDryRunNotice()
				return nil
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				target, err := resources.New(s.Client, snap.Scope.Kind)
				if err != nil {
					return err
				}
				res, err := store.Restore(ctx, args[0], target)
				auditRestore(snap.Scope, res, err)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(res)
				}
				fmt.Printf("%s %s (%d request(s)); previous state saved as %s\n",
					green("Restored"), res.Scope, res.Applied.Requests, res.Snapshot)
				return nil
			})
		})
	},
}

func auditRestore(scope reconcile.Scope, res *backup.RestoreResult, err error) {
	event := audit.NewEvent(currentUser(), scope, "backup-restore").WithExecuteMode(true)
	event.Org = orgID
	if err != nil {
		event.WithError(err)
	} else {
		event.WithSuccess()
		event.Snapshot = res.Snapshot
	}
	if err := audit.Log(event); err != nil {
		util.Warnf("audit: %v", err)
	}
}

// withBackups opens the configured snapshot store around fn.
func withBackups(cmd *cobra.Command, fn func(ctx context.Context, store *backup.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openBackups(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

func init() {
	backupListCmd.Flags().StringVar(&backupKind, "kind", "", "Only list snapshots of this kind")
	backupCmd.AddCommand(backupListCmd, backupShowCmd, backupRestoreCmd)
}
