package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/merakimate/merakimate/pkg/batch"
	"github.com/merakimate/merakimate/pkg/cli"
	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/reconcile"
)

var policyObjectCmd = &cobra.Command{
	Use:     "policy-object",
	Aliases: []string{"po"},
	Short:   "Manage organization policy objects and groups",
	Long: `Manage organization-wide policy objects.

policy_objects.yaml:
  ips:
    - 10.1.1.10
    - 10.1.1.11

push creates one /32 cidr object per address, named <base>-10-1-1-10.
With --group the objects are then grouped into <base>_Group_<n>, at most
149 objects per group.

Examples:
  merakimate -o 123 policy-object list
  merakimate -o 123 policy-object push Branch --group -x
  merakimate -o 123 policy-object delete Branch-10 -x
  merakimate -o 123 policy-object delete-group 5678 -x`,
}

var policyGroupAfterPush bool

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policy objects",
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return listPolicyObjects(ctx, s, org)
		})
	},
}

func listPolicyObjects(ctx context.Context, s *session, org string) error {
	objs, err := s.PolicyObjects(ctx, org)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(objs)
	}
	if len(objs) == 0 {
		fmt.Println("No policy objects found")
		return nil
	}
	printPolicyObjects(objs)
	return nil
}

func printPolicyObjects(objs []meraki.PolicyObject) {
	t := cli.NewTable("ID", "NAME", "TYPE", "VALUE", "GROUPS")
	for _, o := range objs {
		value := o.CIDR
		if o.FQDN != "" {
			value = o.FQDN
		}
		t.Row(o.ID, o.Name, o.Type, value, strings.Join(o.GroupIDs, ","))
	}
	t.Flush()
}

var policyGroupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List policy object groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return listPolicyGroups(ctx, s, org)
		})
	},
}

func listPolicyGroups(ctx context.Context, s *session, org string) error {
	groups, err := s.PolicyObjectGroups(ctx, org)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(groups)
	}
	if len(groups) == 0 {
		fmt.Println("No policy object groups found")
		return nil
	}
	t := cli.NewTable("ID", "NAME", "OBJECTS")
	for _, g := range groups {
		t.Row(g.ID, g.Name, strings.Join(g.ObjectIDs, ", "))
	}
	t.Flush()
	return nil
}

var policyPushCmd = &cobra.Command{
	Use:   "push <base-name> [file]",
	Short: "Create cidr objects from an IP list (default: <bulk_dir>/" + batch.PolicyObjectsFile + ")",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		src, err := batch.PolicyObjectIPs(bulkPath(args, 1, batch.PolicyObjectsFile), org, args[0])
		if err != nil {
			return err
		}
		jobs := groupJobs(src, reconcile.ModeMerge)
		return withSession(cmd, func(ctx context.Context, s *session) error {
			if err := runJobs(ctx, s, "policy-object-push", reconcile.ModeMerge, jobs); err != nil {
				return err
			}
			if !policyGroupAfterPush || !executeMode {
				return nil
			}
			return groupPushed(ctx, s, org, args[0], jobs)
		})
	},
}

// groupPushed groups the objects named by jobs, looked up after the push.
func groupPushed(ctx context.Context, s *session, org, baseName string, jobs []reconcile.Job) error {
	want := map[string]bool{}
	for _, j := range jobs {
		for _, r := range j.Records {
			if name, ok := r["name"].(string); ok {
				want[name] = true
			}
		}
	}
	objs, err := s.PolicyObjects(ctx, org)
	if err != nil {
		return err
	}
	var ids []string
	for _, o := range objs {
		if want[o.Name] {
			ids = append(ids, o.ID)
		}
	}
	if len(ids) == 0 {
		fmt.Println("No objects to group.")
		return nil
	}
	groups, err := s.GroupPolicyObjects(ctx, org, baseName, ids)
	for _, g := range groups {
		fmt.Printf("%s group %s (%d objects)\n", green("Created"), g.Name, len(g.ObjectIDs))
	}
	return err
}

var policyDeleteCmd = &cobra.Command{
	Use:   "delete <search>",
	Short: "Delete policy objects whose name contains search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return deletePolicyObjects(ctx, s, org, args[0])
		})
	},
}

// deletePolicyObjects deletes every object whose name contains search,
// case-insensitively.
func deletePolicyObjects(ctx context.Context, s *session, org, search string) error {
	objs, err := s.PolicyObjects(ctx, org)
	if err != nil {
		return err
	}
	matched := matchPolicyObjects(objs, search)
	if len(matched) == 0 {
		fmt.Printf("No policy objects match %q\n", search)
		return nil
	}
	fmt.Println("Policy objects to delete:")
	printPolicyObjects(matched)
	if !executeMode {
		printDryRunNotice()
		return nil
	}
	failed := 0
	for _, o := range matched {
		if err := s.DeletePolicyObject(ctx, org, o.ID); err != nil {
			fmt.Printf("%s %s: %v\n", red("FAILED"), o.Name, err)
			failed++
			continue
		}
		fmt.Printf("%s %s\n", green("Deleted"), o.Name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d deletions failed", failed, len(matched))
	}
	return nil
}

func matchPolicyObjects(objs []meraki.PolicyObject, search string) []meraki.PolicyObject {
	needle := strings.ToLower(search)
	var out []meraki.PolicyObject
	for _, o := range objs {
		if strings.Contains(strings.ToLower(o.Name), needle) {
			out = append(out, o)
		}
	}
	return out
}

var policyDeleteGroupCmd = &cobra.Command{
	Use:   "delete-group <id>...",
	Short: "Delete policy object groups",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return deletePolicyGroups(ctx, s, org, args)
		})
	},
}

func deletePolicyGroups(ctx context.Context, s *session, org string, ids []string) error {
	fmt.Printf("Groups to delete: %s\n", strings.Join(ids, ", "))
	if !executeMode {
		printDryRunNotice()
		return nil
	}
	for _, id := range ids {
		if err := s.DeletePolicyObjectGroup(ctx, org, id); err != nil {
			return fmt.Errorf("deleting group %s: %w", id, err)
		}
		fmt.Printf("%s group %s\n", green("Deleted"), id)
	}
	return nil
}

func init() {
	policyPushCmd.Flags().BoolVar(&policyGroupAfterPush, "group", false, "Group the created objects (requires -x)")
	policyObjectCmd.AddCommand(policyListCmd, policyGroupsCmd, policyPushCmd, policyDeleteCmd, policyDeleteGroupCmd)
}
