// Merakimate - Meraki dashboard bulk configuration tool
//
// A CLI for pushing bulk configuration into Meraki networks with:
//   - Fetch, diff and merge against the live configuration
//   - Conflict policy per run (overwrite-all, skip-all, ask-per-conflict)
//   - Dry-run by default (preview changes, require -x to execute)
//   - A snapshot of every scope before it is written, restorable later
//   - Audit logging of every apply attempt
//
// Context flags select the organization and network; commands act on them:
//
//	merakimate -o <org> -n <network> <noun> <verb> [args] [-x]
//
// Examples:
//
//	merakimate -n N_1 vlan push                     # preview data/vlans.yaml
//	merakimate -n N_1 vlan push -x                  # back up, then apply
//	merakimate -n N_1 fixed-ip push --on-conflict skip-all -x
//	merakimate -n N_1 firewall push l3 rules.yaml
//	merakimate -o 123 vpn-exclusion push datasheet.xlsx -x
//	merakimate backup list --kind vlan
//	merakimate backup restore vlan/N-1_20260101T120000Z.json -x
//	merakimate -n N_1 events --days 3 --type dhcp_problem --analyze
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"sync"

	"github.com/spf13/cobra"

	"github.com/merakimate/merakimate/pkg/audit"
	"github.com/merakimate/merakimate/pkg/cli"
	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/secret"
	"github.com/merakimate/merakimate/pkg/settings"
	"github.com/merakimate/merakimate/pkg/util"
	"github.com/merakimate/merakimate/pkg/version"
)

var (
	// Global context flags
	orgID     string // -o, --org
	networkID string // -n, --network

	// Global option flags
	onConflict   string
	retries      int
	workers      int
	vaultName    string
	secretName   string
	verbose      bool
	logJSON      bool
	executeMode  bool
	jsonOutput   bool
	userSettings *settings.Settings
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, red("Error:"), err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "merakimate",
	Short:             "Meraki dashboard bulk configuration tool",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Merakimate reconciles bulk configuration files against Meraki networks.

Every push fetches the live configuration, merges the desired records into
it and shows the plan. Write commands preview changes by default; use -x to
back up each scope and apply.

  merakimate -o <org> -n <network> <noun> <verb> [args] [-x]`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		userSettings, err = settings.Load()
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			userSettings = &settings.Settings{}
		}

		// Set log level: quiet by default, verbose on -v
		if verbose {
			util.SetLogLevel("debug")
		} else {
			util.SetLogLevel("warn")
		}
		if logJSON {
			util.SetJSONFormat()
		}

		if isSettingsOrHelp(cmd) {
			return nil
		}

		// Apply defaults from settings
		if orgID == "" {
			orgID = userSettings.DefaultOrg
		}
		if networkID == "" {
			networkID = userSettings.DefaultNetwork
		}

		size, backups := userSettings.GetAuditRotation()
		auditLogger, err := audit.Open(userSettings.GetAuditLogPath(), audit.RotationMB(size, backups))
		if err != nil {
			util.Warnf("Could not initialize audit logging: %v", err)
		} else {
			audit.SetDefaultLogger(auditLogger)
		}
		return nil
	},
}

func init() {
	// Context flags
	rootCmd.PersistentFlags().StringVarP(&orgID, "org", "o", "", "Organization id (or settings default_org)")
	rootCmd.PersistentFlags().StringVarP(&networkID, "network", "n", "", "Network id (or settings default_network)")

	// Option flags
	rootCmd.PersistentFlags().StringVar(&onConflict, "on-conflict", "", "Conflict policy: overwrite-all, skip-all, ask-per-conflict")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", 0, "Extra attempts after a transient failure (default from settings)")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "Scopes reconciled concurrently (default from settings)")
	rootCmd.PersistentFlags().StringVar(&vaultName, "vault", "", "Azure Key Vault holding the API key")
	rootCmd.PersistentFlags().StringVar(&secretName, "secret", "", "Key Vault secret name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON")

	// Write flags (-x) and output flags (--json) are local to the commands
	// that use them. Noun commands register them as persistent flags.
	for _, cmd := range []*cobra.Command{
		vlanCmd, dhcpCmd, fixedIPCmd, reservedRangeCmd, firewallCmd,
		policyObjectCmd, vpnExclusionCmd, backupCmd, networkCmd,
		claimCmd, renameCmd, switchPortCmd, ssidCmd,
	} {
		addWriteFlags(cmd)
	}
	for _, cmd := range []*cobra.Command{
		vlanCmd, dhcpCmd, fixedIPCmd, reservedRangeCmd, firewallCmd,
		policyObjectCmd, vpnExclusionCmd, backupCmd, networkCmd,
		orgsCmd, eventsCmd, statusCmd, inventoryCmd, s2sCmd,
	} {
		addOutputFlags(cmd)
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: "query", Title: "Views:"},
		&cobra.Group{ID: "mutate", Title: "Bulk Configuration:"},
		&cobra.Group{ID: "device", Title: "Device & Network Setup:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)

	for _, cmd := range []*cobra.Command{orgsCmd, eventsCmd, statusCmd, inventoryCmd, s2sCmd} {
		cmd.GroupID = "query"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{
		vlanCmd, dhcpCmd, fixedIPCmd, reservedRangeCmd, firewallCmd,
		policyObjectCmd, vpnExclusionCmd, backupCmd,
	} {
		cmd.GroupID = "mutate"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{networkCmd, claimCmd, renameCmd, switchPortCmd, ssidCmd} {
		cmd.GroupID = "device"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{settingsCmd, auditCmd, versionCmd, interactiveCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion("merakimate")
	},
}

func printVersion(tool string) {
	if version.Version == "dev" {
		fmt.Printf("%s dev build\n", tool)
	} else {
		fmt.Printf("%s %s (%s)\n", tool, version.Version, version.GitCommit)
	}
}

// ============================================================================
// Context Helpers
// ============================================================================

func requireOrg() (string, error) {
	if orgID == "" {
		return "", fmt.Errorf("organization required: use -o <org> or 'merakimate settings set default_org <id>'")
	}
	return orgID, nil
}

func requireNetwork() (string, error) {
	if networkID == "" {
		return "", fmt.Errorf("network required: use -n <network> or 'merakimate settings set default_network <id>'")
	}
	return networkID, nil
}

// session is an authenticated client plus whatever transport it holds open.
type session struct {
	*meraki.Client
	bastion *meraki.Bastion
}

func (s *session) Close() {
	if s.bastion != nil {
		s.bastion.Close()
	}
}

// connect resolves the API key (environment, Key Vault, then a hidden
// prompt) and builds the dashboard client.
func connect(ctx context.Context) (*session, error) {
	sources := []secret.Source{secret.Env{Var: secret.EnvAPIKey}}

	vault, name := vaultName, secretName
	if vault == "" {
		vault = userSettings.KeyVault
	}
	if name == "" {
		name = userSettings.SecretName
	}
	if vault != "" {
		v, err := secret.NewVault(vault, name)
		if err != nil {
			util.Warnf("Key Vault unavailable: %v", err)
		} else {
			sources = append(sources, v)
		}
	}
	sources = append(sources, secret.Prompt{Out: os.Stderr})

	token, source, err := secret.Resolve(ctx, sources...)
	if err != nil {
		return nil, fmt.Errorf("API key: %w", err)
	}
	util.WithField("source", source).Debug("API key loaded")

	opts := []meraki.Option{
		meraki.WithBaseURL(userSettings.GetBaseURL()),
		meraki.WithTimeout(userSettings.GetTimeout()),
	}
	s := &session{}
	if userSettings.SSHProxy != "" {
		b, err := meraki.DialBastion(meraki.BastionConfig{Spec: userSettings.SSHProxy})
		if err != nil {
			return nil, fmt.Errorf("ssh proxy: %w", err)
		}
		s.bastion = b
		opts = append(opts, meraki.WithDialer(b.DialContext))
	}
	s.Client = meraki.NewClient(token, opts...)
	return s, nil
}

// withSession connects, runs fn, and releases the session.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := connect(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

// stdin is shared so that buffered input is never split between readers.
var stdin = sync.OnceValue(func() *cli.Prompter {
	return cli.NewPrompter(os.Stdin, os.Stdout)
})

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

// ============================================================================
// Output Helpers
// ============================================================================

// Helper to print dry-run notice
func printDryRunNotice() {
	if !executeMode {
		fmt.Println("\n" + yellow("DRY-RUN: No changes applied. Use -x to execute."))
	}
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// isSettingsOrHelp checks whether cmd (or any ancestor) is a settings, help, or version command.
func isSettingsOrHelp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "version", "settings":
			return true
		}
	}
	return false
}

// addWriteFlags registers -x/--execute as a local flag.
// For noun-group parent commands, it is a PersistentFlag so subcommands inherit.
func addWriteFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if cmd.HasSubCommands() {
		flags = cmd.PersistentFlags()
	}
	flags.BoolVarP(&executeMode, "execute", "x", false, "Execute changes (default is dry-run)")
}

// addOutputFlags registers --json as a local flag.
// For noun-group parent commands, this is a PersistentFlag so subcommands inherit.
func addOutputFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if cmd.HasSubCommands() {
		flags = cmd.PersistentFlags()
	}
	flags.BoolVar(&jsonOutput, "json", false, "JSON output")
}

// Color helpers delegate to pkg/cli
func green(s string) string  { return cli.Green(s) }
func yellow(s string) string { return cli.Yellow(s) }
func red(s string) string    { return cli.Red(s) }
func bold(s string) string   { return cli.Bold(s) }
