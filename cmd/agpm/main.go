// Command agpm installs and resolves dependencies declared in agpm.toml.
//
// The command tree is grounded on the teacher's cmd/gh-aw/main.go: a cobra
// root command with a short usage summary and a handful of leaf
// subcommands, each a thin wrapper that constructs a pkg/engine.Client and
// delegates.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agpm-dev/agpm/pkg/engine"
	"github.com/agpm-dev/agpm/pkg/stringutil"
)

// maxDiagnosticLine bounds how much of a single install diagnostic is echoed
// to the terminal; longer messages are cut to this length.
const maxDiagnosticLine = 200

var (
	projectRoot string
	frozen      bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agpm",
		Short: "agpm manages declarative dependencies for AI coding assistant resources",
		Long: `agpm resolves and installs agents, snippets, commands, scripts, hooks,
MCP servers, and skills declared in agpm.toml, producing a deterministic
agpm.lock and an installed project tree.`,
	}
	root.PersistentFlags().StringVar(&projectRoot, "project", ".", "project root containing agpm.toml")
	root.AddCommand(installCmd(), resolveCmd(), validateCmd())
	return root
}

func installCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "resolve dependencies (if needed) and install them into the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			sum, err := c.Install(context.Background(), engine.ResolveOptions{Frozen: frozen})
			if err != nil {
				return err
			}
			fmt.Printf("installed %d file(s), pruned %d, %d error(s)\n", len(sum.Installed), len(sum.Pruned), len(sum.Errors))
			for _, e := range sum.Errors {
				fmt.Fprintln(os.Stderr, stringutil.Truncate(e.Error(), maxDiagnosticLine))
			}
			if len(sum.Errors) > 0 {
				return fmt.Errorf("install completed with errors")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&frozen, "frozen", false, "fail instead of re-resolving if the manifest changed")
	return cmd
}

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "resolve dependencies and report the count, without writing agpm.lock or installing files",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			res, err := c.Resolve(context.Background(), engine.ResolveOptions{Frozen: frozen})
			if err != nil {
				return err
			}
			if res.FastPath {
				fmt.Println("manifest unchanged, lockfile already up to date")
				return nil
			}
			fmt.Printf("resolved %d dependencies\n", len(res.Graph.Nodes))
			return nil
		},
	}
	cmd.Flags().BoolVar(&frozen, "frozen", false, "fail instead of re-resolving if the manifest changed")
	return cmd
}

func validateCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "check the manifest and lockfile for consistency without resolving",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			report := c.Validate(context.Background())
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			for _, e := range report.Errors {
				fmt.Fprintln(os.Stderr, "error:", e)
			}
			for _, w := range report.Warnings {
				fmt.Fprintln(os.Stderr, "warning:", w)
			}
			if !report.Valid {
				return fmt.Errorf("manifest is invalid")
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit a structured JSON report")
	return cmd
}

func newClient() (*engine.Client, error) {
	return engine.New(engine.Options{ProjectRoot: projectRoot})
}
