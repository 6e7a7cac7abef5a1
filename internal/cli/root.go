// Package cli provides the docchat command-line client.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ericksa/docchat/internal/client"
)

// Version is set at build time.
var Version = "0.1.0"

// app carries the settings and client shared by every command.
type app struct {
	v      *viper.Viper
	client *client.Client
	out    io.Writer
}

// NewRootCmd builds the docchat command tree.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix("DOCCHAT")
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "docchat",
		Short: "Chat with an AI agent about your contracts",
		Long: `docchat talks to a docchat gateway: start sessions, chat with the agent,
upload contracts for analysis and follow the analysis as it runs.

The gateway address and token come from --server and --token or from the
DOCCHAT_SERVER and DOCCHAT_TOKEN environment variables.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			a.client = client.New(a.v.GetString("server"), a.v.GetString("token"), nil)
			return nil
		},
	}

	root.PersistentFlags().String("server", "http://localhost:8080", "gateway base URL")
	root.PersistentFlags().String("token", "", "gateway auth token")
	root.PersistentFlags().Bool("json", false, "print raw JSON")
	a.v.BindPFlag("server", root.PersistentFlags().Lookup("server"))
	a.v.BindPFlag("token", root.PersistentFlags().Lookup("token"))
	a.v.BindPFlag("json", root.PersistentFlags().Lookup("json"))

	root.AddCommand(
		a.greetingCmd(),
		a.newCmd(),
		a.listCmd(),
		a.showCmd(),
		a.sendCmd(),
		a.followUpCmd(),
		a.uploadCmd(),
		a.analysisCmd(),
		a.noticesCmd(),
		a.toggleCmd(),
		a.resetCmd(),
		a.deleteCmd(),
		a.downloadCmd(),
		a.watchCmd(),
		a.auditCmd(),
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (a *app) jsonOutput() bool {
	return a.v.GetBool("json")
}

// print writes v as indented JSON when --json is set, otherwise calls text.
func (a *app) print(v any, text func()) error {
	if a.jsonOutput() {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text()
	return nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
