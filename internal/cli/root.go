// Package cli implements esdctl, the operator command line for esdcore.
//
// Every command is a thin wrapper over the REST API: it resolves the
// server and token from flags or environment, makes one call and renders
// the result as a table or, with --json, as the raw API objects.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const (
	envServer = "ESDCTL_SERVER"
	envToken  = "ESDCTL_TOKEN"
)

// options holds the persistent flags shared by every command.
type options struct {
	server  string
	token   string
	json    bool
	timeout time.Duration
}

func (o *options) client() *Client {
	return NewClient(o.server, o.token, o.timeout)
}

// NewRootCommand builds the esdctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "esdctl",
		Short:         "Operate emergency shutdown sequences",
		Long:          "esdctl drives an esdcore server: browse the sequence catalog, start executions and follow their logs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr(envServer, defaultServerURL), "esdcore base URL (env "+envServer+")")
	flags.StringVar(&opts.token, "token", os.Getenv(envToken), "access token (env "+envToken+")")
	flags.BoolVar(&opts.json, "json", false, "print raw JSON")
	flags.DurationVar(&opts.timeout, "timeout", defaultTimeout, "request timeout")

	root.AddCommand(
		newLoginCmd(opts),
		newSequencesCmd(opts),
		newPlanCmd(opts),
		newStartCmd(opts),
		newApproveCmd(opts),
		newRejectCmd(opts),
		newContinueCmd(opts),
		newAbortCmd(opts),
		newStatusCmd(opts),
		newLogsCmd(opts),
		newHashPasswordCmd(opts),
	)
	return root
}

// Execute runs esdctl and returns the process exit code.
func Execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func writeJSONOutput(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
