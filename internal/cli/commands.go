package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nerrad567/gray-logic-esd/internal/audit"
	"github.com/nerrad567/gray-logic-esd/internal/auth"
	"github.com/nerrad567/gray-logic-esd/internal/orchestrator"
	"github.com/nerrad567/gray-logic-esd/internal/sequence"
)

const defaultFollowInterval = time.Second

func newLoginCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "login <username>",
		Short: "Obtain an access token",
		Long:  "Authenticate against esdcore and print the access token. The password is read from the terminal, or from the first line of stdin when piped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
			if err != nil {
				return err
			}
			res, err := opts.client().Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSONOutput(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Logged in as %s (%s), token valid %ds\n", res.Username, res.Role, res.ExpiresIn)
			fmt.Fprintln(cmd.OutOrStdout(), res.AccessToken)
			return nil
		},
	}
}

func newSequencesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "sequences",
		Aliases: []string{"seq"},
		Short:   "List the sequence catalog",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seqs, err := opts.client().Sequences(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSONOutput(cmd.OutOrStdout(), seqs)
			}
			rows := make([][]string, 0, len(seqs))
			for _, s := range seqs {
				rows = append(rows, []string{
					s.ID,
					s.Name,
					string(s.Type),
					orDash(s.LevelCode),
					strconv.Itoa(len(s.Steps)),
					formatYesNo(s.RequiresOperatorApproval),
					formatYesNo(s.Active),
				})
			}
			return writeTable(cmd.OutOrStdout(), []string{"ID", "NAME", "TYPE", "LEVEL", "STEPS", "APPROVAL", "ACTIVE"}, rows)
		},
	}
}

func newPlanCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <sequence-id>",
		Short: "Show the compiled stage plan of a sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Plan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSONOutput(cmd.OutOrStdout(), res)
			}
			var rows [][]string
			for _, stage := range res.Plan.Stages {
				for _, st := range stage.Steps {
					rows = append(rows, []string{
						strconv.Itoa(stage.Index + 1),
						strconv.Itoa(st.StepNumber),
						st.ID,
						string(st.ActionType),
						orDash(st.TargetPoint()),
						stepFlags(st),
					})
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d stages, %d steps\n", res.Plan.SequenceID, res.StageCount, res.StepCount)
			return writeTable(cmd.OutOrStdout(), []string{"STAGE", "STEP", "ID", "ACTION", "TARGET", "FLAGS"}, rows)
		},
	}
}

func stepFlags(st sequence.Step) string {
	var flags []string
	if st.HoldPoint {
		flags = append(flags, "hold")
	}
	if st.RequiresConfirmation {
		flags = append(flags, "confirm")
	}
	if st.NonBlocking {
		flags = append(flags, "non-blocking")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func newStartCmd(opts *options) *cobra.Command {
	var req StartRequest
	cmd := &cobra.Command{
		Use:   "start <sequence-id>",
		Short: "Initiate a sequence execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.SequenceID = args[0]
			exec, err := opts.client().Start(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printExecution(cmd.OutOrStdout(), opts, exec)
		},
	}
	cmd.Flags().StringVar(&req.Reason, "reason", "", "reason recorded in the execution log")
	cmd.Flags().BoolVar(&req.IsEmergency, "emergency", false, "start immediately without approval")
	cmd.Flags().BoolVar(&req.BypassInterlocks, "bypass-interlocks", false, "skip interlock evaluation (logged)")
	return cmd
}

type transitionFunc func(ctx context.Context, c *Client, id, reason string) (*orchestrator.Execution, error)

func newTransitionCmd(opts *options, use, short string, withReason bool, fn transitionFunc) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <execution-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := fn(cmd.Context(), opts.client(), args[0], reason)
			if err != nil {
				return err
			}
			return printExecution(cmd.OutOrStdout(), opts, exec)
		},
	}
	if withReason {
		cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the execution log")
	}
	return cmd
}

func newApproveCmd(opts *options) *cobra.Command {
	return newTransitionCmd(opts, "approve", "Approve a pending execution", false,
		func(ctx context.Context, c *Client, id, _ string) (*orchestrator.Execution, error) {
			return c.Approve(ctx, id)
		})
}

func newRejectCmd(opts *options) *cobra.Command {
	return newTransitionCmd(opts, "reject", "Reject a pending execution", true,
		func(ctx context.Context, c *Client, id, reason string) (*orchestrator.Execution, error) {
			return c.Reject(ctx, id, reason)
		})
}

func newContinueCmd(opts *options) *cobra.Command {
	return newTransitionCmd(opts, "continue", "Resume an execution paused at a hold point", false,
		func(ctx context.Context, c *Client, id, _ string) (*orchestrator.Execution, error) {
			return c.Continue(ctx, id)
		})
}

func newAbortCmd(opts *options) *cobra.Command {
	return newTransitionCmd(opts, "abort", "Abort a running or paused execution", true,
		func(ctx context.Context, c *Client, id, reason string) (*orchestrator.Execution, error) {
			return c.Abort(ctx, id, reason)
		})
}

func newStatusCmd(opts *options) *cobra.Command {
	var (
		all      bool
		statuses []string
		seqID    string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "status [execution-id]",
		Short: "Show one execution, or list executions",
		Long:  "With an id, show that execution. Without, list active executions; --all lists recent executions of any status.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			if len(args) == 1 {
				exec, err := client.Execution(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printExecution(cmd.OutOrStdout(), opts, exec)
			}

			q := ExecutionQuery{Active: !all && len(statuses) == 0, Statuses: statuses, SequenceID: seqID, Limit: limit}
			execs, err := client.Executions(cmd.Context(), q)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSONOutput(cmd.OutOrStdout(), execs)
			}
			rows := make([][]string, 0, len(execs))
			for _, e := range execs {
				rows = append(rows, []string{
					e.ID,
					e.SequenceID,
					string(e.Status),
					orDash(e.CurrentStepID),
					e.InitiatedBy,
					formatTime(e.InitiatedAt),
					formatYesNo(e.IsEmergency),
				})
			}
			return writeTable(cmd.OutOrStdout(), []string{"ID", "SEQUENCE", "STATUS", "STEP", "BY", "STARTED", "EMERGENCY"}, rows)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include finished executions")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (repeatable)")
	cmd.Flags().StringVar(&seqID, "sequence", "", "filter by sequence id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum executions to list")
	return cmd
}

func newLogsCmd(opts *options) *cobra.Command {
	var (
		q        LogQuery
		follow   bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "logs <execution-id>",
		Short: "Print an execution's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			out := cmd.OutOrStdout()
			id := args[0]
			q.Level = strings.ToUpper(q.Level)

			for {
				entries, err := client.Logs(cmd.Context(), id, q)
				if err != nil {
					return err
				}
				if err := printEntries(out, opts, entries); err != nil {
					return err
				}
				if n := len(entries); n > 0 {
					q.AfterSeq = entries[n-1].Seq
				}
				if !follow {
					return nil
				}

				exec, err := client.Execution(cmd.Context(), id)
				if err != nil {
					return err
				}
				if exec.Status.Terminal() && len(entries) == 0 {
					return nil
				}
				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(interval):
				}
			}
		},
	}
	cmd.Flags().StringVar(&q.Level, "level", "", "only entries at this level (INFO, WARNING, ERROR, SUCCESS)")
	cmd.Flags().StringVar(&q.StepID, "step", "", "only entries for this step id")
	cmd.Flags().Int64Var(&q.AfterSeq, "after", 0, "only entries after this sequence number")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum entries per request")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling until the execution finishes")
	cmd.Flags().DurationVar(&interval, "interval", defaultFollowInterval, "poll interval with --follow")
	return cmd
}

func newHashPasswordCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password for security.operators in the core config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), "New password: ")
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func printExecution(out io.Writer, opts *options, exec *orchestrator.Execution) error {
	if opts.json {
		return writeJSONOutput(out, exec)
	}
	rows := [][]string{
		{"ID", exec.ID},
		{"Sequence", fmt.Sprintf("%s (%s)", exec.SequenceID, orDash(exec.SequenceName))},
		{"Status", string(exec.Status)},
		{"Approval", string(exec.ApprovalStatus)},
		{"Current step", orDash(exec.CurrentStepID)},
		{"Initiated", fmt.Sprintf("%s by %s", formatTime(exec.InitiatedAt), exec.InitiatedBy)},
		{"Emergency", formatYesNo(exec.IsEmergency)},
		{"Bypass interlocks", formatYesNo(exec.BypassInterlocks)},
	}
	if exec.Reason != "" {
		rows = append(rows, []string{"Reason", exec.Reason})
	}
	if exec.ApprovedBy != "" {
		rows = append(rows, []string{"Decided by", exec.ApprovedBy})
	}
	if exec.CompletedAt != nil {
		rows = append(rows, []string{"Finished", formatTime(*exec.CompletedAt)})
	}
	if exec.FailureReason != "" {
		rows = append(rows, []string{"Failure", exec.FailureReason})
	}
	for i := range rows {
		rows[i][0] += ":"
	}
	return writeTable(out, nil, rows)
}

func printEntries(out io.Writer, opts *options, entries []audit.Entry) error {
	if opts.json {
		for _, e := range entries {
			if err := writeJSONOutput(out, e); err != nil {
				return err
			}
		}
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.Seq, 10),
			formatTime(e.Time),
			string(e.Level),
			orDash(e.StepID),
			e.Message,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return writeTable(out, nil, rows)
}

// readPassword prompts on a terminal, otherwise reads the first line of in.
func readPassword(in io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, label)
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return nonEmpty(string(raw))
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return nonEmpty(strings.TrimRight(line, "\r\n"))
}

func nonEmpty(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	return password, nil
}
