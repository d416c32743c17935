package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/streamcore/internal/cluster"
	"github.com/roach88/streamcore/internal/partition"
)

// PartitionReplay is the determinism check of one partition.
type PartitionReplay struct {
	Partition     int32  `json:"partition"`
	Commands      int    `json:"commands"`
	Records       int    `json:"records"`
	Events        int    `json:"events"`
	LiveDigest    string `json:"live_digest"`
	RebuiltDigest string `json:"rebuilt_digest"`
	Reprocessed   bool   `json:"reprocessed_identically"`
	Mismatch      string `json:"mismatch,omitempty"`
	Deterministic bool   `json:"deterministic"`
}

// ReplayResult holds the checks of every partition.
type ReplayResult struct {
	Partitions       []PartitionReplay `json:"partitions"`
	AllDeterministic bool              `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Verify that every partition replays deterministically",
		Long: `Check each partition of a stopped node twice:

  - reprocess: run the submitted commands of the log through a fresh
    in-memory partition and compare the resulting log record by record
  - rebuild: drop the state, apply every event of the log and compare the
    state digest with the digest before the rebuild

Exit codes:
  0 - All partitions deterministic
  1 - A partition did not replay deterministically
  2 - Command error

Example:
  streamcore replay --data-dir ./data`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, cmd)
		},
	}

	return cmd
}

func runReplay(opts *RootOptions, cmd *cobra.Command) (err error) {
	n, err := loadNode(opts, cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	if err := n.requireDataDir(); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	c, err := cluster.Open(ctx, n.clusterOptions())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open cluster", err)
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil && err == nil {
			err = WrapExitError(ExitCommandError, "failed to close cluster", closeErr)
		}
	}()

	result := ReplayResult{AllDeterministic: true}
	for _, id := range c.Partitions() {
		p, _ := c.Partition(id)
		check, err := replayPartition(ctx, p)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("replay partition %d", id), err)
		}
		result.Partitions = append(result.Partitions, check)
		result.AllDeterministic = result.AllDeterministic && check.Deterministic
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if formatter.JSON() {
		return outputReplayJSON(formatter, result)
	}
	return outputReplayText(formatter, result)
}

func replayPartition(ctx context.Context, p *partition.Partition) (PartitionReplay, error) {
	check := PartitionReplay{Partition: p.ID()}

	live, err := p.Digest()
	if err != nil {
		return check, err
	}
	check.LiveDigest = live

	reprocessed, err := p.Reprocess(ctx)
	if err != nil {
		return check, err
	}
	check.Commands = reprocessed.Commands
	check.Records = reprocessed.Records
	check.Reprocessed = reprocessed.Deterministic()
	if m := reprocessed.Mismatch; m != nil {
		check.Mismatch = fmt.Sprintf("position %d: %s", m.Position, m.Diff)
	}

	rebuilt, err := p.Rebuild(ctx)
	if err != nil {
		return check, err
	}
	check.Events = rebuilt.Events
	check.RebuiltDigest = rebuilt.Digest

	check.Deterministic = check.Reprocessed && check.LiveDigest == check.RebuiltDigest
	return check, nil
}

func outputReplayJSON(f *OutputFormatter, result ReplayResult) error {
	var failure *CLIError
	if !result.AllDeterministic {
		failure = &CLIError{Code: ErrCodeDeterminism, Message: "determinism verification failed"}
	}
	if err := f.Result(result, failure); err != nil {
		return err
	}
	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

func outputReplayText(f *OutputFormatter, result ReplayResult) error {
	w := f.Writer

	fmt.Fprintf(w, "Replay Summary: %d partition(s)\n", len(result.Partitions))
	fmt.Fprintln(w)

	for _, check := range result.Partitions {
		status := "✓"
		if !check.Deterministic {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Partition %d\n", status, check.Partition)
		fmt.Fprintf(w, "  Records: %d (%d commands submitted, %d events)\n", check.Records, check.Commands, check.Events)
		if f.Verbose {
			fmt.Fprintf(w, "  Live digest:    %s\n", check.LiveDigest)
			fmt.Fprintf(w, "  Rebuilt digest: %s\n", check.RebuiltDigest)
		}
		if !check.Reprocessed {
			fmt.Fprintf(w, "  Warning: reprocessing diverged at %s\n", check.Mismatch)
		}
		if check.LiveDigest != check.RebuiltDigest {
			fmt.Fprintln(w, "  Warning: rebuilt state differs from live state")
		}
		fmt.Fprintln(w)
	}

	if result.AllDeterministic {
		fmt.Fprintln(w, "✓ All partitions verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}
