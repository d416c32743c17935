package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/streamcore/internal/cluster"
	"github.com/roach88/streamcore/internal/record"
)

// ScaleResult is the routing information after a scale command.
type ScaleResult struct {
	CurrentPartitions []int32 `json:"current_partitions"`
	DesiredPartitions []int32 `json:"desired_partitions"`
	Stable            bool    `json:"stable"`
}

// NewScaleCommand creates the scale command and its subcommands.
func NewScaleCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scale",
		Short: "Inspect or grow the partition set",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show current and desired partitions",
		Long: `Ask partition 1 for the routing information.

Current partitions serve traffic; desired partitions that are not current
are still bootstrapping.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScale(rootOpts, cmd, func(ctx context.Context, c *cluster.Cluster) (record.ScaleRecord, error) {
				return c.Status(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "up <partition-count>",
		Short: "Grow the cluster to a partition count",
		Long: `Submit SCALE_UP to partition 1, open the new partitions and
acknowledge each bootstrap until the scale-up completes.

Exit codes:
  0 - Scale-up completed
  1 - Scale-up rejected
  2 - Command error

Example:
  streamcore scale up 3 --data-dir ./data`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil || count < 1 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid partition count %q", args[0]))
			}
			return runScale(rootOpts, cmd, func(ctx context.Context, c *cluster.Cluster) (record.ScaleRecord, error) {
				return c.ScaleUp(ctx, int32(count))
			})
		},
	})

	return cmd
}

func runScale(opts *RootOptions, cmd *cobra.Command, op func(context.Context, *cluster.Cluster) (record.ScaleRecord, error)) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}

	n, err := loadNode(opts, cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	if err := n.requireDataDir(); err != nil {
		return err
	}

	var status record.ScaleRecord
	err = n.withRunningCluster(cmd, func(ctx context.Context, c *cluster.Cluster) error {
		var err error
		status, err = op(ctx, c)
		return err
	})

	var rejection *cluster.RejectionError
	if errors.As(err, &rejection) {
		if formatter.JSON() {
			if outErr := formatter.Error(ErrCodeRejected, rejection.Reason, rejection.Type); outErr != nil {
				return outErr
			}
		} else {
			fmt.Fprintf(formatter.Writer, "✗ rejected: %s\n  %s\n", rejection.Type, rejection.Reason)
		}
		return WrapExitError(ExitFailure, "scale rejected", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "scale failed", err)
	}

	result := ScaleResult{
		CurrentPartitions: status.CurrentPartitions,
		DesiredPartitions: status.DesiredPartitions,
		Stable:            slices.Equal(status.CurrentPartitions, status.DesiredPartitions),
	}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "Current partitions: %v\n", result.CurrentPartitions)
	fmt.Fprintf(w, "Desired partitions: %v\n", result.DesiredPartitions)
	if !result.Stable {
		fmt.Fprintln(w, "Scale-up in progress")
	}
	return nil
}
