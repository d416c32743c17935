package cli

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/streamcore/internal/cluster"
	"github.com/roach88/streamcore/internal/engine"
	"github.com/roach88/streamcore/internal/harness"
	"github.com/roach88/streamcore/internal/record"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Key       int64
	Partition int32
	Value     string
	Actor     string
}

// SubmitResult is the response to a submitted command.
type SubmitResult struct {
	Partition       int32           `json:"partition"`
	Key             int64           `json:"key"`
	RecordType      string          `json:"record_type"`
	ValueType       string          `json:"value_type"`
	Intent          string          `json:"intent"`
	RejectionType   string          `json:"rejection_type,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	Value           json.RawMessage `json:"value,omitempty"`
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <VALUE_TYPE> <INTENT>",
		Short: "Submit one command and print its response",
		Long: `Open the cluster, submit one command and wait for its response.

The command goes to the partition encoded in its key; SCALE commands and
commands without a key go to partition 1 unless --partition is given.
The value is the JSON form of the record value.

Exit codes:
  0 - Command accepted
  1 - Command rejected
  2 - Command error (bad value, unreadable data directory, etc.)

Examples:
  streamcore submit RESOURCE CREATE --value '{"resource_id":"order","checksum":"c1"}'
  streamcore submit INCIDENT RESOLVE --key 2251799813685252
  streamcore submit JOB FAIL --key 2251799813685251 --value '{"retries":0}' --actor alice`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, args[0]+" "+args[1], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Key, "key", 0, "key of the entity the command targets")
	cmd.Flags().Int32Var(&opts.Partition, "partition", 0, "submit to this partition instead of routing by key")
	cmd.Flags().StringVar(&opts.Value, "value", "{}", "record value as JSON")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "actor the command is submitted as")

	return cmd
}

func runSubmit(opts *SubmitOptions, name string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}

	req, err := commandRequest(name, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid command", err)
	}

	n, err := loadNode(opts.RootOptions, cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}

	var resp engine.Response
	err = n.withRunningCluster(cmd, func(ctx context.Context, c *cluster.Cluster) error {
		var err error
		if opts.Partition > 0 {
			resp, err = c.SubmitTo(ctx, opts.Partition, req)
		} else {
			resp, err = c.Submit(ctx, req)
		}
		return err
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "submit failed", err)
	}

	result := submitResult(resp)
	if err := outputSubmit(formatter, result); err != nil {
		return err
	}
	if resp.Rejected() {
		return NewExitError(ExitFailure, fmt.Sprintf("command rejected: %s", resp.RejectionType))
	}
	return nil
}

func commandRequest(name string, opts *SubmitOptions) (engine.CommandRequest, error) {
	vt, intent, err := harness.ParseCommand(name)
	if err != nil {
		return engine.CommandRequest{}, err
	}
	value, err := record.DecodeValue(vt, []byte(opts.Value))
	if err != nil {
		return engine.CommandRequest{}, err
	}
	return engine.CommandRequest{
		Key:           opts.Key,
		Intent:        intent,
		Value:         value,
		Authorization: record.Authorization{Actor: opts.Actor},
	}, nil
}

func submitResult(resp engine.Response) SubmitResult {
	result := SubmitResult{
		Partition:       resp.PartitionID,
		Key:             resp.Key,
		RecordType:      resp.RecordType.String(),
		ValueType:       resp.ValueType.String(),
		Intent:          string(resp.Intent),
		RejectionType:   string(resp.RejectionType),
		RejectionReason: resp.RejectionReason,
	}
	if len(resp.Value) > 0 {
		result.Value = json.RawMessage(resp.Value)
	}
	return result
}

func outputSubmit(f *OutputFormatter, result SubmitResult) error {
	if f.JSON() {
		var failure *CLIError
		if result.RejectionType != "" {
			failure = &CLIError{Code: ErrCodeRejected, Message: result.RejectionReason, Details: result.RejectionType}
		}
		return f.Result(result, failure)
	}

	w := f.Writer
	if result.RejectionType != "" {
		fmt.Fprintf(w, "✗ %s %s rejected: %s\n", result.ValueType, result.Intent, result.RejectionType)
		fmt.Fprintf(w, "  %s\n", result.RejectionReason)
		return nil
	}
	fmt.Fprintf(w, "✓ %s %s key=%d partition=%d\n", result.ValueType, result.Intent, result.Key, result.Partition)
	if len(result.Value) > 0 {
		fmt.Fprintf(w, "  %s\n", result.Value)
	}
	return nil
}
