package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/streamcore/internal/logstore"
	"github.com/roach88/streamcore/internal/partition"
	"github.com/roach88/streamcore/internal/record"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Partition int32
	Key       int64
	Source    int64
}

// TraceRecord is one record of the trace output.
type TraceRecord struct {
	Line            string          `json:"line"`
	Position        int64           `json:"position"`
	SourcePosition  int64           `json:"source_position"`
	Partition       int32           `json:"partition"`
	Key             int64           `json:"key"`
	RecordType      string          `json:"record_type"`
	ValueType       string          `json:"value_type"`
	Intent          string          `json:"intent"`
	RejectionType   string          `json:"rejection_type,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	Actor           string          `json:"actor,omitempty"`
	Value           json.RawMessage `json:"value,omitempty"`
}

// TraceResult holds the records of every traced partition.
type TraceResult struct {
	Records []TraceRecord `json:"records"`
	Stats   TraceStats    `json:"stats"`
}

// TraceStats counts the traced records by record type.
type TraceStats struct {
	Total      int `json:"total"`
	Commands   int `json:"commands"`
	Events     int `json:"events"`
	Rejections int `json:"rejections"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print the records of partition logs",
		Long: `Print the records of the partition logs in log order, one compact
line per record:

  p1 #4 E INCIDENT RESOLVED key=2251799813685250 src=3

The logs are read directly; the partitions are not opened and their state
is left untouched. With --verbose, record values are printed below each
line.

Examples:
  streamcore trace --data-dir ./data
  streamcore trace --data-dir ./data --partition 2
  streamcore trace --data-dir ./data --key 2251799813685250
  streamcore trace --data-dir ./data --source 3 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().Int32Var(&opts.Partition, "partition", 0, "trace only this partition")
	cmd.Flags().Int64Var(&opts.Key, "key", 0, "only records with this key")
	cmd.Flags().Int64Var(&opts.Source, "source", 0, "only records written while processing the command at this position")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	n, err := loadNode(opts.RootOptions, cmd.ErrOrStderr(), true)
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

	ids := []int32{opts.Partition}
	if opts.Partition == 0 {
		if ids, err = partition.List(n.cfg.DataDir); err != nil {
			return WrapExitError(ExitCommandError, "failed to list partitions", err)
		}
	}
	if opts.Key > 0 && opts.Partition == 0 {
		ids = []int32{record.DecodePartitionID(opts.Key)}
	}

	var result TraceResult
	for _, id := range ids {
		recs, err := readPartition(ctx, n.cfg.DataDir, id, opts)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			result.Records = append(result.Records, traceRecord(rec))
			result.Stats.count(rec.RecordType)
		}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if formatter.JSON() {
		if result.Records == nil {
			result.Records = []TraceRecord{}
		}
		return formatter.Success(result)
	}
	return outputTraceText(formatter, result)
}

func readPartition(ctx context.Context, dataDir string, id int32, opts *TraceOptions) (_ []record.Record, err error) {
	path := partition.LogPath(dataDir, id)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("partition %d has no log under %s", id, dataDir))
	}
	log, err := logstore.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to open log of partition %d", id), err)
	}
	defer func() {
		if closeErr := log.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	var recs []record.Record
	switch {
	case opts.Key > 0:
		recs, err = log.ReadByKey(ctx, opts.Key)
	case opts.Source > 0:
		recs, err = log.ReadBySource(ctx, opts.Source)
	default:
		recs, err = log.ReadAll(ctx)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to read log of partition %d", id), err)
	}
	if opts.Key > 0 && opts.Source > 0 {
		filtered := recs[:0]
		for _, rec := range recs {
			if rec.SourcePosition == opts.Source {
				filtered = append(filtered, rec)
			}
		}
		recs = filtered
	}
	return recs, nil
}

func traceRecord(rec record.Record) TraceRecord {
	tr := TraceRecord{
		Line:            rec.Compact(),
		Position:        rec.Position,
		SourcePosition:  rec.SourcePosition,
		Partition:       rec.PartitionID,
		Key:             rec.Key,
		RecordType:      rec.RecordType.String(),
		ValueType:       rec.ValueType.String(),
		Intent:          string(rec.Intent),
		RejectionType:   string(rec.RejectionType),
		RejectionReason: rec.RejectionReason,
		Actor:           rec.Authorization.Actor,
	}
	if len(rec.Value) > 0 {
		tr.Value = json.RawMessage(rec.Value)
	}
	return tr
}

func (s *TraceStats) count(t record.RecordType) {
	s.Total++
	switch t {
	case record.RecordTypeCommand:
		s.Commands++
	case record.RecordTypeEvent:
		s.Events++
	case record.RecordTypeCommandRejection:
		s.Rejections++
	}
}

func outputTraceText(f *OutputFormatter, result TraceResult) error {
	w := f.Writer
	if len(result.Records) == 0 {
		fmt.Fprintln(w, "No records found.")
		return nil
	}
	for _, rec := range result.Records {
		fmt.Fprintln(w, rec.Line)
		if f.Verbose {
			if rec.RejectionReason != "" {
				fmt.Fprintf(w, "    reason: %s\n", rec.RejectionReason)
			}
			if len(rec.Value) > 0 {
				fmt.Fprintf(w, "    value: %s\n", rec.Value)
			}
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d record(s): %d commands, %d events, %d rejections\n",
		result.Stats.Total, result.Stats.Commands, result.Stats.Events, result.Stats.Rejections)
	return nil
}
