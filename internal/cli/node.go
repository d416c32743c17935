package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/streamcore/internal/cluster"
	"github.com/roach88/streamcore/internal/config"
	"github.com/roach88/streamcore/internal/processors"
	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/state"
)

// node is the loaded configuration of the commands that open a cluster.
type node struct {
	cfg    config.Config
	logger *slog.Logger
}

// loadNode loads the config file and applies the global flags. quiet
// raises the log level to warn unless --verbose is set, for commands whose
// output is not the log.
func loadNode(opts *RootOptions, logOut io.Writer, quiet bool) (*node, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	logging := cfg.Logging
	if quiet {
		logging.Level = "warn"
	}
	return &node{cfg: cfg, logger: logging.NewLogger(logOut, opts.Verbose)}, nil
}

// requireDataDir fails commands that inspect an existing cluster when no
// data directory is configured.
func (n *node) requireDataDir() error {
	if n.cfg.DataDir == "" {
		return NewExitError(ExitCommandError, "no data directory: set dataDir in the config or pass --data-dir")
	}
	return nil
}

// clusterOptions maps the config onto the cluster and its processors.
func (n *node) clusterOptions() cluster.Options {
	deps := processors.Deps{
		MaxPartitionCount: n.cfg.MaxPartitionCount,
		DefaultJobRetries: n.cfg.Job.DefaultRetries,
		Publisher: processors.JobPublisherFunc(func(jobKey int64, job record.JobRecord) error {
			n.logger.Debug("job activatable", "job", jobKey, "type", job.Type, "retries", job.Retries)
			return nil
		}),
	}
	if n.cfg.Authorization.Enabled {
		grants := make([]processors.Grant, 0, len(n.cfg.Authorization.Grants))
		for _, g := range n.cfg.Authorization.Grants {
			grants = append(grants, processors.Grant(g))
		}
		deps.Authorizer = processors.StaticAuthorizer{Grants: grants}
	}
	return cluster.Options{
		DataDir:         n.cfg.DataDir,
		PartitionCount:  n.cfg.PartitionCount,
		MaxRoundRecords: n.cfg.Engine.MaxRoundRecords,
		State: state.Config{
			ResourceDefaultVersion: n.cfg.Resource.DefaultVersion,
			ResourceCacheCapacity:  n.cfg.Resource.CacheCapacity,
		},
		Deps:   deps,
		Logger: n.logger,
	}
}

// withRunningCluster opens the cluster, runs it in the background while fn
// executes, then stops and closes it.
func (n *node) withRunningCluster(cmd *cobra.Command, fn func(ctx context.Context, c *cluster.Cluster) error) (err error) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	c, err := cluster.Open(parent, n.clusterOptions())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open cluster", err)
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil && err == nil {
			err = WrapExitError(ExitCommandError, "failed to close cluster", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		select {
		case <-c.Started():
		case <-gctx.Done():
			return gctx.Err()
		}
		return fn(gctx, c)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
