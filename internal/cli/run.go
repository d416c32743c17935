package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/streamcore/internal/cluster"
	"github.com/roach88/streamcore/internal/metrics"
)

const metricsShutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	MetricsAddr string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the partitions of a node",
		Long: `Open every partition of the node, recover their state from the
logs and process commands until interrupted.

Partitions of an unfinished scale-up are acknowledged once they run.
With metrics enabled, Prometheus metrics are served on /metrics.

Example:
  streamcore run --config node.cue
  streamcore run --data-dir ./data --metrics-addr :9600`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve metrics on this address (enables metrics)")

	return cmd
}

func runNode(opts *RunOptions, cmd *cobra.Command) error {
	n, err := loadNode(opts.RootOptions, cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	if opts.MetricsAddr != "" {
		n.cfg.Metrics.Enabled = true
		n.cfg.Metrics.Addr = opts.MetricsAddr
	}
	logger := n.logger

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	c, err := cluster.Open(ctx, n.clusterOptions())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open cluster", err)
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			logger.Error("error closing cluster", "error", closeErr)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if n.cfg.Metrics.Enabled {
		srv, err := metricsServer(n.cfg.Metrics.Addr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to register metrics", err)
		}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		return c.Run(gctx)
	})

	logger.Info("node started", "data_dir", n.cfg.DataDir, "partitions", c.Partitions())
	fmt.Fprintln(cmd.OutOrStdout(), "Node started. Processing commands...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "node error", err)
	}

	logger.Info("node stopped gracefully")
	return nil
}

// metricsServer serves the engine metrics and the Go runtime collectors
// from a dedicated registry.
func metricsServer(addr string) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}, nil
}
