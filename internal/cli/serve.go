package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/xraph/forwarder"
	"github.com/xraph/forwarder/history"
	"github.com/xraph/forwarder/registry"
)

type serveOptions struct {
	host        string
	port        int
	history     string
	historyDSN  string
	historySize int
	timeout     time.Duration
	concurrency int
	watch       bool
	sync        bool
	noMetrics   bool
	tracing     bool
}

func newServeCmd(root *options) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook forwarder",
		Long: `Run the webhook forwarder.

Inbound webhooks are accepted on every configured route path. The admin API
is served under /_hookrelay and Prometheus metrics at /metrics. A missing
config file is created with a default /webhook route.

Examples:
  hookrelay serve --config hookrelay.yaml --port 8000 --watch
  hookrelay serve --history redis --history-dsn redis://localhost:6379/0`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.host, "host", "0.0.0.0", "listen address")
	f.IntVarP(&opts.port, "port", "p", 8000, "listen port")
	f.StringVar(&opts.history, "history", historyMemory, "history backend (memory, redis, mongo, sqlite, postgres)")
	f.StringVar(&opts.historyDSN, "history-dsn", "", "history backend connection string")
	f.IntVar(&opts.historySize, "history-size", history.DefaultCapacity, "number of dispatch records kept")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Second, "default delivery timeout")
	f.IntVar(&opts.concurrency, "concurrency", 16, "maximum concurrent deliveries per dispatch")
	f.BoolVar(&opts.watch, "watch", false, "reload the config file when it changes")
	f.BoolVar(&opts.sync, "sync", false, "wait for deliveries before acknowledging inbound webhooks")
	f.BoolVar(&opts.noMetrics, "no-metrics", false, "disable the /metrics endpoint")
	f.BoolVar(&opts.tracing, "tracing", false, "emit OpenTelemetry spans through the global provider")
	return cmd
}

func runServe(ctx context.Context, root *options, opts *serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := root.logger
	if _, created, err := registry.LoadOrInit(root.configPath); err != nil {
		return err
	} else if created {
		logger.Info("wrote default config", "path", root.configPath)
	}

	st, err := openStore(opts.history, opts.historyDSN, opts.historySize)
	if err != nil {
		return err
	}

	fopts := []forwarder.Option{
		forwarder.WithStore(st),
		forwarder.WithConfigFile(root.configPath, opts.watch),
		forwarder.WithLogger(logger),
		forwarder.WithRequestTimeout(opts.timeout),
		forwarder.WithConcurrency(opts.concurrency),
		forwarder.WithAsync(!opts.sync),
	}
	if !opts.noMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		fopts = append(fopts, forwarder.WithMetrics(reg))
	}
	if opts.tracing {
		fopts = append(fopts, forwarder.WithTracing())
	}

	fw, err := forwarder.New(fopts...)
	if err != nil {
		_ = st.Close()
		return err
	}
	if err := fw.Start(ctx); err != nil {
		_ = st.Close()
		return err
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(opts.host, strconv.Itoa(opts.port)),
		Handler:           fw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "history", opts.history)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), fw.Config().ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := fw.Stop(shutdownCtx); err != nil {
		logger.Warn("forwarder shutdown", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return nil
}
