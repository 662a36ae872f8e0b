// Command agents runs the example graphs: a counter, a research agent with human
// approval and an essay writer. Threads are checkpointed so they can be inspected
// and replayed from any point.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/nigel-daniels/agents-langgraph/internal/config"
	"github.com/nigel-daniels/agents-langgraph/internal/log"
)

type app struct {
	configPath  string
	threadID    string
	trace       bool
	metricsAddr string

	cfg      *config.Config
	shutdown []func(context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	if terr := a.teardown(ctx); terr != nil {
		log.Warnw("failed to shut down telemetry", "error", terr)
	}
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "agents",
		Short:         "Run checkpointed agent graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVarP(&a.threadID, "thread", "t", "1", "thread to run or inspect")
	flags.BoolVar(&a.trace, "trace", false, "print OpenTelemetry spans to stdout")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(
		newCountCmd(a),
		newResearchCmd(a),
		newWriterCmd(a),
		newReActCmd(a),
		newHistoryCmd(a),
		newReplayCmd(a),
		newGraphCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	log.SetLevel(cfg.Log.Level)

	if a.trace {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return errors.Wrap(err, "failed to create trace exporter")
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		a.shutdown = append(a.shutdown, tp.Shutdown)
	}

	if a.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: a.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warnw("metrics server stopped", "addr", a.metricsAddr, "error", err)
			}
		}()
		a.shutdown = append(a.shutdown, srv.Shutdown)
	}
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var firstErr error
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.shutdown = nil
	return firstErr
}
