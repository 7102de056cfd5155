package commands

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tptbm/api/tptbmapi"
	"tptbm/internal/logging"
	"tptbm/internal/report"
	"tptbm/internal/server"
	"tptbm/internal/worker"
	"tptbm/internal/worker/tptbm"
	"tptbm/pkg/ctxutil"
)

// resolveConfig turns flags, environment and config file into a validated
// configuration. Invalid configurations print the usage.
func resolveConfig(cmd *cobra.Command, opts *rootOptions) (tptbm.Config, error) {
	if err := bindFlags(opts.v, cmd); err != nil {
		return tptbm.Config{}, err
	}

	spec, err := resolveSpec(opts.v, opts.stdin)
	if err != nil {
		return tptbm.Config{}, err
	}
	if err := promptPassword(spec, opts.stdin, opts.stderr); err != nil {
		return tptbm.Config{}, err
	}

	cfg, err := tptbm.ConfigFromAPI(spec)
	var cfgErr *tptbmapi.ConfigError
	if errors.As(err, &cfgErr) {
		fmt.Fprintf(opts.stderr, "%v\n\n%s", err, cmd.UsageString())
	}
	return cfg, err
}

func newLogger(v interface{ GetString(string) string }) (*zap.Logger, error) {
	return logging.New(logging.Config{
		Level:  v.GetString("log-level"),
		Format: v.GetString("log-format"),
	})
}

func newFactory(cfg tptbm.Config, opts *rootOptions, reg prometheus.Registerer, log *zap.Logger) (*tptbm.Factory, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "locate executable")
	}
	f := tptbm.NewFactory(worker.Config{Target: cfg.Target}, log).
		WithProcessOptions(tptbm.ProcessOptions{
			Executable: exe,
			Args:       []string{"worker"},
			Stderr:     opts.stderr,
			LogLevel:   opts.v.GetString("log-level"),
			LogFormat:  opts.v.GetString("log-format"),
		})
	if reg != nil {
		f.WithMetrics(reg)
	}
	return f, nil
}

func runBenchmark(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := resolveConfig(cmd, opts)
	if err != nil {
		return err
	}
	format, err := report.ParseFormat(opts.v.GetString("output"))
	if err != nil {
		return err
	}

	log, err := newLogger(opts.v)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory, err := newFactory(cfg, opts, reg, log)
	if err != nil {
		return err
	}

	ctx, abort, finish := ctxutil.WithAbortFunc(cmd.Context(), func(cause error) {
		log.Warn("benchmark aborted", zap.Error(cause))
	})
	defer finish()

	var servers errgroup.Group
	if addr := opts.v.GetString("http"); addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return errors.Wrapf(err, "listen on %s", addr)
		}

		h := server.NewHandler(factory, log)
		h.Metrics = reg
		srvCtx, stop := context.WithCancel(context.Background())
		defer func() {
			stop()
			_ = servers.Wait()
		}()
		servers.Go(func() error {
			err := server.Serve(srvCtx, ln, server.NewRouter(h, log), log)
			if err != nil {
				abort(errors.Wrap(err, "status server"))
			}
			return err
		})
	}

	task, err := factory.Run(cfg)
	if err != nil {
		return err
	}
	res, err := task.Exec(ctx)
	if err != nil {
		return err
	}

	if summary, _ := res.(*tptbmapi.Summary); summary != nil {
		if err := report.Write(opts.stdout, format, summary); err != nil {
			return err
		}
	} else {
		log.Info("table built", zap.String("table", tptbm.TableName), zap.Int("keys", cfg.Keys))
	}

	if path := opts.v.GetString("metrics-out"); path != "" {
		return writeMetricsFile(path, reg)
	}
	return nil
}

func writeMetricsFile(path string, g prometheus.Gatherer) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create metrics file")
	}
	defer func() {
		err = errors.CombineErrors(err, f.Close())
	}()
	return report.WriteMetrics(f, g)
}
