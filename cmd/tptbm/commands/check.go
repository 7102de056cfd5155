package commands

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tptbm/internal/worker/tptbm"
)

func checkCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Count the rows of the benchmark table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			log, err := newLogger(opts.v)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			factory, err := newFactory(cfg, opts, nil, log)
			if err != nil {
				return err
			}
			task, err := factory.Check(cfg.Keys)
			if err != nil {
				return err
			}
			res, err := task.Exec(cmd.Context())
			if err != nil {
				return err
			}

			result := res.(tptbm.CheckResult)
			if opts.v.GetBool("json") {
				enc := json.NewEncoder(opts.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			fmt.Fprintf(opts.stdout, "%s (%s): %d rows, %d after a fresh build\n",
				result.Table, result.Driver, result.Rows, result.Expected)
			return nil
		},
	}
	cmd.Flags().Int("key", tptbm.DefaultKeys, "Key grid size the table was built with")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	return cmd
}

func cleanupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Drop the benchmark table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			log, err := newLogger(opts.v)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			factory, err := newFactory(cfg, opts, nil, log)
			if err != nil {
				return err
			}
			task, err := factory.Cleanup()
			if err != nil {
				return err
			}
			if _, err := task.Exec(cmd.Context()); err != nil {
				return errors.Wrap(err, "cleanup")
			}
			log.Info("table dropped", zap.String("table", tptbm.TableName))
			return nil
		},
	}
}
