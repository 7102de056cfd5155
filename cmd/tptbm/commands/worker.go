package commands

import (
	"os"

	"github.com/spf13/cobra"

	"tptbm/internal/logging"
	"tptbm/internal/worker/tptbm"
)

// workerCmd is started by the orchestrator for workers 2..N in process
// mode. The worker spec arrives on stdin and the password in the
// environment; the result is written to stdout.
func workerCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one benchmark worker for an orchestrator",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ordinal, err := cmd.Flags().GetInt("ordinal")
			if err != nil {
				return err
			}

			spec, err := tptbm.ReadWorkerSpec(opts.stdin)
			if err != nil {
				return err
			}
			log, err := logging.New(logging.Config{Level: spec.LogLevel, Format: spec.LogFormat})
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			return tptbm.ServeWorker(cmd.Context(), spec, ordinal, os.Getenv(tptbm.PasswordEnv), opts.stdout, log)
		},
	}
	cmd.Flags().Int("ordinal", 0, "Worker ordinal, 2..proc")
	_ = cmd.MarkFlagRequired("ordinal")
	return cmd
}
