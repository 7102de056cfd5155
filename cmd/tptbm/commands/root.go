package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"tptbm/internal/worker/tptbm"
)

// Version is set at link time.
var Version = "dev"

// ErrInfoExit is returned after usage or version information was printed.
// The process exits with status 1 in that case, like on errors.
var ErrInfoExit = errors.New("informational exit")

const envPrefix = "TPTBM"

type rootOptions struct {
	v      *viper.Viper
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tptbm",
		Short: "Multi-worker transaction throughput benchmark",
		Long: `tptbm builds a vpn_users table of key x key rows and runs a mix of
reads, updates, inserts and deletes against it from several workers that
start together. Throughput is reported once every worker is done.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd, opts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.String("driver", tptbm.DefaultDriver, "Database driver (timesten, odbc, postgres, pgx, mysql, sqlite)")
	pf.String("service", tptbm.DefaultService, "Service to connect to: ODBC DSN, connection string or URL, or database file")
	pf.String("user", tptbm.DefaultUser, "Database user")
	pf.String("password", "", "Database password (prompted for if needed and not set)")
	pf.String("config", "", "YAML or TOML benchmark configuration file, - for stdin")
	pf.String("config-selector", "", "Path of the benchmark configuration within a YAML file, e.g. benchmarks.small")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "console", "Log format (console, json)")

	f := cmd.Flags()
	f.Int("proc", 1, "Number of workers")
	f.Int("xact", tptbm.DefaultTransactions, "Transactions per worker")
	f.Int("key", tptbm.DefaultKeys, "Table holds key x key rows")
	f.Int("min", 1, "Minimum SQL operations per transaction")
	f.Int("max", 1, "Maximum SQL operations per transaction")
	f.Int("read", 80, "Percentage of reads")
	f.Int("update", 20, "Percentage of updates")
	f.Int("insert", 0, "Percentage of inserts")
	f.Int("delete", 0, "Percentage of deletes")
	f.Bool("multiop", false, "Run groups of insert, 3 reads and update instead of the mix")
	f.Int64("seed", tptbm.DefaultSeed, "Seed of the workers' random generators")
	f.Int("thinkTime", 0, "Milliseconds to wait before each operation")
	f.Bool("build", false, "Only build the table")
	f.Bool("nobuild", false, "Use the existing table")
	f.Bool("range", false, "Use a range index instead of a hash index")
	f.String("spawn", "", "How workers 2..N are started: process or thread (default process where supported)")
	f.Int("poll-interval", 0, "Start barrier poll interval in milliseconds (default 100)")
	f.StringP("output", "o", "text", "Summary format (text, json, yaml)")
	f.String("metrics-out", "", "Write the prometheus metrics of the run to this file")
	f.String("http", "", "Serve status and metrics on this address while running")

	cmd.AddCommand(checkCmd(opts))
	cmd.AddCommand(cleanupCmd(opts))
	cmd.AddCommand(workerCmd(opts))

	cmd.SetIn(opts.stdin)
	cmd.SetOut(opts.stdout)
	cmd.SetErr(opts.stderr)
	return cmd
}

// bindFlags makes every flag of cmd available through viper, overridable
// from TPTBM_* environment variables.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return v.BindPFlags(cmd.InheritedFlags())
}

// Execute runs the command line in args.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	opts := &rootOptions{
		v:      viper.New(),
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}
	cmd := newRootCmd(opts)

	args = normalizeArgs(args, longFlagNames(cmd))
	switch infoRequest(args) {
	case "help":
		sub, _, err := cmd.Find(subcommandArgs(args))
		if err != nil || sub == nil {
			sub = cmd
		}
		sub.SetOut(stderr)
		sub.Help()
		return ErrInfoExit
	case "version":
		fmt.Fprintf(stdout, "tptbm %s\n", Version)
		return ErrInfoExit
	}

	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// infoRequest reports whether args ask for help or the version.
func infoRequest(args []string) string {
	for _, arg := range args {
		switch arg {
		case "--":
			return ""
		case "-h", "--help":
			return "help"
		case "-V", "--version":
			return "version"
		}
	}
	return ""
}

func subcommandArgs(args []string) []string {
	var out []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			break
		}
		out = append(out, arg)
	}
	return out
}

func longFlagNames(root *cobra.Command) map[string]bool {
	names := map[string]bool{"help": true, "version": true}
	var walk func(*cobra.Command)
	walk = func(c *cobra.Command) {
		c.LocalFlags().VisitAll(func(f *pflag.Flag) { names[f.Name] = true })
		c.PersistentFlags().VisitAll(func(f *pflag.Flag) { names[f.Name] = true })
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(root)
	return names
}

// normalizeArgs accepts the classic single dash long options (-proc 4,
// -multiop, -help) by rewriting them to --proc 4, --multiop, --help.
func normalizeArgs(args []string, long map[string]bool) []string {
	out := make([]string, 0, len(args))
	for i, arg := range args {
		if arg == "--" {
			return append(out, args[i:]...)
		}
		if len(arg) > 2 && arg[0] == '-' && arg[1] != '-' {
			name, _, _ := strings.Cut(arg[1:], "=")
			if long[name] {
				arg = "-" + arg
			}
		}
		out = append(out, arg)
	}
	return out
}
