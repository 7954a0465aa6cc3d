// Package cli implements the stacksampler command line.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/stacksampler/internal/config"
	"github.com/coral-mesh/stacksampler/internal/logging"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	logPretty  bool
}

// settings loads the configuration and builds the logger, applying
// command-line overrides on top of the file and environment.
func (o *globalOptions) settings(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	loader := config.NewLoader()
	if o.configPath != "" {
		loader = config.NewLoaderAt(afero.NewOsFs(), o.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if flags.Changed("log-pretty") {
		cfg.Logging.Pretty = o.logPretty
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	return cfg, logger, nil
}

// NewRootCmd builds the stacksampler command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "stacksampler",
		Short: "Statistical stack-sampling profiler",
		Long: `Periodically capture the stacks of a set of threads and count how often
each distinct stack is observed. Results are written as hprof (ASCII or
binary), pprof or folded stacks for flame graphs.

Threads can be the tasks of another Linux process (kernel stacks read from
/proc) or the goroutines of the stacksampler process itself.

Examples:
  # Sample the kernel stacks of pid 1234 for 30s
  stacksampler record --pid 1234 --duration 30s -o server.hprof

  # Convert a binary profile for go tool pprof
  stacksampler convert server.hprof --to pprof -o server.pb.gz

  # Remote-controlled sessions over HTTP
  stacksampler serve --pid 1234
  curl -X POST 'localhost:6070/profiler/start?interval=10'
  curl -X POST 'localhost:6070/profiler/stop?format=binary'`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Configuration file (default $STACKSAMPLER_CONFIG or ~/.stacksampler/config.yaml)")
	pf.StringVar(&opts.logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	pf.BoolVar(&opts.logPretty, "log-pretty", true, "Human-readable log output")

	cmd.AddCommand(newRecordCmd(opts))
	cmd.AddCommand(newDemoCmd(opts))
	cmd.AddCommand(newConvertCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
