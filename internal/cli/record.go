package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/stacksampler/internal/privilege"
	"github.com/coral-mesh/stacksampler/internal/retry"
	"github.com/coral-mesh/stacksampler/internal/source/proctask"
	"github.com/coral-mesh/stacksampler/internal/sys/proc"
)

// waitBackoff paces polling for a target process that is not up yet.
var waitBackoff = retry.Backoff{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Jitter: 0.1}

func newRecordCmd(g *globalOptions) *cobra.Command {
	var (
		pid      int
		port     int
		children bool
		wait     time.Duration
		flags    samplingFlags
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Sample the kernel stacks of a running process",
		Long: `Sample the tasks of a Linux process through /proc/<pid>/task/<tid>/stack.

Reading kernel stacks of another process requires root or CAP_SYS_ADMIN.
Tasks running in user space are recorded with an empty stack.

Examples:
  stacksampler record --pid 1234 --duration 10s
  stacksampler record --port 8080 --children --format folded -o - | flamegraph.pl > out.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.settings(cmd)
			if err != nil {
				return err
			}
			if err := flags.apply(cfg); err != nil {
				return err
			}

			if pid <= 0 && port <= 0 {
				return fmt.Errorf("--pid or --port is required")
			}

			procfs := proc.NewOS()
			if err := privilege.CheckKernelStacks(procfs); err != nil {
				logger.Warn().Err(err).Msg("Kernel stacks may be unreadable")
			}

			opts := []proctask.Option{proctask.WithLogger(logger)}
			if children {
				opts = append(opts, proctask.WithChildren())
			}
			src, err := findTarget(cmd.Context(), procfs, pid, port, wait, opts)
			if err != nil {
				return err
			}

			logger.Info().
				Int("pid", src.Pid()).
				Str("process", src.Name()).
				Dur("interval", cfg.Sampling.Interval).
				Msg("Recording")

			s := &session{
				name:     src.Name(),
				threads:  src.ThreadSet(),
				capturer: src,
				cfg:      cfg,
				flags:    &flags,
				logger:   logger,
			}
			return s.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().IntVarP(&pid, "pid", "p", 0, "Process id to sample")
	cmd.Flags().IntVar(&port, "port", 0, "Sample the process listening on this TCP port")
	cmd.Flags().BoolVar(&children, "children", false, "Include child processes")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait up to this long for the target process to appear")
	flags.register(cmd.Flags(), 10*time.Second)

	return cmd
}

// findTarget resolves the process to sample. With a positive wait it polls
// until the pid exists or something listens on port.
func findTarget(ctx context.Context, procfs *proc.FS, pid, port int, wait time.Duration, opts []proctask.Option) (*proctask.Source, error) {
	resolve := func() (*proctask.Source, error) {
		target := pid
		if target <= 0 {
			found, err := procfs.FindPidByPort(port)
			if err != nil {
				return nil, fmt.Errorf("failed to find process listening on port %d: %w", port, err)
			}
			if found == 0 {
				return nil, fmt.Errorf("%w: no process is listening on port %d", proc.ErrNoSuchTask, port)
			}
			target = found
		}
		return proctask.New(procfs, target, opts...)
	}

	if wait <= 0 {
		return resolve()
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var (
		src     *proctask.Source
		lastErr error
	)
	err := retry.Poll(ctx, waitBackoff, func() (bool, error) {
		src, lastErr = resolve()
		if errors.Is(lastErr, proc.ErrNoSuchTask) {
			return false, nil
		}
		return true, lastErr
	})
	if errors.Is(err, context.DeadlineExceeded) && lastErr != nil {
		return nil, fmt.Errorf("target did not appear within %s: %w", wait, lastErr)
	}
	return src, err
}
