package cli

import (
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/stacksampler/pkg/sampler/goroutine"
)

func newDemoCmd(g *globalOptions) *cobra.Command {
	var (
		workers int
		flags   samplingFlags
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Sample this process's goroutines while it runs a synthetic workload",
		Long: `Run a few busy, blocked and sleeping goroutines and sample them.

Useful for trying out output formats without a target process.

Examples:
  stacksampler demo --duration 2s -o - --format ascii
  stacksampler demo --threads --format folded -o demo.folded`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.settings(cmd)
			if err != nil {
				return err
			}
			if err := flags.apply(cfg); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			var wg sync.WaitGroup
			startWorkload(ctx, &wg, workers)
			defer func() {
				cancel()
				wg.Wait()
			}()

			src := goroutine.NewSource(goroutine.WithLogger(logger))
			s := &session{
				name:     "demo",
				threads:  src.ThreadSet(),
				capturer: src,
				cfg:      cfg,
				flags:    &flags,
				logger:   logger,
			}
			return s.run(ctx, cmd)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 2, "Number of CPU-bound workers")
	flags.register(cmd.Flags(), 2*time.Second)

	return cmd
}

// startWorkload starts CPU-bound hashers, a channel ping-pong pair and a
// sleeper. All of them return when ctx is done.
func startWorkload(ctx context.Context, wg *sync.WaitGroup, workers int) {
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hashLoop(ctx)
		}()
	}

	ping, pong := make(chan int), make(chan int)
	wg.Add(2)
	go func() {
		defer wg.Done()
		relay(ctx, ping, pong)
	}()
	go func() {
		defer wg.Done()
		select {
		case ping <- 0:
		case <-ctx.Done():
			return
		}
		relay(ctx, pong, ping)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sleeper(ctx)
	}()
}

func hashLoop(ctx context.Context) {
	sum := sha256.Sum256([]byte("stacksampler"))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		for i := 0; i < 1000; i++ {
			sum = sha256.Sum256(sum[:])
		}
	}
}

func relay(ctx context.Context, in <-chan int, out chan<- int) {
	for {
		var n int
		select {
		case n = <-in:
		case <-ctx.Done():
			return
		}
		time.Sleep(time.Millisecond)
		select {
		case out <- n + 1:
		case <-ctx.Done():
			return
		}
	}
}

func sleeper(ctx context.Context) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}
	}
}
