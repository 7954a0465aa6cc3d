package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/stacksampler/internal/config"
	"github.com/coral-mesh/stacksampler/internal/constants"
	"github.com/coral-mesh/stacksampler/internal/controller"
	"github.com/coral-mesh/stacksampler/internal/source/proctask"
	"github.com/coral-mesh/stacksampler/internal/sys/proc"
	"github.com/coral-mesh/stacksampler/pkg/sampler"
	"github.com/coral-mesh/stacksampler/pkg/sampler/goroutine"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var (
		listen   string
		pid      int
		children bool
		threads  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the remote profiler control API",
		Long: `Listen for profiler control requests over HTTP.

Without --pid the server samples its own goroutines.

Endpoints:
  GET  /profiler                    session status
  POST /profiler/start              start or resume (?interval=ms&depth=n)
  POST /profiler/suspend            pause sampling, keep data
  POST /profiler/stop               write the profile (?format=&process=&directory=)
  GET  /metrics                     Prometheus metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.settings(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Server.Listen = listen
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			metrics := sampler.NewMetrics(reg, constants.MetricsNamespace)

			factory, capturer, err := serveSource(pid, children, logger)
			if err != nil {
				return err
			}

			ctrl := controller.New(controller.Config{
				Directory:      cfg.Output.Directory,
				Interval:       cfg.Sampling.Interval,
				Depth:          cfg.Sampling.Depth,
				Format:         cfg.Output.Format,
				TrackLifecycle: threads,
				Metrics:        metrics,
			}, afero.NewOsFs(), factory, capturer, logger)

			router := mux.NewRouter()
			router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			ctrl.RegisterRoutes(router)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, router, ctrl, logger)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", constants.DefaultListenAddr, "Address to listen on")
	cmd.Flags().IntVarP(&pid, "pid", "p", 0, "Sample the tasks of this process instead of the server's goroutines")
	cmd.Flags().BoolVar(&children, "children", false, "Include child processes of --pid")
	cmd.Flags().BoolVar(&threads, "threads", false, "Record thread start and end events")

	return cmd
}

// serveSource selects the sampled threads: the tasks of pid, or the
// server's own goroutines when pid is zero.
func serveSource(pid int, children bool, logger zerolog.Logger) (controller.ThreadSetFactory, sampler.Capturer, error) {
	if pid == 0 {
		src := goroutine.NewSource(goroutine.WithLogger(logger))
		return func() (sampler.ThreadSet, error) { return src.ThreadSet(), nil }, src, nil
	}

	opts := []proctask.Option{proctask.WithLogger(logger)}
	if children {
		opts = append(opts, proctask.WithChildren())
	}
	src, err := proctask.New(proc.NewOS(), pid, opts...)
	if err != nil {
		return nil, nil, err
	}
	return func() (sampler.ThreadSet, error) { return src.ThreadSet(), nil }, src, nil
}

// serve runs the HTTP server until ctx is done. An active session is
// written out before the server exits.
func serve(ctx context.Context, cfg *config.Config, handler http.Handler, ctrl *controller.Controller, logger zerolog.Logger) error {
	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Listen, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
	}

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		logger.Info().Str("addr", ln.Addr().String()).Msg("Profiler control server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP server shutdown")
		}

		if ctrl.Active() {
			if path, err := ctrl.Stop(controller.ProcessName(), ""); err != nil {
				logger.Error().Err(err).Msg("Failed to write profile on shutdown")
			} else {
				logger.Info().Str("path", path).Msg("Profile written on shutdown")
			}
		}
		return nil
	})

	return grp.Wait()
}
