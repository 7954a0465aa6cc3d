package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/stacksampler/internal/config"
	cerrors "github.com/coral-mesh/stacksampler/internal/errors"
	"github.com/coral-mesh/stacksampler/internal/output"
	"github.com/coral-mesh/stacksampler/internal/privilege"
	"github.com/coral-mesh/stacksampler/pkg/hprof"
	"github.com/coral-mesh/stacksampler/pkg/sampler"
)

// samplingFlags are the flags shared by commands that run a session.
type samplingFlags struct {
	interval time.Duration
	depth    int
	format   string
	output   string
	duration time.Duration
	threads  bool
}

func (f *samplingFlags) register(fs *pflag.FlagSet, defaultDuration time.Duration) {
	fs.DurationVar(&f.interval, "interval", 0, "Sampling interval (default from config, 30ms)")
	fs.IntVar(&f.depth, "depth", 0, "Maximum stack depth (default from config, 16)")
	fs.StringVar(&f.format, "format", "", "Output format: ascii, binary, pprof, folded (default from config)")
	fs.StringVarP(&f.output, "output", "o", "", "Output file, '-' for stdout (default <name>.<id>.hprof in the output directory)")
	fs.DurationVarP(&f.duration, "duration", "d", defaultDuration, "How long to sample; 0 samples until interrupted")
	fs.BoolVar(&f.threads, "threads", false, "Record thread start and end events")
}

// apply overrides cfg with the flags that were set and validates the result.
func (f *samplingFlags) apply(cfg *config.Config) error {
	if f.interval != 0 {
		cfg.Sampling.Interval = f.interval
	}
	if f.depth != 0 {
		cfg.Sampling.Depth = f.depth
	}
	if f.format != "" {
		cfg.Output.Format = f.format
	}
	return cfg.Validate()
}

// session runs one sampling engine until the duration elapses or the
// process is interrupted, then writes the profile.
type session struct {
	name     string
	threads  sampler.ThreadSet
	capturer sampler.Capturer
	cfg      *config.Config
	flags    *samplingFlags
	logger   zerolog.Logger
}

func (s *session) run(ctx context.Context, cmd *cobra.Command) error {
	threads := s.threads
	var engine *sampler.Engine
	if s.flags.threads {
		threads = sampler.TrackLifecycle(threads, sampler.EventSinkFunc(func(ev hprof.ThreadEvent) {
			engine.AddThreadEvent(ev)
		}))
	}

	engine, err := sampler.New(s.cfg.Sampling.Depth, threads, s.capturer, sampler.WithLogger(s.logger))
	if err != nil {
		return err
	}
	defer engine.Shutdown()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if s.flags.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.flags.duration)
		defer cancel()
	}

	if err := engine.Start(s.cfg.Sampling.Interval); err != nil {
		return err
	}
	<-ctx.Done()
	engine.Stop()

	data, err := engine.HprofData()
	if err != nil {
		return err
	}
	return s.write(cmd, data)
}

func (s *session) write(cmd *cobra.Command, data *hprof.Data) (err error) {
	format := s.cfg.Output.Format
	if s.flags.output == "-" {
		return output.Write(cmd.OutOrStdout(), data, format, s.cfg.Sampling.Interval)
	}

	path := s.flags.output
	if path == "" {
		path = filepath.Join(s.cfg.Output.Directory, s.name+"."+uuid.NewString()+output.Extension(format))
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer cerrors.CloseInto(f, &err)

	if err := output.Write(f, data, format, s.cfg.Sampling.Interval); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := privilege.FixFileOwnership(path); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Failed to hand profile back to sudo user")
	}
	s.logger.Info().
		Str("path", path).
		Int("samples", data.TotalSamples()).
		Int("unique_stacks", len(data.Samples())).
		Msg("Profile written")
	return nil
}

// openWriter is used by commands that only need an output destination.
func openWriter(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{cmd.OutOrStdout()}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
