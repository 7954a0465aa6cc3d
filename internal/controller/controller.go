// Package controller owns a remotely controlled sampling session. A session
// is started lazily, can be suspended and resumed, and is finished by writing
// the collected profile to the storage directory.
package controller

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/coral-mesh/stacksampler/internal/config"
	"github.com/coral-mesh/stacksampler/internal/constants"
	cerrors "github.com/coral-mesh/stacksampler/internal/errors"
	"github.com/coral-mesh/stacksampler/internal/output"
	"github.com/coral-mesh/stacksampler/pkg/hprof"
	"github.com/coral-mesh/stacksampler/pkg/sampler"
)

// ErrNotStarted is returned by Stop when no session exists.
var ErrNotStarted = errors.New("profiler not started")

// ThreadSetFactory builds the thread set for a new session.
type ThreadSetFactory func() (sampler.ThreadSet, error)

// Config holds session defaults.
type Config struct {
	Directory string
	Interval  time.Duration
	Depth     int
	Format    string

	// TrackLifecycle records thread START and END events for every session.
	TrackLifecycle bool

	// Metrics is shared by every session's engine. May be nil.
	Metrics *sampler.Metrics
}

func (c *Config) applyDefaults() {
	if c.Directory == "" {
		c.Directory = os.TempDir()
	}
	if c.Interval <= 0 {
		c.Interval = constants.DefaultSamplingInterval
	}
	if c.Depth <= 0 {
		c.Depth = constants.DefaultSamplingDepth
	}
	if c.Format == "" {
		c.Format = config.FormatASCII
	}
}

// Controller serializes control requests against at most one session.
type Controller struct {
	fs       afero.Fs
	threads  ThreadSetFactory
	capturer sampler.Capturer
	logger   zerolog.Logger
	newID    func() string

	mu       sync.Mutex
	cfg      Config
	engine   *sampler.Engine
	interval time.Duration
}

// New creates a controller with no session.
func New(cfg Config, fs afero.Fs, threads ThreadSetFactory, capturer sampler.Capturer, logger zerolog.Logger) *Controller {
	cfg.applyDefaults()
	return &Controller{
		fs:       fs,
		threads:  threads,
		capturer: capturer,
		logger:   logger.With().Str("component", "profiler_controller").Logger(),
		newID:    uuid.NewString,
		cfg:      cfg,
	}
}

// SetStorageDirectory changes where future profiles are written.
func (c *Controller) SetStorageDirectory(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Directory = dir
}

// StorageDirectory returns where profiles are written.
func (c *Controller) StorageDirectory() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Directory
}

// Active reports whether a session exists, running or suspended.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine != nil
}

// Start starts a new session or resumes the current one. A zero interval or
// depth selects the configured default; negative values are rejected. Depth
// only applies when a session is created.
func (c *Controller) Start(interval time.Duration, depth int) error {
	if interval < 0 {
		return fmt.Errorf("%w: got %s", sampler.ErrInvalidInterval, interval)
	}
	if depth < 0 {
		return fmt.Errorf("%w: got %d", sampler.ErrInvalidDepth, depth)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if interval == 0 {
		interval = c.cfg.Interval
	}
	if depth == 0 {
		depth = c.cfg.Depth
	}

	c.logger.Info().Dur("interval", interval).Int("depth", depth).Msg("Starting/resuming profiler")

	if c.engine == nil {
		engine, err := c.newEngine(depth)
		if err != nil {
			return err
		}
		c.engine = engine
	}
	if err := c.engine.Start(interval); err != nil {
		return fmt.Errorf("failed to start sampling: %w", err)
	}
	c.interval = interval
	return nil
}

func (c *Controller) newEngine(depth int) (*sampler.Engine, error) {
	threads, err := c.threads()
	if err != nil {
		return nil, fmt.Errorf("failed to build thread set: %w", err)
	}

	var engine *sampler.Engine
	if c.cfg.TrackLifecycle {
		threads = sampler.TrackLifecycle(threads, sampler.EventSinkFunc(func(ev hprof.ThreadEvent) {
			engine.AddThreadEvent(ev)
		}))
	}
	engine, err = sampler.New(depth, threads, c.capturer,
		sampler.WithLogger(c.logger),
		sampler.WithMetrics(c.cfg.Metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create sampling engine: %w", err)
	}
	return engine, nil
}

// Suspend pauses sampling. It does nothing when no session exists.
func (c *Controller) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine == nil {
		return
	}
	c.logger.Info().Msg("Suspending profiler")
	c.engine.Stop()
}

// Stop ends the session and writes its profile to the storage directory as
// "<process>.<id>.hprof". The session is discarded even when writing fails.
func (c *Controller) Stop(processName, format string) (string, error) {
	if format == "" {
		format = c.cfg.Format
	}
	if err := config.ValidateFormat(format); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine == nil {
		c.logger.Warn().Msg("Profiler not started")
		return "", ErrNotStarted
	}

	engine := c.engine
	defer func() {
		engine.Shutdown()
		c.engine = nil
	}()

	engine.Stop()
	data, err := engine.HprofData()
	if err != nil {
		return "", fmt.Errorf("failed to snapshot profile: %w", err)
	}

	path, err := c.write(data, sanitize(processName), format)
	if err != nil {
		return "", err
	}
	c.logger.Info().Str("path", path).Int("samples", data.TotalSamples()).Msg("Written profile")
	return path, nil
}

func (c *Controller) write(data *hprof.Data, processName, format string) (path string, err error) {
	dir := c.cfg.Directory
	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create storage directory: %w", err)
	}

	path = filepath.Join(dir, processName+"."+c.newID()+output.Extension(format))
	f, err := c.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create profile file: %w", err)
	}
	defer cerrors.CloseInto(f, &err)

	if err := output.Write(f, data, format, c.interval); err != nil {
		return "", fmt.Errorf("failed to write profile: %w", err)
	}
	return path, nil
}

// ProcessName returns the base name of the running executable.
func ProcessName() string {
	exe, err := os.Executable()
	if err != nil {
		return filepath.Base(os.Args[0])
	}
	return filepath.Base(exe)
}

func sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == os.PathSeparator || r == 0 {
			return '_'
		}
		return r
	}, name)
	if name == "" {
		return ProcessName()
	}
	return name
}
