// Package constants defines shared configuration constants and defaults.
package constants

import "time"

// Paths.
const (
	// DefaultDir is the per-user configuration directory under $HOME.
	DefaultDir = ".stacksampler"

	// ConfigFile is the configuration file name inside DefaultDir.
	ConfigFile = "config.yaml"

	// ConfigEnv overrides the configuration file location.
	ConfigEnv = "STACKSAMPLER_CONFIG"
)

// Sampling defaults.
const (
	// DefaultSamplingInterval is the time between two sampling ticks.
	DefaultSamplingInterval = 30 * time.Millisecond

	// DefaultSamplingDepth is the number of innermost frames kept per stack.
	DefaultSamplingDepth = 16

	// MaxSamplingDepth is the largest depth the binary format can encode.
	MaxSamplingDepth = 65535
)

// Output defaults.
const (
	// DefaultOutputFormat is the profile format written when none is given.
	DefaultOutputFormat = "ascii"

	// DefaultListenAddr is the address of the control and metrics server.
	DefaultListenAddr = "127.0.0.1:6070"

	// MetricsNamespace prefixes every exported metric.
	MetricsNamespace = "stacksampler"
)

// Timeouts.
const (
	// DefaultShutdownTimeout bounds graceful shutdown of the HTTP server.
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultReadHeaderTimeout guards the HTTP server against slow clients.
	DefaultReadHeaderTimeout = 10 * time.Second
)
