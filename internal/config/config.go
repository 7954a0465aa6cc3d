// Package config provides configuration loading and validation for the
// stacksampler commands.
package config

import (
	"time"

	"github.com/coral-mesh/stacksampler/internal/constants"
)

// Output formats.
const (
	FormatASCII  = "ascii"
	FormatBinary = "binary"
	FormatPprof  = "pprof"
	FormatFolded = "folded"
)

// Formats lists every supported output format.
var Formats = []string{FormatASCII, FormatBinary, FormatPprof, FormatFolded}

// Config is the complete stacksampler configuration.
type Config struct {
	Sampling SamplingConfig `yaml:"sampling"`
	Output   OutputConfig   `yaml:"output"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SamplingConfig controls the sampling engine.
type SamplingConfig struct {
	Interval time.Duration `yaml:"interval" env:"STACKSAMPLER_INTERVAL"`
	Depth    int           `yaml:"depth" env:"STACKSAMPLER_DEPTH"`
}

// OutputConfig controls where and how profiles are written.
type OutputConfig struct {
	Directory string `yaml:"directory" env:"STACKSAMPLER_OUTPUT_DIR"`
	Format    string `yaml:"format" env:"STACKSAMPLER_FORMAT"`
}

// ServerConfig controls the remote-control HTTP server.
type ServerConfig struct {
	Listen string `yaml:"listen" env:"STACKSAMPLER_LISTEN"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"STACKSAMPLER_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"STACKSAMPLER_LOG_PRETTY"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Sampling: SamplingConfig{
			Interval: constants.DefaultSamplingInterval,
			Depth:    constants.DefaultSamplingDepth,
		},
		Output: OutputConfig{
			Directory: ".",
			Format:    constants.DefaultOutputFormat,
		},
		Server: ServerConfig{
			Listen: constants.DefaultListenAddr,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}
