package config

import (
	"errors"
	"fmt"
	"net"
	"slices"

	"github.com/coral-mesh/stacksampler/internal/constants"
)

var (
	// ErrInvalidConfig is wrapped by every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownFormat is returned for an unsupported output format.
	ErrUnknownFormat = errors.New("unknown output format")
)

// Validate checks the configuration for values the sampler cannot use.
func (c *Config) Validate() error {
	var errs []error

	if c.Sampling.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sampling.interval must be positive, got %s", c.Sampling.Interval))
	}
	if c.Sampling.Depth < 1 || c.Sampling.Depth > constants.MaxSamplingDepth {
		errs = append(errs, fmt.Errorf("sampling.depth must be between 1 and %d, got %d",
			constants.MaxSamplingDepth, c.Sampling.Depth))
	}
	if err := ValidateFormat(c.Output.Format); err != nil {
		errs = append(errs, err)
	}
	if c.Output.Directory == "" {
		errs = append(errs, errors.New("output.directory cannot be empty"))
	}
	if c.Server.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
			errs = append(errs, fmt.Errorf("server.listen %q: %w", c.Server.Listen, err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// ValidateFormat checks that format names a supported output format.
func ValidateFormat(format string) error {
	if !slices.Contains(Formats, format) {
		return fmt.Errorf("%w %q (supported: %v)", ErrUnknownFormat, format, Formats)
	}
	return nil
}
