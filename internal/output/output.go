// Package output writes hprof snapshots in the configured file format.
package output

import (
	"fmt"
	"io"
	"time"

	"github.com/coral-mesh/stacksampler/internal/config"
	"github.com/coral-mesh/stacksampler/pkg/hprof"
	"github.com/coral-mesh/stacksampler/pkg/hprof/pprofconv"
)

// Write encodes data to w in format. The interval is recorded as the pprof
// sampling period and ignored by the hprof formats.
func Write(w io.Writer, data *hprof.Data, format string, interval time.Duration) error {
	switch format {
	case config.FormatASCII:
		return hprof.WriteASCII(w, data)
	case config.FormatBinary:
		return hprof.WriteBinary(w, data)
	case config.FormatPprof:
		return pprofconv.Convert(data, pprofconv.Options{Period: interval}).Write(w)
	case config.FormatFolded:
		return WriteFolded(w, data)
	default:
		return config.ValidateFormat(format)
	}
}

// Extension returns the file name extension for format, including the dot.
func Extension(format string) string {
	switch format {
	case config.FormatPprof:
		return ".pb.gz"
	case config.FormatFolded:
		return ".folded"
	default:
		return ".hprof"
	}
}

// Read decodes a profile from r. Only the binary hprof format can be read back.
func Read(r io.Reader, format string) (*hprof.Data, error) {
	if format != config.FormatBinary {
		return nil, fmt.Errorf("reading %q profiles is not supported", format)
	}
	return hprof.ReadBinary(r)
}
