package cli

import (
	"bytes"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/stacksampler/internal/config"
	cerrors "github.com/coral-mesh/stacksampler/internal/errors"
	"github.com/coral-mesh/stacksampler/internal/output"
	"github.com/coral-mesh/stacksampler/internal/safe"
)

func newConvertCmd(g *globalOptions) *cobra.Command {
	var (
		to       string
		out      string
		interval time.Duration
		maxSize  int64
	)

	cmd := &cobra.Command{
		Use:   "convert <profile.hprof>",
		Short: "Convert a binary hprof profile to another format",
		Long: `Read a binary hprof profile and write it as ascii, binary, pprof or folded.

The sampling interval is not stored in hprof files; pass --interval to give
pprof output a meaningful period.

Examples:
  stacksampler convert app.hprof --to ascii
  stacksampler convert app.hprof --to pprof --interval 10ms -o app.pb.gz`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			_, logger, err := g.settings(cmd)
			if err != nil {
				return err
			}
			if err := config.ValidateFormat(to); err != nil {
				return err
			}

			raw, err := safe.ReadFile(afero.NewOsFs(), args[0], &safe.ReadOptions{MaxSize: maxSize})
			if err != nil {
				return fmt.Errorf("failed to read profile: %w", err)
			}
			data, err := output.Read(bytes.NewReader(raw), config.FormatBinary)
			if err != nil {
				return err
			}

			w, err := openWriter(cmd, out)
			if err != nil {
				return err
			}
			defer cerrors.CloseInto(w, &err)

			if err := output.Write(w, data, to, interval); err != nil {
				return err
			}
			logger.Debug().
				Str("input", args[0]).
				Str("format", to).
				Int("samples", data.TotalSamples()).
				Msg("Profile converted")
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", config.FormatASCII, "Output format: ascii, binary, pprof, folded")
	cmd.Flags().StringVarP(&out, "output", "o", "-", "Output file, '-' for stdout")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Sampling interval the profile was recorded with")
	cmd.Flags().Int64Var(&maxSize, "max-size", safe.DefaultMaxFileSize, "Maximum input size in bytes")

	return cmd
}
