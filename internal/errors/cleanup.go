// Package errors provides small error-handling helpers shared by the
// stacksampler commands.
package errors

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// DeferClose closes an io.Closer and logs a failure.
// Use this in defer statements on read paths where the close error carries
// no information for the caller.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}

// CloseInto closes closer and stores its error in *errp unless an earlier
// error is already there. Use it on write paths, where a failed close means
// lost data:
//
//	defer errors.CloseInto(f, &err)
func CloseInto(closer io.Closer, errp *error) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil && *errp == nil {
		*errp = fmt.Errorf("close: %w", err)
	}
}
