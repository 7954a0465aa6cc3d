package testutil

import (
	"testing"

	"github.com/rs/zerolog"
)

// Logger returns a logger that writes through t.Log, so output only shows
// for failed or verbose tests.
func Logger(t testing.TB) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
}
