package errors

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type mockCloser struct {
	closeErr error
	closed   bool
}

func (m *mockCloser) Close() error {
	m.closed = true
	return m.closeErr
}

func TestDeferClose(t *testing.T) {
	tests := []struct {
		name       string
		closer     io.Closer
		wantLogged bool
	}{
		{name: "nil closer"},
		{name: "successful close", closer: &mockCloser{}},
		{name: "close with error", closer: &mockCloser{closeErr: errors.New("close failed")}, wantLogged: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			DeferClose(zerolog.New(&buf), tt.closer, "test close")

			if mc, ok := tt.closer.(*mockCloser); ok {
				assert.True(t, mc.closed)
			}
			assert.Equal(t, tt.wantLogged, buf.Len() > 0)
			if tt.wantLogged {
				assert.Contains(t, buf.String(), "test close")
			}
		})
	}
}

func TestCloseInto(t *testing.T) {
	closeErr := errors.New("disk full")
	earlier := errors.New("write failed")

	var err error
	CloseInto(&mockCloser{closeErr: closeErr}, &err)
	assert.ErrorIs(t, err, closeErr)

	err = earlier
	CloseInto(&mockCloser{closeErr: closeErr}, &err)
	assert.Equal(t, earlier, err, "first error wins")

	err = nil
	CloseInto(nil, &err)
	CloseInto(&mockCloser{}, &err)
	assert.NoError(t, err)
}
