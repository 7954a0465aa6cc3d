package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadFromEnv(t *testing.T) {
	cfg := Default()
	err := LoadFromEnv(cfg, mapLookup(map[string]string{
		"STACKSAMPLER_INTERVAL":    "250",
		"STACKSAMPLER_DEPTH":       "64",
		"STACKSAMPLER_OUTPUT_DIR":  "/data",
		"STACKSAMPLER_LOG_PRETTY":  "false",
		"STACKSAMPLER_LISTEN":      "",
		"STACKSAMPLER_UNRELATED_X": "1",
	}))
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Sampling.Interval, "bare integers are milliseconds")
	assert.Equal(t, 64, cfg.Sampling.Depth)
	assert.Equal(t, "/data", cfg.Output.Directory)
	assert.False(t, cfg.Logging.Pretty)
	assert.Equal(t, "127.0.0.1:6070", cfg.Server.Listen, "empty values are ignored")
}

func TestLoadFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "bad duration", env: map[string]string{"STACKSAMPLER_INTERVAL": "soon"}, want: "invalid duration"},
		{name: "bad integer", env: map[string]string{"STACKSAMPLER_DEPTH": "deep"}, want: "invalid integer"},
		{name: "bad boolean", env: map[string]string{"STACKSAMPLER_LOG_PRETTY": "maybe"}, want: "invalid boolean"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := LoadFromEnv(Default(), mapLookup(tt.env))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadFromEnv_UnsupportedType(t *testing.T) {
	var cfg struct {
		Ratio float64 `env:"RATIO"`
	}
	err := LoadFromEnv(&cfg, mapLookup(map[string]string{"RATIO": "0.5"}))
	assert.ErrorContains(t, err, "unsupported type")
}

func TestLoadFromEnv_NilPointer(t *testing.T) {
	var cfg *Config
	assert.NoError(t, LoadFromEnv(cfg, mapLookup(nil)))
}
