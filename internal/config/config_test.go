package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Millisecond, cfg.Sampling.Interval)
	assert.Equal(t, 16, cfg.Sampling.Depth)
	assert.Equal(t, FormatASCII, cfg.Output.Format)
	assert.Equal(t, "127.0.0.1:6070", cfg.Server.Listen)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero interval", mutate: func(c *Config) { c.Sampling.Interval = 0 }, wantErr: "sampling.interval"},
		{name: "negative depth", mutate: func(c *Config) { c.Sampling.Depth = -1 }, wantErr: "sampling.depth"},
		{name: "depth too large", mutate: func(c *Config) { c.Sampling.Depth = 70000 }, wantErr: "sampling.depth"},
		{name: "unknown format", mutate: func(c *Config) { c.Output.Format = "json" }, wantErr: "unknown output format"},
		{name: "empty directory", mutate: func(c *Config) { c.Output.Directory = "" }, wantErr: "output.directory"},
		{name: "bad listen", mutate: func(c *Config) { c.Server.Listen = "nohost" }, wantErr: "server.listen"},
		{name: "empty listen", mutate: func(c *Config) { c.Server.Listen = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateFormat(t *testing.T) {
	for _, f := range Formats {
		assert.NoError(t, ValidateFormat(f))
	}
	assert.ErrorIs(t, ValidateFormat("xml"), ErrUnknownFormat)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	loader := NewLoaderAt(afero.NewMemMapFs(), "/home/u/.stacksampler/config.yaml")
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoader_LoadYAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/stacksampler.yaml", []byte(`
sampling:
  interval: 10ms
  depth: 32
output:
  directory: /var/tmp/profiles
  format: binary
logging:
  level: debug
`), 0o644))

	cfg, err := NewLoaderAt(fs, "/etc/stacksampler.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, cfg.Sampling.Interval)
	assert.Equal(t, 32, cfg.Sampling.Depth)
	assert.Equal(t, "/var/tmp/profiles", cfg.Output.Directory)
	assert.Equal(t, FormatBinary, cfg.Output.Format)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:6070", cfg.Server.Listen, "unset keys keep defaults")
}

func TestLoader_RejectsInvalidFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/c.yaml", []byte("sampling: [oops"), 0o644))
	_, err := NewLoaderAt(fs, "/c.yaml").Load()
	assert.ErrorContains(t, err, "failed to parse config")

	require.NoError(t, afero.WriteFile(fs, "/c.yaml", []byte("sampling:\n  depth: 0\n"), 0o644))
	_, err = NewLoaderAt(fs, "/c.yaml").Load()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("STACKSAMPLER_INTERVAL", "5ms")
	t.Setenv("STACKSAMPLER_FORMAT", "pprof")

	cfg, err := NewLoaderAt(afero.NewMemMapFs(), "/none.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, cfg.Sampling.Interval)
	assert.Equal(t, FormatPprof, cfg.Output.Format)
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	loader := NewLoaderAt(fs, "/home/u/.stacksampler/config.yaml")

	cfg := Default()
	cfg.Sampling.Depth = 8
	cfg.Server.Listen = "0.0.0.0:7000"
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	cfg.Sampling.Depth = 0
	assert.ErrorIs(t, loader.Save(cfg), ErrInvalidConfig)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("STACKSAMPLER_CONFIG", "/opt/sampler.yaml")
	assert.Equal(t, "/opt/sampler.yaml", DefaultPath())
	assert.Equal(t, "/opt/sampler.yaml", NewLoader().Path())
}
