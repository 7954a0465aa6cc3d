package safe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/p/profile.hprof", []byte("JAVA PROFILE"), 0o644))
	require.NoError(t, fs.MkdirAll("/p/dir", 0o755))

	tests := []struct {
		name    string
		path    string
		opts    *ReadOptions
		want    string
		wantErr string
	}{
		{name: "regular file", path: "/p/profile.hprof", want: "JAVA PROFILE"},
		{name: "unclean path", path: "/p/../p/profile.hprof", want: "JAVA PROFILE"},
		{name: "too large", path: "/p/profile.hprof", opts: &ReadOptions{MaxSize: 4}, wantErr: "exceeds maximum"},
		{name: "directory", path: "/p/dir", wantErr: "not a regular file"},
		{name: "missing", path: "/p/none", wantErr: "file does not exist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := ReadFile(fs, tt.path, tt.opts)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestReadFile_Symlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.hprof")
	link := filepath.Join(dir, "link.hprof")
	require.NoError(t, os.WriteFile(target, []byte("data"), 0o600))
	require.NoError(t, os.Symlink(target, link))

	fs := afero.NewOsFs()
	_, err := ReadFile(fs, link, nil)
	assert.ErrorContains(t, err, "symlink")

	data, err := ReadFile(fs, link, &ReadOptions{AllowSymlinks: true})
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}
