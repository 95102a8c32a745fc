package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain relative", in: "src/app.ts", want: "src/app.ts"},
		{name: "leading separator stripped", in: "/src/app.ts", want: "src/app.ts"},
		{name: "double leading separator", in: "//src/app.ts", want: "src/app.ts"},
		{name: "inner dots collapsed", in: "src/../lib/util.ts", want: "lib/util.ts"},
		{name: "redundant segments", in: "src//./app.ts", want: "src/app.ts"},
		{name: "unicode path", in: "src/héllo/日本.ts", want: "src/héllo/日本.ts"},
		{name: "empty", in: "", wantErr: true},
		{name: "only separator", in: "/", wantErr: true},
		{name: "dot", in: ".", wantErr: true},
		{name: "parent", in: "..", wantErr: true},
		{name: "climbs out", in: "../etc/passwd", wantErr: true},
		{name: "climbs out via inner dots", in: "src/../../etc/passwd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePath(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMaterializeWritesFiles(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)

	files := map[string]string{
		"src/app.ts":                 "export const x = 1",
		"src/deep/ly/nested/file.md": "# readme",
	}

	dir, err := w.Materialize("abc123", files)
	require.NoError(t, err)
	assert.Equal(t, w.Dir("abc123"), dir)

	for path, want := range files {
		data, err := os.ReadFile(filepath.Join(dir, path))
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}

func TestMaterializeEmptyMap(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)

	dir, err := w.Materialize("abc123", nil)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWriteFileRejectsTraversal(t *testing.T) {
	base := t.TempDir()
	w, err := NewWorkspace(base)
	require.NoError(t, err)

	_, err = w.Materialize("abc123", nil)
	require.NoError(t, err)

	err = w.WriteFile("abc123", "../escape.txt", "nope")
	assert.ErrorIs(t, err, ErrBadPath)

	_, statErr := os.Stat(filepath.Join(base, "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteFilePreservesBytes(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)

	dir, err := w.Materialize("abc123", nil)
	require.NoError(t, err)

	content := "const s = 'AAA é世界 \x00 tail'\n"
	require.NoError(t, w.WriteFile("abc123", "src/app.ts", content))

	data, err := os.ReadFile(filepath.Join(dir, "src", "app.ts"))
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestRemove(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)

	dir, err := w.Materialize("abc123", map[string]string{"a.txt": "x"})
	require.NoError(t, err)

	require.NoError(t, w.Remove("abc123"))
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))

	// Removing again, or removing something never created, is fine.
	assert.NoError(t, w.Remove("abc123"))
	assert.NoError(t, w.Remove("neverexisted"))
}

func TestRemoveRefusesEmptyID(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, w.Remove(""))
}

func TestNormalizeFiles(t *testing.T) {
	out, err := NormalizeFiles(map[string]string{
		"/src/app.ts": "a",
		"lib/b.ts":    "b",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"src/app.ts": "a",
		"lib/b.ts":   "b",
	}, out)

	_, err = NormalizeFiles(map[string]string{"../evil": "x"})
	assert.ErrorIs(t, err, ErrBadPath)
}
