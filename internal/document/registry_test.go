package document

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/uri"
	"golang.org/x/text/encoding/charmap"
)

func TestRegistryOpenUpdateClose(t *testing.T) {
	reg := NewRegistry()
	u := uri.File("/tmp/a.go")

	_, err := reg.Update(u, 2, "x")
	require.ErrorIs(t, err, ErrUnknownDocument)

	reg.Open(NewBuffer(u, "go", 1, "package a"))
	buf, err := reg.Update(u, 2, "package b\n")
	require.NoError(t, err)
	assert.Equal(t, int32(2), buf.Version())
	assert.Equal(t, 2, buf.LineCount())
	assert.Equal(t, "go", buf.LanguageID())

	reg.Close(u)
	_, ok := reg.Get(u)
	assert.False(t, ok)
}

func TestRegistryGetOrLoadAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.py")
	require.NoError(t, os.WriteFile(path, []byte("def f():\n    pass\n"), 0o644))

	reg := NewRegistry()
	u := uri.File(path)

	buf, err := reg.GetOrLoad(u)
	require.NoError(t, err)
	assert.True(t, buf.FromDisk())
	assert.Equal(t, "python", buf.LanguageID())
	assert.Equal(t, []string{path}, reg.Paths())

	require.NoError(t, os.WriteFile(path, []byte("def g():\n    pass\n"), 0o644))
	reloaded, err := reg.Reload(u)
	require.NoError(t, err)
	assert.Equal(t, "def g():\n    pass\n", reloaded.Content())
	assert.Equal(t, int32(1), reloaded.Version())

	reg.Open(NewBuffer(u, "python", 7, "host text"))
	kept, err := reg.Reload(u)
	require.NoError(t, err)
	assert.Equal(t, "host text", kept.Content())

	_, err = reg.GetOrLoad(uri.URI("untitled:Untitled-1"))
	assert.ErrorIs(t, err, ErrUnknownDocument)
}

func TestModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a"), 0o644))
	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, stamp, stamp))

	mtime, ok := ModTime(context.Background(), NewBuffer(uri.File(path), "go", 1, ""))
	require.True(t, ok)
	assert.Equal(t, stamp.UnixMilli(), mtime)

	_, ok = ModTime(context.Background(), NewBuffer(uri.URI("untitled:x"), "go", 1, ""))
	assert.False(t, ok)

	_, ok = ModTime(context.Background(), NewBuffer(uri.File(filepath.Join(t.TempDir(), "gone.go")), "go", 1, ""))
	assert.False(t, ok)
}

func TestLoadDecodesLegacyEncodings(t *testing.T) {
	dir := t.TempDir()

	latin, err := charmap.Windows1252.NewEncoder().Bytes([]byte("café := 1\n"))
	require.NoError(t, err)
	utf16le := []byte{0xFF, 0xFE, 'o', 0, 'k', 0}
	bom := append([]byte{0xEF, 0xBB, 0xBF}, []byte("x := 1")...)

	cases := map[string]struct {
		data []byte
		want string
	}{
		"latin.go": {latin, "café := 1\n"},
		"wide.go":  {utf16le, "ok"},
		"bom.go":   {bom, "x := 1"},
	}

	for name, tc := range cases {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, tc.data, 0o644))

		buf, err := Load(path)
		require.NoError(t, err, name)
		assert.Equal(t, tc.want, buf.Content(), name)
	}
}

func TestLanguageID(t *testing.T) {
	assert.Equal(t, "go", LanguageID("/x/main.go"))
	assert.Equal(t, "typescriptreact", LanguageID("App.TSX"))
	assert.Equal(t, "", LanguageID("README"))
}
