package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "calculator", "calculator"},
		{"dashes and underscores kept", "my-calc_v2", "my-calc_v2"},
		{"path separators stripped", "../../etc/passwd", "etcpasswd"},
		{"spaces stripped", "my project", "myproject"},
		{"empty", "", "unnamed_project"},
		{"only junk", "../ /..", "unnamed_project"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.input))
		})
	}
}

func TestWriteReadList(t *testing.T) {
	store := NewDirStore(t.TempDir(), nil)

	path, err := store.Write("calc", "server.py", "print('hi')")
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = store.Write("calc", "lib/util.py", "x = 1")
	require.NoError(t, err)

	content, err := store.Read("calc", "server.py")
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", content)

	files, err := store.List("calc")
	require.NoError(t, err)
	require.Len(t, files, 2)

	byName := map[string]int64{}
	for _, f := range files {
		byName[f.Name] = f.Size
	}
	assert.Equal(t, int64(len("print('hi')")), byName["server.py"])
	assert.Equal(t, int64(len("x = 1")), byName["lib/util.py"])
}

func TestWriteRejectsEscapingPaths(t *testing.T) {
	store := NewDirStore(t.TempDir(), nil)

	_, err := store.Write("calc", "../outside.txt", "nope")
	assert.Error(t, err)

	_, err = store.Write("calc", "/etc/passwd", "nope")
	assert.Error(t, err)

	_, err = store.Write("calc", "", "nope")
	assert.Error(t, err)
}

func TestListMissingProject(t *testing.T) {
	store := NewDirStore(t.TempDir(), nil)
	_, err := store.List("ghost")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestReadMissingFile(t *testing.T) {
	store := NewDirStore(t.TempDir(), nil)
	_, err := store.Write("calc", "a.txt", "x")
	require.NoError(t, err)

	_, err = store.Read("calc", "b.txt")
	assert.Error(t, err)
}

// Archiving then extracting must reproduce every file with identical contents
// and sizes.
func TestArchiveRoundTrip(t *testing.T) {
	base := t.TempDir()
	store := NewDirStore(base, nil)

	_, err := store.Write("roundtrip", "a.txt", "x")
	require.NoError(t, err)
	_, err = store.Write("roundtrip", "b.txt", "y")
	require.NoError(t, err)

	archivePath, err := store.Archive("roundtrip")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "roundtrip.tar.bz2"), archivePath)

	dest := t.TempDir()
	require.NoError(t, Extract(archivePath, dest))

	// Entries are rooted at the project name.
	restored := NewDirStore(dest, nil)
	files, err := restored.List("roundtrip")
	require.NoError(t, err)
	require.Len(t, files, 2)

	a, err := os.ReadFile(filepath.Join(dest, "roundtrip", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(a))

	b, err := os.ReadFile(filepath.Join(dest, "roundtrip", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "y", string(b))

	original, err := store.List("roundtrip")
	require.NoError(t, err)
	assert.ElementsMatch(t, original, files)
}

func TestArchiveNestedFiles(t *testing.T) {
	store := NewDirStore(t.TempDir(), nil)
	_, err := store.Write("nested", "src/deep/file.txt", "content")
	require.NoError(t, err)

	archivePath, err := store.Archive("nested")
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, Extract(archivePath, dest))

	data, err := os.ReadFile(filepath.Join(dest, "nested", "src", "deep", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestArchiveMissingProject(t *testing.T) {
	store := NewDirStore(t.TempDir(), nil)
	_, err := store.Archive("ghost")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}
