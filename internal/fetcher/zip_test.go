package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestZIP(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "ddi.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestExtractZIP_FiltersByExtension(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"b/survey2.XML": "<codeBook/>",
		"survey1.xml":   "<codeBook/>",
		"readme.txt":    "notes",
	})
	dest := t.TempDir()

	paths, err := ExtractZIP(zipPath, dest, ".xml")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dest, "b", "survey2.XML"), filepath.Join(dest, "survey1.xml")}, paths)

	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, "<codeBook/>", string(data))

	_, err = os.Stat(filepath.Join(dest, "readme.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractZIP_AllFiles(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{"a.xml": "x", "b.csv": "y"})
	paths, err := ExtractZIP(zipPath, t.TempDir(), "")
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestExtractZIP_RejectsZipSlip(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{"../evil.xml": "x"})
	_, err := ExtractZIP(zipPath, t.TempDir(), ".xml")
	assert.Error(t, err)
}

func TestExtractZIP_NotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	_, err := ExtractZIP(path, t.TempDir(), "")
	assert.Error(t, err)
}
