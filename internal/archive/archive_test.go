package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArchive(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "database.sql.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := pgzip.NewWriter(f)
	_, err = zw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestInspect(t *testing.T) {
	content := strings.Repeat("INSERT INTO users VALUES (1, 'root');\n", 1000)
	path := writeArchive(t, content)

	info, err := Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, path, info.Path)
	assert.Equal(t, int64(len(content)), info.UncompressedSize)
	assert.Greater(t, info.CompressedSize, int64(0))
	assert.Greater(t, info.Ratio(), 1.0)
	assert.Contains(t, info.String(), "uncompressed")
}

func TestInspect_Corrupt(t *testing.T) {
	path := writeArchive(t, strings.Repeat("x", 4096))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Truncate the stream before its trailer
	require.NoError(t, os.WriteFile(path, data[:len(data)-6], 0600))

	_, err = Inspect(path)
	assert.Error(t, err)
}

func TestInspect_NotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database.sql.gz")
	require.NoError(t, os.WriteFile(path, []byte("CREATE TABLE plain();\n"), 0600))

	_, err := Inspect(path)
	assert.Error(t, err)
}

func TestInspect_Missing(t *testing.T) {
	_, err := Inspect(filepath.Join(t.TempDir(), "missing.sql.gz"))
	assert.Error(t, err)
}

func TestInfo_RatioEmpty(t *testing.T) {
	assert.Equal(t, 0.0, Info{}.Ratio())
}

func TestSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, make([]byte, 2000), 0600))

	s, err := Size(path)
	require.NoError(t, err)
	assert.Equal(t, "2.0 kB", s)
}
