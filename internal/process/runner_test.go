package process

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (l *lineRecorder) Track(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, strings.TrimRight(line, "\n"))
}

func sh(script string) Command {
	return Command{Path: "sh", Args: []string{"-c", script}}
}

func newTestRunner(stdout io.Writer) *Runner {
	return NewRunner(zerolog.Nop(), stdout, nil)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("  gzip -c   -1 ")
	require.NoError(t, err)
	assert.Equal(t, "gzip", cmd.Path)
	assert.Equal(t, []string{"-c", "-1"}, cmd.Args)
	assert.Equal(t, "gzip -c -1", cmd.String())

	withDB := cmd.WithArgs("extra").WithEnv("PGHOST=db")
	assert.Equal(t, []string{"-c", "-1", "extra"}, withDB.Args)
	assert.Equal(t, []string{"-c", "-1"}, cmd.Args, "original must not change")
	assert.Equal(t, []string{"PGHOST=db"}, withDB.Env)

	_, err = ParseCommand("   ")
	assert.Error(t, err)
}

func TestRunner_Dump(t *testing.T) {
	out := filepath.Join(t.TempDir(), "database.sql.gz")
	r := newTestRunner(nil)

	res, err := r.Dump(context.Background(), sh("echo first; echo dump"), Command{Path: "cat"}, out)
	require.NoError(t, err)
	assert.True(t, res.Success())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "first\ndump\n", string(data))

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestRunner_DumpOverwrites(t *testing.T) {
	out := filepath.Join(t.TempDir(), "database.sql.gz")
	r := newTestRunner(nil)

	_, err := r.Dump(context.Background(), sh("echo a much longer first run"), Command{Path: "cat"}, out)
	require.NoError(t, err)
	_, err = r.Dump(context.Background(), sh("echo second"), Command{Path: "cat"}, out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(data))
}

func TestRunner_DumpGzip(t *testing.T) {
	if _, err := exec.LookPath("gzip"); err != nil {
		t.Skip("gzip not available")
	}
	out := filepath.Join(t.TempDir(), "ci_database.sql.gz")
	r := newTestRunner(nil)

	res, err := r.Dump(context.Background(), sh("echo 'CREATE TABLE x();'"), Command{Path: "gzip", Args: []string{"-c", "-1"}}, out)
	require.NoError(t, err)
	require.True(t, res.Success())

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE x();\n", string(data))
}

func TestRunner_DumpFailures(t *testing.T) {
	tests := []struct {
		name     string
		dump     Command
		compress Command
		wantDump int
		wantComp int
	}{
		{name: "dump tool fails", dump: sh("exit 3"), compress: Command{Path: "cat"}, wantDump: 3},
		{name: "compressor fails", dump: sh("echo x"), compress: sh("cat >/dev/null; exit 4"), wantComp: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "database.sql.gz")
			res, err := newTestRunner(nil).Dump(context.Background(), tt.dump, tt.compress, out)
			require.NoError(t, err)
			assert.False(t, res.Success())
			assert.Equal(t, tt.wantDump, res.DumpExit)
			assert.Equal(t, tt.wantComp, res.CompressExit)
		})
	}
}

func TestRunner_DumpMissingTool(t *testing.T) {
	out := filepath.Join(t.TempDir(), "database.sql.gz")
	_, err := newTestRunner(nil).Dump(context.Background(), Command{Path: "pgbackup-no-such-tool"}, Command{Path: "cat"}, out)
	assert.Error(t, err)
}

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "database.sql.gz")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestRunner_Restore(t *testing.T) {
	src := writeSource(t, "CREATE TABLE a();\nCREATE TABLE b();\n")
	var stdout bytes.Buffer
	sink := &lineRecorder{}

	restore := sh(`cat; echo "WARNING: noise" >&2; echo "ERROR: syntax error at or near FOO" >&2`)
	res, err := newTestRunner(&stdout).Restore(context.Background(), Command{Path: "cat"}, src, restore, sink)
	require.NoError(t, err)

	assert.True(t, res.Success())
	assert.Equal(t, int64(36), res.BytesCopied)
	assert.Equal(t, "CREATE TABLE a();\nCREATE TABLE b();\n", stdout.String())
	assert.Equal(t, []string{"WARNING: noise", "ERROR: syntax error at or near FOO"}, sink.lines)
}

func TestRunner_RestoreSuccessIgnoresStderr(t *testing.T) {
	src := writeSource(t, "x\n")
	sink := &lineRecorder{}

	restore := sh(`cat >/dev/null; for i in 1 2 3; do echo "ERROR: bad $i" >&2; done; exit 0`)
	res, err := newTestRunner(nil).Restore(context.Background(), Command{Path: "cat"}, src, restore, sink)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Len(t, sink.lines, 3)
}

func TestRunner_RestoreExitStatuses(t *testing.T) {
	tests := []struct {
		name        string
		decompress  Command
		restore     Command
		wantDecomp  int
		wantRestore int
	}{
		{name: "restore tool fails", decompress: Command{Path: "cat"}, restore: sh("cat >/dev/null; exit 1"), wantRestore: 1},
		{name: "decompressor fails", decompress: sh("cat; exit 2"), restore: sh("cat >/dev/null"), wantDecomp: 2},
		{name: "both fail", decompress: sh("cat; exit 2"), restore: sh("cat >/dev/null; exit 3"), wantDecomp: 2, wantRestore: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := writeSource(t, "data\n")
			res, err := newTestRunner(nil).Restore(context.Background(), tt.decompress, src, tt.restore, &lineRecorder{})
			require.NoError(t, err)
			assert.False(t, res.Success())
			assert.Equal(t, tt.wantDecomp, res.DecompressExit)
			assert.Equal(t, tt.wantRestore, res.RestoreExit)
		})
	}
}

func TestRunner_RestoreBrokenPipe(t *testing.T) {
	// Far more than a pipe buffer, so the restore tool exits mid-stream
	src := writeSource(t, strings.Repeat("INSERT INTO t VALUES (1);\n", 200000))

	restore := sh("head -c 10 >/dev/null; exit 0")
	res, err := newTestRunner(nil).Restore(context.Background(), Command{Path: "cat"}, src, restore, &lineRecorder{})
	require.NoError(t, err, "a broken pipe while feeding the restore tool is not an error")

	assert.Equal(t, 0, res.RestoreExit)
	assert.Equal(t, res.DecompressExit == 0 && res.RestoreExit == 0, res.Success())
}

func TestRunner_RestoreMissingSource(t *testing.T) {
	_, err := newTestRunner(nil).Restore(context.Background(), Command{Path: "cat"},
		filepath.Join(t.TempDir(), "missing.sql.gz"), Command{Path: "cat"}, nil)
	assert.Error(t, err)
}

func TestRunner_RestoreMissingTool(t *testing.T) {
	src := writeSource(t, "data\n")
	_, err := newTestRunner(nil).Restore(context.Background(), Command{Path: "cat"}, src,
		Command{Path: "pgbackup-no-such-tool"}, nil)
	assert.Error(t, err)
}

func TestRunner_RestoreEnv(t *testing.T) {
	src := writeSource(t, "")
	var stdout bytes.Buffer

	restore := sh(`echo "$PGHOST/$PGDATABASE_TEST"`).WithEnv("PGHOST=db.internal", "PGDATABASE_TEST=ci")
	res, err := newTestRunner(&stdout).Restore(context.Background(), Command{Path: "cat"}, src, restore, nil)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, "db.internal/ci\n", stdout.String())
}

func TestRunner_RestoreProgress(t *testing.T) {
	src := writeSource(t, "data\n")
	var bar bytes.Buffer

	r := newTestRunner(nil).WithProgress(&bar)
	res, err := r.Restore(context.Background(), Command{Path: "cat"}, src, sh("cat >/dev/null"), nil)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.NotEmpty(t, bar.String())
}

func TestIsBrokenPipe(t *testing.T) {
	assert.True(t, isBrokenPipe(io.ErrClosedPipe))
	assert.True(t, isBrokenPipe(&os.PathError{Op: "write", Path: "|1", Err: os.ErrClosed}))
	assert.False(t, isBrokenPipe(io.ErrUnexpectedEOF))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, -1, exitCode(io.EOF))

	err := exec.Command("sh", "-c", "exit 7").Run()
	assert.Equal(t, 7, exitCode(err))
}
