// Package process runs the external dump, restore and compression tools.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

// LineSink receives the restore tool's stderr one line at a time
type LineSink interface {
	Track(line string)
}

// DumpResult holds the exit statuses of a dump pipeline
type DumpResult struct {
	DumpExit     int
	CompressExit int
}

// Success reports whether both processes exited cleanly
func (r DumpResult) Success() bool {
	return r.DumpExit == 0 && r.CompressExit == 0
}

// RestoreResult holds the exit statuses of a restore pipeline
type RestoreResult struct {
	DecompressExit int
	RestoreExit    int
	BytesCopied    int64
}

// Success reports whether both processes exited cleanly
func (r RestoreResult) Success() bool {
	return r.DecompressExit == 0 && r.RestoreExit == 0
}

// Runner wires the external tools of one dump or restore step together
type Runner struct {
	logger   zerolog.Logger
	stdout   io.Writer
	stderr   io.Writer
	progress io.Writer
}

// NewRunner creates a runner. stdout receives the restore tool's output,
// stderr the diagnostics of the dump and compression tools.
func NewRunner(logger zerolog.Logger, stdout, stderr io.Writer) *Runner {
	return &Runner{
		logger: logger,
		stdout: stdout,
		stderr: stderr,
	}
}

// WithProgress renders a byte counter on w while restoring
func (r *Runner) WithProgress(w io.Writer) *Runner {
	r.progress = w
	return r
}

// Dump runs dump | compress > outputPath. The output file is truncated.
func (r *Runner) Dump(ctx context.Context, dump, compress Command, outputPath string) (DumpResult, error) {
	out, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return DumpResult{}, fmt.Errorf("failed to open dump file: %w", err)
	}
	defer out.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		return DumpResult{}, fmt.Errorf("failed to create pipe: %w", err)
	}

	compressCmd := compress.build(ctx)
	compressCmd.Stdin = pr
	compressCmd.Stdout = out
	compressCmd.Stderr = r.stderr

	if err := compressCmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return DumpResult{}, fmt.Errorf("failed to start %s: %w", compress.Path, err)
	}
	pr.Close()

	dumpCmd := dump.build(ctx)
	dumpCmd.Stdout = pw
	dumpCmd.Stderr = r.stderr

	r.logger.Debug().
		Str("dump", dump.String()).
		Str("compress", compress.String()).
		Str("output", outputPath).
		Msg("Starting dump pipeline")

	if err := dumpCmd.Start(); err != nil {
		pw.Close()
		_ = compressCmd.Wait()
		return DumpResult{}, fmt.Errorf("failed to start %s: %w", dump.Path, err)
	}
	pw.Close()

	dumpErr := dumpCmd.Wait()
	compressErr := compressCmd.Wait()

	res := DumpResult{
		DumpExit:     exitCode(dumpErr),
		CompressExit: exitCode(compressErr),
	}

	r.logger.Debug().
		Int("dump_exit", res.DumpExit).
		Int("compress_exit", res.CompressExit).
		Msg("Dump pipeline finished")

	return res, nil
}

// Restore runs decompress < sourcePath | restore. The restore tool's stdout
// is passed through, its stderr goes to sink line by line.
//
// Success is judged by both exit statuses only. A broken pipe while feeding
// the restore tool is not an error: it may legitimately exit before reading
// all of its input.
func (r *Runner) Restore(ctx context.Context, decompress Command, sourcePath string, restore Command, sink LineSink) (RestoreResult, error) {
	in, err := os.Open(sourcePath)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer in.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		return RestoreResult{}, fmt.Errorf("failed to create pipe: %w", err)
	}

	decompressCmd := decompress.build(ctx)
	decompressCmd.Stdin = in
	decompressCmd.Stdout = pw
	decompressCmd.Stderr = r.stderr

	if err := decompressCmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return RestoreResult{}, fmt.Errorf("failed to start %s: %w", decompress.Path, err)
	}
	pw.Close()

	restoreCmd := restore.build(ctx)
	stdin, stdout, stderr, err := pipes(restoreCmd)
	if err == nil {
		err = restoreCmd.Start()
	}
	if err != nil {
		pr.Close()
		_ = decompressCmd.Wait()
		return RestoreResult{}, fmt.Errorf("failed to start %s: %w", restore.Path, err)
	}

	r.logger.Debug().
		Str("decompress", decompress.String()).
		Str("restore", restore.String()).
		Str("source", sourcePath).
		Msg("Started restore pipeline")

	var src io.Reader = pr
	var bar *progressbar.ProgressBar
	if r.progress != nil {
		bar = progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(r.progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetDescription(fmt.Sprintf("restoring %s", filepath.Base(sourcePath))),
		)
		src = io.TeeReader(pr, bar)
	}

	var copied int64
	var g errgroup.Group

	g.Go(func() error {
		return drain(r.stdout, stdout)
	})
	g.Go(func() error {
		return readLines(stderr, sink)
	})
	g.Go(func() error {
		defer stdin.Close()
		n, err := io.Copy(stdin, src)
		copied = n
		if err != nil && !isBrokenPipe(err) {
			return fmt.Errorf("failed to feed %s: %w", restore.Path, err)
		}
		return nil
	})

	copyErr := g.Wait()
	// Unblocks the decompressor if the restore tool stopped reading early
	pr.Close()

	restoreErr := restoreCmd.Wait()
	decompressErr := decompressCmd.Wait()

	if bar != nil {
		_ = bar.Finish()
	}

	res := RestoreResult{
		DecompressExit: exitCode(decompressErr),
		RestoreExit:    exitCode(restoreErr),
		BytesCopied:    copied,
	}

	r.logger.Debug().
		Int("decompress_exit", res.DecompressExit).
		Int("restore_exit", res.RestoreExit).
		Int64("bytes", res.BytesCopied).
		Msg("Restore pipeline finished")

	return res, copyErr
}

func pipes(cmd *exec.Cmd) (io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating stderr pipe: %w", err)
	}
	return stdin, stdout, stderr, nil
}

// drain copies r into w. Once w fails the rest is discarded so the
// producer never blocks on a full pipe.
func drain(w io.Writer, r io.Reader) error {
	if w == nil {
		w = io.Discard
	}
	if _, err := io.Copy(w, r); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("error forwarding output: %w", err)
	}
	return nil
}

func readLines(r io.Reader, sink LineSink) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" && sink != nil {
			sink.Track(line)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			_, _ = io.Copy(io.Discard, br)
			return fmt.Errorf("error reading output: %w", err)
		}
	}
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}
