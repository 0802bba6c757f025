// Package archive inspects compressed database dumps.
package archive

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/pgzip"
)

// Info describes one verified archive
type Info struct {
	Path             string
	CompressedSize   int64
	UncompressedSize int64
}

// Ratio returns uncompressed/compressed, or 0 for an empty file
func (i Info) Ratio() float64 {
	if i.CompressedSize == 0 {
		return 0
	}
	return float64(i.UncompressedSize) / float64(i.CompressedSize)
}

func (i Info) String() string {
	return fmt.Sprintf("%s (%s compressed, %s uncompressed)",
		i.Path,
		humanize.Bytes(uint64(i.CompressedSize)),
		humanize.Bytes(uint64(i.UncompressedSize)))
}

// Inspect streams the whole archive through the decompressor, verifying the
// gzip trailer checksums, and reports its sizes
func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("failed to stat archive: %w", err)
	}

	zr, err := pgzip.NewReader(f)
	if err != nil {
		return Info{}, fmt.Errorf("archive %s is not a gzip stream: %w", path, err)
	}
	defer zr.Close()

	n, err := io.Copy(io.Discard, zr)
	if err != nil {
		return Info{}, fmt.Errorf("archive %s is corrupt: %w", path, err)
	}

	return Info{
		Path:             path,
		CompressedSize:   stat.Size(),
		UncompressedSize: n,
	}, nil
}

// Size returns the on-disk size of path in human readable form
func Size(path string) (string, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return humanize.Bytes(uint64(stat.Size())), nil
}
