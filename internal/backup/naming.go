package backup

import (
	"path/filepath"

	"github.com/branchd-dev/pgbackup/internal/database"
)

const archiveBaseName = "database.sql.gz"

// FileName returns the archive path of a logical database inside dir.
// The primary database carries no prefix, any other one is prefixed with
// its name: ci -> ci_database.sql.gz.
func FileName(dir, name string) string {
	prefix := ""
	if name != database.PrimaryName {
		prefix = name + "_"
	}
	return filepath.Join(dir, prefix+archiveBaseName)
}
