package backup

import (
	"github.com/branchd-dev/pgbackup/internal/process"
)

// DefaultDumpCmd is the dump tool
const DefaultDumpCmd = "pg_dump"

// DumpDescriptor describes one pg_dump invocation
type DumpDescriptor struct {
	DatabaseName string
	Path         string
	Schemas      []string
	SnapshotID   string
	Env          []string
}

// Args renders the dump tool's arguments
func (d DumpDescriptor) Args() []string {
	args := []string{"--clean", "--if-exists"}
	if d.SnapshotID != "" {
		args = append(args, "--snapshot="+d.SnapshotID)
	}
	for _, schema := range d.Schemas {
		args = append(args, "-n", schema)
	}
	return append(args, d.DatabaseName)
}

// Command builds the dump command on top of base
func (d DumpDescriptor) Command(base process.Command) process.Command {
	return base.WithArgs(d.Args()...).WithEnv(d.Env...)
}
