package backup

import (
	"fmt"

	"github.com/branchd-dev/pgbackup/internal/database"
)

// Operation names the step a run performs
type Operation string

const (
	OperationDump    Operation = "dump"
	OperationRestore Operation = "restore"
)

// ConnectivityError reports a logical database that could not be reached
// while exporting a snapshot or restoring session timeouts
type ConnectivityError struct {
	Database string
	Config   map[string]string
	Path     string
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("Failed to create compressed file '%s' when trying to backup the following database:\n\n%s%s",
		e.Path, database.DescribeVariables(e.Config), causeSuffix(e.Err))
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// MissingBackupFileError reports a missing archive for the primary database
type MissingBackupFileError struct {
	Database string
	Path     string
}

func (e *MissingBackupFileError) Error() string {
	return fmt.Sprintf("Source database file does not exist %s", e.Path)
}

// ToolFailureError reports a dump or restore pipeline that did not exit cleanly
type ToolFailureError struct {
	Database  string
	Config    map[string]string
	Path      string
	Operation Operation
	Err       error
}

func (e *ToolFailureError) Error() string {
	if e.Operation == OperationRestore {
		return fmt.Sprintf("Restore failed for database %s from '%s'%s", e.Database, e.Path, causeSuffix(e.Err))
	}
	return fmt.Sprintf("Failed to create compressed file '%s' when trying to backup the following database:\n\n%s%s",
		e.Path, database.DescribeVariables(e.Config), causeSuffix(e.Err))
}

func (e *ToolFailureError) Unwrap() error { return e.Err }

func causeSuffix(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("\ncaused by: %v", err)
}
