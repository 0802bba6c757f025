package models

// RunStatus represents the state of a backup run
type RunStatus string

const (
	// RunStatusPending indicates the run has been recorded but not started
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is in progress
	RunStatusRunning RunStatus = "running"

	// RunStatusSuccess indicates every database completed
	RunStatusSuccess RunStatus = "success"

	// RunStatusHalted indicates a restore stopped early at a missing archive
	RunStatusHalted RunStatus = "halted"

	// RunStatusFailed indicates the run failed
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal returns true if the status represents a final state
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusHalted || s == RunStatusFailed
}

// IsRunning returns true if the run is still in progress
func (s RunStatus) IsRunning() bool {
	return s == RunStatusRunning || s == RunStatusPending
}
