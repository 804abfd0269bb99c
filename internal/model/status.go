package model

// Status is a workflow state as reported by the engine.
type Status string

const (
	StatusOnHold    Status = "On Hold"
	StatusSubmitted Status = "Submitted"
	StatusRunning   Status = "Running"
	StatusAborting  Status = "Aborting"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
	StatusAborted   Status = "Aborted"
)

var knownStatuses = map[Status]bool{
	StatusOnHold:    true,
	StatusSubmitted: true,
	StatusRunning:   true,
	StatusAborting:  true,
	StatusSucceeded: true,
	StatusFailed:    true,
	StatusAborted:   true,
}

var terminalStatuses = map[Status]bool{
	StatusSucceeded: true,
	StatusFailed:    true,
	StatusAborted:   true,
}

// IsTerminal reports whether the engine will never change s again.
func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

// KnownStatus reports whether s is a state the engine can report.
func KnownStatus(s Status) bool {
	return knownStatuses[s]
}
