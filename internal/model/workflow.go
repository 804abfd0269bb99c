// Package model defines the data structures for kestrel's workflows and engine statuses.
package model

import "time"

// SubmissionTimeLayout is the timestamp format the engine writes in the
// submission field of query results (millisecond precision, UTC suffix).
const SubmissionTimeLayout = "2006-01-02T15:04:05.000Z"

// Label keys the pipeline understands on engine workflows.
const (
	LabelBundleUUID    = "bundle-uuid"
	LabelBundleVersion = "bundle-version"
	LabelHashID        = "hash-id"
	LabelForce         = "force"
)

// Workflow is one unit of admission work, normalized from a single engine
// query result. Immutable after construction; discarded after one
// release/abort decision.
type Workflow struct {
	ID            string
	BundleUUID    string
	BundleVersion string
	Labels        map[string]string
}

// NewWorkflow builds a Workflow from an engine result id and its labels map.
// Bundle fields are lifted out of the labels when present; a nil labels map
// yields empty bundle fields.
func NewWorkflow(id string, labels map[string]string) Workflow {
	return Workflow{
		ID:            id,
		BundleUUID:    labels[LabelBundleUUID],
		BundleVersion: labels[LabelBundleVersion],
		Labels:        labels,
	}
}

// Equal reports whether two workflows are the same unit of work.
// Identity is the engine id alone; bundle fields and labels do not
// participate. Duplicate resolution compares bundle versions separately.
func (w Workflow) Equal(other Workflow) bool {
	return w.ID == other.ID
}

// Label returns the value for key and whether it is present.
func (w Workflow) Label(key string) (string, bool) {
	v, ok := w.Labels[key]
	return v, ok
}

// HashID returns the content fingerprint label, empty when absent.
func (w Workflow) HashID() string {
	return w.Labels[LabelHashID]
}

// Forced reports whether the workflow carries the force label.
// Presence alone counts; the value is ignored.
func (w Workflow) Forced() bool {
	_, ok := w.Labels[LabelForce]
	return ok
}

// ParseSubmissionTime parses an engine submission timestamp.
func ParseSubmissionTime(s string) (time.Time, error) {
	return time.Parse(SubmissionTimeLayout, s)
}

// ParseBundleVersion parses a bundle-version label value. The engine writes
// versions in the submission layout; older submitters used plain RFC3339.
func ParseBundleVersion(s string) (time.Time, error) {
	if t, err := time.Parse(SubmissionTimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
