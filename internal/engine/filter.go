package engine

import (
	"net/url"
	"sort"

	"github.com/msageha/kestrel/internal/model"
)

// Filter describes an engine-side workflow query.
type Filter struct {
	// Statuses restricts results to these states. Empty means any status.
	Statuses []model.Status
	// Labels restricts results to workflows carrying every key:value pair.
	Labels map[string]string
	// IncludeLabels asks the engine to return each workflow's labels.
	IncludeLabels bool
	// ExcludeSubworkflows drops child workflows from the results.
	ExcludeSubworkflows bool
}

// HeldWorkflows is the intake filter: every top-level workflow currently on
// hold, labels included.
func HeldWorkflows() Filter {
	return Filter{
		Statuses:            []model.Status{model.StatusOnHold},
		IncludeLabels:       true,
		ExcludeSubworkflows: true,
	}
}

// LabeledWorkflows is the duplicate-resolution filter: workflows in any
// status carrying the given label, labels included.
func LabeledWorkflows(key, value string) Filter {
	return Filter{
		Labels:              map[string]string{key: value},
		IncludeLabels:       true,
		ExcludeSubworkflows: true,
	}
}

// Values renders the filter as engine query parameters. Label keys are
// emitted in sorted order so the encoding is stable.
func (f Filter) Values() url.Values {
	v := url.Values{}
	for _, s := range f.Statuses {
		v.Add("status", string(s))
	}
	keys := make([]string, 0, len(f.Labels))
	for k := range f.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.Add("label", k+":"+f.Labels[k])
	}
	if f.IncludeLabels {
		v.Add("additionalQueryResultFields", "labels")
	}
	if f.ExcludeSubworkflows {
		v.Set("includeSubworkflows", "false")
	}
	return v
}
