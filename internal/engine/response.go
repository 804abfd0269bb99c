package engine

import (
	"encoding/json"
	"fmt"
)

// Response is the engine's answer to one call. A Response is returned for
// every completed HTTP exchange regardless of status code; transport
// failures surface as errors instead.
type Response struct {
	StatusCode int
	Body       []byte
}

// Success reports whether the engine answered with a 2xx status.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// WorkflowMeta is one workflow metadata block in a query result.
type WorkflowMeta struct {
	ID         string            `json:"id"`
	Status     string            `json:"status,omitempty"`
	Submission string            `json:"submission"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// QueryResponse is the decoded body of a successful query call.
type QueryResponse struct {
	Results           []WorkflowMeta `json:"results"`
	TotalResultsCount int            `json:"totalResultsCount"`
}

// ParseQueryResponse decodes a query response body.
func ParseQueryResponse(body []byte) (QueryResponse, error) {
	var qr QueryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return QueryResponse{}, fmt.Errorf("decode query response: %w", err)
	}
	return qr, nil
}
