// Package core holds the domain types shared by the probe engine, the store
// and the output renderers.
package core

import "time"

// ProbeTarget is one model a probe run will exercise.
type ProbeTarget struct {
	ModelID  string `json:"model_id,omitempty"`
	Label    string `json:"label"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ProbeResult records how one model answered the probe prompt.
type ProbeResult struct {
	ProbeTarget
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	Response       string `json:"response,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms"`
}

// ProbeRun is one sequential pass over a list of targets.
type ProbeRun struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Results    []ProbeResult `json:"results"`
	// Total and Passed are filled from stored counters when Results is not
	// loaded.
	Total  int `json:"total"`
	Passed int `json:"passed"`
}

// Summarize sets Total and Passed from Results.
func (r *ProbeRun) Summarize() {
	r.Total = len(r.Results)
	r.Passed = 0
	for _, res := range r.Results {
		if res.Success {
			r.Passed++
		}
	}
}
