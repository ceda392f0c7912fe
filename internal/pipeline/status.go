// Package pipeline defines the research pipeline status model and the
// poller that tracks a pipeline while any of its stages run.
package pipeline

import "encoding/json"

// Status is a pipeline's lifecycle position. A pipeline moves through three
// stages (research, legal resolution, data extraction); each stage ends in
// complete, failed, or cancelled, and the pipeline rests there until the
// next stage starts or the run is over.
type Status string

const (
	StatusPending Status = "pending"

	StatusResearchRunning   Status = "research_running"
	StatusResearchComplete  Status = "research_complete"
	StatusResearchFailed    Status = "research_failed"
	StatusResearchCancelled Status = "research_cancelled"

	StatusLegalResolutionRunning   Status = "legal_resolution_running"
	StatusLegalResolutionComplete  Status = "legal_resolution_complete"
	StatusLegalResolutionFailed    Status = "legal_resolution_failed"
	StatusLegalResolutionCancelled Status = "legal_resolution_cancelled"

	StatusDataExtractionRunning   Status = "data_extraction_running"
	StatusDataExtractionComplete  Status = "data_extraction_complete"
	StatusDataExtractionFailed    Status = "data_extraction_failed"
	StatusDataExtractionCancelled Status = "data_extraction_cancelled"
)

var statusStage = map[Status]string{
	StatusPending:                  "",
	StatusResearchRunning:          "research",
	StatusResearchComplete:         "research",
	StatusResearchFailed:           "research",
	StatusResearchCancelled:        "research",
	StatusLegalResolutionRunning:   "legal_resolution",
	StatusLegalResolutionComplete:  "legal_resolution",
	StatusLegalResolutionFailed:    "legal_resolution",
	StatusLegalResolutionCancelled: "legal_resolution",
	StatusDataExtractionRunning:    "data_extraction",
	StatusDataExtractionComplete:   "data_extraction",
	StatusDataExtractionFailed:     "data_extraction",
	StatusDataExtractionCancelled:  "data_extraction",
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := statusStage[s]
	return ok
}

// Stage returns the stage the status belongs to, or "" for pending.
func (s Status) Stage() string { return statusStage[s] }

// Running reports whether a stage is actively executing.
func (s Status) Running() bool {
	switch s {
	case StatusResearchRunning, StatusLegalResolutionRunning, StatusDataExtractionRunning:
		return true
	}
	return false
}

// Terminal reports whether the pipeline is at rest: no stage is executing
// and none will start without an outside trigger. Pending is not terminal;
// a pending pipeline is waiting to be run.
func (s Status) Terminal() bool {
	return s != StatusPending && s.Valid() && !s.Running()
}

// Failed reports whether the status is a stage failure.
func (s Status) Failed() bool {
	switch s {
	case StatusResearchFailed, StatusLegalResolutionFailed, StatusDataExtractionFailed:
		return true
	}
	return false
}

// Cancelled reports whether the status is a stage cancellation.
func (s Status) Cancelled() bool {
	switch s {
	case StatusResearchCancelled, StatusLegalResolutionCancelled, StatusDataExtractionCancelled:
		return true
	}
	return false
}

// StatusUpdate is one observation of a pipeline's state, as fetched by the
// poller. Payload carries the source's full status document for consumers
// that want more than the status string.
type StatusUpdate struct {
	Status  Status          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
