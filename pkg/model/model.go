// ABOUTME: Shared domain types for the live-input-to-airplay control plane
// ABOUTME: Defines outputs, service status, and the event frames pushed to front ends
package model

// Output represents one audio sink known to the OwnTone API.
// Default and DefaultVolume are derived annotations sourced from the
// local defaults store, not from OwnTone itself.
type Output struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Selected      bool   `json:"selected"`
	Volume        int    `json:"volume"`
	Default       bool   `json:"default"`
	DefaultVolume *int   `json:"default_volume"`
}

// Status reports whether the two managed units are active.
type Status struct {
	CoreActive bool `json:"core_active"`
	PipeActive bool `json:"pipe_active"`
	BothActive bool `json:"both_active"`
}

// NewStatus derives BothActive from the two unit states.
func NewStatus(core, pipe bool) Status {
	return Status{CoreActive: core, PipeActive: pipe, BothActive: core && pipe}
}

// Event frame types pushed over /api/events and /api/ws.
const (
	EventStatus  = "status"
	EventOutputs = "outputs"
)

// StatusEvent is the "status" frame.
type StatusEvent struct {
	Type string `json:"type"`
	Status
}

// OutputsEvent is the "outputs" frame. Outputs is never nil so the
// frame serializes as an empty array when nothing is routable.
type OutputsEvent struct {
	Type    string   `json:"type"`
	Outputs []Output `json:"outputs"`
}

// NewStatusEvent wraps a status snapshot in its event envelope.
func NewStatusEvent(s Status) StatusEvent {
	return StatusEvent{Type: EventStatus, Status: s}
}

// NewOutputsEvent wraps an output list in its event envelope.
func NewOutputsEvent(outs []Output) OutputsEvent {
	if outs == nil {
		outs = []Output{}
	}
	return OutputsEvent{Type: EventOutputs, Outputs: outs}
}

// Clamp bounds a volume to the valid 0-100 range.
func Clamp(volume int) int {
	if volume < 0 {
		return 0
	}
	if volume > 100 {
		return 100
	}
	return volume
}
