// Package event defines the record shape that flows from instrumentation
// points through the ring queue, the recorder, and the blob store.
package event

import "time"

// Kind is the closed enum of observable event kinds. It is fixed for the
// lifetime of the on-disk format.
type Kind string

const (
	KindAgentStarted         Kind = "agent-started"
	KindInputReceived        Kind = "input-received"
	KindExternalCallMade     Kind = "external-call-made"
	KindExternalCallComplete Kind = "external-call-completed"
	KindStateChanged         Kind = "state-changed"
	KindDecisionMade         Kind = "decision-made"
	KindErrorEncountered     Kind = "error-encountered"
	KindOutputProduced       Kind = "output-produced"
	KindAgentCompleted       Kind = "agent-completed"
)

// Event data keys fixed for external-call-made / external-call-completed,
// resolving the HAR exporter's need for real method/URL/status fields.
const (
	DataKeyMethod               = "method"
	DataKeyURL                  = "url"
	DataKeyStatus               = "status"
	DataKeyRequestHeaders       = "request_headers"
	DataKeyResponseHeaders      = "response_headers"
	DataKeyRequestBodySnippet   = "request_body_snippet"
	DataKeyResponseBodySnippet  = "response_body_snippet"
)

// Event is one instrumentation-point observation.
type Event struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	Kind       Kind           `json:"kind"`
	WallTimeNs int64          `json:"wall_time_ns"`
	Data       map[string]any `json:"data,omitempty"`
	DurationUs *int64         `json:"duration_us,omitempty"`
}

// New constructs an Event stamped with the current wall clock.
func New(id, runID string, kind Kind, data map[string]any) Event {
	return Event{
		ID:         id,
		RunID:      runID,
		Kind:       kind,
		WallTimeNs: time.Now().UnixNano(),
		Data:       data,
	}
}

// WithDuration attaches an elapsed-microseconds measurement and returns the event.
func (e Event) WithDuration(d time.Duration) Event {
	us := d.Microseconds()
	e.DurationUs = &us
	return e
}
