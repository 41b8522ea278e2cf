package workflow

// Event type constants emitted toward the optional sink. Consumers may render
// these as a live status feed; the engine is fire-and-forget toward the sink
// and never waits on it.
const (
	EventProgress       = "dev_team_progress"
	EventPhase          = "dev_team_phase"
	EventTask           = "dev_team_task"
	EventTestResult     = "dev_team_test_result"
	EventPlanValidation = "dev_team_plan_validation"
	EventComplete       = "dev_team_complete"
)

// Event is one observable moment in a workflow run.
type Event struct {
	Type    string         `json:"type"`
	RunID   string         `json:"run_id"`
	Payload map[string]any `json:"payload,omitempty"`
}

// EventSink receives workflow events. Implementations must not block; the
// engine does not retry or buffer on their behalf.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(Event)

// Emit implements EventSink.
func (f SinkFunc) Emit(e Event) { f(e) }
