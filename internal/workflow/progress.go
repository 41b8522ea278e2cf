package workflow

import (
	"time"

	"go.uber.org/zap"
)

// Progress statuses.
const (
	StatusWorking  = "working"
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusComplete = "complete"
)

// ProgressReport is one observable status line. The ordered sequence of
// reports is the audit trail of a run.
type ProgressReport struct {
	Timestamp time.Time      `json:"timestamp"`
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	Metrics   map[string]any `json:"metrics,omitempty"`
}

// Reporter accumulates progress reports. It is purely additive: appending
// logs the entry, notifies the sink, and never touches other state.
type Reporter struct {
	logger  *zap.Logger
	sink    EventSink
	runID   string
	reports []ProgressReport
}

// NewReporter creates a reporter for one run. Both logger and sink may be nil.
func NewReporter(logger *zap.Logger, sink EventSink, runID string) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{logger: logger, sink: sink, runID: runID}
}

// Add appends a report with no metrics.
func (r *Reporter) Add(status, message string) {
	r.AddMetrics(status, message, nil)
}

// AddMetrics appends a report carrying a metrics mapping.
func (r *Reporter) AddMetrics(status, message string, metrics map[string]any) {
	report := ProgressReport{
		Timestamp: time.Now(),
		Status:    status,
		Message:   message,
		Metrics:   metrics,
	}
	r.reports = append(r.reports, report)

	switch status {
	case StatusFailed:
		r.logger.Warn(message, zap.String("run_id", r.runID))
	default:
		r.logger.Info(message, zap.String("run_id", r.runID), zap.String("status", status))
	}

	r.Emit(EventProgress, map[string]any{
		"report":        report,
		"total_reports": len(r.reports),
	})
}

// Emit forwards an arbitrary event to the sink, if one is attached.
func (r *Reporter) Emit(eventType string, payload map[string]any) {
	if r.sink == nil {
		return
	}
	r.sink.Emit(Event{Type: eventType, RunID: r.runID, Payload: payload})
}

// Reports returns the ordered report log.
func (r *Reporter) Reports() []ProgressReport {
	out := make([]ProgressReport, len(r.reports))
	copy(out, r.reports)
	return out
}
