package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporterAppendsInOrder(t *testing.T) {
	r := NewReporter(nil, nil, "run-1")
	r.Add(StatusWorking, "first")
	r.Add(StatusSuccess, "second")
	r.AddMetrics(StatusComplete, "third", map[string]any{"files_created": 2})

	reports := r.Reports()
	require.Len(t, reports, 3)
	assert.Equal(t, "first", reports[0].Message)
	assert.Equal(t, StatusSuccess, reports[1].Status)
	assert.Equal(t, 2, reports[2].Metrics["files_created"])
	assert.False(t, reports[2].Timestamp.IsZero())
}

func TestReporterEmitsProgressEvents(t *testing.T) {
	var events []Event
	sink := SinkFunc(func(e Event) { events = append(events, e) })

	r := NewReporter(nil, sink, "run-2")
	r.Add(StatusWorking, "working on it")

	require.Len(t, events, 1)
	assert.Equal(t, EventProgress, events[0].Type)
	assert.Equal(t, "run-2", events[0].RunID)
	assert.Equal(t, 1, events[0].Payload["total_reports"])

	report, ok := events[0].Payload["report"].(ProgressReport)
	require.True(t, ok)
	assert.Equal(t, "working on it", report.Message)
}

func TestReporterReportsIsACopy(t *testing.T) {
	r := NewReporter(nil, nil, "run-3")
	r.Add(StatusWorking, "original")

	snapshot := r.Reports()
	snapshot[0].Message = "mutated"

	assert.Equal(t, "original", r.Reports()[0].Message)
}
