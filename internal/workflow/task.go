package workflow

// TaskType classifies a planned unit of work.
type TaskType string

// Task types the engine understands. Anything else (research and friends) is
// logged and skipped without invoking a role.
const (
	TaskDevelop TaskType = "develop"
	TaskTest    TaskType = "test"
	TaskOther   TaskType = "other"
)

// Task is a single unit of planned work. Develop tasks carry expectations the
// engineer must satisfy; test tasks carry the criteria the QA analyst checks
// against the develop task they validate.
type Task struct {
	ID            int      `json:"id"`
	Type          TaskType `json:"type"`
	Description   string   `json:"description"`
	Expectations  []string `json:"expectations,omitempty"`
	TestCriteria  []string `json:"test_criteria,omitempty"`
	ValidatesTask int      `json:"validates_task,omitempty"`
}

// Criteria returns what a test task checks: its own criteria, or the task's
// expectations when the planner put them there instead.
func (t Task) Criteria() []string {
	if len(t.TestCriteria) > 0 {
		return t.TestCriteria
	}
	return t.Expectations
}

// Validates returns the develop task id this test task evaluates, defaulting
// to the immediately preceding id.
func (t Task) Validates() int {
	if t.ValidatesTask != 0 {
		return t.ValidatesTask
	}
	return t.ID - 1
}

// TaskResult statuses.
const (
	ResultCompleted  = "completed"
	ResultParseError = "parse_error"
	ResultError      = "error"
	ResultPassed     = "passed"
	ResultFailed     = "failed"
)

// TaskResult is the immutable outcome of one task execution attempt. Results
// are appended to an ordered log and never mutated or deleted.
type TaskResult struct {
	TaskID        int      `json:"task_id"`
	Type          TaskType `json:"type"`
	Status        string   `json:"status"`
	Files         []string `json:"files,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	ValidatesTask int      `json:"validates_task,omitempty"`
	Passed        bool     `json:"passed,omitempty"`
	Details       *Verdict `json:"details,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// PlanResponse is the structured plan requested from the architect.
type PlanResponse struct {
	ProjectName  string   `json:"project_name"`
	ToolsNeeded  []string `json:"tools_needed,omitempty"`
	ExternalAPIs []string `json:"external_apis,omitempty"`
	TaskList     []Task   `json:"task_list"`
	Summary      string   `json:"summary"`
}

// FileSpec is one file the engineer wants written.
type FileSpec struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ToolDefinition describes a tool the produced server exposes.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// DevResponse is the structured output requested from the engineer.
type DevResponse struct {
	Files           []FileSpec       `json:"files"`
	ToolDefinitions []ToolDefinition `json:"tool_definitions,omitempty"`
	CompletionNotes string           `json:"completion_notes,omitempty"`
}

// CriterionResult is the QA analyst's evaluation of a single criterion.
type CriterionResult struct {
	Criterion string `json:"criterion"`
	Passed    bool   `json:"passed"`
	Reason    string `json:"reason,omitempty"`
}

// Verdict is the structured output requested from the QA analyst.
type Verdict struct {
	OverallPass     bool              `json:"overall_pass"`
	CriteriaResults []CriterionResult `json:"criteria_results,omitempty"`
	Suggestions     []string          `json:"suggestions,omitempty"`
	NeedsRework     bool              `json:"needs_rework"`
}
