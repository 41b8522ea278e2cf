// Package workflow implements the multi-role development workflow: an
// architect plans, the plan passes a human approval gate, an engineer and a QA
// analyst alternate over a task queue with automatic rework injection, and the
// result is packaged and verified in a sandbox.
//
// The engine holds no state between invocations. A run that stops at the
// approval gate returns a Snapshot; the caller passes it back, possibly much
// later or from another process, to resume.
package workflow

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Dbillionaer/llm-council-local/internal/config"
	"github.com/Dbillionaer/llm-council-local/internal/extract"
	"github.com/Dbillionaer/llm-council-local/internal/llm"
	"github.com/Dbillionaer/llm-council-local/internal/memory"
	"github.com/Dbillionaer/llm-council-local/internal/project"
	"github.com/Dbillionaer/llm-council-local/internal/sandbox"
)

// Per-role call timeouts.
const (
	planningTimeout = 120 * time.Second
	developTimeout  = 180 * time.Second
	qaTimeout       = 120 * time.Second
)

// MaxIterations caps the development loop. Rework injection can extend the
// queue indefinitely; hitting the ceiling truncates the remaining tasks and
// the run still completes with whatever artifacts exist.
const MaxIterations = 100

// Run phases.
const (
	PhasePlanning         = "planning"
	PhaseAwaitingApproval = "awaiting_approval"
	PhaseDeveloping       = "developing"
	PhasePackaging        = "packaging"
	PhaseComplete         = "complete"
)

// Run statuses returned to callers.
const (
	StatusAwaitingPlanValidation = "awaiting_plan_validation"
	StatusCompleted              = "completed"
)

// ValidationInstructions tells the caller how to answer the approval gate.
const ValidationInstructions = "Respond with 'approved' to implement, 'refine' to improve the plan, or provide specific feedback"

// Verifier is the boundary to the sandboxed execution backend. Callers
// tolerate a nil result and treat it as a run that produced nothing.
type Verifier interface {
	Execute(ctx context.Context, archivePath, runScript string) *sandbox.Result
}

// Snapshot is the serializable state of a suspended run. The engine itself is
// stateless across the approval gate; the caller owns continuity by holding
// the snapshot between invocations.
type Snapshot struct {
	Phase       string `json:"phase"`
	ProjectName string `json:"project_name"`
	Summary     string `json:"summary"`
	Tasks       []Task `json:"task_list"`
}

// Request is one engine invocation. Snapshot nil means a fresh run (the
// architect plans first). An empty UserResponse always stops at the approval
// gate; "approved" proceeds, "refine" re-plans, anything else is treated as
// plan feedback.
type Request struct {
	Query        string
	Roles        config.Roles
	UserResponse string
	Snapshot     *Snapshot
}

// Metrics aggregates the countable outcomes of a run.
type Metrics struct {
	TotalTasks       int   `json:"total_tasks"`
	DevelopmentTasks int   `json:"development_tasks"`
	TestTasks        int   `json:"test_tasks"`
	TestsPassed      int   `json:"tests_passed"`
	TestsFailed      int   `json:"tests_failed"`
	FilesCreated     int   `json:"files_created"`
	ToolsDefined     int   `json:"tools_defined"`
	SandboxPassed    *bool `json:"sandbox_passed,omitempty"`
}

// Result is the outcome of one engine invocation.
type Result struct {
	Success         bool             `json:"success"`
	Status          string           `json:"status"`
	ProjectName     string           `json:"project_name"`
	Summary         string           `json:"summary,omitempty"`
	TaskList        []Task           `json:"task_list"`
	Snapshot        *Snapshot        `json:"snapshot,omitempty"`
	Instructions    string           `json:"instructions,omitempty"`
	FilesCreated    []string         `json:"files_created,omitempty"`
	ToolDefinitions []ToolDefinition `json:"tool_definitions,omitempty"`
	TaskResults     []TaskResult     `json:"task_results,omitempty"`
	Metrics         *Metrics         `json:"metrics,omitempty"`
	SandboxResult   *sandbox.Result  `json:"sandbox_result,omitempty"`
	ArchivePath     string           `json:"archive_path,omitempty"`
	Reports         []ProgressReport `json:"progress_reports"`
}

// Engine drives one workflow run at a time. A multi-run deployment creates an
// independent Engine per run; nothing here is safe for concurrent use.
type Engine struct {
	llm           llm.Querier
	store         project.Store
	verifier      Verifier
	recorder      memory.Recorder
	sink          EventSink
	logger        *zap.Logger
	maxIterations int
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink attaches an event sink.
func WithSink(s EventSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithRecorder attaches a memory recorder.
func WithRecorder(r memory.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMaxIterations overrides the development loop ceiling. Useful in tests.
func WithMaxIterations(n int) Option {
	return func(e *Engine) { e.maxIterations = n }
}

// NewEngine creates an engine over the given collaborators.
func NewEngine(querier llm.Querier, store project.Store, verifier Verifier, opts ...Option) *Engine {
	e := &Engine{
		llm:           querier,
		store:         store,
		verifier:      verifier,
		recorder:      memory.Nop{},
		logger:        zap.NewNop(),
		maxIterations: MaxIterations,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one engine invocation. No role failure, parse failure, or
// storage failure terminates the run: every failure path produces a
// TaskResult or ProgressReport and the state machine advances.
func (e *Engine) Run(ctx context.Context, req Request) *Result {
	runID := uuid.NewString()
	rep := NewReporter(e.logger, e.sink, runID)

	rep.Add(StatusWorking, "Starting MCP Dev Team for: "+truncate(req.Query, 100))
	e.record(ctx, "Starting development project: "+req.Query, "init")

	snap := req.Snapshot
	if snap == nil {
		rep.Add(StatusWorking, "Phase 1: Research and Planning")
		rep.Emit(EventPhase, map[string]any{"phase": 1, "name": "Research and Planning"})
		snap = e.plan(ctx, req, rep)
	}

	response := strings.ToLower(strings.TrimSpace(req.UserResponse))
	switch response {
	case "":
		return e.awaitValidation(snap, ValidationInstructions, rep)
	case "approved":
		// fall through to implementation
	case "refine":
		snap = e.refinePlan(ctx, req, snap, rep)
		return e.awaitValidation(snap, "Plan has been refined. "+ValidationInstructions, rep)
	default:
		snap = e.revisePlan(ctx, req, snap, rep)
		return e.awaitValidation(snap, "Plan has been updated based on your feedback. "+ValidationInstructions, rep)
	}

	rep.Add(StatusSuccess, "Plan approved by user - proceeding with implementation")
	e.record(ctx, "Plan approved. Starting implementation.", "approval")

	snap.Phase = PhaseDeveloping
	rep.Add(StatusWorking, "Phase 2: Development and Testing")
	rep.Emit(EventPhase, map[string]any{"phase": 2, "name": "Development and Testing"})
	state := e.develop(ctx, req, snap, rep)

	snap.Phase = PhasePackaging
	rep.Add(StatusWorking, "Phase 3: Final Testing and Packaging")
	rep.Emit(EventPhase, map[string]any{"phase": 3, "name": "Final Testing and Packaging"})
	archivePath, sandboxRes := e.packaging(ctx, snap, state, rep)
	snap.Phase = PhaseComplete

	metrics := computeMetrics(state, sandboxRes)
	rep.AddMetrics(StatusComplete,
		"Development complete. "+truncate(snap.ProjectName, 100),
		metricsMap(metrics))
	e.record(ctx, "Project "+snap.ProjectName+" completed.", "completion")

	rep.Emit(EventComplete, map[string]any{
		"project_name": snap.ProjectName,
		"metrics":      metricsMap(metrics),
		"files":        state.files,
	})

	return &Result{
		Success:         true,
		Status:          StatusCompleted,
		ProjectName:     snap.ProjectName,
		Summary:         snap.Summary,
		TaskList:        state.tasks,
		Instructions:    integrationInstructions(snap.ProjectName, req.Query),
		FilesCreated:    state.files,
		ToolDefinitions: state.tools,
		TaskResults:     state.results,
		Metrics:         metrics,
		SandboxResult:   sandboxRes,
		ArchivePath:     archivePath,
		Reports:         rep.Reports(),
	}
}

// awaitValidation suspends the run at the approval gate.
func (e *Engine) awaitValidation(snap *Snapshot, instructions string, rep *Reporter) *Result {
	snap.Phase = PhaseAwaitingApproval
	rep.Emit(EventPlanValidation, map[string]any{
		"project_name":      snap.ProjectName,
		"task_list":         snap.Tasks,
		"summary":           snap.Summary,
		"awaiting_response": true,
	})
	return &Result{
		Success:      true,
		Status:       StatusAwaitingPlanValidation,
		ProjectName:  snap.ProjectName,
		Summary:      snap.Summary,
		TaskList:     snap.Tasks,
		Snapshot:     snap,
		Instructions: instructions,
		Reports:      rep.Reports(),
	}
}

// plan runs the architect and always produces a non-empty task list: on any
// transport or parse failure it degrades to a single develop task wrapping
// the raw request.
func (e *Engine) plan(ctx context.Context, req Request, rep *Reporter) *Snapshot {
	fallback := &Snapshot{
		Phase:       PhasePlanning,
		ProjectName: "new-mcp-server",
		Tasks: []Task{{
			ID:           1,
			Type:         TaskDevelop,
			Description:  req.Query,
			Expectations: []string{"Code completes"},
		}},
	}

	resp, err := e.llm.Query(ctx, req.Roles.Architect,
		[]llm.Message{{Role: "user", Content: architectPrompt(req.Query)}}, planningTimeout)
	if err != nil {
		rep.Add(StatusFailed, "Architect analysis failed: "+err.Error())
		return fallback
	}
	e.record(ctx, "Architect analysis: "+truncate(resp.Content, 500), "architect")

	var pr PlanResponse
	if !extract.JSON(resp.Content).Unmarshal(&pr) || len(pr.TaskList) == 0 {
		rep.Add(StatusFailed, "Could not parse architect response as JSON")
		return fallback
	}

	if pr.ProjectName == "" {
		pr.ProjectName = "new-mcp-server"
	}
	rep.Add(StatusSuccess, "Architect analysis complete: "+
		truncate(pr.Summary, 200))
	rep.Add(StatusSuccess, "Project name: "+pr.ProjectName)

	return &Snapshot{
		Phase:       PhasePlanning,
		ProjectName: pr.ProjectName,
		Summary:     pr.Summary,
		Tasks:       normalizeTasks(pr.TaskList),
	}
}

// refinePlan re-runs the architect over the current plan. Failure keeps the
// existing plan so the gate never loses state.
func (e *Engine) refinePlan(ctx context.Context, req Request, snap *Snapshot, rep *Reporter) *Snapshot {
	resp, err := e.llm.Query(ctx, req.Roles.Architect,
		[]llm.Message{{Role: "user", Content: refinePrompt(req.Query, snap.Tasks)}}, planningTimeout)
	if err != nil {
		rep.Add(StatusFailed, "Plan refinement failed: "+err.Error())
		return snap
	}

	var pr PlanResponse
	if !extract.JSON(resp.Content).Unmarshal(&pr) || len(pr.TaskList) == 0 {
		rep.Add(StatusFailed, "Could not parse refined plan")
		return snap
	}

	rep.Add(StatusSuccess, "Plan refined based on review")
	e.record(ctx, "Plan refined: "+truncate(resp.Content, 500), "refinement")
	return e.updatedSnapshot(snap, pr)
}

// revisePlan folds user feedback into the plan. Failure keeps the existing
// plan.
func (e *Engine) revisePlan(ctx context.Context, req Request, snap *Snapshot, rep *Reporter) *Snapshot {
	resp, err := e.llm.Query(ctx, req.Roles.Architect,
		[]llm.Message{{Role: "user", Content: feedbackPrompt(req.Query, snap.Tasks, req.UserResponse)}}, planningTimeout)
	if err != nil {
		rep.Add(StatusFailed, "Plan revision failed: "+err.Error())
		return snap
	}

	var pr PlanResponse
	if !extract.JSON(resp.Content).Unmarshal(&pr) || len(pr.TaskList) == 0 {
		rep.Add(StatusFailed, "Could not parse revised plan")
		return snap
	}

	rep.Add(StatusSuccess, "Plan updated based on user feedback")
	e.record(ctx, "User feedback incorporated: "+req.UserResponse, "feedback")
	return e.updatedSnapshot(snap, pr)
}

// updatedSnapshot merges a re-planned response into the snapshot, keeping the
// original project name unless the architect proposed a new one.
func (e *Engine) updatedSnapshot(snap *Snapshot, pr PlanResponse) *Snapshot {
	name := snap.ProjectName
	if pr.ProjectName != "" {
		name = pr.ProjectName
	}
	summary := pr.Summary
	if summary == "" {
		summary = snap.Summary
	}
	return &Snapshot{
		Phase:       PhasePlanning,
		ProjectName: name,
		Summary:     summary,
		Tasks:       normalizeTasks(pr.TaskList),
	}
}

// normalizeTasks assigns sequential ids to tasks the planner left at zero.
func normalizeTasks(tasks []Task) []Task {
	max := 0
	for _, t := range tasks {
		if t.ID > max {
			max = t.ID
		}
	}
	out := make([]Task, len(tasks))
	copy(out, tasks)
	for i := range out {
		if out[i].ID == 0 {
			max++
			out[i].ID = max
		}
	}
	return out
}

// devState accumulates everything the development phase produces.
type devState struct {
	files   []string
	tools   []ToolDefinition
	results []TaskResult
	tasks   []Task
}

// develop traverses the task queue, invoking the engineer for develop tasks
// and the QA analyst for test tasks. Failed tests with needs_rework push a
// fresh develop task onto the queue; the iteration ceiling stops runaways.
func (e *Engine) develop(ctx context.Context, req Request, snap *Snapshot, rep *Reporter) *devState {
	queue := NewQueue(snap.Tasks)
	state := &devState{}

	for iter := 0; iter < e.maxIterations; iter++ {
		task, ok := queue.Pop()
		if !ok {
			break
		}

		rep.Add(StatusWorking, "Task "+taskLabel(task.ID)+": "+truncate(task.Description, 80))
		rep.Emit(EventTask, map[string]any{
			"task_id":      task.ID,
			"type":         task.Type,
			"description":  task.Description,
			"expectations": task.Expectations,
		})

		switch task.Type {
		case TaskDevelop:
			state.results = append(state.results, e.runDevelop(ctx, req, snap, task, state, rep))
		case TaskTest:
			state.results = append(state.results, e.runTest(ctx, req, snap, task, state, queue, rep))
		default:
			rep.Add(StatusWorking, "Task "+taskLabel(task.ID)+": Skipping "+string(task.Type)+" task")
		}
	}

	if queue.Remaining() > 0 {
		e.logger.Warn("iteration ceiling reached, truncating remaining tasks",
			zap.Int("remaining", queue.Remaining()),
			zap.Int("ceiling", e.maxIterations))
	}

	state.tasks = queue.Tasks()
	return state
}

// runDevelop executes one develop task. Only files that persist successfully
// enter the artifact set; the TaskResult is appended whatever happens.
func (e *Engine) runDevelop(ctx context.Context, req Request, snap *Snapshot, task Task, state *devState, rep *Reporter) TaskResult {
	resp, err := e.llm.Query(ctx, req.Roles.Engineer,
		[]llm.Message{{Role: "user", Content: engineerPrompt(snap.ProjectName, task, state.files)}}, developTimeout)
	if err != nil {
		rep.Add(StatusFailed, "Task "+taskLabel(task.ID)+" failed: "+err.Error())
		return TaskResult{TaskID: task.ID, Type: TaskDevelop, Status: ResultError, Error: err.Error()}
	}

	var dev DevResponse
	if !extract.JSON(resp.Content).Unmarshal(&dev) {
		rep.Add(StatusFailed, "Task "+taskLabel(task.ID)+": Could not parse response")
		return TaskResult{TaskID: task.ID, Type: TaskDevelop, Status: ResultParseError}
	}

	var written []string
	for _, file := range dev.Files {
		if file.Path == "" || file.Content == "" {
			continue
		}
		if _, err := e.store.Write(snap.ProjectName, file.Path, file.Content); err != nil {
			rep.Add(StatusFailed, "Failed to write "+file.Path+": "+err.Error())
			continue
		}
		written = append(written, file.Path)
		state.files = append(state.files, file.Path)
		rep.Add(StatusSuccess, "Created: "+file.Path)
	}
	state.tools = append(state.tools, dev.ToolDefinitions...)

	e.record(ctx, "Task "+taskLabel(task.ID)+" completed: "+truncate(task.Description, 100), "development")
	return TaskResult{
		TaskID: task.ID,
		Type:   TaskDevelop,
		Status: ResultCompleted,
		Files:  written,
		Notes:  dev.CompletionNotes,
	}
}

// runTest executes one test task. A failed verdict that asks for rework
// pushes exactly one new develop task with id max+1; a missing develop result
// for the validated id is tolerated, never fatal.
func (e *Engine) runTest(ctx context.Context, req Request, snap *Snapshot, task Task, state *devState, queue *Queue, rep *Reporter) TaskResult {
	validates := task.Validates()
	criteria := task.Criteria()

	devResult := "No result found"
	for i := range state.results {
		if state.results[i].TaskID == validates {
			if data, err := json.MarshalIndent(state.results[i], "", "  "); err == nil {
				devResult = string(data)
			}
			break
		}
	}

	resp, err := e.llm.Query(ctx, req.Roles.QA,
		[]llm.Message{{Role: "user", Content: qaPrompt(snap.ProjectName, validates, criteria, state.files, devResult)}}, qaTimeout)
	if err != nil {
		rep.Add(StatusFailed, "Test "+taskLabel(task.ID)+" failed: "+err.Error())
		return TaskResult{TaskID: task.ID, Type: TaskTest, Status: ResultError, ValidatesTask: validates, Error: err.Error()}
	}

	var verdict Verdict
	if !extract.JSON(resp.Content).Unmarshal(&verdict) {
		rep.Add(StatusFailed, "Test "+taskLabel(task.ID)+": Could not parse QA response")
		return TaskResult{TaskID: task.ID, Type: TaskTest, Status: ResultParseError, ValidatesTask: validates}
	}

	status := ResultFailed
	if verdict.OverallPass {
		status = ResultPassed
		rep.Add(StatusSuccess, "Test "+taskLabel(task.ID)+": PASSED - expectations met")
	} else {
		rep.Add(StatusFailed, "Test "+taskLabel(task.ID)+": FAILED - needs rework")
	}
	rep.Emit(EventTestResult, map[string]any{
		"task_id":          task.ID,
		"validates_task":   validates,
		"passed":           verdict.OverallPass,
		"criteria_results": verdict.CriteriaResults,
		"suggestions":      verdict.Suggestions,
	})

	if !verdict.OverallPass && verdict.NeedsRework {
		rework := Task{
			ID:           queue.MaxID() + 1,
			Type:         TaskDevelop,
			Description:  reworkDescription(validates, verdict.Suggestions),
			Expectations: criteria,
		}
		queue.Push(rework)
		rep.Add(StatusWorking, "Added rework task based on test feedback")
	}

	e.record(ctx, "Test "+taskLabel(task.ID)+": "+strings.ToUpper(status), "testing")
	return TaskResult{
		TaskID:        task.ID,
		Type:          TaskTest,
		Status:        status,
		ValidatesTask: validates,
		Passed:        verdict.OverallPass,
		Details:       &verdict,
	}
}

// packaging archives the artifact set and, when run.sh was produced, submits
// the archive for sandboxed verification. Packaging failures surface in the
// progress log but never abort the run.
func (e *Engine) packaging(ctx context.Context, snap *Snapshot, state *devState, rep *Reporter) (string, *sandbox.Result) {
	if len(state.files) == 0 {
		return "", nil
	}

	archivePath, err := e.store.Archive(snap.ProjectName)
	if err != nil {
		rep.Add(StatusFailed, "Failed to create archive: "+err.Error())
		return "", nil
	}
	rep.Add(StatusSuccess, "Created archive: "+archivePath)

	if !containsFile(state.files, sandbox.DefaultRunScript) {
		return archivePath, nil
	}

	res := e.verifier.Execute(ctx, archivePath, sandbox.DefaultRunScript)
	if res == nil {
		return archivePath, nil
	}
	if res.Success {
		rep.Add(StatusSuccess, "Sandbox tests passed!")
	} else {
		detail := res.Stderr
		if detail == "" {
			detail = res.Error
		}
		rep.Add(StatusFailed, "Sandbox tests failed: "+truncate(detail, 200))
	}
	return archivePath, res
}

// record sends an episode to the memory recorder. Failures are logged and
// swallowed; memory is never on the critical path.
func (e *Engine) record(ctx context.Context, content, source string) {
	if err := e.recorder.Record(ctx, content, source); err != nil {
		e.logger.Warn("memory recording failed",
			zap.String("source", source),
			zap.Error(err))
	}
}

// computeMetrics aggregates the result log into countable outcomes.
func computeMetrics(state *devState, sandboxRes *sandbox.Result) *Metrics {
	m := &Metrics{
		TotalTasks:   len(state.results),
		FilesCreated: len(state.files),
		ToolsDefined: len(state.tools),
	}
	for _, r := range state.results {
		switch r.Type {
		case TaskDevelop:
			m.DevelopmentTasks++
		case TaskTest:
			m.TestTasks++
			if r.Passed {
				m.TestsPassed++
			} else {
				m.TestsFailed++
			}
		}
	}
	if sandboxRes != nil {
		passed := sandboxRes.Success
		m.SandboxPassed = &passed
	}
	return m
}

// metricsMap renders Metrics as the loose mapping progress reports carry.
func metricsMap(m *Metrics) map[string]any {
	out := map[string]any{
		"total_tasks":       m.TotalTasks,
		"development_tasks": m.DevelopmentTasks,
		"test_tasks":        m.TestTasks,
		"tests_passed":      m.TestsPassed,
		"tests_failed":      m.TestsFailed,
		"files_created":     m.FilesCreated,
		"tools_defined":     m.ToolsDefined,
	}
	if m.SandboxPassed != nil {
		out["sandbox_passed"] = *m.SandboxPassed
	}
	return out
}

// taskLabel formats a task id for progress messages.
func taskLabel(id int) string {
	return "#" + strconv.Itoa(id)
}

// containsFile reports whether the artifact set includes the given file name.
func containsFile(files []string, name string) bool {
	for _, f := range files {
		if f == name {
			return true
		}
	}
	return false
}
