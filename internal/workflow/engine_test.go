package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dbillionaer/llm-council-local/internal/config"
	"github.com/Dbillionaer/llm-council-local/internal/llm"
	"github.com/Dbillionaer/llm-council-local/internal/project"
	"github.com/Dbillionaer/llm-council-local/internal/sandbox"
)

type queryFunc func(model string, messages []llm.Message) (*llm.Response, error)

type stubQuerier struct {
	fn queryFunc
}

func (s *stubQuerier) Query(_ context.Context, model string, messages []llm.Message, _ time.Duration) (*llm.Response, error) {
	return s.fn(model, messages)
}

type memStore struct {
	files    map[string]string
	archives int
	failPath string
}

func newMemStore() *memStore {
	return &memStore{files: map[string]string{}}
}

func (m *memStore) Write(proj, relPath, content string) (string, error) {
	if relPath == m.failPath {
		return "", errors.New("disk full")
	}
	m.files[proj+"/"+relPath] = content
	return "/abs/" + proj + "/" + relPath, nil
}

func (m *memStore) Read(proj, relPath string) (string, error) {
	content, ok := m.files[proj+"/"+relPath]
	if !ok {
		return "", project.ErrProjectNotFound
	}
	return content, nil
}

func (m *memStore) List(proj string) ([]project.FileInfo, error) {
	var out []project.FileInfo
	for key := range m.files {
		if strings.HasPrefix(key, proj+"/") {
			out = append(out, project.FileInfo{Name: strings.TrimPrefix(key, proj+"/")})
		}
	}
	return out, nil
}

func (m *memStore) Archive(proj string) (string, error) {
	m.archives++
	return "/abs/" + proj + ".tar.bz2", nil
}

type stubVerifier struct {
	called bool
	result *sandbox.Result
}

func (v *stubVerifier) Execute(_ context.Context, _, _ string) *sandbox.Result {
	v.called = true
	return v.result
}

func testRoles() config.Roles {
	return config.Roles{Architect: "arch-model", Engineer: "eng-model", QA: "qa-model"}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func calculatorPlan(t *testing.T) string {
	t.Helper()
	return mustJSON(t, PlanResponse{
		ProjectName: "calculator-server",
		Summary:     "A calculator MCP server",
		TaskList: []Task{
			{ID: 1, Type: TaskDevelop, Description: "Create calculator.py", Expectations: []string{"File exists", "Has add function"}},
			{ID: 2, Type: TaskTest, Description: "Verify calculator.py", ValidatesTask: 1, TestCriteria: []string{"File exists", "Add works"}},
		},
	})
}

// End to end: plan, gate, approval, develop, test pass, packaging.
func TestEngineCalculatorHappyPath(t *testing.T) {
	store := newMemStore()
	verifier := &stubVerifier{}

	querier := &stubQuerier{fn: func(model string, _ []llm.Message) (*llm.Response, error) {
		switch model {
		case "arch-model":
			return &llm.Response{Content: "```json\n" + calculatorPlan(t) + "\n```"}, nil
		case "eng-model":
			return &llm.Response{Content: mustJSON(t, DevResponse{
				Files:           []FileSpec{{Path: "calculator.py", Content: "def add(a, b): return a + b"}},
				ToolDefinitions: []ToolDefinition{{Name: "add", Description: "Add two numbers"}},
				CompletionNotes: "done",
			})}, nil
		case "qa-model":
			return &llm.Response{Content: mustJSON(t, Verdict{OverallPass: true})}, nil
		}
		return nil, errors.New("unexpected model " + model)
	}}

	engine := NewEngine(querier, store, verifier)

	first := engine.Run(context.Background(), Request{Query: "build a calculator", Roles: testRoles()})
	require.Equal(t, StatusAwaitingPlanValidation, first.Status)
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, "calculator-server", first.ProjectName)
	assert.Len(t, first.TaskList, 2)

	second := engine.Run(context.Background(), Request{
		Query:        "build a calculator",
		Roles:        testRoles(),
		UserResponse: "approved",
		Snapshot:     first.Snapshot,
	})
	require.Equal(t, StatusCompleted, second.Status)
	assert.True(t, second.Success)
	assert.Equal(t, []string{"calculator.py"}, second.FilesCreated)

	require.NotNil(t, second.Metrics)
	assert.Equal(t, 1, second.Metrics.FilesCreated)
	assert.Equal(t, 1, second.Metrics.TestsPassed)
	assert.Equal(t, 0, second.Metrics.TestsFailed)
	assert.Equal(t, 1, second.Metrics.ToolsDefined)
	assert.Equal(t, 2, second.Metrics.TotalTasks)

	assert.Equal(t, 1, store.archives)
	// No run.sh among artifacts, so the sandbox stays untouched.
	assert.False(t, verifier.called)
	assert.Contains(t, second.Instructions, "calculator-server")
}

// Unparseable architect output degrades to a single develop task wrapping the
// raw request. Planning never raises.
func TestEnginePlanParseFailureFallback(t *testing.T) {
	querier := &stubQuerier{fn: func(model string, _ []llm.Message) (*llm.Response, error) {
		return &llm.Response{Content: "I think you should use Python for this."}, nil
	}}
	engine := NewEngine(querier, newMemStore(), &stubVerifier{})

	res := engine.Run(context.Background(), Request{Query: "build a weather server", Roles: testRoles()})
	require.Equal(t, StatusAwaitingPlanValidation, res.Status)
	assert.Equal(t, "new-mcp-server", res.ProjectName)

	require.Len(t, res.TaskList, 1)
	assert.Equal(t, TaskDevelop, res.TaskList[0].Type)
	assert.Equal(t, "build a weather server", res.TaskList[0].Description)
	assert.Equal(t, []string{"Code completes"}, res.TaskList[0].Expectations)
}

func TestEngineArchitectTransportFailureFallback(t *testing.T) {
	querier := &stubQuerier{fn: func(model string, _ []llm.Message) (*llm.Response, error) {
		return nil, errors.New("connection refused")
	}}
	engine := NewEngine(querier, newMemStore(), &stubVerifier{})

	res := engine.Run(context.Background(), Request{Query: "anything", Roles: testRoles()})
	require.Equal(t, StatusAwaitingPlanValidation, res.Status)
	require.Len(t, res.TaskList, 1)
	assert.Equal(t, "anything", res.TaskList[0].Description)
}

// "refine" re-plans and returns to the gate without implementing anything.
func TestEngineRefineReturnsToGate(t *testing.T) {
	var refineSeen bool
	querier := &stubQuerier{fn: func(model string, messages []llm.Message) (*llm.Response, error) {
		require.Equal(t, "arch-model", model)
		if strings.Contains(messages[0].Content, "refine it") {
			refineSeen = true
		}
		return &llm.Response{Content: calculatorPlan(t)}, nil
	}}
	store := newMemStore()
	engine := NewEngine(querier, store, &stubVerifier{})

	first := engine.Run(context.Background(), Request{Query: "calc", Roles: testRoles()})
	require.Equal(t, StatusAwaitingPlanValidation, first.Status)

	refined := engine.Run(context.Background(), Request{
		Query:        "calc",
		Roles:        testRoles(),
		UserResponse: "refine",
		Snapshot:     first.Snapshot,
	})
	require.Equal(t, StatusAwaitingPlanValidation, refined.Status)
	assert.True(t, refineSeen)
	assert.Empty(t, store.files)
	assert.Contains(t, refined.Instructions, "refined")
	require.NotEmpty(t, refined.TaskList)

	// Refining an already-refined plan behaves the same way.
	again := engine.Run(context.Background(), Request{
		Query:        "calc",
		Roles:        testRoles(),
		UserResponse: "refine",
		Snapshot:     refined.Snapshot,
	})
	require.Equal(t, StatusAwaitingPlanValidation, again.Status)
	assert.Empty(t, store.files)
	require.NotEmpty(t, again.TaskList)
	for _, task := range again.TaskList {
		assert.NotZero(t, task.ID)
		assert.NotEmpty(t, task.Type)
		assert.NotEmpty(t, task.Description)
	}
}

// Arbitrary gate text becomes plan feedback for the architect.
func TestEngineFeedbackRevisesPlan(t *testing.T) {
	var feedbackPromptSeen string
	querier := &stubQuerier{fn: func(model string, messages []llm.Message) (*llm.Response, error) {
		if strings.Contains(messages[0].Content, "USER FEEDBACK") {
			feedbackPromptSeen = messages[0].Content
		}
		return &llm.Response{Content: calculatorPlan(t)}, nil
	}}
	engine := NewEngine(querier, newMemStore(), &stubVerifier{})

	first := engine.Run(context.Background(), Request{Query: "calc", Roles: testRoles()})
	res := engine.Run(context.Background(), Request{
		Query:        "calc",
		Roles:        testRoles(),
		UserResponse: "please add a subtract tool too",
		Snapshot:     first.Snapshot,
	})
	require.Equal(t, StatusAwaitingPlanValidation, res.Status)
	assert.Contains(t, feedbackPromptSeen, "please add a subtract tool too")
}

// A failed refinement keeps the previous plan instead of losing the gate state.
func TestEngineRefineFailureKeepsPlan(t *testing.T) {
	calls := 0
	querier := &stubQuerier{fn: func(model string, _ []llm.Message) (*llm.Response, error) {
		calls++
		if calls == 1 {
			return &llm.Response{Content: calculatorPlan(t)}, nil
		}
		return nil, errors.New("model offline")
	}}
	engine := NewEngine(querier, newMemStore(), &stubVerifier{})

	first := engine.Run(context.Background(), Request{Query: "calc", Roles: testRoles()})
	res := engine.Run(context.Background(), Request{
		Query:        "calc",
		Roles:        testRoles(),
		UserResponse: "refine",
		Snapshot:     first.Snapshot,
	})
	require.Equal(t, StatusAwaitingPlanValidation, res.Status)
	assert.Equal(t, first.TaskList, res.TaskList)
}

// An always-failing QA analyst keeps injecting rework; the iteration ceiling
// truncates the queue and the run still completes.
func TestEngineAdversarialQACeiling(t *testing.T) {
	querier := &stubQuerier{fn: func(model string, _ []llm.Message) (*llm.Response, error) {
		switch model {
		case "eng-model":
			return &llm.Response{Content: mustJSON(t, DevResponse{
				Files: []FileSpec{{Path: "main.py", Content: "print('v1')"}},
			})}, nil
		case "qa-model":
			return &llm.Response{Content: mustJSON(t, Verdict{
				OverallPass: false,
				NeedsRework: true,
				Suggestions: []string{"fix the bug", "handle errors", "add logging", "an ignored fourth"},
			})}, nil
		}
		return nil, errors.New("unexpected model " + model)
	}}
	engine := NewEngine(querier, newMemStore(), &stubVerifier{}, WithMaxIterations(6))

	// Every failed test injects a rework develop task, so the queue outgrows
	// the ceiling before traversal catches up.
	tasks := []Task{{ID: 1, Type: TaskDevelop, Description: "build it", Expectations: []string{"works"}}}
	for id := 2; id <= 10; id++ {
		tasks = append(tasks, Task{
			ID: id, Type: TaskTest, Description: "check it",
			ValidatesTask: 1, TestCriteria: []string{"works"},
		})
	}
	res := engine.Run(context.Background(), Request{
		Query:        "doomed project",
		Roles:        testRoles(),
		UserResponse: "approved",
		Snapshot:     &Snapshot{ProjectName: "doomed", Tasks: tasks},
	})

	require.Equal(t, StatusCompleted, res.Status)
	assert.True(t, res.Success)
	assert.Len(t, res.TaskResults, 6)
	assert.GreaterOrEqual(t, res.Metrics.TestsFailed, 1)
	// The final task list records the full expanded queue, injected rework included.
	assert.Greater(t, len(res.TaskList), 10)
}

// Rework task ids continue from the maximum id ever seen.
func TestEngineReworkIDAssignment(t *testing.T) {
	var engineerTasks []string
	querier := &stubQuerier{fn: func(model string, messages []llm.Message) (*llm.Response, error) {
		switch model {
		case "eng-model":
			engineerTasks = append(engineerTasks, messages[0].Content)
			return &llm.Response{Content: mustJSON(t, DevResponse{
				Files: []FileSpec{{Path: "app.py", Content: "pass"}},
			})}, nil
		case "qa-model":
			return &llm.Response{Content: mustJSON(t, Verdict{
				OverallPass: false,
				NeedsRework: true,
				Suggestions: []string{"first fix", "second fix"},
			})}, nil
		}
		return nil, errors.New("unexpected model " + model)
	}}
	engine := NewEngine(querier, newMemStore(), &stubVerifier{}, WithMaxIterations(3))

	snap := &Snapshot{
		ProjectName: "p",
		Tasks: []Task{
			{ID: 4, Type: TaskDevelop, Description: "dev", Expectations: []string{"ok"}},
			{ID: 7, Type: TaskTest, Description: "test", ValidatesTask: 4, TestCriteria: []string{"ok"}},
		},
	}
	res := engine.Run(context.Background(), Request{
		Query: "q", Roles: testRoles(), UserResponse: "approved", Snapshot: snap,
	})

	require.Equal(t, StatusCompleted, res.Status)
	require.Len(t, res.TaskList, 3)
	rework := res.TaskList[2]
	assert.Equal(t, 8, rework.ID)
	assert.Equal(t, TaskDevelop, rework.Type)
	assert.Equal(t, "Rework task 4: first fix; second fix", rework.Description)
	assert.Equal(t, []string{"ok"}, rework.Expectations)
}

// An unparseable engineer response records parse_error and produces nothing.
func TestEngineDevParseErrorZeroArtifacts(t *testing.T) {
	querier := &stubQuerier{fn: func(model string, _ []llm.Message) (*llm.Response, error) {
		switch model {
		case "eng-model":
			return &llm.Response{Content: "here is some code: print('hi')"}, nil
		case "qa-model":
			return &llm.Response{Content: mustJSON(t, Verdict{OverallPass: false})}, nil
		}
		return nil, errors.New("unexpected model " + model)
	}}
	store := newMemStore()
	engine := NewEngine(querier, store, &stubVerifier{})

	snap := &Snapshot{
		ProjectName: "p",
		Tasks: []Task{
			{ID: 1, Type: TaskDevelop, Description: "dev", Expectations: []string{"ok"}},
			{ID: 2, Type: TaskTest, Description: "test", ValidatesTask: 1, TestCriteria: []string{"ok"}},
		},
	}
	res := engine.Run(context.Background(), Request{
		Query: "q", Roles: testRoles(), UserResponse: "approved", Snapshot: snap,
	})

	require.Equal(t, StatusCompleted, res.Status)
	assert.Empty(t, res.FilesCreated)
	assert.Empty(t, store.files)
	assert.Equal(t, 0, store.archives)

	require.Len(t, res.TaskResults, 2)
	assert.Equal(t, ResultParseError, res.TaskResults[0].Status)
	assert.Equal(t, ResultFailed, res.TaskResults[1].Status)
}

// A transport failure on one task records an error result and the loop
// continues with the next task.
func TestEngineTaskTransportFailureContinues(t *testing.T) {
	engCalls := 0
	querier := &stubQuerier{fn: func(model string, _ []llm.Message) (*llm.Response, error) {
		switch model {
		case "eng-model":
			engCalls++
			if engCalls == 1 {
				return nil, errors.New("timeout")
			}
			return &llm.Response{Content: mustJSON(t, DevResponse{
				Files: []FileSpec{{Path: "b.py", Content: "pass"}},
			})}, nil
		case "qa-model":
			return &llm.Response{Content: mustJSON(t, Verdict{OverallPass: true})}, nil
		}
		return nil, errors.New("unexpected model " + model)
	}}
	engine := NewEngine(querier, newMemStore(), &stubVerifier{})

	snap := &Snapshot{
		ProjectName: "p",
		Tasks: []Task{
			{ID: 1, Type: TaskDevelop, Description: "a", Expectations: []string{"ok"}},
			{ID: 2, Type: TaskDevelop, Description: "b", Expectations: []string{"ok"}},
			{ID: 3, Type: TaskTest, Description: "t", ValidatesTask: 2, TestCriteria: []string{"ok"}},
		},
	}
	res := engine.Run(context.Background(), Request{
		Query: "q", Roles: testRoles(), UserResponse: "approved", Snapshot: snap,
	})

	require.Equal(t, StatusCompleted, res.Status)
	require.Len(t, res.TaskResults, 3)
	assert.Equal(t, ResultError, res.TaskResults[0].Status)
	assert.Equal(t, "timeout", res.TaskResults[0].Error)
	assert.Equal(t, ResultCompleted, res.TaskResults[1].Status)
	assert.Equal(t, ResultPassed, res.TaskResults[2].Status)
	assert.Equal(t, []string{"b.py"}, res.FilesCreated)
}

// Tasks of unknown type are skipped without a role call or a result entry.
func TestEngineOtherTaskSkipped(t *testing.T) {
	querier := &stubQuerier{fn: func(model string, _ []llm.Message) (*llm.Response, error) {
		return nil, errors.New("no role should run")
	}}
	engine := NewEngine(querier, newMemStore(), &stubVerifier{})

	snap := &Snapshot{
		ProjectName: "p",
		Tasks:       []Task{{ID: 1, Type: "research", Description: "look things up"}},
	}
	res := engine.Run(context.Background(), Request{
		Query: "q", Roles: testRoles(), UserResponse: "approved", Snapshot: snap,
	})

	require.Equal(t, StatusCompleted, res.Status)
	assert.Empty(t, res.TaskResults)
	assert.Equal(t, 0, res.Metrics.TotalTasks)
}

// Producing run.sh triggers sandbox verification of the archive.
func TestEngineSandboxTriggeredByRunScript(t *testing.T) {
	querier := &stubQuerier{fn: func(model string, _ []llm.Message) (*llm.Response, error) {
		return &llm.Response{Content: mustJSON(t, DevResponse{
			Files: []FileSpec{
				{Path: "main.py", Content: "print('ok')"},
				{Path: "run.sh", Content: "#!/bin/bash\npython3 main.py"},
			},
		})}, nil
	}}
	verifier := &stubVerifier{result: &sandbox.Result{Success: true, Stdout: "ok"}}
	engine := NewEngine(querier, newMemStore(), verifier)

	snap := &Snapshot{
		ProjectName: "p",
		Tasks:       []Task{{ID: 1, Type: TaskDevelop, Description: "dev", Expectations: []string{"ok"}}},
	}
	res := engine.Run(context.Background(), Request{
		Query: "q", Roles: testRoles(), UserResponse: "approved", Snapshot: snap,
	})

	require.Equal(t, StatusCompleted, res.Status)
	assert.True(t, verifier.called)
	require.NotNil(t, res.SandboxResult)
	assert.True(t, res.SandboxResult.Success)
	require.NotNil(t, res.Metrics.SandboxPassed)
	assert.True(t, *res.Metrics.SandboxPassed)
}

// A storage failure for one file keeps the other writes and the run going.
func TestEngineWriteFailureSkipsFile(t *testing.T) {
	store := newMemStore()
	store.failPath = "bad.py"
	querier := &stubQuerier{fn: func(model string, _ []llm.Message) (*llm.Response, error) {
		return &llm.Response{Content: mustJSON(t, DevResponse{
			Files: []FileSpec{
				{Path: "bad.py", Content: "x"},
				{Path: "good.py", Content: "y"},
			},
		})}, nil
	}}
	engine := NewEngine(querier, store, &stubVerifier{})

	snap := &Snapshot{
		ProjectName: "p",
		Tasks:       []Task{{ID: 1, Type: TaskDevelop, Description: "dev", Expectations: []string{"ok"}}},
	}
	res := engine.Run(context.Background(), Request{
		Query: "q", Roles: testRoles(), UserResponse: "approved", Snapshot: snap,
	})

	require.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []string{"good.py"}, res.FilesCreated)
	require.Len(t, res.TaskResults, 1)
	assert.Equal(t, ResultCompleted, res.TaskResults[0].Status)
	assert.Equal(t, []string{"good.py"}, res.TaskResults[0].Files)
}

// Events flow to the sink in phase order, ending with dev_team_complete.
func TestEngineEventsReachSink(t *testing.T) {
	var events []Event
	sink := SinkFunc(func(e Event) { events = append(events, e) })

	querier := &stubQuerier{fn: func(model string, _ []llm.Message) (*llm.Response, error) {
		switch model {
		case "eng-model":
			return &llm.Response{Content: mustJSON(t, DevResponse{
				Files: []FileSpec{{Path: "a.py", Content: "pass"}},
			})}, nil
		case "qa-model":
			return &llm.Response{Content: mustJSON(t, Verdict{OverallPass: true})}, nil
		}
		return &llm.Response{Content: calculatorPlan(t)}, nil
	}}
	engine := NewEngine(querier, newMemStore(), &stubVerifier{}, WithSink(sink))

	first := engine.Run(context.Background(), Request{Query: "calc", Roles: testRoles()})
	engine.Run(context.Background(), Request{
		Query: "calc", Roles: testRoles(), UserResponse: "approved", Snapshot: first.Snapshot,
	})

	seen := map[string]bool{}
	for _, e := range events {
		seen[e.Type] = true
		assert.NotEmpty(t, e.RunID)
	}
	for _, want := range []string{EventProgress, EventPhase, EventTask, EventTestResult, EventPlanValidation, EventComplete} {
		assert.True(t, seen[want], "missing event %s", want)
	}
	assert.Equal(t, EventComplete, events[len(events)-1].Type)
}
