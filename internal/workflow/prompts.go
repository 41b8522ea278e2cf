package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// jsonBlock renders v as indented JSON for embedding in a prompt.
func jsonBlock(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

// architectPrompt asks for a full development plan where every develop task is
// followed by a test task validating it.
func architectPrompt(query string) string {
	return fmt.Sprintf(`You are a Software Architect analyzing a request to create an MCP (Model Context Protocol) server.

REQUEST: %s

Analyze this request and create a detailed development plan:

1. Identify what tools need to be created
2. List any external APIs or services needed
3. Create a DETAILED task list where each development task MUST include:
   - Clear description of what to do
   - Expected outcomes after completion (measurable)
   - A corresponding test task immediately after it

IMPORTANT: Each development task must be followed by a test task that validates the expectations.

Respond in JSON format:
{
  "project_name": "suggested-project-name",
  "tools_needed": ["tool1", "tool2"],
  "external_apis": ["api1"],
  "task_list": [
    {
      "id": 1,
      "type": "develop",
      "description": "Create server.py with basic structure",
      "expectations": [
        "File server.py exists",
        "Contains proper imports",
        "Has handle_request function"
      ]
    },
    {
      "id": 2,
      "type": "test",
      "description": "Verify server.py structure",
      "validates_task": 1,
      "test_criteria": [
        "Check file exists",
        "Check imports are valid",
        "Check function signature"
      ]
    }
  ],
  "summary": "Brief summary of the plan"
}`, query)
}

// refinePrompt asks the architect to rethink the current plan.
func refinePrompt(query string, tasks []Task) string {
	return fmt.Sprintf(`Think through this development plan again and refine it.

ORIGINAL REQUEST: %s
CURRENT PLAN:
%s

Consider:
1. Are there any missing steps?
2. Are the expectations measurable and clear?
3. Are test tasks properly paired with development tasks?
4. Can any tasks be optimized or combined?

Provide an improved plan in the same JSON format, plus a summary of changes made.`, query, jsonBlock(tasks))
}

// feedbackPrompt asks the architect to revise the plan per user feedback.
func feedbackPrompt(query string, tasks []Task, feedback string) string {
	return fmt.Sprintf(`Revise the development plan based on user feedback.

ORIGINAL REQUEST: %s
CURRENT PLAN:
%s

USER FEEDBACK: %s

Update the plan to address the user's feedback. Respond in the same JSON format.`, query, jsonBlock(tasks), feedback)
}

// engineerPrompt asks for complete file contents satisfying a develop task.
func engineerPrompt(projectName string, task Task, filesCreated []string) string {
	return fmt.Sprintf(`You are a Software Development Engineer.

PROJECT: %s
TASK: %s

EXPECTATIONS AFTER COMPLETION:
%s

FILES CREATED SO FAR:
%s

Create the required code. For each file, provide complete content.

Respond in JSON format:
{
  "files": [
    {"path": "filename.py", "content": "...full code..."}
  ],
  "tool_definitions": [
    {"name": "tool-name", "description": "...", "parameters": {}}
  ],
  "completion_notes": "What was accomplished"
}`, projectName, task.Description, jsonBlock(task.Expectations), jsonBlock(filesCreated))
}

// qaPrompt asks for a structured verdict on whether a develop task met its
// criteria. devResult is the serialized result of the validated task, or a
// note that none was found.
func qaPrompt(projectName string, validatesTask int, criteria, filesCreated []string, devResult string) string {
	return fmt.Sprintf(`You are a QA Analyst evaluating a development task.

PROJECT: %s
TASK BEING VALIDATED: Task %d
TEST CRITERIA:
%s

FILES IN PROJECT:
%s

DEVELOPMENT RESULT:
%s

Evaluate whether the expectations were met. For each criterion:
1. Check if it was satisfied
2. Explain why or why not
3. Suggest fixes if not met

Respond in JSON format:
{
  "overall_pass": true/false,
  "criteria_results": [
    {"criterion": "...", "passed": true/false, "reason": "..."}
  ],
  "suggestions": ["fix suggestion 1", "..."],
  "needs_rework": true/false
}`, projectName, validatesTask, jsonBlock(criteria), jsonBlock(filesCreated), devResult)
}

// reworkDescription builds the description of an injected rework task from
// the QA analyst's top suggestions.
func reworkDescription(validatesTask int, suggestions []string) string {
	top := suggestions
	if len(top) > 3 {
		top = top[:3]
	}
	return fmt.Sprintf("Rework task %d: %s", validatesTask, strings.Join(top, "; "))
}

// integrationInstructions describes how to register the produced server as a
// new tool provider.
func integrationInstructions(projectName, query string) string {
	module := strings.ReplaceAll(projectName, "-", "_")
	return fmt.Sprintf(`To integrate this MCP server:

1. Add to mcp_servers.json:
{
  "name": "%s",
  "command": ["python3", "-m", "mcp_servers.%s.server"],
  "port": null,
  "description": "%s"
}

2. Copy files from data/dev_projects/%s/ to mcp_servers/%s/

3. Restart the application
`, projectName, module, truncate(query, 100), projectName, module)
}

// truncate shortens s to at most n runes for log and prompt friendliness.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
