package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routa/routa/internal/models"
)

func TestParseSingleTask(t *testing.T) {
	p := NewParser()

	text := `Some planner chatter before the block.

@@@task
# Add health endpoint

## Objective
Expose a liveness endpoint for the service.

## Scope
- internal/server/routes.go

## Definition of Done
- GET /healthz returns 200

## Verification
- curl -sf localhost:8080/healthz
@@@

And some chatter after.`

	tasks := p.Parse(text, "ws-1")
	require.Len(t, tasks, 1)

	task := tasks[0]
	assert.Equal(t, "Add health endpoint", task.Title)
	assert.Equal(t, "Expose a liveness endpoint for the service.", task.Objective)
	assert.Equal(t, []string{"internal/server/routes.go"}, task.Scope)
	assert.Equal(t, []string{"GET /healthz returns 200"}, task.AcceptanceCriteria)
	assert.Equal(t, []string{"curl -sf localhost:8080/healthz"}, task.VerificationCommands)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Equal(t, "ws-1", task.WorkspaceID)
}

func TestParseBlockStartVariants(t *testing.T) {
	p := NewParser()
	for _, header := range []string{"@@@task", "@@@tasks", "## @@@task", "###### @@@tasks", "  @@@task  "} {
		text := header + "\n# Title\n\n## Objective\nDo the thing.\n@@@\n"
		tasks := p.Parse(text, "ws")
		require.Len(t, tasks, 1, "header %q", header)
		assert.Equal(t, "Title", tasks[0].Title)
	}
}

func TestParseMultipleTasksInOneBlock(t *testing.T) {
	p := NewParser()

	text := `@@@tasks
# First task

## Objective
Do the first thing.

# Second task

## Goal
Do the second thing.
@@@`

	tasks := p.Parse(text, "ws")
	require.Len(t, tasks, 2)
	assert.Equal(t, "First task", tasks[0].Title)
	assert.Equal(t, "Do the first thing.", tasks[0].Objective)
	assert.Equal(t, "Second task", tasks[1].Title)
	assert.Equal(t, "Do the second thing.", tasks[1].Objective)
}

func TestParseFencedCodeIsOpaque(t *testing.T) {
	p := NewParser()

	// Comments and terminators inside fenced code must not end the block or
	// start a new task.
	text := "@@@task\n" +
		"# Write the installer\n\n" +
		"## Objective\nShip an install script.\n\n" +
		"## Verification\n" +
		"```bash\n" +
		"# this comment looks like a heading\n" +
		"@@@\n" +
		"echo done\n" +
		"```\n" +
		"- bash install.sh\n" +
		"@@@\n"

	tasks := p.Parse(text, "ws")
	require.Len(t, tasks, 1)
	assert.Equal(t, "Write the installer", tasks[0].Title)
	assert.Equal(t, []string{"bash install.sh"}, tasks[0].VerificationCommands)
}

func TestParseSectionAliases(t *testing.T) {
	p := NewParser()

	text := `@@@task
# 中文任务

## 目标
实现功能。

## 完成标准
- 测试通过

## 验证方法
- go test ./...
@@@`

	tasks := p.Parse(text, "ws")
	require.Len(t, tasks, 1)
	assert.Equal(t, "实现功能。", tasks[0].Objective)
	assert.Equal(t, []string{"测试通过"}, tasks[0].AcceptanceCriteria)
	assert.Equal(t, []string{"go test ./..."}, tasks[0].VerificationCommands)
}

func TestParseUnterminatedBlockDropped(t *testing.T) {
	p := NewParser()
	tasks := p.Parse("@@@task\n# Dangling\n\n## Objective\nNever closed.", "ws")
	assert.Empty(t, tasks)
}

func TestParseTitlelessBlockDropped(t *testing.T) {
	p := NewParser()
	tasks := p.Parse("@@@task\n## Objective\nNo title heading here.\n@@@", "ws")
	assert.Empty(t, tasks)
}

func TestParseCRLF(t *testing.T) {
	p := NewParser()
	text := "@@@task\r\n# Windows plan\r\n\r\n## Objective\r\nHandle CRLF.\r\n@@@\r\n"
	tasks := p.Parse(text, "ws")
	require.Len(t, tasks, 1)
	assert.Equal(t, "Windows plan", tasks[0].Title)
	assert.Equal(t, "Handle CRLF.", tasks[0].Objective)
}

func TestCanonicalRoundTrip(t *testing.T) {
	p := NewParser()

	original := []*models.Task{
		{
			Title:                "Task one",
			Objective:            "Objective one.",
			Scope:                []string{"pkg/a", "pkg/b"},
			AcceptanceCriteria:   []string{"criterion 1", "criterion 2"},
			VerificationCommands: []string{"go test ./..."},
		},
		{
			Title:     "Task two",
			Objective: "Objective two.",
		},
	}

	parsed := p.Parse(Canonical(original), "ws")
	require.Len(t, parsed, len(original))
	for i, want := range original {
		assert.Equal(t, want.Title, parsed[i].Title)
		assert.Equal(t, want.Objective, parsed[i].Objective)
		assert.Equal(t, want.Scope, parsed[i].Scope)
		assert.Equal(t, want.AcceptanceCriteria, parsed[i].AcceptanceCriteria)
		assert.Equal(t, want.VerificationCommands, parsed[i].VerificationCommands)
	}
}
