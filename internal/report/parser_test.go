package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routa/routa/internal/models"
)

func TestParseCrafterCompletionSuccess(t *testing.T) {
	p := NewParser()
	task := &models.Task{ID: "task-1", Title: "Add endpoint"}

	output := `I added the endpoint and wired the route.

Task completed. All verification commands passed.`

	report := p.ParseCrafterCompletion("agent-1", output, task)
	require.NotNil(t, report)
	assert.Equal(t, "agent-1", report.AgentID)
	assert.Equal(t, "task-1", report.TaskID)
	assert.True(t, report.Success)
	assert.Contains(t, report.Summary, "Task completed")
}

func TestParseCrafterCompletionFailureMarker(t *testing.T) {
	p := NewParser()
	task := &models.Task{ID: "task-1", Title: "Add endpoint"}

	output := `Task completed, but the verification command failed with exit 1.`

	report := p.ParseCrafterCompletion("agent-1", output, task)
	require.NotNil(t, report)
	assert.False(t, report.Success)
}

func TestParseCrafterCompletionFallsBackToFinalParagraph(t *testing.T) {
	p := NewParser()
	task := &models.Task{ID: "task-1", Title: "Add endpoint"}

	output := "Working on it.\n\nEverything is wired up and tests pass."

	report := p.ParseCrafterCompletion("agent-1", output, task)
	require.NotNil(t, report)
	assert.Equal(t, "Everything is wired up and tests pass.", report.Summary)
	assert.True(t, report.Success)
}

func TestParseCrafterCompletionEmptyOutput(t *testing.T) {
	p := NewParser()
	assert.Nil(t, p.ParseCrafterCompletion("agent-1", "   \n ", &models.Task{ID: "t"}))
}

func TestParseGateVerdictsPerTask(t *testing.T) {
	p := NewParser()
	tasks := []*models.Task{
		{ID: "t1", Title: "Add endpoint"},
		{ID: "t2", Title: "Write docs"},
	}

	output := `APPROVED for Add endpoint: curl returns 200.
NOT APPROVED for Write docs: the README section is missing.`

	verdicts := p.ParseGateVerdicts("gate-1", output, tasks)
	require.Len(t, verdicts, 2)
	assert.Equal(t, models.VerdictApproved, verdicts["t1"].Verdict)
	assert.Equal(t, models.VerdictNotApproved, verdicts["t2"].Verdict)
	assert.Contains(t, verdicts["t2"].Summary, "README")
}

func TestParseGateVerdictsRejectionWinsOnSameLine(t *testing.T) {
	p := NewParser()
	tasks := []*models.Task{{ID: "t1", Title: "Add endpoint"}}

	output := "Add endpoint looked approved at first but is rejected: tests fail."
	verdicts := p.ParseGateVerdicts("gate-1", output, tasks)
	assert.Equal(t, models.VerdictNotApproved, verdicts["t1"].Verdict)
}

func TestParseGateVerdictsBlanketApproval(t *testing.T) {
	p := NewParser()
	tasks := []*models.Task{
		{ID: "t1", Title: "Add endpoint"},
		{ID: "t2", Title: "Write docs"},
	}

	verdicts := p.ParseGateVerdicts("gate-1", "Everything checks out. APPROVED.", tasks)
	require.Len(t, verdicts, 2)
	assert.Equal(t, models.VerdictApproved, verdicts["t1"].Verdict)
	assert.Equal(t, models.VerdictApproved, verdicts["t2"].Verdict)
	assert.Equal(t, "Blanket approval", verdicts["t2"].Summary)
}

func TestParseGateVerdictsNoBlanketWhenAnyRejection(t *testing.T) {
	p := NewParser()
	tasks := []*models.Task{
		{ID: "t1", Title: "Add endpoint"},
		{ID: "t2", Title: "Write docs"},
	}

	output := `APPROVED overall, except:
NOT APPROVED for Write docs: missing section.`

	verdicts := p.ParseGateVerdicts("gate-1", output, tasks)
	// t1 has no line of its own and a rejection exists elsewhere, so no
	// blanket approval applies.
	assert.Equal(t, models.VerdictNotApproved, verdicts["t1"].Verdict)
	assert.Equal(t, "No verdict parsed", verdicts["t1"].Summary)
	assert.Equal(t, models.VerdictNotApproved, verdicts["t2"].Verdict)
}
