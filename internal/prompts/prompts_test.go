package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routa/routa/internal/models"
	"github.com/routa/routa/internal/report"
)

func TestForRole(t *testing.T) {
	assert.Equal(t, Routa, ForRole(models.RoleRouta))
	assert.Equal(t, Crafter, ForRole(models.RoleCrafter))
	assert.Equal(t, Gate, ForRole(models.RoleGate))
	assert.Empty(t, ForRole(models.AgentRole("OTHER")))
}

// The verdict format the verifier prompt advertises must be the format the
// report parser accepts.
func TestGateVerdictFormatRoundTrips(t *testing.T) {
	assert.Contains(t, Gate, "APPROVED for <task title>: <evidence>")
	assert.Contains(t, Gate, "NOT APPROVED for <task title>: <what is missing>")

	task := &models.Task{ID: "t-1", Title: "Add endpoint"}
	line := strings.NewReplacer("<task title>", task.Title, "<evidence>", "curl returns 200.").
		Replace("APPROVED for <task title>: <evidence>")

	verdicts := report.NewParser().ParseGateVerdicts("gate-1", line, []*models.Task{task})
	require.Contains(t, verdicts, task.ID)
	assert.Equal(t, models.VerdictApproved, verdicts[task.ID].Verdict)
}
