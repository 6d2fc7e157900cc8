// Package report parses completion statements and verification verdicts out
// of raw agent output. It is the fallback path for agents that describe
// their results in prose instead of calling report_to_parent.
package report

import (
	"strings"

	"github.com/routa/routa/internal/models"
)

// completionMarkers signal that a crafter considers its task finished.
var completionMarkers = []string{
	"task completed",
	"task complete",
	"✅ done",
	"✅ task",
	"implementation complete",
	"all done",
	"done.",
}

// failureMarkers inside a completion statement flip success to false.
var failureMarkers = []string{
	"failed",
	"blocked",
	"error",
	"could not",
	"unable to",
}

// approvalMarkers and rejectionMarkers bind GATE verdicts to tasks.
var (
	approvalMarkers  = []string{"approved", "✅"}
	rejectionMarkers = []string{"not approved", "needs fix", "❌", "rejected"}
)

// Parser extracts reports and verdicts from streamed agent output.
type Parser struct{}

// NewParser creates a report parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseCrafterCompletion locates a completion statement in crafter output
// and builds a report for the task. Returns nil when no completion
// statement is present. Success is true unless the statement itself
// signals failure.
func (p *Parser) ParseCrafterCompletion(agentID, output string, task *models.Task) *models.CompletionReport {
	if strings.TrimSpace(output) == "" {
		return nil
	}

	lower := strings.ToLower(output)
	statement := ""
	for _, marker := range completionMarkers {
		if idx := strings.LastIndex(lower, marker); idx >= 0 {
			statement = statementAround(output, idx)
			break
		}
	}
	if statement == "" {
		// Fall back to the final paragraph as the summary.
		statement = finalParagraph(output)
		if statement == "" {
			return nil
		}
	}

	success := true
	stLower := strings.ToLower(statement)
	for _, marker := range failureMarkers {
		if strings.Contains(stLower, marker) {
			success = false
			break
		}
	}

	return &models.CompletionReport{
		AgentID: agentID,
		TaskID:  task.ID,
		Summary: strings.TrimSpace(statement),
		Success: success,
	}
}

// ParseGateVerdicts scans GATE output for per-task verdicts. A task is
// APPROVED iff an approval marker appears on a line referencing its title
// or id with no rejection marker; a blanket APPROVED with no per-task
// markers approves every review task.
func (p *Parser) ParseGateVerdicts(gateAgentID, output string, reviewTasks []*models.Task) map[string]models.VerificationVerdict {
	verdicts := make(map[string]models.VerificationVerdict, len(reviewTasks))
	lines := strings.Split(output, "\n")

	matched := make(map[string]bool, len(reviewTasks))
	for _, task := range reviewTasks {
		verdict, line, ok := verdictForTask(lines, task)
		if !ok {
			continue
		}
		matched[task.ID] = true
		verdicts[task.ID] = models.VerificationVerdict{
			TaskID:  task.ID,
			Verdict: verdict,
			Summary: strings.TrimSpace(line),
		}
	}

	// Blanket approval: an APPROVED with no rejection anywhere covers the
	// tasks that had no marker of their own.
	lower := strings.ToLower(output)
	blanket := containsAny(lower, approvalMarkers) && !containsAny(lower, rejectionMarkers)
	for _, task := range reviewTasks {
		if matched[task.ID] {
			continue
		}
		verdict := models.VerdictNotApproved
		summary := "No verdict parsed"
		if blanket {
			verdict = models.VerdictApproved
			summary = "Blanket approval"
		}
		verdicts[task.ID] = models.VerificationVerdict{
			TaskID:  task.ID,
			Verdict: verdict,
			Summary: summary,
		}
	}
	return verdicts
}

// verdictForTask finds the first line mentioning the task and carrying a
// verdict marker. Rejection wins over approval on the same line.
func verdictForTask(lines []string, task *models.Task) (models.Verdict, string, bool) {
	title := strings.ToLower(task.Title)
	id := strings.ToLower(task.ID)

	for _, line := range lines {
		lower := strings.ToLower(line)
		if title != "" && !strings.Contains(lower, title) && !strings.Contains(lower, id) {
			continue
		}
		if containsAny(lower, rejectionMarkers) {
			return models.VerdictNotApproved, line, true
		}
		if containsAny(lower, approvalMarkers) {
			return models.VerdictApproved, line, true
		}
	}
	return "", "", false
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// statementAround expands from a marker offset to the surrounding paragraph.
func statementAround(text string, offset int) string {
	start := strings.LastIndex(text[:offset], "\n\n")
	if start < 0 {
		start = 0
	} else {
		start += 2
	}
	end := strings.Index(text[offset:], "\n\n")
	if end < 0 {
		end = len(text)
	} else {
		end += offset
	}
	return text[start:end]
}

func finalParagraph(text string) string {
	paragraphs := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	for i := len(paragraphs) - 1; i >= 0; i-- {
		if p := strings.TrimSpace(paragraphs[i]); p != "" {
			return p
		}
	}
	return ""
}
