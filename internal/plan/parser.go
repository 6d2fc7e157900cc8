// Package plan extracts tasks from free-form planner output. The @@@task
// block grammar is the sole contract between planner text and task
// registration.
package plan

import (
	"regexp"
	"strings"

	"github.com/routa/routa/internal/models"
)

// blockStart matches the opening of a task block: an optional markdown
// heading prefix followed by @@@task or @@@tasks.
var blockStart = regexp.MustCompile(`^\s*#{0,6}\s*@@@tasks?\s*$`)

// sectionAliases maps recognised "## Section" headings to canonical keys.
// Aliases cover the English and Chinese spellings planners emit.
var sectionAliases = map[string]string{
	"Objective": "objective",
	"Goal":      "objective",
	"目标":        "objective",
	"目的":        "objective",

	"Scope": "scope",
	"范围":    "scope",
	"作用域":   "scope",

	"Definition of Done":  "acceptance",
	"Acceptance Criteria": "acceptance",
	"Done Criteria":       "acceptance",
	"完成标准":                "acceptance",
	"验收标准":                "acceptance",
	"完成条件":                "acceptance",

	"Verification": "verification",
	"Verify":       "verification",
	"验证":           "verification",
	"验证方法":         "verification",
	"测试验证":         "verification",
}

// Parser extracts tasks from plan text.
type Parser struct{}

// NewParser creates a task parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse scans the plan text and returns the tasks it declares, in order,
// with status PENDING and the given workspace id. Blocks without a closing
// @@@ terminator and tasks without a title are dropped.
func (p *Parser) Parse(text, workspaceID string) []*models.Task {
	lines := splitLines(text)

	var tasks []*models.Task
	var block []string
	inBlock := false
	fenced := false

	for _, line := range lines {
		if !inBlock {
			if blockStart.MatchString(line) {
				inBlock = true
				fenced = false
				block = block[:0]
			}
			continue
		}

		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fenced = !fenced
			block = append(block, line)
			continue
		}
		if !fenced && strings.TrimSpace(line) == "@@@" {
			tasks = append(tasks, parseBlock(block, workspaceID)...)
			inBlock = false
			continue
		}
		block = append(block, line)
	}

	// An unterminated block is malformed and discarded.
	return tasks
}

// parseBlock splits one @@@task block into tasks at level-1 headings and
// parses each.
func parseBlock(lines []string, workspaceID string) []*models.Task {
	headings := titleIndexes(lines)
	if len(headings) == 0 {
		return nil
	}

	var tasks []*models.Task
	for i, start := range headings {
		end := len(lines)
		if i+1 < len(headings) {
			end = headings[i+1]
		}
		if t := parseTask(lines[start:end], workspaceID); t != nil {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

// titleIndexes returns the indexes of level-1 headings outside fenced code.
func titleIndexes(lines []string) []int {
	var idx []int
	fenced := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fenced = !fenced
			continue
		}
		if !fenced && isTitleLine(line) {
			idx = append(idx, i)
		}
	}
	return idx
}

// isTitleLine reports whether the line is a level-1 heading ("# Title",
// not "## Section").
func isTitleLine(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	return strings.HasPrefix(trimmed, "# ") && !strings.HasPrefix(trimmed, "## ")
}

// parseTask parses one task chunk whose first line is the title heading.
func parseTask(lines []string, workspaceID string) *models.Task {
	if len(lines) == 0 || !isTitleLine(lines[0]) {
		return nil
	}
	title := strings.TrimSpace(strings.TrimPrefix(strings.TrimLeft(lines[0], " \t"), "# "))
	if title == "" {
		return nil
	}

	sections := extractSections(lines[1:])

	return &models.Task{
		Title:                title,
		Objective:            strings.TrimSpace(sections["objective"]),
		Scope:                listItems(sections["scope"]),
		AcceptanceCriteria:   listItems(sections["acceptance"]),
		VerificationCommands: listItems(sections["verification"]),
		Status:               models.TaskPending,
		WorkspaceID:          workspaceID,
	}
}

// extractSections collects section bodies keyed by canonical name. Sections
// begin at "## Name" headings outside fenced code and run until the next
// section or end of chunk.
func extractSections(lines []string) map[string]string {
	sections := make(map[string]string)
	fenced := false
	current := ""
	var body []string

	flush := func() {
		if current != "" {
			sections[current] = strings.Join(body, "\n")
		}
		body = nil
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fenced = !fenced
			if current != "" {
				body = append(body, line)
			}
			continue
		}
		trimmed := strings.TrimLeft(line, " \t")
		if !fenced && strings.HasPrefix(trimmed, "## ") {
			flush()
			name := strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))
			current = sectionAliases[name]
			continue
		}
		if current != "" {
			body = append(body, line)
		}
	}
	flush()
	return sections
}

// listItems extracts "- item" lines from a section body, with the prefix
// stripped and empties skipped.
func listItems(body string) []string {
	if body == "" {
		return nil
	}
	var items []string
	for _, line := range splitLines(body) {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "-") {
			continue
		}
		item := strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// splitLines accepts both LF and CRLF endings.
func splitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

// Canonical renders a task list back into @@@task blocks. Re-parsing the
// output yields the same tasks modulo ids and timestamps.
func Canonical(tasks []*models.Task) string {
	var b strings.Builder
	for _, t := range tasks {
		b.WriteString("@@@task\n")
		b.WriteString("# " + t.Title + "\n\n")
		if t.Objective != "" {
			b.WriteString("## Objective\n" + t.Objective + "\n\n")
		}
		writeList(&b, "Scope", t.Scope)
		writeList(&b, "Definition of Done", t.AcceptanceCriteria)
		writeList(&b, "Verification", t.VerificationCommands)
		b.WriteString("@@@\n\n")
	}
	return b.String()
}

func writeList(b *strings.Builder, name string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("## " + name + "\n")
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
	b.WriteString("\n")
}
