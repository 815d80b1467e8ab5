// Package report renders a completed task's issues into a downloadable
// artifact. The builder consumes a frozen task snapshot; it never touches
// live pipeline state.
package report

import (
	"fmt"
	"sort"

	"proofread-service/internal/models"
)

// Content types of the supported artifact formats
const (
	ContentTypeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypePDF  = "application/pdf"
)

// Build renders the snapshot to the requested format and returns the bytes
// with their content type.
func Build(task models.Task, format string) ([]byte, string, error) {
	issues := orderedIssues(task)

	switch format {
	case models.FormatDocx:
		data, err := buildDocx(task, issues)
		if err != nil {
			return nil, "", fmt.Errorf("docx rendering failed: %w", err)
		}
		return data, ContentTypeDocx, nil
	case models.FormatPDF:
		data, err := buildPDF(task, issues)
		if err != nil {
			return nil, "", fmt.Errorf("pdf rendering failed: %w", err)
		}
		return data, ContentTypePDF, nil
	default:
		return nil, "", fmt.Errorf("unsupported report format %q", format)
	}
}

// orderedIssues returns the issues sorted by line then sentence index, the
// order the report lists them in.
func orderedIssues(task models.Task) []models.Issue {
	issues := make([]models.Issue, len(task.Issues))
	copy(issues, task.Issues)
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].LineStart != issues[j].LineStart {
			return issues[i].LineStart < issues[j].LineStart
		}
		return issues[i].SentenceIndex < issues[j].SentenceIndex
	})
	return issues
}

// categorySummaryLines flattens the per-category counts into stable lines.
func categorySummaryLines(task models.Task) []string {
	cats := make([]string, 0, len(task.Summary.ByCategory))
	for c := range task.Summary.ByCategory {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	lines := make([]string, 0, len(cats))
	for _, c := range cats {
		lines = append(lines, fmt.Sprintf("%s: %d", c, task.Summary.ByCategory[c]))
	}
	return lines
}

func issueLocation(issue models.Issue) string {
	if issue.LineEnd > issue.LineStart {
		return fmt.Sprintf("Lines %d-%d, sentence %d", issue.LineStart, issue.LineEnd, issue.SentenceIndex+1)
	}
	return fmt.Sprintf("Line %d, sentence %d", issue.LineStart, issue.SentenceIndex+1)
}
