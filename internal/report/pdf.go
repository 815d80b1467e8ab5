package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf/v2"

	"proofread-service/internal/models"
)

// buildPDF renders the paginated report format (A4, portrait).
func buildPDF(task models.Task, issues []models.Issue) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AliasNbPages("{nb}")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "", 9)
		pdf.SetTextColor(108, 117, 125)
		pdf.SetX(15)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	// Title
	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(0, 102, 204)
	pdf.CellFormat(0, 16, "Grammar & Style Report", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 11)
	pdf.SetTextColor(108, 117, 125)
	pdf.CellFormat(0, 8, fmt.Sprintf("Document: %s", task.Filename), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 8, fmt.Sprintf("Generated: %s", time.Now().UTC().Format("2006-01-02 15:04 UTC")), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	// Summary section
	addSectionHeader(pdf, "Summary")
	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(33, 37, 41)
	pdf.CellFormat(0, 6, fmt.Sprintf("Total issues: %d", task.Summary.TotalIssues), "", 1, "L", false, 0, "")
	for _, line := range categorySummaryLines(task) {
		pdf.CellFormat(0, 6, line, "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	if len(issues) == 0 {
		addSectionHeader(pdf, "No Issues Found")
		pdf.SetFont("Arial", "", 10)
		pdf.SetTextColor(33, 37, 41)
		pdf.MultiCell(0, 6, "No grammar or style issues were detected in this document.", "", "L", false)
		var buf bytes.Buffer
		if err := pdf.Output(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	addSectionHeader(pdf, "Issues")
	for i, issue := range issues {
		addIssueBox(pdf, i+1, issue)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addSectionHeader(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(33, 37, 41)
	pdf.CellFormat(0, 9, title, "", 1, "L", false, 0, "")
	pdf.SetLineWidth(0.5)
	pdf.SetDrawColor(0, 102, 204)
	pdf.Line(15, pdf.GetY(), 195, pdf.GetY())
	pdf.Ln(4)
}

// addIssueBox renders one issue: location, excerpt, reason and proposed fix.
func addIssueBox(pdf *gofpdf.Fpdf, number int, issue models.Issue) {
	if pdf.GetY() > 250 {
		pdf.AddPage()
	}

	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(0, 102, 204)
	header := fmt.Sprintf("%d. [%s] %s", number, issue.Category, issueLocation(issue))
	pdf.CellFormat(0, 6, header, "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(33, 37, 41)
	pdf.MultiCell(0, 5, "Excerpt: "+strings.TrimSpace(issue.Original), "", "L", false)
	pdf.MultiCell(0, 5, "Problem: "+issue.Reason, "", "L", false)
	if issue.Fix != nil {
		pdf.MultiCell(0, 5, fmt.Sprintf("Fix (%s): %s", issue.Fix.Action, issue.Fix.CorrectedText), "", "L", false)
	}

	pdf.SetTextColor(108, 117, 125)
	pdf.CellFormat(0, 5, fmt.Sprintf("Confidence: %.0f%%  Source: %s", issue.Confidence*100, issue.Source), "", 1, "L", false, 0, "")
	pdf.Ln(3)
}
