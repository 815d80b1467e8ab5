package report

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"proofread-service/internal/models"
)

// buildDocx renders the structured document format. A docx artifact is a
// zip archive with a content-types part, a package relationship part and
// the WordprocessingML document body; that minimal subset is enough for a
// report and keeps the writer dependency-free.
func buildDocx(task models.Task, issues []models.Issue) ([]byte, error) {
	var body strings.Builder

	writeHeading(&body, "Grammar & Style Report", 1)
	writeParagraph(&body, fmt.Sprintf("Document: %s", task.Filename), false)
	writeParagraph(&body, fmt.Sprintf("Generated: %s", time.Now().UTC().Format("2006-01-02 15:04 UTC")), false)
	writeParagraph(&body, "", false)

	writeHeading(&body, "Summary", 2)
	writeParagraph(&body, fmt.Sprintf("Total issues: %d", task.Summary.TotalIssues), false)
	for _, line := range categorySummaryLines(task) {
		writeParagraph(&body, line, false)
	}
	writeParagraph(&body, "", false)

	if len(issues) == 0 {
		writeHeading(&body, "No Issues Found", 2)
		writeParagraph(&body, "No grammar or style issues were detected in this document.", false)
	} else {
		writeHeading(&body, "Issues", 2)
		for i, issue := range issues {
			writeParagraph(&body, fmt.Sprintf("%d. [%s] %s", i+1, issue.Category, issueLocation(issue)), true)
			writeParagraph(&body, "Excerpt: "+strings.TrimSpace(issue.Original), false)
			writeParagraph(&body, "Problem: "+issue.Reason, false)
			if issue.Fix != nil {
				writeParagraph(&body, fmt.Sprintf("Fix (%s): %s", issue.Fix.Action, issue.Fix.CorrectedText), false)
			}
			writeParagraph(&body, fmt.Sprintf("Confidence: %.0f%%  Source: %s", issue.Confidence*100, issue.Source), false)
			writeParagraph(&body, "", false)
		}
	}

	document := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>%s</w:body></w:document>`, body.String())

	return packDocx(document)
}

func writeHeading(b *strings.Builder, text string, level int) {
	size := 32
	if level > 1 {
		size = 26
	}
	fmt.Fprintf(b,
		`<w:p><w:r><w:rPr><w:b/><w:sz w:val="%d"/></w:rPr><w:t xml:space="preserve">%s</w:t></w:r></w:p>`,
		size, escapeXML(text))
}

func writeParagraph(b *strings.Builder, text string, bold bool) {
	props := ""
	if bold {
		props = "<w:rPr><w:b/></w:rPr>"
	}
	fmt.Fprintf(b,
		`<w:p><w:r>%s<w:t xml:space="preserve">%s</w:t></w:r></w:p>`,
		props, escapeXML(text))
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return ""
	}
	return buf.String()
}

const docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`

const docxRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/></Relationships>`

func packDocx(document string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	parts := []struct {
		name    string
		content string
	}{
		{"[Content_Types].xml", docxContentTypes},
		{"_rels/.rels", docxRels},
		{"word/document.xml", document},
	}
	for _, part := range parts {
		w, err := zw.Create(part.name)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", part.name, err)
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", part.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
