// Package ingest decodes uploaded documents into ordered, 1-based-numbered
// text lines. Parsing is a pure transform: the same bytes always yield the
// same lines.
package ingest

import (
	"path/filepath"
	"strings"

	"proofread-service/internal/errs"
	"proofread-service/internal/models"
)

// Parse decodes an uploaded document into ordered lines. The format is
// selected by the filename extension.
func Parse(data []byte, filename string) ([]models.Line, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt", ".md", ".text":
		return parsePlainText(data), nil
	case ".docx":
		return parseDocx(data)
	default:
		return nil, errs.Newf(errs.KindUnsupportedFormat, "unsupported file extension %q", ext)
	}
}

// parsePlainText splits on newlines. Windows line endings are normalized;
// trailing whitespace inside a line is preserved so chunk reconstruction
// stays exact.
func parsePlainText(data []byte) []models.Line {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	raw := strings.Split(text, "\n")

	// A trailing newline produces one empty trailing element, not a line.
	if n := len(raw); n > 0 && raw[n-1] == "" {
		raw = raw[:n-1]
	}

	lines := make([]models.Line, len(raw))
	for i, t := range raw {
		lines[i] = models.Line{Number: i + 1, Text: t}
	}
	return lines
}
