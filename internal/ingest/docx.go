package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"proofread-service/internal/errs"
	"proofread-service/internal/models"
)

// parseDocx extracts paragraph text from an OOXML word document. Each
// document paragraph becomes one line; empty paragraphs are kept so
// downstream paragraph grouping sees the original blank separators.
//
// A .docx file is a zip archive whose main part is word/document.xml.
func parseDocx(data []byte) ([]models.Line, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errs.Wrap(errs.KindCorruptDocument, "not a valid docx archive", err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, errs.New(errs.KindCorruptDocument, "docx archive has no word/document.xml")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, errs.Wrap(errs.KindCorruptDocument, "cannot open document part", err)
	}
	defer rc.Close()

	paragraphs, err := extractParagraphs(rc)
	if err != nil {
		return nil, errs.Wrap(errs.KindCorruptDocument, "malformed document XML", err)
	}

	lines := make([]models.Line, len(paragraphs))
	for i, p := range paragraphs {
		lines[i] = models.Line{Number: i + 1, Text: p}
	}
	return lines, nil
}

// extractParagraphs walks the WordprocessingML token stream collecting the
// text runs (w:t) of each paragraph (w:p). Tabs and in-paragraph breaks are
// flattened to single spaces.
func extractParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)

	var paragraphs []string
	var current strings.Builder
	inParagraph := false
	depth := 0 // nested w:p (tables) are treated as part of the outer paragraph

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				if depth == 0 {
					inParagraph = true
					current.Reset()
				}
				depth++
			case "t":
				if inParagraph {
					var text string
					if err := dec.DecodeElement(&text, &t); err != nil {
						return nil, err
					}
					current.WriteString(text)
				}
			case "tab", "br":
				if inParagraph {
					current.WriteString(" ")
				}
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				depth--
				if depth == 0 && inParagraph {
					paragraphs = append(paragraphs, current.String())
					inParagraph = false
				}
			}
		}
	}

	if inParagraph {
		return nil, io.ErrUnexpectedEOF
	}
	return paragraphs, nil
}
