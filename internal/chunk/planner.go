// Package chunk splits ingested lines into sentence-level analysis units.
//
// Units never cross line boundaries, so concatenating the unit texts of a
// line reproduces that line exactly. Paragraphs are runs of non-blank lines
// separated by blank lines; the paragraph index and the ±1-unit context
// window attached to each unit serve the semantic engine only.
package chunk

import (
	"strings"
	"unicode"

	"proofread-service/internal/models"
)

// abbreviations that end with a period but do not terminate a sentence
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "st": true, "vs": true, "etc": true,
	"e.g": true, "i.e": true, "fig": true, "no": true, "vol": true,
	"a.m": true, "p.m": true,
}

// Plan converts ordered lines into ordered chunk units. Blank lines produce
// no units but still delimit paragraphs.
func Plan(lines []models.Line) []models.ChunkUnit {
	var units []models.ChunkUnit
	paragraph := 0
	inParagraph := false

	for _, line := range lines {
		if strings.TrimSpace(line.Text) == "" {
			if inParagraph {
				paragraph++
				inParagraph = false
			}
			continue
		}
		inParagraph = true

		for idx, sentence := range SplitSentences(line.Text) {
			units = append(units, models.ChunkUnit{
				Text:           sentence,
				LineStart:      line.Number,
				LineEnd:        line.Number,
				SentenceIndex:  idx,
				ParagraphIndex: paragraph,
			})
		}
	}

	attachContext(units)
	return units
}

// attachContext fills the bounded context window: the neighbouring unit on
// either side, restricted to the same paragraph.
func attachContext(units []models.ChunkUnit) {
	for i := range units {
		if i > 0 && units[i-1].ParagraphIndex == units[i].ParagraphIndex {
			units[i].PrevContext = strings.TrimSpace(units[i-1].Text)
		}
		if i < len(units)-1 && units[i+1].ParagraphIndex == units[i].ParagraphIndex {
			units[i].NextContext = strings.TrimSpace(units[i+1].Text)
		}
	}
}

// SplitSentences splits a line at sentence-boundary punctuation. The
// trailing punctuation and any whitespace that follows it stay attached to
// the preceding sentence, so joining the pieces reproduces the input
// byte-for-byte.
func SplitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0

	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}

		// consume a run of terminators plus closing quotes or brackets
		end := i
		for end+1 < len(runes) && (isTerminator(runes[end+1]) || isCloser(runes[end+1])) {
			end++
		}

		// not a boundary unless followed by whitespace or end of line
		if end+1 < len(runes) && !unicode.IsSpace(runes[end+1]) {
			i = end
			continue
		}

		if runes[i] == '.' && isAbbreviation(runes[start:i]) {
			i = end
			continue
		}

		// attach following whitespace to this sentence
		for end+1 < len(runes) && unicode.IsSpace(runes[end+1]) {
			end++
		}

		sentences = append(sentences, string(runes[start:end+1]))
		start = end + 1
		i = end
	}

	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isCloser(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’'
}

// isAbbreviation reports whether the text before a period ends in a known
// abbreviation, in which case the period is not a sentence boundary.
func isAbbreviation(before []rune) bool {
	s := string(before)
	idx := strings.LastIndexFunc(s, unicode.IsSpace)
	word := strings.ToLower(strings.TrimRight(s[idx+1:], "."))
	if word == "" {
		return false
	}
	if abbreviations[word] {
		return true
	}
	// single-letter initials like "J." in names
	return len([]rune(word)) == 1 && unicode.IsLetter([]rune(word)[0])
}
