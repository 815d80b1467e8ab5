package engine

import (
	"regexp"
	"strings"
	"unicode"

	"proofread-service/internal/models"
)

// Local minimal rule set, applied when the external rule service is
// unreachable. Deterministic and deliberately conservative: a pattern-mode
// task must still complete on these rules alone.

var (
	wordRe         = regexp.MustCompile(`[A-Za-z']+`)
	multiSpaceRe   = regexp.MustCompile(`\S(  +)\S`)
	spacePunctRe   = regexp.MustCompile(`\s+([,.;:!?])`)
	redundantPairs = map[string]string{
		"absolutely essential": "essential",
		"advance planning":     "planning",
		"basic fundamentals":   "fundamentals",
		"end result":           "result",
		"free gift":            "gift",
		"past history":         "history",
		"very unique":          "unique",
		"close proximity":      "proximity",
		"final outcome":        "outcome",
	}
)

// localRuleIssues runs every local rule over each unit.
func localRuleIssues(units []models.ChunkUnit) []models.Issue {
	var issues []models.Issue
	for _, unit := range units {
		issues = append(issues, checkUnitLocally(unit)...)
	}
	return issues
}

func checkUnitLocally(unit models.ChunkUnit) []models.Issue {
	var issues []models.Issue
	text := unit.Text

	if word, corrected, ok := findDoubledWord(text); ok {
		issues = append(issues, localIssue(unit, models.CategoryRedundancy,
			"repeated word \""+word+"\"", corrected))
	}

	if multiSpaceRe.MatchString(text) {
		corrected := regexp.MustCompile(`  +`).ReplaceAllString(text, " ")
		issues = append(issues, localIssue(unit, models.CategoryGrammarPunctuation,
			"multiple consecutive spaces", corrected))
	}

	if spacePunctRe.MatchString(text) {
		corrected := spacePunctRe.ReplaceAllString(text, "$1")
		issues = append(issues, localIssue(unit, models.CategoryGrammarPunctuation,
			"whitespace before punctuation", corrected))
	}

	lower := strings.ToLower(text)
	for phrase, replacement := range redundantPairs {
		if idx := strings.Index(lower, phrase); idx >= 0 {
			corrected := text[:idx] + replacement + text[idx+len(phrase):]
			issues = append(issues, localIssue(unit, models.CategoryRedundancy,
				"redundant phrase \""+phrase+"\"", corrected))
			break // one redundancy finding per unit is enough locally
		}
	}

	if issue, ok := checkSentenceCapitalization(unit); ok {
		issues = append(issues, issue)
	}

	return issues
}

// checkSentenceCapitalization flags sentences opening with a lowercase
// letter. Markdown-ish lines starting with symbols are left alone.
func checkSentenceCapitalization(unit models.ChunkUnit) (models.Issue, bool) {
	trimmed := strings.TrimSpace(unit.Text)
	runes := []rune(trimmed)
	if len(runes) == 0 {
		return models.Issue{}, false
	}
	first := runes[0]
	if !unicode.IsLetter(first) || !unicode.IsLower(first) {
		return models.Issue{}, false
	}
	// continuation sentences inside a line keep their case
	if unit.SentenceIndex > 0 && unit.PrevContext != "" && !strings.HasSuffix(unit.PrevContext, ".") {
		return models.Issue{}, false
	}

	runes[0] = unicode.ToUpper(first)
	idx := strings.Index(unit.Text, trimmed)
	corrected := unit.Text[:idx] + string(runes) + unit.Text[idx+len(trimmed):]
	return localIssue(unit, models.CategoryGrammarPunctuation,
		"sentence does not start with a capital letter", corrected), true
}

// findDoubledWord locates the first immediately repeated word, ignoring
// case. RE2 has no backreferences, so this walks the word matches directly.
func findDoubledWord(text string) (word, corrected string, ok bool) {
	matches := wordRe.FindAllStringIndex(text, -1)
	for i := 1; i < len(matches); i++ {
		prev := text[matches[i-1][0]:matches[i-1][1]]
		curr := text[matches[i][0]:matches[i][1]]
		if !strings.EqualFold(prev, curr) {
			continue
		}
		// only a true doubling when separated by whitespace alone
		between := text[matches[i-1][1]:matches[i][0]]
		if strings.TrimSpace(between) != "" {
			continue
		}
		return curr, text[:matches[i-1][1]] + text[matches[i][1]:], true
	}
	return "", "", false
}

func localIssue(unit models.ChunkUnit, category, reason, corrected string) models.Issue {
	return models.Issue{
		LineStart:     unit.LineStart,
		LineEnd:       unit.LineEnd,
		SentenceIndex: unit.SentenceIndex,
		Original:      unit.Text,
		Category:      category,
		Reason:        reason,
		Fix:           &models.Fix{Action: "replace", CorrectedText: corrected},
		Confidence:    0.9,
		Source:        models.SourcePattern,
	}
}
