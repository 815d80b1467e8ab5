package models

import "fmt"

// Issue categories reported by the analysis engines
const (
	CategoryTenseConsistency   = "tense_consistency"
	CategoryAwkwardPhrasing    = "awkward_phrasing"
	CategoryRedundancy         = "redundancy"
	CategoryGrammarPunctuation = "grammar_punctuation"
	CategoryWordChoice         = "word_choice"
	// CategoryUnreviewed marks a placeholder emitted when semantic analysis
	// of a unit was exhausted without a usable response.
	CategoryUnreviewed = "unreviewed"
)

// Detection sources
const (
	SourcePattern  = "pattern"
	SourceSemantic = "semantic"
)

// Fix is the proposed correction attached to an issue
type Fix struct {
	Action        string `json:"action"`
	CorrectedText string `json:"corrected_text"`
}

// Issue is a flagged potential problem with a proposed fix
type Issue struct {
	LineStart     int     `json:"line_start"`
	LineEnd       int     `json:"line_end"`
	SentenceIndex int     `json:"sentence_index"`
	Original      string  `json:"original"`
	Category      string  `json:"category"`
	Reason        string  `json:"reason"`
	Fix           *Fix    `json:"fix,omitempty"`
	Confidence    float64 `json:"confidence"`
	Source        string  `json:"source"`
}

// Key identifies an issue for deduplication across concurrent unit dispatch.
// Two issues with the same (line, sentence, category) are duplicates.
func (i Issue) Key() string {
	return fmt.Sprintf("%d:%d:%s", i.LineStart, i.SentenceIndex, i.Category)
}
