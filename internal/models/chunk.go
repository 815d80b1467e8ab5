package models

// Line is one 1-based-numbered text line decoded from an uploaded document
type Line struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// ChunkUnit is the smallest text span submitted to an analysis engine: a
// sentence, with the coordinates it originated from and a bounded context
// window used only by the semantic engine.
type ChunkUnit struct {
	Text           string `json:"text"`
	LineStart      int    `json:"line_start"`
	LineEnd        int    `json:"line_end"`
	SentenceIndex  int    `json:"sentence_index"`
	ParagraphIndex int    `json:"paragraph_index"`
	PrevContext    string `json:"prev_context,omitempty"`
	NextContext    string `json:"next_context,omitempty"`
}
