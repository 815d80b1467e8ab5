package models

// Mode is the resolved analysis mode of a task
type Mode string

const (
	ModePatternOnly     Mode = "pattern_only"
	ModePatternSemantic Mode = "pattern_semantic"
	ModeSemanticOnly    Mode = "semantic_only"
	ModeFullSemantic    Mode = "full_semantic"
)

// Output formats accepted by Submit
const (
	FormatDocx = "docx"
	FormatPDF  = "pdf"
)

// SubmitOptions carries the per-task options supplied with an upload
type SubmitOptions struct {
	Filename     string
	OutputFormat string
	Categories   []string
	Pattern      bool
	Semantic     bool
	FullSemantic bool
}

// ResolveMode maps the raw mode flags to a single analysis mode.
// Precedence: full-semantic overrides everything, then semantic-only,
// then pattern+semantic, then pattern-only as the default tier.
func (o SubmitOptions) ResolveMode() Mode {
	switch {
	case o.FullSemantic:
		return ModeFullSemantic
	case o.Semantic && !o.Pattern:
		return ModeSemanticOnly
	case o.Semantic && o.Pattern:
		return ModePatternSemantic
	default:
		return ModePatternOnly
	}
}

// SubmitResponse is returned by the submit endpoint
type SubmitResponse struct {
	ProcessingID string `json:"processing_id"`
	Message      string `json:"message"`
}

// StatusResponse is the task snapshot returned by the status endpoint
type StatusResponse struct {
	ProcessingID   string     `json:"processing_id"`
	Status         TaskStatus `json:"status"`
	Progress       float64    `json:"progress"`
	Stage          string     `json:"stage"`
	StageIndex     int        `json:"stage_index"`
	StageTotal     int        `json:"stage_total"`
	ProcessedUnits int        `json:"processed_units"`
	TotalUnits     int        `json:"total_units"`
	Issues         []Issue    `json:"issues"`
	Summary        Summary    `json:"summary"`
	Error          string     `json:"error,omitempty"`
}
