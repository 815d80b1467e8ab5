package models

import "time"

// TaskStatus represents the lifecycle stage of an analysis task
type TaskStatus string

const (
	TaskStatusQueued           TaskStatus = "queued"
	TaskStatusParsing          TaskStatus = "parsing"
	TaskStatusAnalyzing        TaskStatus = "analyzing"
	TaskStatusGeneratingReport TaskStatus = "generating_report"
	TaskStatusCompleted        TaskStatus = "completed"
	TaskStatusError            TaskStatus = "error"
)

// stageRank orders statuses so transitions can be checked for monotonicity.
// Terminal states share the highest rank and never transition further.
var stageRank = map[TaskStatus]int{
	TaskStatusQueued:           0,
	TaskStatusParsing:          1,
	TaskStatusAnalyzing:        2,
	TaskStatusGeneratingReport: 3,
	TaskStatusCompleted:        4,
	TaskStatusError:            4,
}

// Rank returns the position of a status in the task lifecycle.
func (s TaskStatus) Rank() int {
	return stageRank[s]
}

// IsTerminal reports whether a task in this status can still change.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusError
}

// StageIndex returns the 1-based index of the status among the processing
// stages, for multi-stage progress clients.
func (s TaskStatus) StageIndex() int {
	switch s {
	case TaskStatusQueued:
		return 1
	case TaskStatusParsing:
		return 2
	case TaskStatusAnalyzing:
		return 3
	case TaskStatusGeneratingReport:
		return 4
	default:
		return 5
	}
}

// StageTotal is the number of stages reported to clients.
const StageTotal = 5

// Summary holds aggregate counts over a task's detected issues
type Summary struct {
	TotalIssues int            `json:"total_issues"`
	ByCategory  map[string]int `json:"by_category"`
}

// Task represents one document's full processing lifecycle
type Task struct {
	ID             string     `json:"id"`
	Status         TaskStatus `json:"status"`
	Progress       float64    `json:"progress"`
	Stage          string     `json:"stage"`
	StageIndex     int        `json:"stage_index"`
	StageTotal     int        `json:"stage_total"`
	Filename       string     `json:"filename"`
	OutputFormat   string     `json:"output_format"`
	Mode           Mode       `json:"mode"`
	Issues         []Issue    `json:"issues"`
	Summary        Summary    `json:"summary"`
	Error          string     `json:"error,omitempty"`
	ProcessedUnits int        `json:"processed_units"`
	TotalUnits     int        `json:"total_units"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Report artifact, populated on completion. Held in memory only for the
	// lifetime of the task record; analyzed content is never persisted.
	ReportBytes       []byte `json:"-"`
	ReportContentType string `json:"-"`
}
