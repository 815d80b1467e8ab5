// Package validation checks language-model responses against the strict
// structured contract before any issue is accepted into a task.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// analysisResponseSchema is the contract every semantic-engine response must
// satisfy. A response that validates can be unmarshalled without surprises.
const analysisResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["issues"],
  "properties": {
    "issues": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["category", "reason", "original_text", "corrected_text"],
        "properties": {
          "category": {
            "type": "string",
            "enum": [
              "tense_consistency",
              "awkward_phrasing",
              "redundancy",
              "grammar_punctuation",
              "word_choice"
            ]
          },
          "reason": {"type": "string", "minLength": 1},
          "original_text": {"type": "string", "minLength": 1},
          "corrected_text": {"type": "string"},
          "action": {"type": "string"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    }
  }
}`

var analysisSchema *gojsonschema.Schema

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(analysisResponseSchema))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded analysis schema: %v", err))
	}
	analysisSchema = schema
}

// AnalysisResponse is the validated shape of a semantic-engine reply
type AnalysisResponse struct {
	Issues []AnalysisIssue `json:"issues"`
}

// AnalysisIssue is one correction proposed by the model
type AnalysisIssue struct {
	Category      string  `json:"category"`
	Reason        string  `json:"reason"`
	OriginalText  string  `json:"original_text"`
	CorrectedText string  `json:"corrected_text"`
	Action        string  `json:"action"`
	Confidence    float64 `json:"confidence"`
}

// StripCodeFences removes markdown code fences models sometimes wrap JSON in.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimSuffix(s, "```")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

// ParseAnalysisResponse validates a raw model reply against the schema and
// unmarshals it. Any deviation from the contract is an error; the caller
// decides whether to retry or degrade.
func ParseAnalysisResponse(raw string) (*AnalysisResponse, error) {
	cleaned := StripCodeFences(raw)

	result, err := analysisSchema.Validate(gojsonschema.NewStringLoader(cleaned))
	if err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if !result.Valid() {
		var descs []string
		for _, d := range result.Errors() {
			descs = append(descs, d.String())
		}
		return nil, fmt.Errorf("response violates schema: %s", strings.Join(descs, "; "))
	}

	var resp AnalysisResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}
