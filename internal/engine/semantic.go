package engine

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"proofread-service/internal/config"
	"proofread-service/internal/errs"
	"proofread-service/internal/models"
	"proofread-service/internal/retry"
	"proofread-service/internal/validation"
)

const semanticSystemPrompt = `You are a meticulous copy editor reviewing prose for grammar and style issues.

For the sentence you are given, report every genuine issue in these categories:
- tense_consistency: the sentence's tense conflicts with its surrounding context
- awkward_phrasing: wording that is hard to read or unnatural
- redundancy: words or phrases that repeat meaning without adding it
- grammar_punctuation: grammatical or punctuation mistakes
- word_choice: a word that is wrong or clearly weaker than an obvious alternative

Rules:
- Only report real issues. A correct sentence yields an empty issues array.
- corrected_text must differ from original_text. Never propose a correction
  identical to the original.
- Judge tense against the provided context. Do not flag consistent past-tense
  narrative as a tense issue.

Respond with ONLY valid JSON, no markdown and no commentary:
{"issues": [{"category": "...", "reason": "...", "original_text": "...", "corrected_text": "...", "action": "replace", "confidence": 0.0}]}`

// SemanticEngine is the context-aware, model-backed detector. It analyzes
// one unit per call with its bounded context window, demands a strict
// structured response, and degrades a unit to a low-confidence placeholder
// when retries are exhausted.
type SemanticEngine struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	policy      retry.Policy
	// fullContext forces the context window into every prompt; set for
	// full-semantic tasks where the model is the only detector.
	fullContext bool
}

// NewSemanticEngine creates the semantic engine from the model-service
// configuration. An empty BaseURL targets the public API.
func NewSemanticEngine(cfg config.OpenAIConfig, policy retry.Policy) *SemanticEngine {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &SemanticEngine{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		policy:      policy,
	}
}

func (e *SemanticEngine) withFullContext() *SemanticEngine {
	clone := *e
	clone.fullContext = true
	return &clone
}

func (e *SemanticEngine) Name() string { return "semantic" }

// BatchSize is 1: the model is called per unit with its context window.
func (e *SemanticEngine) BatchSize() int { return 1 }

// Analyze runs the model on each unit. A unit whose retries are exhausted is
// degraded, never fatal.
func (e *SemanticEngine) Analyze(ctx context.Context, units []models.ChunkUnit) ([]models.Issue, error) {
	var issues []models.Issue
	for _, unit := range units {
		unitIssues, err := e.analyzeUnit(ctx, unit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("[SEMANTIC] degrading unit at line %d sentence %d after retries: %v",
				unit.LineStart, unit.SentenceIndex, err)
			issues = append(issues, degradedIssue(unit))
			continue
		}
		issues = append(issues, unitIssues...)
	}
	return issues, nil
}

func (e *SemanticEngine) analyzeUnit(ctx context.Context, unit models.ChunkUnit) ([]models.Issue, error) {
	var parsed *validation.AnalysisResponse

	err := e.policy.Do(ctx, func() error {
		resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       e.model,
			Temperature: e.temperature,
			MaxTokens:   e.maxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: semanticSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: e.buildUserPrompt(unit)},
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return errs.Wrap(errs.KindExternalServiceUnavailable, "model request failed", err)
		}
		if len(resp.Choices) == 0 {
			return errs.New(errs.KindMalformedModelResponse, "model returned no choices")
		}

		p, err := validation.ParseAnalysisResponse(resp.Choices[0].Message.Content)
		if err != nil {
			return errs.Wrap(errs.KindMalformedModelResponse, "model response rejected", err)
		}
		parsed = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return e.mapIssues(unit, parsed), nil
}

func (e *SemanticEngine) buildUserPrompt(unit models.ChunkUnit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sentence to review:\n%s\n", strings.TrimSpace(unit.Text))
	if e.fullContext || unit.PrevContext != "" || unit.NextContext != "" {
		b.WriteString("\nContext:\n")
		if unit.PrevContext != "" {
			fmt.Fprintf(&b, "Previous: %s\n", unit.PrevContext)
		}
		if unit.NextContext != "" {
			fmt.Fprintf(&b, "Next: %s\n", unit.NextContext)
		}
	}
	return b.String()
}

// mapIssues converts a validated response into issues, enforcing the
// no-op-fix guard: a "correction" identical to the original is discarded.
func (e *SemanticEngine) mapIssues(unit models.ChunkUnit, resp *validation.AnalysisResponse) []models.Issue {
	var issues []models.Issue
	for _, ai := range resp.Issues {
		if strings.TrimSpace(ai.CorrectedText) == strings.TrimSpace(ai.OriginalText) {
			log.Printf("[SEMANTIC] dropping no-op fix for line %d sentence %d (category %s)",
				unit.LineStart, unit.SentenceIndex, ai.Category)
			continue
		}

		confidence := ai.Confidence
		if confidence <= 0 {
			confidence = 0.5
		}
		action := ai.Action
		if action == "" {
			action = "replace"
		}

		issues = append(issues, models.Issue{
			LineStart:     unit.LineStart,
			LineEnd:       unit.LineEnd,
			SentenceIndex: unit.SentenceIndex,
			Original:      ai.OriginalText,
			Category:      ai.Category,
			Reason:        ai.Reason,
			Fix:           &models.Fix{Action: action, CorrectedText: ai.CorrectedText},
			Confidence:    confidence,
			Source:        models.SourceSemantic,
		})
	}
	return issues
}

// degradedIssue is the low-confidence placeholder recorded when semantic
// analysis of a unit could not produce a usable response.
func degradedIssue(unit models.ChunkUnit) models.Issue {
	return models.Issue{
		LineStart:     unit.LineStart,
		LineEnd:       unit.LineEnd,
		SentenceIndex: unit.SentenceIndex,
		Original:      unit.Text,
		Category:      models.CategoryUnreviewed,
		Reason:        "semantic analysis unavailable for this sentence",
		Confidence:    0.1,
		Source:        models.SourceSemantic,
	}
}
