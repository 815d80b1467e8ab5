package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync/atomic"

	"golang.org/x/time/rate"

	"proofread-service/internal/config"
	"proofread-service/internal/errs"
	"proofread-service/internal/models"
	"proofread-service/internal/retry"
)

// Rule service wire contract
type ruleCheckRequest struct {
	Sentences []ruleSentence `json:"sentences"`
}

type ruleSentence struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

type ruleCheckResponse struct {
	Results []ruleResult `json:"results"`
}

type ruleResult struct {
	ID     int         `json:"id"`
	Issues []ruleIssue `json:"issues"`
}

type ruleIssue struct {
	Category      string  `json:"category"`
	Reason        string  `json:"reason"`
	OriginalText  string  `json:"original_text"`
	CorrectedText string  `json:"corrected_text"`
	Action        string  `json:"action"`
	Confidence    float64 `json:"confidence"`
}

// RuleClient calls the external deterministic rule-checking service. The
// rate limiter is shared across tasks because the limit belongs to the
// service, not to any one task.
type RuleClient struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     retry.Policy
}

// NewRuleClient creates a client for the external rule service.
func NewRuleClient(cfg config.RuleServiceConfig, policy retry.Policy) *RuleClient {
	return &RuleClient{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		policy:     policy,
	}
}

// Check submits one batch of sentences, throttled and retried with bounded
// backoff. Errors are classified so the caller can decide to fall back.
func (c *RuleClient) Check(ctx context.Context, sentences []ruleSentence) (*ruleCheckResponse, error) {
	var resp *ruleCheckResponse

	err := c.policy.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}

		r, err := c.doCheck(ctx, sentences)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			kind := errs.KindOf(err)
			if kind == errs.KindExternalServiceUnavailable || kind == errs.KindRateLimitExceeded {
				return err // transient, retry with backoff
			}
			return retry.Permanent(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *RuleClient) doCheck(ctx context.Context, sentences []ruleSentence) (*ruleCheckResponse, error) {
	body, err := json.Marshal(ruleCheckRequest{Sentences: sentences})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to marshal rule request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/check", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to create rule request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindExternalServiceUnavailable, "rule service request failed", err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.New(errs.KindRateLimitExceeded, "rule service rate limit exceeded")
	case httpResp.StatusCode >= 500:
		b, _ := io.ReadAll(httpResp.Body)
		return nil, errs.Newf(errs.KindExternalServiceUnavailable, "rule service error (status %d): %s", httpResp.StatusCode, string(b))
	case httpResp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(httpResp.Body)
		return nil, errs.Newf(errs.KindInternal, "unexpected rule service status %d: %s", httpResp.StatusCode, string(b))
	}

	var out ruleCheckResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, errs.Wrap(errs.KindExternalServiceUnavailable, "failed to decode rule response", err)
	}
	return &out, nil
}

// PatternEngine is the deterministic rule-based detector. It batches units
// to the external rule service; on sustained unavailability it latches to
// the local minimal rule set for the remainder of the task instead of
// failing it. One instance serves exactly one task.
type PatternEngine struct {
	client           *RuleClient
	batchSize        int
	failureThreshold int

	consecutiveFailures int32
	latched             int32
}

// NewPatternEngine creates a per-task pattern engine.
func NewPatternEngine(client *RuleClient, batchSize, failureThreshold int) *PatternEngine {
	if batchSize <= 0 {
		batchSize = 100
	}
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	return &PatternEngine{
		client:           client,
		batchSize:        batchSize,
		failureThreshold: failureThreshold,
	}
}

func (e *PatternEngine) Name() string { return "pattern" }

func (e *PatternEngine) BatchSize() int { return e.batchSize }

// Analyze checks one batch of units. External failures degrade to the local
// rule set; only context cancellation is returned as an error.
func (e *PatternEngine) Analyze(ctx context.Context, units []models.ChunkUnit) ([]models.Issue, error) {
	if len(units) == 0 {
		return nil, nil
	}

	if atomic.LoadInt32(&e.latched) == 1 {
		return localRuleIssues(units), nil
	}

	sentences := make([]ruleSentence, len(units))
	for i, u := range units {
		sentences[i] = ruleSentence{ID: i, Text: u.Text}
	}

	resp, err := e.client.Check(ctx, sentences)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		failures := atomic.AddInt32(&e.consecutiveFailures, 1)
		if int(failures) >= e.failureThreshold {
			if atomic.CompareAndSwapInt32(&e.latched, 0, 1) {
				log.Printf("[PATTERN] rule service unavailable after %d consecutive failures, using local fallback rules: %v", failures, err)
			}
		} else {
			log.Printf("[PATTERN] rule service call failed (%d/%d), falling back locally for this batch: %v", failures, e.failureThreshold, err)
		}
		return localRuleIssues(units), nil
	}
	atomic.StoreInt32(&e.consecutiveFailures, 0)

	return e.mapResults(units, resp), nil
}

// mapResults converts service results back to issues anchored at the
// originating unit coordinates. Results referencing unknown ids are dropped.
func (e *PatternEngine) mapResults(units []models.ChunkUnit, resp *ruleCheckResponse) []models.Issue {
	var issues []models.Issue
	for _, res := range resp.Results {
		if res.ID < 0 || res.ID >= len(units) {
			continue
		}
		unit := units[res.ID]
		for _, ri := range res.Issues {
			issue := models.Issue{
				LineStart:     unit.LineStart,
				LineEnd:       unit.LineEnd,
				SentenceIndex: unit.SentenceIndex,
				Original:      pickOriginal(ri.OriginalText, unit.Text),
				Category:      ri.Category,
				Reason:        ri.Reason,
				Confidence:    ri.Confidence,
				Source:        models.SourcePattern,
			}
			if ri.CorrectedText != "" {
				issue.Fix = &models.Fix{Action: fixAction(ri.Action), CorrectedText: ri.CorrectedText}
			}
			issues = append(issues, issue)
		}
	}
	return issues
}

func pickOriginal(reported, unitText string) string {
	if reported != "" {
		return reported
	}
	return unitText
}

func fixAction(action string) string {
	if action == "" {
		return "replace"
	}
	return action
}

// Unavailable reports whether the engine has latched to local rules.
func (e *PatternEngine) Unavailable() bool {
	return atomic.LoadInt32(&e.latched) == 1
}
