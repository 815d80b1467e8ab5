// Package pipeline orchestrates one document-analysis task from upload to
// report: the per-task state machine, bounded-concurrency unit dispatch,
// issue aggregation and progress streaming.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"proofread-service/internal/chunk"
	"proofread-service/internal/config"
	"proofread-service/internal/engine"
	"proofread-service/internal/errs"
	"proofread-service/internal/ingest"
	"proofread-service/internal/models"
	"proofread-service/internal/report"
)

// Stage weights: Parsing owns 0-10%, Analyzing 10-90%, GeneratingReport the
// rest. Unit completions interpolate inside the Analyzing band.
const (
	progressParsing   = 5
	progressAnalyzing = 10
	progressReporting = 90
)

// Runner drives analysis tasks. Tasks run independently and concurrently,
// capped by a process-wide slot semaphore so a burst of uploads cannot
// exhaust the external engines.
type Runner struct {
	store   *Store
	hub     *Hub
	factory engine.Factory
	cfg     config.PipelineConfig
	slots   *semaphore.Weighted
}

// NewRunner creates a task runner.
func NewRunner(store *Store, hub *Hub, factory engine.Factory, cfg config.PipelineConfig) *Runner {
	maxTasks := cfg.MaxConcurrentTasks
	if maxTasks <= 0 {
		maxTasks = 5
	}
	return &Runner{
		store:   store,
		hub:     hub,
		factory: factory,
		cfg:     cfg,
		slots:   semaphore.NewWeighted(int64(maxTasks)),
	}
}

// Submit registers a new task and starts its lifecycle in the background.
// The returned snapshot carries the processing id the client polls with.
func (r *Runner) Submit(data []byte, opts models.SubmitOptions) (models.Task, error) {
	if opts.OutputFormat != models.FormatDocx && opts.OutputFormat != models.FormatPDF {
		return models.Task{}, fmt.Errorf("unsupported output format %q", opts.OutputFormat)
	}
	filename := opts.Filename
	if filename == "" {
		filename = "document.txt"
	}

	now := time.Now()
	task := models.Task{
		ID:           uuid.New().String(),
		Status:       models.TaskStatusQueued,
		Stage:        string(models.TaskStatusQueued),
		StageIndex:   models.TaskStatusQueued.StageIndex(),
		StageTotal:   models.StageTotal,
		Filename:     filename,
		OutputFormat: opts.OutputFormat,
		Mode:         opts.ResolveMode(),
		Issues:       []models.Issue{},
		Summary:      models.Summary{ByCategory: map[string]int{}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	rec := r.store.Register(task)

	// The overall deadline covers queue wait as well as processing.
	ctx, cancel := context.WithTimeout(context.Background(), r.taskTimeout())
	rec.cancel = cancel

	go r.run(ctx, cancel, rec, data, opts)

	log.Printf("[PIPELINE] task %s submitted (file=%s, mode=%s, format=%s)",
		task.ID, filename, task.Mode, task.OutputFormat)
	return rec.Snapshot(), nil
}

func (r *Runner) taskTimeout() time.Duration {
	if r.cfg.TaskTimeout > 0 {
		return r.cfg.TaskTimeout
	}
	return 300 * time.Second
}

// Cancel requests cancellation of a running task. Terminal tasks are left
// untouched.
func (r *Runner) Cancel(id string) error {
	rec, err := r.store.Get(id)
	if err != nil {
		return err
	}
	if rec.Snapshot().Status.IsTerminal() {
		return fmt.Errorf("task %s already finished", id)
	}
	if rec.cancel != nil {
		rec.cancel()
	}
	return nil
}

// Cleanup cancels a task if needed and removes its record and artifacts.
func (r *Runner) Cleanup(id string) error {
	if !r.store.Delete(id) {
		return fmt.Errorf("task not found: %s", id)
	}
	r.hub.Close(id)
	return nil
}

func (r *Runner) run(ctx context.Context, cancel context.CancelFunc, rec *Record, data []byte, opts models.SubmitOptions) {
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[PIPELINE] task %s panicked: %v", rec.ID(), p)
			r.failTask(rec, errs.Newf(errs.KindInternal, "internal error: %v", p))
		}
	}()

	if err := r.slots.Acquire(ctx, 1); err != nil {
		r.failTask(rec, r.classifyCtxErr(ctx))
		return
	}
	defer r.slots.Release(1)

	// Parsing
	r.transition(rec, models.TaskStatusParsing, progressParsing)
	lines, err := ingest.Parse(data, rec.Snapshot().Filename)
	if err != nil {
		r.failTask(rec, err)
		return
	}
	units := chunk.Plan(lines)

	engines := r.factory.EnginesFor(rec.Snapshot().Mode)
	totalWork := len(units) * len(engines)
	rec.SetUnitCounts(0, totalWork)

	// Analyzing
	r.transition(rec, models.TaskStatusAnalyzing, progressAnalyzing)
	if totalWork > 0 {
		if err := r.analyze(ctx, rec, units, engines, opts); err != nil {
			r.failTask(rec, err)
			return
		}
	}

	// GeneratingReport: ReportBuilder consumes a frozen snapshot taken at
	// this transition; later appends are impossible once Analyzing ends.
	r.transition(rec, models.TaskStatusGeneratingReport, progressReporting)
	snapshot := rec.Snapshot()
	artifact, contentType, err := report.Build(snapshot, snapshot.OutputFormat)
	if err != nil {
		r.failTask(rec, errs.Wrap(errs.KindReportGeneration, "failed to build report", err))
		return
	}
	rec.SetReport(artifact, contentType)

	r.transition(rec, models.TaskStatusCompleted, 100)
	final := rec.Snapshot()
	r.hub.Publish(Event{
		TaskID:         final.ID,
		Type:           EventProcessingComplete,
		Status:         string(final.Status),
		Stage:          final.Stage,
		Progress:       final.Progress,
		ProcessedUnits: final.ProcessedUnits,
		TotalUnits:     final.TotalUnits,
	})
	r.hub.Close(final.ID)
	log.Printf("[PIPELINE] task %s completed: %d issue(s) across %d unit(s)",
		final.ID, final.Summary.TotalIssues, len(units))
}

// analyze dispatches unit batches to every selected engine with bounded
// parallelism. Engines degrade their own failures, so an error here means
// cancellation or timeout.
func (r *Runner) analyze(ctx context.Context, rec *Record, units []models.ChunkUnit, engines []engine.Engine, opts models.SubmitOptions) error {
	categories := make(map[string]bool, len(opts.Categories))
	for _, c := range opts.Categories {
		categories[c] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	workers := r.cfg.UnitWorkers
	if workers <= 0 {
		workers = 4
	}
	g.SetLimit(workers)

	for _, eng := range engines {
		for _, batch := range partition(units, eng.BatchSize()) {
			eng, batch := eng, batch
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				issues, err := eng.Analyze(gctx, batch)
				if err != nil {
					return err
				}

				accepted := rec.AppendIssues(issues, categories)
				processed, total := rec.AddProcessed(len(batch))
				progress := progressAnalyzing + (progressReporting-progressAnalyzing)*float64(processed)/float64(total)
				rec.SetProgress(progress)

				for _, unit := range batch {
					r.hub.Publish(Event{
						TaskID:         rec.ID(),
						Type:           EventUnitCompleted,
						Status:         string(models.TaskStatusAnalyzing),
						Stage:          string(models.TaskStatusAnalyzing),
						Progress:       rec.Snapshot().Progress,
						ProcessedUnits: processed,
						TotalUnits:     total,
						LineNumber:     unit.LineStart,
						Issues:         issuesForUnit(accepted, unit),
					})
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return r.classifyCtxErr(ctx)
	}
	return nil
}

func issuesForUnit(issues []models.Issue, unit models.ChunkUnit) []models.Issue {
	var out []models.Issue
	for _, issue := range issues {
		if issue.LineStart == unit.LineStart && issue.SentenceIndex == unit.SentenceIndex {
			out = append(out, issue)
		}
	}
	return out
}

func (r *Runner) transition(rec *Record, status models.TaskStatus, progress float64) {
	if !rec.Transition(status) {
		return
	}
	rec.SetProgress(progress)
	snap := rec.Snapshot()
	r.hub.Publish(Event{
		TaskID:         snap.ID,
		Type:           EventStatusUpdate,
		Status:         string(snap.Status),
		Stage:          snap.Stage,
		Progress:       snap.Progress,
		ProcessedUnits: snap.ProcessedUnits,
		TotalUnits:     snap.TotalUnits,
	})
}

// failTask records a terminal error, emits the error event and closes the
// topic. The record stays queryable until cleanup or the retention sweep.
func (r *Runner) failTask(rec *Record, err error) {
	kind := errs.KindOf(err)
	msg := fmt.Sprintf("%s: %s", kind, userMessage(err))
	if !rec.Fail(msg) {
		return
	}

	snap := rec.Snapshot()
	r.hub.Publish(Event{
		TaskID:   snap.ID,
		Type:     EventError,
		Status:   string(snap.Status),
		Stage:    snap.Stage,
		Progress: snap.Progress,
		Error:    msg,
	})
	r.hub.Close(snap.ID)
	log.Printf("[PIPELINE] task %s failed: %s", snap.ID, msg)
}

func userMessage(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}

// classifyCtxErr maps a context failure to the task error taxonomy: an
// explicit cancel yields Cancelled, the overall deadline yields Timeout.
func (r *Runner) classifyCtxErr(ctx context.Context) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errs.New(errs.KindTimeout, "task exceeded its overall deadline")
	case errors.Is(ctx.Err(), context.Canceled):
		return errs.New(errs.KindCancelled, "task cancelled")
	default:
		return errs.New(errs.KindInternal, "analysis aborted")
	}
}

func partition(units []models.ChunkUnit, size int) [][]models.ChunkUnit {
	if size <= 0 {
		size = 1
	}
	var batches [][]models.ChunkUnit
	for start := 0; start < len(units); start += size {
		end := start + size
		if end > len(units) {
			end = len(units)
		}
		batches = append(batches, units[start:end])
	}
	return batches
}
