package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofread-service/internal/config"
	"proofread-service/internal/engine"
	"proofread-service/internal/models"
	"proofread-service/internal/report"
)

// fakeEngine lets tests script engine behavior per batch.
type fakeEngine struct {
	name      string
	batchSize int
	analyze   func(ctx context.Context, units []models.ChunkUnit) ([]models.Issue, error)
}

func (f *fakeEngine) Name() string    { return f.name }
func (f *fakeEngine) BatchSize() int  { return f.batchSize }
func (f *fakeEngine) Analyze(ctx context.Context, units []models.ChunkUnit) ([]models.Issue, error) {
	return f.analyze(ctx, units)
}

type fakeFactory struct {
	engines []engine.Engine
}

func (f *fakeFactory) EnginesFor(models.Mode) []engine.Engine {
	return f.engines
}

func issuePerUnit(category string) func(context.Context, []models.ChunkUnit) ([]models.Issue, error) {
	return func(_ context.Context, units []models.ChunkUnit) ([]models.Issue, error) {
		var out []models.Issue
		for _, u := range units {
			out = append(out, models.Issue{
				LineStart:     u.LineStart,
				LineEnd:       u.LineEnd,
				SentenceIndex: u.SentenceIndex,
				Category:      category,
				Original:      u.Text,
				Reason:        "flagged",
				Source:        models.SourcePattern,
				Confidence:    0.9,
			})
		}
		return out, nil
	}
}

func newTestRunner(factory engine.Factory) (*Runner, *Store, *Hub) {
	store := NewStore(time.Minute)
	hub := NewHub()
	runner := NewRunner(store, hub, factory, config.PipelineConfig{
		MaxConcurrentTasks: 4,
		UnitWorkers:        4,
		TaskTimeout:        5 * time.Second,
	})
	return runner, store, hub
}

func submitOpts() models.SubmitOptions {
	return models.SubmitOptions{
		Filename:     "draft.txt",
		OutputFormat: models.FormatDocx,
		Pattern:      true,
	}
}

func waitTerminal(t *testing.T, store *Store, id string) models.Task {
	t.Helper()
	var snap models.Task
	require.Eventually(t, func() bool {
		var err error
		snap, err = store.Snapshot(id)
		if err != nil {
			return false
		}
		return snap.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}

func TestRunnerCompletesTask(t *testing.T) {
	factory := &fakeFactory{engines: []engine.Engine{
		&fakeEngine{name: "fake", batchSize: 2, analyze: issuePerUnit(models.CategoryRedundancy)},
	}}
	runner, store, _ := newTestRunner(factory)

	doc := []byte("He went to the store. It was closed.\nThe end.")
	task, err := runner.Submit(doc, submitOpts())
	require.NoError(t, err)
	require.NotEmpty(t, task.ID)
	assert.Equal(t, models.TaskStatusQueued, task.Status)

	final := waitTerminal(t, store, task.ID)
	require.Equal(t, models.TaskStatusCompleted, final.Status, "error: %s", final.Error)
	assert.Equal(t, float64(100), final.Progress)
	assert.Equal(t, final.TotalUnits, final.ProcessedUnits)
	assert.Equal(t, 3, final.Summary.TotalIssues)
	assert.Equal(t, 3, final.Summary.ByCategory[models.CategoryRedundancy])

	rec, err := store.Get(task.ID)
	require.NoError(t, err)
	withReport := rec.Snapshot()
	assert.NotEmpty(t, withReport.ReportBytes)
	assert.Equal(t, report.ContentTypeDocx, withReport.ReportContentType)
}

func TestRunnerRejectsUnknownOutputFormat(t *testing.T) {
	runner, _, _ := newTestRunner(&fakeFactory{})
	_, err := runner.Submit([]byte("text"), models.SubmitOptions{OutputFormat: "odt"})
	require.Error(t, err)
}

func TestRunnerFailsOnUnsupportedDocumentFormat(t *testing.T) {
	runner, store, _ := newTestRunner(&fakeFactory{engines: []engine.Engine{
		&fakeEngine{name: "fake", batchSize: 1, analyze: issuePerUnit(models.CategoryRedundancy)},
	}})

	opts := submitOpts()
	opts.Filename = "slides.pptx"
	task, err := runner.Submit([]byte("binary junk"), opts)
	require.NoError(t, err)

	final := waitTerminal(t, store, task.ID)
	assert.Equal(t, models.TaskStatusError, final.Status)
	assert.Contains(t, final.Error, "unsupported_format")
	assert.Empty(t, final.ReportBytes)
}

func TestRunnerProgressIsMonotonic(t *testing.T) {
	// gate the first Analyze call so the subscriber is attached before any
	// unit completes
	release := make(chan struct{})
	perUnit := issuePerUnit(models.CategoryWordChoice)
	gated := &fakeEngine{name: "gated", batchSize: 1, analyze: func(ctx context.Context, units []models.ChunkUnit) ([]models.Issue, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return perUnit(ctx, units)
	}}
	runner, store, hub := newTestRunner(&fakeFactory{engines: []engine.Engine{gated}})

	task, err := runner.Submit([]byte("One. Two. Three. Four.\nFive. Six."), submitOpts())
	require.NoError(t, err)

	ch, cancel := hub.Subscribe(task.ID)
	defer cancel()
	close(release)

	final := waitTerminal(t, store, task.ID)
	require.Equal(t, models.TaskStatusCompleted, final.Status)

	var lastProgress float64
	var lastSeq uint64
	for {
		ev, ok := <-ch
		if !ok {
			break
		}
		assert.Greater(t, ev.Seq, lastSeq)
		lastSeq = ev.Seq
		assert.GreaterOrEqual(t, ev.Progress, lastProgress)
		lastProgress = ev.Progress
		if ev.Type == EventProcessingComplete {
			assert.Equal(t, float64(100), ev.Progress)
			break
		}
	}
}

func TestRunnerCancellation(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	blocking := &fakeEngine{name: "slow", batchSize: 1, analyze: func(ctx context.Context, units []models.ChunkUnit) ([]models.Issue, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	runner, store, _ := newTestRunner(&fakeFactory{engines: []engine.Engine{blocking}})

	task, err := runner.Submit([]byte("A sentence. Another sentence."), submitOpts())
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("analysis never started")
	}
	require.NoError(t, runner.Cancel(task.ID))

	final := waitTerminal(t, store, task.ID)
	assert.Equal(t, models.TaskStatusError, final.Status)
	assert.Contains(t, final.Error, "cancelled")
	assert.Empty(t, final.ReportBytes)

	// cancelling a finished task is reported, not ignored
	require.Error(t, runner.Cancel(task.ID))
}

func TestRunnerTaskTimeout(t *testing.T) {
	blocking := &fakeEngine{name: "hang", batchSize: 1, analyze: func(ctx context.Context, units []models.ChunkUnit) ([]models.Issue, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	store := NewStore(time.Minute)
	hub := NewHub()
	runner := NewRunner(store, hub, &fakeFactory{engines: []engine.Engine{blocking}}, config.PipelineConfig{
		MaxConcurrentTasks: 2,
		UnitWorkers:        2,
		TaskTimeout:        50 * time.Millisecond,
	})

	task, err := runner.Submit([]byte("Will not finish."), submitOpts())
	require.NoError(t, err)

	final := waitTerminal(t, store, task.ID)
	assert.Equal(t, models.TaskStatusError, final.Status)
	assert.Contains(t, final.Error, "timeout")
}

// Two engines reporting the same (line, sentence, category) must yield one
// aggregated issue, whatever the completion order.
func TestRunnerDeduplicatesAcrossEngines(t *testing.T) {
	mk := func(name string) engine.Engine {
		return &fakeEngine{name: name, batchSize: 1, analyze: issuePerUnit(models.CategoryGrammarPunctuation)}
	}
	runner, store, _ := newTestRunner(&fakeFactory{engines: []engine.Engine{mk("a"), mk("b")}})

	task, err := runner.Submit([]byte("First. Second. Third."), submitOpts())
	require.NoError(t, err)

	final := waitTerminal(t, store, task.ID)
	require.Equal(t, models.TaskStatusCompleted, final.Status)
	assert.Equal(t, 3, final.Summary.TotalIssues)
	assert.Len(t, final.Issues, 3)
	assert.Equal(t, final.TotalUnits, final.ProcessedUnits)
	// two engines over three units
	assert.Equal(t, 6, final.TotalUnits)
}

func TestRunnerCategoryFilter(t *testing.T) {
	mixed := &fakeEngine{name: "mixed", batchSize: 100, analyze: func(_ context.Context, units []models.ChunkUnit) ([]models.Issue, error) {
		return []models.Issue{
			{LineStart: 1, SentenceIndex: 0, Category: models.CategoryRedundancy, Source: models.SourcePattern},
			{LineStart: 1, SentenceIndex: 1, Category: models.CategoryWordChoice, Source: models.SourcePattern},
		}, nil
	}}
	runner, store, _ := newTestRunner(&fakeFactory{engines: []engine.Engine{mixed}})

	opts := submitOpts()
	opts.Categories = []string{models.CategoryWordChoice}
	task, err := runner.Submit([]byte("Basically the end result. Utilize this."), opts)
	require.NoError(t, err)

	final := waitTerminal(t, store, task.ID)
	require.Equal(t, models.TaskStatusCompleted, final.Status)
	require.Len(t, final.Issues, 1)
	assert.Equal(t, models.CategoryWordChoice, final.Issues[0].Category)
}

func TestRunnerCleanSweepCompletesWithEmptyReport(t *testing.T) {
	clean := &fakeEngine{name: "clean", batchSize: 10, analyze: func(context.Context, []models.ChunkUnit) ([]models.Issue, error) {
		return nil, nil
	}}
	runner, store, _ := newTestRunner(&fakeFactory{engines: []engine.Engine{clean}})

	opts := submitOpts()
	opts.OutputFormat = models.FormatPDF
	task, err := runner.Submit([]byte("Perfectly fine prose."), opts)
	require.NoError(t, err)

	final := waitTerminal(t, store, task.ID)
	require.Equal(t, models.TaskStatusCompleted, final.Status)
	assert.Equal(t, 0, final.Summary.TotalIssues)

	rec, err := store.Get(task.ID)
	require.NoError(t, err)
	withReport := rec.Snapshot()
	assert.NotEmpty(t, withReport.ReportBytes)
	assert.Equal(t, report.ContentTypePDF, withReport.ReportContentType)
}

func TestRunnerCleanupRemovesTask(t *testing.T) {
	runner, store, _ := newTestRunner(&fakeFactory{engines: []engine.Engine{
		&fakeEngine{name: "fake", batchSize: 1, analyze: issuePerUnit(models.CategoryRedundancy)},
	}})

	task, err := runner.Submit([]byte("Short text."), submitOpts())
	require.NoError(t, err)
	waitTerminal(t, store, task.ID)

	require.NoError(t, runner.Cleanup(task.ID))
	_, err = store.Snapshot(task.ID)
	require.Error(t, err)
	require.Error(t, runner.Cleanup(task.ID))
}
