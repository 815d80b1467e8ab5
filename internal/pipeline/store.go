package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"proofread-service/internal/models"
)

// Record is one task's live state. The owning runner goroutine is the only
// writer; everything else reads through Snapshot. The record-level mutex is
// the per-task exclusive section for concurrent unit completions.
type Record struct {
	mu     sync.RWMutex
	task   models.Task
	seen   map[string]struct{} // (line,sentence,category) dedupe keys
	cancel context.CancelFunc
}

func newRecord(task models.Task) *Record {
	return &Record{task: task, seen: make(map[string]struct{})}
}

// ID returns the task id.
func (r *Record) ID() string {
	return r.task.ID
}

// Snapshot returns a deep enough copy for concurrent readers: the issues
// slice and summary map are copied, issues ordered by line then sentence.
func (r *Record) Snapshot() models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := r.task
	snap.Issues = make([]models.Issue, len(r.task.Issues))
	copy(snap.Issues, r.task.Issues)
	sort.SliceStable(snap.Issues, func(i, j int) bool {
		if snap.Issues[i].LineStart != snap.Issues[j].LineStart {
			return snap.Issues[i].LineStart < snap.Issues[j].LineStart
		}
		return snap.Issues[i].SentenceIndex < snap.Issues[j].SentenceIndex
	})

	snap.Summary.ByCategory = make(map[string]int, len(r.task.Summary.ByCategory))
	for k, v := range r.task.Summary.ByCategory {
		snap.Summary.ByCategory[k] = v
	}
	return snap
}

// Transition moves the task to a later status. Regressions and transitions
// out of a terminal state are rejected, which keeps status and stage index
// monotonic under any interleaving.
func (r *Record) Transition(status models.TaskStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.task.Status.IsTerminal() || status.Rank() < r.task.Status.Rank() {
		return false
	}
	r.task.Status = status
	r.task.Stage = string(status)
	r.task.StageIndex = status.StageIndex()
	r.task.UpdatedAt = time.Now()
	return true
}

// Fail transitions to Error with a message. Returns false if already terminal.
func (r *Record) Fail(msg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.task.Status.IsTerminal() {
		return false
	}
	r.task.Status = models.TaskStatusError
	r.task.Stage = string(models.TaskStatusError)
	r.task.StageIndex = models.TaskStatusError.StageIndex()
	r.task.Error = msg
	r.task.UpdatedAt = time.Now()
	return true
}

// SetProgress raises the progress percentage; it never decreases.
func (r *Record) SetProgress(progress float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if progress > 100 {
		progress = 100
	}
	if progress > r.task.Progress {
		r.task.Progress = progress
		r.task.UpdatedAt = time.Now()
	}
}

// SetUnitCounts records the work-item totals once planning is done.
func (r *Record) SetUnitCounts(processed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.task.ProcessedUnits = processed
	r.task.TotalUnits = total
}

// AddProcessed advances the processed-unit counter and returns the new
// value alongside the total.
func (r *Record) AddProcessed(n int) (processed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.task.ProcessedUnits += n
	return r.task.ProcessedUnits, r.task.TotalUnits
}

// AppendIssues appends issues under the per-task exclusive section,
// dropping duplicates by (line, sentence, category) and anything outside
// the task's category filter. Appends are refused once the task left the
// Analyzing stage, so late results of cancelled calls cannot corrupt state.
// The accepted issues are returned.
func (r *Record) AppendIssues(issues []models.Issue, categories map[string]bool) []models.Issue {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.task.Status != models.TaskStatusAnalyzing {
		return nil
	}

	var accepted []models.Issue
	for _, issue := range issues {
		if len(categories) > 0 && !categories[issue.Category] {
			continue
		}
		key := issue.Key()
		if _, dup := r.seen[key]; dup {
			continue
		}
		r.seen[key] = struct{}{}
		r.task.Issues = append(r.task.Issues, issue)
		r.task.Summary.TotalIssues++
		if r.task.Summary.ByCategory == nil {
			r.task.Summary.ByCategory = make(map[string]int)
		}
		r.task.Summary.ByCategory[issue.Category]++
		accepted = append(accepted, issue)
	}
	r.task.UpdatedAt = time.Now()
	return accepted
}

// SetReport stores the rendered artifact on the record.
func (r *Record) SetReport(data []byte, contentType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.task.ReportBytes = data
	r.task.ReportContentType = contentType
	r.task.UpdatedAt = time.Now()
}

// Store is the process-wide task registry, the only cross-task shared
// mutable state. Each record has a single-writer discipline, so the store
// itself only synchronizes insert, lookup and delete.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	ttl     time.Duration
}

// NewStore creates a task store with the given retention window.
func NewStore(ttl time.Duration) *Store {
	return &Store{records: make(map[string]*Record), ttl: ttl}
}

// Register inserts a new record.
func (s *Store) Register(task models.Task) *Record {
	rec := newRecord(task)
	s.mu.Lock()
	s.records[task.ID] = rec
	s.mu.Unlock()
	return rec
}

// Get returns the live record for a task id.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	return rec, nil
}

// Snapshot returns a read-only copy of a task.
func (s *Store) Snapshot(id string) (models.Task, error) {
	rec, err := s.Get(id)
	if err != nil {
		return models.Task{}, err
	}
	return rec.Snapshot(), nil
}

// Delete removes a record and cancels its runner if still active.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	delete(s.records, id)
	s.mu.Unlock()

	if ok && rec.cancel != nil {
		rec.cancel()
	}
	return ok
}

// Sweep prunes terminal records older than the retention window and returns
// how many were removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		snap := rec.Snapshot()
		if snap.Status.IsTerminal() && now.Sub(snap.UpdatedAt) > s.ttl {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs the background sweep until ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := s.Sweep(now); n > 0 {
					log.Printf("[STORE] swept %d expired task record(s)", n)
				}
			}
		}
	}()
}
