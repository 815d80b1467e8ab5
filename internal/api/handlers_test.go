package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofread-service/internal/config"
	"proofread-service/internal/engine"
	"proofread-service/internal/models"
	"proofread-service/internal/pipeline"
)

type stubEngine struct {
	issues func(units []models.ChunkUnit) []models.Issue
	block  <-chan struct{}
}

func (s *stubEngine) Name() string   { return "stub" }
func (s *stubEngine) BatchSize() int { return 100 }
func (s *stubEngine) Analyze(ctx context.Context, units []models.ChunkUnit) ([]models.Issue, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.issues == nil {
		return nil, nil
	}
	return s.issues(units), nil
}

type stubFactory struct {
	engine engine.Engine
}

func (s *stubFactory) EnginesFor(models.Mode) []engine.Engine {
	return []engine.Engine{s.engine}
}

func newTestAPI(t *testing.T, eng engine.Engine) (*gin.Engine, *pipeline.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := pipeline.NewStore(time.Minute)
	hub := pipeline.NewHub()
	runner := pipeline.NewRunner(store, hub, &stubFactory{engine: eng}, config.PipelineConfig{
		MaxConcurrentTasks: 4,
		UnitWorkers:        4,
		TaskTimeout:        5 * time.Second,
	})
	return SetupRoutes(NewHandlers(runner, store, hub)), store
}

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func submitDocument(t *testing.T, router *gin.Engine, filename, content string, fields map[string]string) string {
	t.Helper()
	body, contentType := multipartUpload(t, filename, content, fields)
	req := httptest.NewRequest(http.MethodPost, "/api/analysis/submit", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var resp models.SubmitResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ProcessingID)
	return resp.ProcessingID
}

func awaitCompleted(t *testing.T, store *pipeline.Store, id string) models.Task {
	t.Helper()
	var snap models.Task
	require.Eventually(t, func() bool {
		var err error
		snap, err = store.Snapshot(id)
		return err == nil && snap.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}

func TestSubmitRequiresFile(t *testing.T) {
	router, _ := newTestAPI(t, &stubEngine{})
	req := httptest.NewRequest(http.MethodPost, "/api/analysis/submit", strings.NewReader(""))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitRejectsBadOutputFormat(t *testing.T) {
	router, _ := newTestAPI(t, &stubEngine{})
	body, contentType := multipartUpload(t, "draft.txt", "Some text.", map[string]string{"output_format": "odt"})
	req := httptest.NewRequest(http.MethodPost, "/api/analysis/submit", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitThenStatus(t *testing.T) {
	eng := &stubEngine{issues: func(units []models.ChunkUnit) []models.Issue {
		var out []models.Issue
		for _, u := range units {
			out = append(out, models.Issue{
				LineStart: u.LineStart, SentenceIndex: u.SentenceIndex,
				Category: models.CategoryRedundancy, Original: u.Text,
				Reason: "flagged", Source: models.SourcePattern, Confidence: 0.9,
			})
		}
		return out
	}}
	router, store := newTestAPI(t, eng)

	id := submitDocument(t, router, "draft.txt", "One sentence. Another sentence.", nil)
	awaitCompleted(t, store, id)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/status/"+id, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var status models.StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, id, status.ProcessingID)
	assert.Equal(t, models.TaskStatusCompleted, status.Status)
	assert.Equal(t, float64(100), status.Progress)
	assert.Equal(t, 2, status.Summary.TotalIssues)
	assert.Len(t, status.Issues, 2)
}

func TestStatusUnknownTask(t *testing.T) {
	router, _ := newTestAPI(t, &stubEngine{})
	req := httptest.NewRequest(http.MethodGet, "/api/analysis/status/nope", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDownloadCompletedReport(t *testing.T) {
	router, store := newTestAPI(t, &stubEngine{})

	id := submitDocument(t, router, "my draft.txt", "Perfectly fine.", map[string]string{"output_format": "docx"})
	awaitCompleted(t, store, id)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/download/"+id, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), `"my draft-report.docx"`)
	assert.NotEmpty(t, rr.Body.Bytes())
}

func TestDownloadBeforeCompletionConflicts(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	router, _ := newTestAPI(t, &stubEngine{block: block})

	id := submitDocument(t, router, "draft.txt", "Still working on it.", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/download/"+id, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestDownloadUnknownTask(t *testing.T) {
	router, _ := newTestAPI(t, &stubEngine{})
	req := httptest.NewRequest(http.MethodGet, "/api/analysis/download/nope", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancelRunningTask(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	router, store := newTestAPI(t, &stubEngine{block: block})

	id := submitDocument(t, router, "draft.txt", "Cancel me please.", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/analysis/cancel/"+id, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	final := awaitCompleted(t, store, id)
	assert.Equal(t, models.TaskStatusError, final.Status)
	assert.Contains(t, final.Error, "cancelled")
}

func TestCancelFinishedTaskConflicts(t *testing.T) {
	router, store := newTestAPI(t, &stubEngine{})

	id := submitDocument(t, router, "draft.txt", "Quick one.", nil)
	awaitCompleted(t, store, id)

	req := httptest.NewRequest(http.MethodPost, "/api/analysis/cancel/"+id, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCleanupRemovesTask(t *testing.T) {
	router, store := newTestAPI(t, &stubEngine{})

	id := submitDocument(t, router, "draft.txt", "Soon gone.", nil)
	awaitCompleted(t, store, id)

	req := httptest.NewRequest(http.MethodDelete, "/api/analysis/"+id, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/analysis/status/"+id, nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestAPI(t, &stubEngine{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStreamUnknownTask(t *testing.T) {
	router, _ := newTestAPI(t, &stubEngine{})
	req := httptest.NewRequest(http.MethodGet, "/api/analysis/stream/nope", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// A client connecting after the task finished still gets the snapshot and
// the terminal event before the socket closes.
func TestStreamFinishedTaskGetsTerminalEvent(t *testing.T) {
	router, store := newTestAPI(t, &stubEngine{})

	id := submitDocument(t, router, "draft.txt", "Done already.", nil)
	awaitCompleted(t, store, id)

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/analysis/stream/" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var snapshot pipeline.Event
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, pipeline.EventStatusUpdate, snapshot.Type)
	assert.Equal(t, id, snapshot.TaskID)
	assert.Equal(t, string(models.TaskStatusCompleted), snapshot.Status)

	var terminal pipeline.Event
	require.NoError(t, conn.ReadJSON(&terminal))
	assert.Equal(t, pipeline.EventProcessingComplete, terminal.Type)
	assert.Equal(t, float64(100), terminal.Progress)
}
