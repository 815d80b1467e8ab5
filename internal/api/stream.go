package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"proofread-service/internal/models"
	"proofread-service/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development - customize for production
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// StreamHandler handles GET /api/analysis/stream/:id
//
// The socket first receives a status_update snapshot so a late joiner is
// synchronized, then live sequenced events until the task reaches a
// terminal state. A subscriber observing a sequence gap can re-query the
// status endpoint and keep consuming.
func (h *Handlers) StreamHandler(c *gin.Context) {
	taskID := c.Param("id")
	task, err := h.store.Snapshot(taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WEBSOCKET] failed to upgrade connection for task %s: %v", taskID, err)
		return
	}
	defer conn.Close()

	// Subscribe before sending the snapshot so no event between snapshot
	// and subscription can be missed.
	events, unsubscribe := h.hub.Subscribe(taskID)
	defer unsubscribe()

	snapshot := snapshotEvent(task)
	if err := writeEvent(conn, snapshot); err != nil {
		return
	}

	// An already-terminal task gets its terminal event immediately.
	if task.Status.IsTerminal() {
		_ = writeEvent(conn, terminalEvent(task))
		return
	}

	// Reader goroutine: detect client close, absorb client pings.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("[WEBSOCKET] task %s stream closed unexpectedly: %v", taskID, err)
				}
				return
			}
		}
	}()

	pinger := time.NewTicker(streamPingInterval)
	defer pinger.Stop()

	for {
		select {
		case <-done:
			return
		case <-pinger.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				// Topic closed after the terminal event; send the final
				// snapshot so the client never misses the outcome.
				if final, err := h.store.Snapshot(taskID); err == nil && final.Status.IsTerminal() {
					_ = writeEvent(conn, terminalEvent(final))
				}
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
			if ev.Type == pipeline.EventProcessingComplete || ev.Type == pipeline.EventError {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev pipeline.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(ev)
}

func snapshotEvent(task models.Task) pipeline.Event {
	return pipeline.Event{
		TaskID:         task.ID,
		Type:           pipeline.EventStatusUpdate,
		Status:         string(task.Status),
		Stage:          task.Stage,
		Progress:       task.Progress,
		ProcessedUnits: task.ProcessedUnits,
		TotalUnits:     task.TotalUnits,
	}
}

func terminalEvent(task models.Task) pipeline.Event {
	ev := pipeline.Event{
		TaskID:         task.ID,
		Status:         string(task.Status),
		Stage:          task.Stage,
		Progress:       task.Progress,
		ProcessedUnits: task.ProcessedUnits,
		TotalUnits:     task.TotalUnits,
	}
	if task.Status == models.TaskStatusError {
		ev.Type = pipeline.EventError
		ev.Error = task.Error
	} else {
		ev.Type = pipeline.EventProcessingComplete
	}
	return ev
}
