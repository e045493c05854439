package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/Winger29/FSDP-Assignment2/internal/collab"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

const eventsHeartbeat = 15 * time.Second

// CreateTask creates a pending task on a team the caller may use
func (h *Handler) CreateTask(c *gin.Context) {
	teamID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req collab.CreateInput
	if !bind(c, &req) {
		return
	}

	task, err := h.Tasks.Create(c.Request.Context(), currentUser(c), teamID, req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, task)
}

func (h *Handler) ListTeamTasks(c *gin.Context) {
	teamID, ok := pathID(c, "id")
	if !ok {
		return
	}

	list, err := h.Tasks.ListForTeam(c.Request.Context(), currentUser(c), teamID)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, list)
}

// GetTask returns a task with its assignments and contributions
func (h *Handler) GetTask(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	task, err := h.Tasks.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, task)
}

func (h *Handler) DeleteTask(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.Tasks.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		fail(c, err)
		return
	}
	respondMessage(c, "Task deleted")
}

// ExecuteTask runs the collaboration pipeline and streams its progress
// events. With ?stream=false the completed task is returned as JSON.
func (h *Handler) ExecuteTask(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if !wantsStream(c) {
		task, err := h.Tasks.Execute(ctx, currentUser(c), id, nil)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, task)
		return
	}

	if h.Metrics != nil {
		defer h.Metrics.StreamOpened("task")()
	}
	stream := newEventStream(c)
	_, err := h.Tasks.Execute(ctx, currentUser(c), id, func(ev collab.Event) error {
		return stream.Send(ev.Type, ev)
	})
	if err != nil {
		stream.Fail(err)
	}
}

// TaskEvents relays the progress of a task run on any instance. The stream
// opens with a status snapshot and ends after completed or error.
func (h *Handler) TaskEvents(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	userID := currentUser(c)

	events, cancel, err := h.Tasks.Subscribe(ctx, userID, id)
	if err != nil {
		fail(c, err)
		return
	}
	defer cancel()

	task, err := h.Tasks.Get(ctx, userID, id)
	if err != nil {
		fail(c, err)
		return
	}

	if h.Metrics != nil {
		defer h.Metrics.StreamOpened("task_events")()
	}
	stream := newEventStream(c)
	snapshot := collab.Event{
		Type:      collab.EventStatus,
		TaskID:    task.ID,
		Data:      map[string]interface{}{"status": task.Status},
		Timestamp: time.Now().UTC(),
	}
	if stream.Send(snapshot.Type, snapshot) != nil || task.Status == models.TaskCompleted {
		return
	}

	heartbeat := time.NewTicker(eventsHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if stream.Send("heartbeat", gin.H{"task_id": id}) != nil {
				return
			}
		case payload, ok := <-events:
			if !ok {
				return
			}
			eventType := gjson.GetBytes(payload, "type").String()
			if eventType == "" {
				continue
			}
			if stream.Send(eventType, json.RawMessage(payload)) != nil {
				return
			}
			if eventType == collab.EventCompleted || eventType == collab.EventError {
				return
			}
		}
	}
}

// CreateTaskVersion branches the latest version of a task
func (h *Handler) CreateTaskVersion(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	// The body is optional: an empty one copies the parent unchanged
	var req collab.VersionInput
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}

	task, err := h.Tasks.CreateVersion(c.Request.Context(), currentUser(c), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, task)
}

// ListTaskVersions returns the whole version chain ordered by version
func (h *Handler) ListTaskVersions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	chain, err := h.Tasks.Versions(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, chain)
}
