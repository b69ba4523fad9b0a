package worker

import (
	"encoding/json"
	"net/http"

	"github.com/hibiken/asynq"

	"github.com/carrylink/backend-carry/internal/audit"
	"github.com/carrylink/backend-carry/internal/common"
)

// EnqueueHandler accepts manual period close requests and hands them to the
// task queue. The sweep itself runs in the worker process.
type EnqueueHandler struct {
	Client *asynq.Client
	Audit  *audit.Service
}

type closePayload struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// Close enqueues a period close task. An empty body sweeps the current
// display period.
func (h *EnqueueHandler) Close(w http.ResponseWriter, r *http.Request) {
	var payload closePayload
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
			return
		}
	}
	if payload.Month < 0 || payload.Month > 12 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "month must be within 1..12", nil)
		return
	}

	task, err := NewPeriodCloseTask(payload.Year, payload.Month)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to build task", nil)
		return
	}
	info, err := h.Client.EnqueueContext(r.Context(), task, asynq.MaxRetry(3))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to enqueue task", nil)
		return
	}
	if h.Audit != nil {
		_ = h.Audit.Record(r, audit.Entry{
			Action:       "period.close.enqueue",
			ResourceType: "period",
			Outcome:      "applied",
		})
	}
	common.JSON(w, http.StatusAccepted, map[string]any{
		"taskId": info.ID,
		"queue":  info.Queue,
	})
}
