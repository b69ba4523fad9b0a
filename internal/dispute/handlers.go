package dispute

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/carrylink/backend-carry/internal/audit"
	"github.com/carrylink/backend-carry/internal/common"
	"github.com/carrylink/backend-carry/internal/occ"
	"github.com/carrylink/backend-carry/internal/repo"
)

// Handler exposes the admin dispute endpoints.
type Handler struct {
	Svc      *Service
	Store    Store
	Audit    *audit.Service
	Validate *validator.Validate
}

type resolvePayload struct {
	ExpectedVersion   *int64     `json:"expectedVersion" validate:"omitempty,min=0"`
	ExpectedUpdatedAt *time.Time `json:"expectedUpdatedAt"`
	Resolution        string     `json:"resolution" validate:"required"`
	AmountDiff        int64      `json:"amountDiff"`
}

// Patch resolves a dispute under the presented version marker.
func (h *Handler) Patch(w http.ResponseWriter, r *http.Request) {
	id, err := repo.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid dispute id", nil)
		return
	}
	var payload resolvePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	updated, err := h.Svc.Resolve(r.Context(), id, ResolveRequest{
		Expected:   occ.Marker{Version: payload.ExpectedVersion, UpdatedAt: payload.ExpectedUpdatedAt},
		Resolution: payload.Resolution,
		AmountDiff: payload.AmountDiff,
	})
	h.record(r, id.String(), err)
	if err != nil {
		renderMutationError(w, err, updated)
		return
	}
	common.JSON(w, http.StatusOK, disputeResponse(updated))
}

// Get returns one dispute with its current version marker.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := repo.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid dispute id", nil)
		return
	}
	d, err := h.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "dispute not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load dispute", nil)
		return
	}
	common.JSON(w, http.StatusOK, disputeResponse(d))
}

func (h *Handler) record(r *http.Request, resourceID string, err error) {
	if h.Audit == nil {
		return
	}
	outcome := "applied"
	switch {
	case occ.IsConflict(err):
		outcome = "conflict"
	case err != nil:
		outcome = "rejected"
	}
	_ = h.Audit.Record(r, audit.Entry{
		Action:       "dispute.resolve",
		ResourceType: "dispute",
		ResourceID:   resourceID,
		Outcome:      outcome,
	})
}

func renderMutationError(w http.ResponseWriter, err error, current repo.Dispute) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "dispute not found", nil)
	case occ.IsConflict(err):
		var details any
		if current.ID != uuid.Nil {
			details = map[string]any{
				"currentVersion":   current.Version,
				"currentUpdatedAt": current.UpdatedAt,
			}
		}
		common.RenderError(w, common.NewConflict("dispute was modified by another editor", err, details))
	case errors.Is(err, ErrAlreadyResolved), errors.Is(err, ErrAdjustmentUnderflow):
		common.RenderError(w, common.NewPrecondition(err.Error(), err))
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to resolve dispute", nil)
	}
}

func disputeResponse(d repo.Dispute) map[string]any {
	return map[string]any{
		"id":           d.ID,
		"settlementId": d.SettlementID,
		"kind":         d.Kind,
		"description":  d.Description,
		"status":       d.Status,
		"resolution":   d.Resolution,
		"amountDiff":   d.AmountDiff,
		"version":      d.Version,
		"updatedAt":    d.UpdatedAt,
	}
}
