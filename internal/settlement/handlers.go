package settlement

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

// Defaults are the rates applied when a preview payload omits them.
type Defaults struct {
	VATRateBps        int
	DepositRateBps    int
	CommissionRateBps int
}

// Handler exposes the admin settlement endpoints.
type Handler struct {
	Svc      *Service
	Store    Store
	Audit    *audit.Service
	Validate *validator.Validate
	Defaults Defaults
}

type recalcPayload struct {
	ExpectedVersion   *int64     `json:"expectedVersion" validate:"omitempty,min=0"`
	ExpectedUpdatedAt *time.Time `json:"expectedUpdatedAt"`
	UnitCount         *int       `json:"unitCount" validate:"omitempty,min=0"`
	UnitPrice         *int64     `json:"unitPrice" validate:"omitempty,min=0"`
	VATRateBps        *int       `json:"vatRateBps" validate:"omitempty,min=0"`
	DepositRateBps    *int       `json:"depositRateBps" validate:"omitempty,min=0,max=10000"`
	CommissionRateBps *int       `json:"commissionRateBps" validate:"omitempty,min=0,max=10000"`
	Deductions        *int64     `json:"deductions" validate:"omitempty,min=0"`
}

// Patch recalculates a settlement under the presented version marker.
func (h *Handler) Patch(w http.ResponseWriter, r *http.Request) {
	id, err := repo.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid settlement id", nil)
		return
	}
	var payload recalcPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	updated, err := h.Svc.Recalculate(r.Context(), id, RecalcRequest{
		Expected:          occ.Marker{Version: payload.ExpectedVersion, UpdatedAt: payload.ExpectedUpdatedAt},
		UnitCount:         payload.UnitCount,
		UnitPrice:         payload.UnitPrice,
		VATRateBps:        payload.VATRateBps,
		DepositRateBps:    payload.DepositRateBps,
		CommissionRateBps: payload.CommissionRateBps,
		Deductions:        payload.Deductions,
	})
	h.record(r, "settlement.recalculate", id.String(), err)
	if err != nil {
		renderMutationError(w, err, updated)
		return
	}
	common.JSON(w, http.StatusOK, settlementResponse(updated))
}

// Get returns one settlement with its current version marker.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := repo.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid settlement id", nil)
		return
	}
	st, err := h.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "settlement not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load settlement", nil)
		return
	}
	common.JSON(w, http.StatusOK, settlementResponse(st))
}

type previewPayload struct {
	UnitCount         int    `json:"unitCount" validate:"min=0"`
	UnitPrice         int64  `json:"unitPrice" validate:"min=0"`
	VATRateBps        *int   `json:"vatRateBps" validate:"omitempty,min=0"`
	DepositRateBps    *int   `json:"depositRateBps" validate:"omitempty,min=0,max=10000"`
	CommissionRateBps *int   `json:"commissionRateBps" validate:"omitempty,min=0,max=10000"`
	Deductions        *int64 `json:"deductions" validate:"omitempty,min=0"`
}

// Preview runs the pure calculator without touching any record.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var payload previewPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	res, err := Calculate(CalcInput{
		UnitCount:         payload.UnitCount,
		UnitPrice:         payload.UnitPrice,
		VATRateBps:        valueOr(payload.VATRateBps, h.Defaults.VATRateBps),
		DepositRateBps:    valueOr(payload.DepositRateBps, h.Defaults.DepositRateBps),
		CommissionRateBps: valueOr(payload.CommissionRateBps, h.Defaults.CommissionRateBps),
		Deductions:        valueOr(payload.Deductions, 0),
	})
	if err != nil {
		common.RenderError(w, common.NewPrecondition(err.Error(), err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"figures":     repoFigures(res),
		"needsReview": res.NetPayout < 0,
	})
}

func (h *Handler) record(r *http.Request, action, resourceID string, err error) {
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
		Action:       action,
		ResourceType: "settlement",
		ResourceID:   resourceID,
		Outcome:      outcome,
	})
}

// renderMutationError maps service errors onto transport codes. A conflict
// response carries the record's current marker so the editor can re-read,
// re-apply and re-submit.
func renderMutationError(w http.ResponseWriter, err error, current repo.Settlement) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "settlement not found", nil)
	case occ.IsConflict(err):
		var details any
		if current.ID != uuid.Nil {
			details = map[string]any{
				"currentVersion":   current.Version,
				"currentUpdatedAt": current.UpdatedAt,
			}
		}
		common.RenderError(w, common.NewConflict("settlement was modified by another editor", err, details))
	case errors.Is(err, ErrNegativeUnitCount), errors.Is(err, ErrCommissionOutOfRange):
		common.RenderError(w, common.NewPrecondition(err.Error(), err))
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to update settlement", nil)
	}
}

func settlementResponse(st repo.Settlement) map[string]any {
	return map[string]any{
		"id":          st.ID,
		"orderId":     st.OrderID,
		"helperName":  st.HelperName,
		"status":      st.Status,
		"unitCount":   st.UnitCount,
		"unitPrice":   st.UnitPrice,
		"rates": map[string]int{
			"vatBps":        st.VATRateBps,
			"depositBps":    st.DepositRateBps,
			"commissionBps": st.CommissionRateBps,
		},
		"figures":     st.Figures,
		"needsReview": st.NeedsReview,
		"period":      map[string]int{"year": st.PeriodYear, "month": st.PeriodMonth},
		"version":     st.Version,
		"updatedAt":   st.UpdatedAt,
	}
}
