package order

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
	"github.com/carrylink/backend-carry/internal/pricing"
	"github.com/carrylink/backend-carry/internal/repo"
)

// Handler exposes the admin order pricing endpoints.
type Handler struct {
	Svc      *Service
	Store    Store
	Audit    *audit.Service
	Validate *validator.Validate
}

type repricePayload struct {
	ExpectedVersion   *int64     `json:"expectedVersion" validate:"omitempty,min=0"`
	ExpectedUpdatedAt *time.Time `json:"expectedUpdatedAt"`
	Urgent            *bool      `json:"urgent"`
	BoxCount          *int       `json:"boxCount" validate:"omitempty,min=0"`
	BasePricePerBox   *int64     `json:"basePricePerBox" validate:"omitempty,min=0"`
	MinimumTotal      *int64     `json:"minimumTotal" validate:"omitempty,min=0"`
	UrgentRateBps     *int       `json:"urgentRateBps" validate:"omitempty,min=0"`
}

// PatchPricing reprices an order under the presented version marker.
func (h *Handler) PatchPricing(w http.ResponseWriter, r *http.Request) {
	id, err := repo.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	var payload repricePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	updated, err := h.Svc.Reprice(r.Context(), id, RepriceRequest{
		Expected:        occ.Marker{Version: payload.ExpectedVersion, UpdatedAt: payload.ExpectedUpdatedAt},
		Urgent:          payload.Urgent,
		BoxCount:        payload.BoxCount,
		BasePricePerBox: payload.BasePricePerBox,
		MinimumTotal:    payload.MinimumTotal,
		UrgentRateBps:   payload.UrgentRateBps,
	})
	h.record(r, id.String(), err)
	if err != nil {
		renderMutationError(w, err, updated)
		return
	}
	common.JSON(w, http.StatusOK, orderResponse(updated))
}

// Get returns one order with its current version marker.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := repo.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	o, err := h.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	common.JSON(w, http.StatusOK, orderResponse(o))
}

type previewPayload struct {
	BasePricePerBox int64  `json:"basePricePerBox" validate:"min=0"`
	BoxCount        int    `json:"boxCount" validate:"min=0"`
	Urgent          bool   `json:"urgent"`
	MinimumTotal    *int64 `json:"minimumTotal" validate:"omitempty,min=0"`
	UrgentRateBps   *int   `json:"urgentRateBps" validate:"omitempty,min=0"`
}

// Preview runs the pricing adjuster without touching any record.
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
	res, err := pricing.Adjust(pricing.Input{
		BasePricePerUnit: payload.BasePricePerBox,
		UnitCount:        payload.BoxCount,
		MinimumTotal:     valueOr(payload.MinimumTotal, h.Svc.Rates.MinimumTotal),
		UrgentRateBps:    valueOr(payload.UrgentRateBps, h.Svc.Rates.UrgentRateBps),
		MinTotalVATBps:   h.Svc.Rates.MinTotalVATBps,
		Urgent:           payload.Urgent,
	})
	if err != nil {
		common.RenderError(w, common.NewPrecondition(err.Error(), err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"basePricePerBox":    res.BasePricePerUnit,
		"priceAfterUrgent":   res.PriceAfterUrgent,
		"finalPricePerBox":   res.FinalPricePerUnit,
		"totalBeforeMinimum": res.TotalBeforeMinimum,
		"finalTotal":         res.FinalTotal,
		"urgentApplied":      res.UrgentApplied,
		"minimumApplied":     res.MinimumApplied,
		"explanation":        res.Explanation,
	})
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
		Action:       "order.reprice",
		ResourceType: "order",
		ResourceID:   resourceID,
		Outcome:      outcome,
	})
}

func renderMutationError(w http.ResponseWriter, err error, current repo.Order) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case occ.IsConflict(err):
		var details any
		if current.ID != uuid.Nil {
			details = map[string]any{
				"currentVersion":   current.Version,
				"currentUpdatedAt": current.UpdatedAt,
			}
		}
		common.RenderError(w, common.NewConflict("order was modified by another editor", err, details))
	case errors.Is(err, pricing.ErrNegativeUnitCount):
		common.RenderError(w, common.NewPrecondition(err.Error(), err))
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to update order", nil)
	}
}

func orderResponse(o repo.Order) map[string]any {
	return map[string]any{
		"id":              o.ID,
		"requesterName":   o.RequesterName,
		"status":          o.Status,
		"boxCount":        o.BoxCount,
		"basePricePerBox": o.BasePricePerBox,
		"pricePerBox":     o.PricePerBox,
		"total":           o.Total,
		"urgent":          o.Urgent,
		"urgentApplied":   o.UrgentApplied,
		"minimumApplied":  o.MinimumApplied,
		"pricingNote":     o.PricingNote,
		"version":         o.Version,
		"updatedAt":       o.UpdatedAt,
	}
}
