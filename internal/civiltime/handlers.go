package civiltime

import (
	"net/http"
	"time"

	"github.com/carrylink/backend-carry/internal/common"
)

// Handler answers period lookups against the display calendar.
type Handler struct {
	Calendar Calendar
}

// PeriodFor maps a work-completion instant to its settlement period.
// The instant arrives as RFC 3339 in the `at` query parameter.
func (h Handler) PeriodFor(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "query parameter 'at' is required", nil)
		return
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "'at' must be RFC 3339", nil)
		return
	}
	p := h.Calendar.PeriodFor(at)
	d := h.Calendar.DisplayDate(at)
	common.JSON(w, http.StatusOK, map[string]any{
		"period": p.String(),
		"year":   p.Year,
		"month":  int(p.Month),
		"displayDate": map[string]int{
			"year":  d.Year,
			"month": int(d.Month),
			"day":   d.Day,
		},
	})
}
