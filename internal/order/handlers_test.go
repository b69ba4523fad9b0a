package order

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
)

func newTestRouter(store *stubStore) *chi.Mux {
	h := &Handler{
		Svc:      &Service{Store: store, Rates: testRates()},
		Store:    store,
		Validate: validator.New(),
	}
	r := chi.NewRouter()
	r.Patch("/admin/orders/{id}/pricing", h.PatchPricing)
	r.Get("/admin/orders/{id}", h.Get)
	r.Post("/admin/pricing/preview", h.Preview)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestPatchPricingApplies(t *testing.T) {
	current := testOrder()
	store := &stubStore{order: current}
	router := newTestRouter(store)

	rec := doJSON(t, router, http.MethodPatch, "/admin/orders/"+current.ID.String()+"/pricing",
		`{"expectedVersion":7,"urgent":true,"minimumTotal":300000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		PricePerBox    int64 `json:"pricePerBox"`
		Total          int64 `json:"total"`
		UrgentApplied  bool  `json:"urgentApplied"`
		MinimumApplied bool  `json:"minimumApplied"`
		Version        int64 `json:"version"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PricePerBox != 1500 || resp.Total != 300000 {
		t.Fatalf("price = %d total = %d", resp.PricePerBox, resp.Total)
	}
	if !resp.UrgentApplied || !resp.MinimumApplied || resp.Version != 8 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPatchPricingStaleMarkerConflicts(t *testing.T) {
	current := testOrder()
	store := &stubStore{order: current}
	router := newTestRouter(store)

	rec := doJSON(t, router, http.MethodPatch, "/admin/orders/"+current.ID.String()+"/pricing",
		`{"expectedVersion":6,"urgent":true}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				CurrentVersion int64 `json:"currentVersion"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != "VERSION_CONFLICT" || resp.Error.Details.CurrentVersion != 7 {
		t.Fatalf("unexpected error %+v", resp.Error)
	}
}

func TestPatchPricingBadID(t *testing.T) {
	router := newTestRouter(&stubStore{order: testOrder()})

	rec := doJSON(t, router, http.MethodPatch, "/admin/orders/nope/pricing", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetOrder(t *testing.T) {
	current := testOrder()
	router := newTestRouter(&stubStore{order: current})

	rec := doJSON(t, router, http.MethodGet, "/admin/orders/"+current.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		RequesterName string `json:"requesterName"`
		Total         int64  `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RequesterName != "lee" || resp.Total != 240000 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPreviewPricing(t *testing.T) {
	router := newTestRouter(&stubStore{order: testOrder()})

	rec := doJSON(t, router, http.MethodPost, "/admin/pricing/preview",
		`{"basePricePerBox":1200,"boxCount":200,"urgent":true,"minimumTotal":300000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		PriceAfterUrgent int64 `json:"priceAfterUrgent"`
		FinalPricePerBox int64 `json:"finalPricePerBox"`
		FinalTotal       int64 `json:"finalTotal"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PriceAfterUrgent != 1400 || resp.FinalPricePerBox != 1500 || resp.FinalTotal != 300000 {
		t.Fatalf("unexpected response %+v", resp)
	}
}
