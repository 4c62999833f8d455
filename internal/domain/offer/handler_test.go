package offer_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mwork/projectmarket-api/internal/domain/offer"
	"github.com/mwork/projectmarket-api/internal/ledger"
	"github.com/mwork/projectmarket-api/internal/middleware"
	"github.com/mwork/projectmarket-api/internal/pkg/events"
	"github.com/mwork/projectmarket-api/internal/pkg/jwt"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func perform(t *testing.T, h http.Handler, token, method, path string, body interface{}) (int, apiResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w.Code, resp
}

func TestOfferEndpoints(t *testing.T) {
	store := ledger.NewMemoryStore()
	sellerID, buyerID, projectID := uuid.New(), uuid.New(), uuid.New()
	store.PutProject(ledger.Project{ID: projectID, SellerID: sellerID, Title: "Icon set", Price: decimal.RequireFromString("80.00")})

	h := offer.NewHandler(offer.NewService(store, &events.Recorder{}, time.Second))
	jwtSvc := jwt.NewService("offer-handler-secret", time.Hour)
	buyerToken, _ := jwtSvc.GenerateAccessToken(buyerID, "user", false)
	sellerToken, _ := jwtSvc.GenerateAccessToken(sellerID, "user", false)

	r := chi.NewRouter()
	r.Mount("/api/v1/offers", h.Routes(middleware.Auth(jwtSvc)))

	var first, counter offer.OfferResponse

	t.Run("POST / rejects sub-cent amounts", func(t *testing.T) {
		code, resp := perform(t, r, buyerToken, http.MethodPost, "/api/v1/offers", map[string]string{
			"project_id": projectID.String(),
			"amount":     "70.005",
		})
		if code != http.StatusUnprocessableEntity || resp.Error == nil {
			t.Fatalf("expected 422, got %d", code)
		}
	})

	t.Run("POST / creates a pending offer", func(t *testing.T) {
		code, resp := perform(t, r, buyerToken, http.MethodPost, "/api/v1/offers", map[string]string{
			"project_id": projectID.String(),
			"amount":     "70.00",
		})
		if code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", code)
		}
		_ = json.Unmarshal(resp.Data, &first)
		if first.Status != "pending" || first.Amount != "70.00" {
			t.Fatalf("unexpected offer %+v", first)
		}
	})

	t.Run("POST /{id}/counter by seller", func(t *testing.T) {
		code, resp := perform(t, r, sellerToken, http.MethodPost, "/api/v1/offers/"+first.ID.String()+"/counter", map[string]string{
			"amount": "75.00",
		})
		if code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", code)
		}
		_ = json.Unmarshal(resp.Data, &counter)
		if counter.ParentOfferID == nil || *counter.ParentOfferID != first.ID || counter.ProposedBy != "seller" {
			t.Fatalf("unexpected counter %+v", counter)
		}
	})

	t.Run("GET /latest returns the head", func(t *testing.T) {
		code, resp := perform(t, r, buyerToken, http.MethodGet, "/api/v1/offers/latest?project_id="+projectID.String(), nil)
		if code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
		var latest offer.OfferResponse
		_ = json.Unmarshal(resp.Data, &latest)
		if latest.ID != counter.ID {
			t.Fatalf("expected %s, got %s", counter.ID, latest.ID)
		}
	})

	t.Run("GET /{id}/chain is root first", func(t *testing.T) {
		code, resp := perform(t, r, sellerToken, http.MethodGet, "/api/v1/offers/"+counter.ID.String()+"/chain", nil)
		if code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
		var chain []offer.OfferResponse
		_ = json.Unmarshal(resp.Data, &chain)
		if len(chain) != 2 || chain[0].ID != first.ID || chain[0].Status != "countered" {
			t.Fatalf("unexpected chain %+v", chain)
		}
	})

	t.Run("seller cannot accept own counter", func(t *testing.T) {
		code, resp := perform(t, r, sellerToken, http.MethodPost, "/api/v1/offers/"+counter.ID.String()+"/accept", nil)
		if code != http.StatusForbidden || resp.Error == nil {
			t.Fatalf("expected 403, got %d", code)
		}
	})

	t.Run("GET /latest validates project_id", func(t *testing.T) {
		code, _ := perform(t, r, buyerToken, http.MethodGet, "/api/v1/offers/latest?project_id=nope", nil)
		if code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", code)
		}
	})
}
