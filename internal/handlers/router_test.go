package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRouterNotFoundUsesErrorEnvelope(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nowhere", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var resp struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Error != errorNotFoundCode {
		t.Fatalf("expected %s code, got %s", errorNotFoundCode, resp.Error)
	}
}

func TestRouterHealthEndpointsAtRoot(t *testing.T) {
	router := NewRouter()

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, rr.Code)
		}
	}
}

func TestRouterUnconfiguredGroupReturnsNotImplemented(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/driver/orders/ord_1/pickup", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected status 501, got %d", rr.Code)
	}
}

func TestRouterMountsConfiguredGroups(t *testing.T) {
	registered := false
	router := NewRouter(WithOrderRoutes(func(r chi.Router) {
		registered = true
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			writeJSONResponse(w, http.StatusOK, map[string]string{"group": "orders"})
		})
	}))

	if !registered {
		t.Fatal("expected order registrar to run during construction")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestRouterWebhookMiddlewaresApply(t *testing.T) {
	var sawHeader string
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawHeader = r.Header.Get("X-Signature")
			next.ServeHTTP(w, r)
		})
	}

	router := NewRouter(
		WithWebhookMiddlewares(mw),
		WithWebhookRoutes(func(r chi.Router) {
			r.Post("/stripe", func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		}),
	)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", nil)
	req.Header.Set("X-Signature", "sig-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if sawHeader != "sig-1" {
		t.Fatalf("expected webhook middleware to observe request, got %q", sawHeader)
	}
}
