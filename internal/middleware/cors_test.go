package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func preflight(t *testing.T, allowed []string, origin, method string) *httptest.ResponseRecorder {
	t.Helper()
	h := CORSHandler(allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/earnings/withdrawals", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", method)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	w := preflight(t, []string{"https://app.projectmarket.kz"}, "https://app.projectmarket.kz", http.MethodPost)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.projectmarket.kz" {
		t.Fatalf("expected origin to be allowed, got %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("expected credentials for an explicit origin")
	}
}

func TestCORSRefusesUnknownOriginAndMethod(t *testing.T) {
	w := preflight(t, []string{"https://app.projectmarket.kz"}, "https://evil.example", http.MethodPost)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected unknown origin to be refused, got %q", got)
	}

	w = preflight(t, []string{"https://app.projectmarket.kz"}, "https://app.projectmarket.kz", http.MethodDelete)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("ledger routes never accept DELETE, got allow-origin %q", got)
	}
}

func TestCORSWildcardDropsCredentials(t *testing.T) {
	opts := corsOptions([]string{"*"})
	if opts.AllowCredentials {
		t.Fatal("a wildcard origin must not allow credentials")
	}
	if !corsOptions([]string{"http://localhost:3000"}).AllowCredentials {
		t.Fatal("an explicit origin list keeps credentials")
	}
}
