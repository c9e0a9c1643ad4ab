package tenant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := WithTenant(context.Background(), "acme")
	id, ok := FromContext(ctx)
	if !ok || id != "acme" {
		t.Fatalf("got %q %v", id, ok)
	}
	id, err := MustFromContext(ctx)
	if err != nil || id != "acme" {
		t.Fatalf("got %q %v", id, err)
	}
}

func TestMissingTenant(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("empty context must not carry a tenant")
	}
	if _, err := MustFromContext(context.Background()); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("  ACME-Corp  "); got != "acme-corp" {
		t.Fatalf("got %q", got)
	}
	if got := Normalize("   "); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestMiddleware(t *testing.T) {
	var seen string
	handler := Middleware("X-Tenant-ID", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "Acme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen != "acme" {
		t.Fatalf("expected normalized tenant, got %q", seen)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without header, got %d", rec.Code)
	}
}
