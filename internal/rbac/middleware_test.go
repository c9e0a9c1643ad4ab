package rbac

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-saas/meridian/internal/tenant"
)

func newGuardedServer(t *testing.T, store *fakeStore, gate *Gate) *httptest.Server {
	t.Helper()
	mw := Middleware{Gate: gate, User: HeaderUserResolver("X-User-ID")}

	r := chi.NewRouter()
	r.Use(tenant.Middleware("X-Tenant-ID", nil))
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAny("docs.view", "docs.edit"))
		r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAll("docs.edit", "docs.publish"))
		r.Post("/docs/publish", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url string, userID int64) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Tenant-ID", "acme")
	if userID > 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestMiddlewareAuthorization(t *testing.T) {
	store, gate, _ := newGateHarness(t)
	viewer := store.addUser(true, false)
	editor := store.addUser(true, false)

	viewRole := store.addRole("viewer", false, StateActive)
	editRole := store.addRole("editor", false, StateActive)
	viewPerm := store.addPermission("docs.view", StateActive)
	editPerm := store.addPermission("docs.edit", StateActive)
	publishPerm := store.addPermission("docs.publish", StateActive)
	store.link(viewRole, viewPerm, StateActive)
	store.link(editRole, editPerm, StateActive)
	store.link(editRole, publishPerm, StateActive)
	store.grant(viewer, viewRole, StateActive)
	store.grant(editor, editRole, StateActive)

	srv := newGuardedServer(t, store, gate)

	if code := doRequest(t, http.MethodGet, srv.URL+"/docs", viewer); code != http.StatusOK {
		t.Fatalf("viewer GET /docs: expected 200, got %d", code)
	}
	if code := doRequest(t, http.MethodPost, srv.URL+"/docs/publish", viewer); code != http.StatusForbidden {
		t.Fatalf("viewer POST /docs/publish: expected 403, got %d", code)
	}
	if code := doRequest(t, http.MethodPost, srv.URL+"/docs/publish", editor); code != http.StatusOK {
		t.Fatalf("editor POST /docs/publish: expected 200, got %d", code)
	}
	if code := doRequest(t, http.MethodGet, srv.URL+"/docs", 0); code != http.StatusForbidden {
		t.Fatalf("missing user header: expected 403, got %d", code)
	}
	if code := doRequest(t, http.MethodGet, srv.URL+"/docs", 999); code != http.StatusForbidden {
		t.Fatalf("unknown user: expected 403, got %d", code)
	}
}

func TestMiddlewareRequiresTenantHeader(t *testing.T) {
	store, gate, _ := newGateHarness(t)
	userID := store.addUser(true, true)
	srv := newGuardedServer(t, store, gate)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/docs", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without tenant header, got %d", resp.StatusCode)
	}
}

func TestHeaderUserResolver(t *testing.T) {
	resolve := HeaderUserResolver("X-User-ID")
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	if _, ok := resolve(req); ok {
		t.Fatal("missing header must not resolve")
	}
	req.Header.Set("X-User-ID", "abc")
	if _, ok := resolve(req); ok {
		t.Fatal("non-numeric id must not resolve")
	}
	req.Header.Set("X-User-ID", "-4")
	if _, ok := resolve(req); ok {
		t.Fatal("negative id must not resolve")
	}
	req.Header.Set("X-User-ID", " 42 ")
	id, ok := resolve(req)
	if !ok || id != 42 {
		t.Fatalf("expected 42, got %d %v", id, ok)
	}
}
