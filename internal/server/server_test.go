package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/bloomworks/bloom/internal/auth"
	"github.com/bloomworks/bloom/internal/deepseek"
	"github.com/bloomworks/bloom/internal/model"
	"github.com/bloomworks/bloom/internal/ratelimit"
	"github.com/bloomworks/bloom/internal/store"
	"github.com/bloomworks/bloom/internal/webhook"
)

const testPassword = "correct-horse-battery"

type testEnv struct {
	store  *store.Store
	auth   *auth.Service
	server *Server
}

// newTestEnv builds a full server against an in-memory store, with the real
// middleware chain mounted.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(store.Options{Driver: "sqlite"})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := auth.NewService(st, "test-jwt-secret", time.Hour, logger)

	cfg := DefaultConfig()
	cfg.GlobalRateLimit = 0 // not under test here
	srv := New(cfg, Deps{
		Store:      st,
		Auth:       authSvc,
		Counter:    ratelimit.NewMemoryCounter(),
		AI:         deepseek.New(""),
		Dispatcher: webhook.NewDispatcher(st, logger),
	}, logger)

	return &testEnv{store: st, auth: authSvc, server: srv}
}

func (e *testEnv) seedUser(t *testing.T, username string, role model.Role) *model.User {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := &model.User{
		Username:     username,
		PasswordHash: hash,
		Name:         "Test " + username,
		Role:         role,
		IsActive:     true,
	}
	if err := e.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seedUser: %v", err)
	}
	return user
}

// login returns a session token for the given seeded user.
func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	rr := e.do(t, "POST", "/api/v1/session", "", toJSON(t, map[string]string{
		"username": username,
		"password": testPassword,
	}))
	assertStatus(t, rr, http.StatusOK)
	var resp struct {
		Token string `json:"session_token"`
	}
	decodeJSON(t, rr, &resp)
	return resp.Token
}

// do executes a request through the full router. bearer may be empty.
func (e *testEnv) do(t *testing.T, method, path, bearer string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "203.0.113.7:4000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Health and docs
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/healthz", "", nil)
	assertStatus(t, rr, http.StatusOK)
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/readyz", "", nil)
	assertStatus(t, rr, http.StatusOK)
}

func TestOpenAPIServed(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/openapi.json", "", nil)
	assertStatus(t, rr, http.StatusOK)

	var doc struct {
		OpenAPI string `json:"openapi"`
	}
	decodeJSON(t, rr, &doc)
	if doc.OpenAPI == "" {
		t.Error("expected openapi version field")
	}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestLoginAndSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "anna", model.RoleManager)

	session := env.login(t, "anna")
	if session == "" {
		t.Fatal("expected session token")
	}

	rr := env.do(t, "GET", "/api/v1/tokens", session, nil)
	assertStatus(t, rr, http.StatusOK)
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "anna", model.RoleManager)

	rr := env.do(t, "POST", "/api/v1/session", "", toJSON(t, map[string]string{
		"username": "anna",
		"password": "wrong",
	}))
	assertStatus(t, rr, http.StatusUnauthorized)
}

// ---------------------------------------------------------------------------
// API token lifecycle through the HTTP surface
// ---------------------------------------------------------------------------

func TestTokenLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "anna", model.RoleManager)
	session := env.login(t, "anna")

	// Create.
	rr := env.do(t, "POST", "/api/v1/tokens", session, toJSON(t, map[string]interface{}{
		"name":        "integration",
		"permissions": []string{"read", "write"},
	}))
	assertStatus(t, rr, http.StatusCreated)

	var created struct {
		Token struct {
			ID          int64  `json:"id"`
			TokenPrefix string `json:"token_prefix"`
		} `json:"token"`
		Raw     string `json:"raw_token"`
		Warning string `json:"warning"`
	}
	decodeJSON(t, rr, &created)
	if created.Raw == "" || created.Warning == "" {
		t.Fatal("expected raw token and warning in create response")
	}

	// The raw token authenticates.
	rr = env.do(t, "GET", "/api/v1/tokens", created.Raw, nil)
	assertStatus(t, rr, http.StatusOK)
	var listed struct {
		Resource []model.APIToken `json:"resource"`
	}
	decodeJSON(t, rr, &listed)
	if len(listed.Resource) != 1 {
		t.Fatalf("tokens listed: got %d, want 1", len(listed.Resource))
	}
	if listed.Resource[0].TokenPrefix != created.Token.TokenPrefix {
		t.Errorf("prefix mismatch: %q vs %q", listed.Resource[0].TokenPrefix, created.Token.TokenPrefix)
	}

	// Revoke, twice: second call is a safe no-op.
	path := "/api/v1/tokens/" + itoa(created.Token.ID)
	assertStatus(t, env.do(t, "DELETE", path, session, nil), http.StatusOK)
	assertStatus(t, env.do(t, "DELETE", path, session, nil), http.StatusOK)

	// The revoked token no longer authenticates.
	rr = env.do(t, "GET", "/api/v1/tokens", created.Raw, nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestTokenCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "anna", model.RoleManager)
	session := env.login(t, "anna")

	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"empty name", map[string]interface{}{"name": "", "permissions": []string{"read"}}},
		{"no permissions", map[string]interface{}{"name": "x", "permissions": []string{}}},
		{"unknown permission", map[string]interface{}{"name": "x", "permissions": []string{"root"}}},
		{"bad ip", map[string]interface{}{"name": "x", "permissions": []string{"read"}, "ip_allowlist": []string{"not-an-ip"}}},
		{"ttl too long", map[string]interface{}{"name": "x", "permissions": []string{"read"}, "expires_in_days": 1000}},
		{"rate limit too high", map[string]interface{}{"name": "x", "permissions": []string{"read"}, "rate_limit": 99999}},
		{"expiry in the past", map[string]interface{}{"name": "x", "permissions": []string{"read"},
			"expires_at": time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)}},
		{"expiry beyond a year", map[string]interface{}{"name": "x", "permissions": []string{"read"},
			"expires_at": time.Now().UTC().Add(400 * 24 * time.Hour).Format(time.RFC3339)}},
		{"both expiry forms", map[string]interface{}{"name": "x", "permissions": []string{"read"},
			"expires_at": time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339), "expires_in_days": 30}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/v1/tokens", session, toJSON(t, tc.body))
			assertStatus(t, rr, http.StatusBadRequest)
		})
	}
}

func TestTokenCreateExpiresAt(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "anna", model.RoleManager)
	session := env.login(t, "anna")

	requested := time.Now().UTC().Add(200 * 24 * time.Hour).Truncate(time.Second)
	rr := env.do(t, "POST", "/api/v1/tokens", session, toJSON(t, map[string]interface{}{
		"name":        "scheduled rotation",
		"permissions": []string{"read"},
		"expires_at":  requested.Format(time.RFC3339),
	}))
	assertStatus(t, rr, http.StatusCreated)

	var created struct {
		Token model.APIToken `json:"token"`
	}
	decodeJSON(t, rr, &created)
	if !created.Token.ExpiresAt.Equal(requested) {
		t.Errorf("expires_at = %s, want the requested %s", created.Token.ExpiresAt, requested)
	}
}

func TestTokenCreateMultibyteName(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "anna", model.RoleManager)
	session := env.login(t, "anna")

	// 60 characters, 120 bytes: counted as characters, not bytes.
	name := ""
	for i := 0; i < 60; i++ {
		name += "ц"
	}
	rr := env.do(t, "POST", "/api/v1/tokens", session, toJSON(t, map[string]interface{}{
		"name":        name,
		"permissions": []string{"read"},
	}))
	assertStatus(t, rr, http.StatusCreated)
}

func TestTokenValidateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "anna", model.RoleManager)
	session := env.login(t, "anna")

	rr := env.do(t, "POST", "/api/v1/tokens", session, toJSON(t, map[string]interface{}{
		"name":        "diag",
		"permissions": []string{"read"},
	}))
	assertStatus(t, rr, http.StatusCreated)
	var created struct {
		Raw string `json:"raw_token"`
	}
	decodeJSON(t, rr, &created)

	rr = env.do(t, "POST", "/api/v1/tokens/validate", session, toJSON(t, map[string]string{
		"token": created.Raw,
	}))
	assertStatus(t, rr, http.StatusOK)
	var result struct {
		Valid bool `json:"valid"`
	}
	decodeJSON(t, rr, &result)
	if !result.Valid {
		t.Error("expected token to validate")
	}

	rr = env.do(t, "POST", "/api/v1/tokens/validate", session, toJSON(t, map[string]string{
		"token": "tk_00000000_0000000000000000000000000000000000000000000000000000000000000000",
	}))
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &result)
	if result.Valid {
		t.Error("expected unknown token to be invalid")
	}
}

// ---------------------------------------------------------------------------
// Role and permission gates
// ---------------------------------------------------------------------------

func TestRoleGates(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "root", model.RoleSuperAdmin)
	env.seedUser(t, "manager", model.RoleManager)
	env.seedUser(t, "editor", model.RoleEditor)

	rootSession := env.login(t, "root")
	managerSession := env.login(t, "manager")
	editorSession := env.login(t, "editor")

	// Editors write the blog but cannot touch sales.
	assertStatus(t, env.do(t, "GET", "/api/v1/admin/posts", editorSession, nil), http.StatusOK)
	assertStatus(t, env.do(t, "GET", "/api/v1/admin/sales", editorSession, nil), http.StatusForbidden)

	// Managers run the CRM but not user administration.
	assertStatus(t, env.do(t, "GET", "/api/v1/admin/sales", managerSession, nil), http.StatusOK)
	assertStatus(t, env.do(t, "GET", "/api/v1/admin/users", managerSession, nil), http.StatusForbidden)

	// Super admins see everything.
	assertStatus(t, env.do(t, "GET", "/api/v1/admin/users", rootSession, nil), http.StatusOK)
	assertStatus(t, env.do(t, "GET", "/api/v1/admin/audit", rootSession, nil), http.StatusOK)
}

func TestTokenPermissionGates(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "anna", model.RoleSuperAdmin)
	session := env.login(t, "anna")

	rr := env.do(t, "POST", "/api/v1/tokens", session, toJSON(t, map[string]interface{}{
		"name":        "read only",
		"permissions": []string{"read"},
	}))
	assertStatus(t, rr, http.StatusCreated)
	var created struct {
		Raw string `json:"raw_token"`
	}
	decodeJSON(t, rr, &created)

	// A read-only token lists its own tokens but cannot create more, and
	// the admin permission gate keeps it off the admin surface even though
	// its owner is a super admin.
	assertStatus(t, env.do(t, "GET", "/api/v1/tokens", created.Raw, nil), http.StatusOK)
	rr = env.do(t, "POST", "/api/v1/tokens", created.Raw, toJSON(t, map[string]interface{}{
		"name":        "escalation",
		"permissions": []string{"admin"},
	}))
	assertStatus(t, rr, http.StatusForbidden)
	assertStatus(t, env.do(t, "GET", "/api/v1/admin/users", created.Raw, nil), http.StatusForbidden)
}

// ---------------------------------------------------------------------------
// Public storefront
// ---------------------------------------------------------------------------

func TestPublicSurface(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "anna", model.RoleEditor)

	published := &model.Post{
		Slug: "peony-season", Title: "Peony Season", Body: "They are here.",
		Status: model.PostPublished, AuthorID: user.ID,
	}
	now := time.Now().UTC()
	published.PublishedAt = &now
	draft := &model.Post{
		Slug: "secret-draft", Title: "Draft", Status: model.PostDraft, AuthorID: user.ID,
	}
	for _, p := range []*model.Post{published, draft} {
		if err := env.store.CreatePost(context.Background(), p); err != nil {
			t.Fatalf("CreatePost: %v", err)
		}
	}

	rr := env.do(t, "GET", "/api/v1/posts", "", nil)
	assertStatus(t, rr, http.StatusOK)
	var posts struct {
		Resource []model.Post `json:"resource"`
	}
	decodeJSON(t, rr, &posts)
	if len(posts.Resource) != 1 || posts.Resource[0].Slug != "peony-season" {
		t.Errorf("public list should contain only the published post, got %+v", posts.Resource)
	}

	assertStatus(t, env.do(t, "GET", "/api/v1/posts/peony-season", "", nil), http.StatusOK)
	assertStatus(t, env.do(t, "GET", "/api/v1/posts/secret-draft", "", nil), http.StatusNotFound)

	// Unconfigured chat degrades to 503, not an error page.
	rr = env.do(t, "POST", "/api/v1/chat", "", toJSON(t, map[string]string{"message": "hi"}))
	assertStatus(t, rr, http.StatusServiceUnavailable)
}

func TestSiteSettingsWhitelist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.store.SetSetting(ctx, model.SettingShopName, "Bloom"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := env.store.SetSetting(ctx, model.SettingDeepSeekKey, "sk-secret"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}

	rr := env.do(t, "GET", "/api/v1/site", "", nil)
	assertStatus(t, rr, http.StatusOK)

	var site map[string]string
	decodeJSON(t, rr, &site)
	if site[model.SettingShopName] != "Bloom" {
		t.Errorf("expected shop name, got %v", site)
	}
	if _, leaked := site[model.SettingDeepSeekKey]; leaked {
		t.Error("secret setting leaked through the public endpoint")
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
