package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bloomworks/bloom/internal/model"
	"github.com/bloomworks/bloom/internal/store"
	"github.com/bloomworks/bloom/internal/token"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Options{Driver: "sqlite"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(st, "test-secret-key-for-jwt", time.Hour, logger), st
}

func createTestUser(t *testing.T, st *store.Store, username, password string, active bool) *model.User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &model.User{
		Username:     username,
		PasswordHash: hash,
		Name:         "Test User",
		Role:         model.RoleManager,
		IsActive:     active,
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func createTestToken(t *testing.T, st *store.Store, userID int64, mutate func(*model.APIToken)) (string, *model.APIToken) {
	t.Helper()
	cred, err := token.Generate()
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	tok := &model.APIToken{
		UserID:      userID,
		Name:        "test token",
		TokenHash:   cred.Hash,
		TokenPrefix: cred.Prefix,
		Permissions: []model.Permission{model.PermissionRead, model.PermissionWrite},
		IsActive:    true,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	if mutate != nil {
		mutate(tok)
	}
	if err := st.CreateAPIToken(context.Background(), tok); err != nil {
		t.Fatalf("create api token: %v", err)
	}
	return cred.Raw, tok
}

func TestSessionRoundTrip(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := createTestUser(t, st, "anna", "correct horse battery", true)

	session, err := svc.IssueSession(user)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if session == "" {
		t.Fatal("expected non-empty session token")
	}

	principal, err := svc.ValidateSession(ctx, session)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if principal.Kind != KindSession {
		t.Errorf("Kind: got %q, want %q", principal.Kind, KindSession)
	}
	if principal.User.ID != user.ID {
		t.Errorf("User.ID: got %d, want %d", principal.User.ID, user.ID)
	}
}

func TestSessionInactiveUserRejected(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := createTestUser(t, st, "anna", "pw123456", true)

	session, err := svc.IssueSession(user)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	user.IsActive = false
	if err := st.UpdateUser(ctx, user); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	if _, err := svc.ValidateSession(ctx, session); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSessionGarbageRejected(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.ValidateSession(context.Background(), "not.a.jwt"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateAPIToken(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := createTestUser(t, st, "anna", "pw123456", true)
	raw, tok := createTestToken(t, st, user.ID, nil)

	principal, err := svc.ValidateAPIToken(ctx, raw, "203.0.113.7")
	if err != nil {
		t.Fatalf("ValidateAPIToken: %v", err)
	}
	if principal.Kind != KindAPIToken {
		t.Errorf("Kind: got %q, want %q", principal.Kind, KindAPIToken)
	}
	if principal.Token.ID != tok.ID {
		t.Errorf("Token.ID: got %d, want %d", principal.Token.ID, tok.ID)
	}
	if principal.User.ID != user.ID {
		t.Errorf("User.ID: got %d, want %d", principal.User.ID, user.ID)
	}

	// Usage accounting.
	stored, err := st.GetAPIToken(ctx, tok.ID)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if stored.UsageCount != 1 {
		t.Errorf("UsageCount: got %d, want 1", stored.UsageCount)
	}
	if stored.LastUsed == nil {
		t.Error("expected LastUsed to be set")
	}
}

func TestValidateAPITokenRejections(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := createTestUser(t, st, "anna", "pw123456", true)
	inactive := createTestUser(t, st, "boris", "pw123456", false)

	expiredRaw, _ := createTestToken(t, st, user.ID, func(tok *model.APIToken) {
		tok.ExpiresAt = time.Now().Add(-time.Minute)
	})
	revokedRaw, revoked := createTestToken(t, st, user.ID, nil)
	if err := st.RevokeAPIToken(ctx, revoked.ID, user.ID); err != nil {
		t.Fatalf("RevokeAPIToken: %v", err)
	}
	orphanRaw, _ := createTestToken(t, st, inactive.ID, nil)
	unknown, err := token.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	cases := []struct {
		name string
		raw  string
	}{
		{"malformed", "tk_nothex"},
		{"unknown", unknown.Raw},
		{"expired", expiredRaw},
		{"revoked", revokedRaw},
		{"inactive owner", orphanRaw},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ValidateAPIToken(ctx, tc.raw, "203.0.113.7")
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestValidateAPITokenIPAllowlist(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := createTestUser(t, st, "anna", "pw123456", true)
	raw, _ := createTestToken(t, st, user.ID, func(tok *model.APIToken) {
		tok.IPAllowlist = []string{"192.0.2.10"}
	})

	if _, err := svc.ValidateAPIToken(ctx, raw, "192.0.2.10"); err != nil {
		t.Fatalf("allowed IP rejected: %v", err)
	}

	_, err := svc.ValidateAPIToken(ctx, raw, "203.0.113.7")
	if !errors.Is(err, ErrIPNotAllowed) {
		t.Errorf("expected ErrIPNotAllowed, got %v", err)
	}

	// The allowlist miss is the distinguishable failure; it must not be
	// folded into the generic class.
	if errors.Is(err, ErrInvalidCredentials) {
		t.Error("ErrIPNotAllowed must be distinct from ErrInvalidCredentials")
	}
}

func TestAuthenticateDispatch(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := createTestUser(t, st, "anna", "pw123456", true)
	raw, _ := createTestToken(t, st, user.ID, nil)

	p, err := svc.Authenticate(ctx, raw, "203.0.113.7")
	if err != nil {
		t.Fatalf("Authenticate(api token): %v", err)
	}
	if p.Kind != KindAPIToken {
		t.Errorf("Kind: got %q, want %q", p.Kind, KindAPIToken)
	}

	session, err := svc.IssueSession(user)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	p, err = svc.Authenticate(ctx, session, "203.0.113.7")
	if err != nil {
		t.Fatalf("Authenticate(session): %v", err)
	}
	if p.Kind != KindSession {
		t.Errorf("Kind: got %q, want %q", p.Kind, KindSession)
	}
}

func TestLogin(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	createTestUser(t, st, "anna", "correct horse battery", true)

	session, user, err := svc.Login(ctx, "anna", "correct horse battery", "203.0.113.7")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session == "" {
		t.Fatal("expected non-empty session")
	}
	if user.Username != "anna" {
		t.Errorf("Username: got %q, want %q", user.Username, "anna")
	}

	if _, _, err := svc.Login(ctx, "anna", "wrong", "203.0.113.7"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody", "whatever", "203.0.113.7"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginLockout(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := createTestUser(t, st, "anna", "pw123456", true)

	for i := 0; i < maxFailedLogins; i++ {
		if _, _, err := svc.Login(ctx, "anna", "wrong", "203.0.113.7"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	// Even the correct password is refused while locked.
	if _, _, err := svc.Login(ctx, "anna", "pw123456", "203.0.113.7"); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("expected ErrAccountLocked, got %v", err)
	}

	stored, err := st.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if stored.FailedLogins != maxFailedLogins {
		t.Errorf("FailedLogins: got %d, want %d", stored.FailedLogins, maxFailedLogins)
	}
	if stored.LockedUntil == nil {
		t.Error("expected LockedUntil to be set")
	}
}

func TestLoginAudited(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	createTestUser(t, st, "anna", "pw123456", true)

	if _, _, err := svc.Login(ctx, "anna", "wrong", "203.0.113.7"); err == nil {
		t.Fatal("expected login failure")
	}
	if _, _, err := svc.Login(ctx, "anna", "pw123456", "203.0.113.7"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	failures, err := st.ListSecurityEvents(ctx, model.AuditLoginFailure, time.Time{}, 10)
	if err != nil {
		t.Fatalf("ListSecurityEvents: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("login_failure events: got %d, want 1", len(failures))
	}
	if failures[0].SourceIP != "203.0.113.7" {
		t.Errorf("SourceIP: got %q, want %q", failures[0].SourceIP, "203.0.113.7")
	}

	successes, err := st.ListSecurityEvents(ctx, model.AuditLoginSuccess, time.Time{}, 10)
	if err != nil {
		t.Fatalf("ListSecurityEvents: %v", err)
	}
	if len(successes) != 1 {
		t.Fatalf("login_success events: got %d, want 1", len(successes))
	}
}

func TestPrincipalHasPermission(t *testing.T) {
	session := &Principal{Kind: KindSession, User: &model.User{Role: model.RoleEditor}}
	if !session.HasPermission(model.PermissionAdmin) {
		t.Error("session principals are not permission-restricted")
	}

	tok := &Principal{
		Kind:  KindAPIToken,
		Token: &model.APIToken{Permissions: []model.Permission{model.PermissionRead}},
	}
	if !tok.HasPermission(model.PermissionRead) {
		t.Error("expected read permission")
	}
	if tok.HasPermission(model.PermissionWrite) {
		t.Error("unexpected write permission")
	}
}
