package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bloomworks/bloom/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Driver: "sqlite"})
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, username string) *model.User {
	t.Helper()
	u := &model.User{
		Username:     username,
		PasswordHash: "$2a$10$not-a-real-hash-but-fine-for-storage",
		Name:         "Test User",
		Role:         model.RoleEditor,
		IsActive:     true,
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func seedToken(t *testing.T, s *Store, userID int64, hash string) *model.APIToken {
	t.Helper()
	tok := &model.APIToken{
		UserID:      userID,
		Name:        "test token",
		TokenHash:   hash,
		TokenPrefix: "tk_deadbeef",
		Permissions: []model.Permission{model.PermissionRead, model.PermissionWrite},
		IsActive:    true,
		ExpiresAt:   time.Now().UTC().Add(24 * time.Hour),
		IPAllowlist: []string{"10.0.0.1", "192.168.1.5"},
		RateLimit:   60,
	}
	if err := s.CreateAPIToken(context.Background(), tok); err != nil {
		t.Fatalf("create api token: %v", err)
	}
	return tok
}

func TestUserRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := seedUser(t, s, "rose")
	if u.ID == 0 {
		t.Fatal("expected ID to be set after insert")
	}

	got, err := s.GetUserByUsername(ctx, "rose")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if got.ID != u.ID || got.Role != model.RoleEditor || !got.IsActive {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := s.GetUserByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing user, got %v", err)
	}
}

func TestHasAnyUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.HasAnyUser(ctx)
	if err != nil {
		t.Fatalf("has any user: %v", err)
	}
	if ok {
		t.Error("fresh store should have no users")
	}

	seedUser(t, s, "rose")

	ok, err = s.HasAnyUser(ctx)
	if err != nil {
		t.Fatalf("has any user: %v", err)
	}
	if !ok {
		t.Error("expected user to be counted")
	}
}

func TestLoginCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "rose")

	if err := s.RecordLoginFailure(ctx, u.ID, nil); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := s.RecordLoginFailure(ctx, u.ID, nil); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.FailedLogins != 2 {
		t.Errorf("failed_logins = %d, want 2", got.FailedLogins)
	}

	lockedUntil := time.Now().UTC().Add(15 * time.Minute)
	if err := s.RecordLoginFailure(ctx, u.ID, &lockedUntil); err != nil {
		t.Fatalf("record failure with lock: %v", err)
	}
	got, _ = s.GetUser(ctx, u.ID)
	if got.LockedUntil == nil {
		t.Fatal("expected locked_until to be set")
	}

	if err := s.RecordLoginSuccess(ctx, u.ID); err != nil {
		t.Fatalf("record success: %v", err)
	}
	got, _ = s.GetUser(ctx, u.ID)
	if got.FailedLogins != 0 {
		t.Errorf("failed_logins after success = %d, want 0", got.FailedLogins)
	}
	if got.LockedUntil != nil {
		t.Error("expected lock to be cleared")
	}
	if got.LastLoginAt == nil {
		t.Error("expected last_login_at to be set")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "rose")
	tok := seedToken(t, s, u.ID, "hash-1")

	got, err := s.GetAPITokenByHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if got.ID != tok.ID {
		t.Errorf("ID = %d, want %d", got.ID, tok.ID)
	}
	if len(got.Permissions) != 2 || got.Permissions[0] != model.PermissionRead {
		t.Errorf("permissions round trip broken: %v", got.Permissions)
	}
	if len(got.IPAllowlist) != 2 || got.IPAllowlist[1] != "192.168.1.5" {
		t.Errorf("ip allowlist round trip broken: %v", got.IPAllowlist)
	}
	if got.RateLimit != 60 {
		t.Errorf("rate limit = %d, want 60", got.RateLimit)
	}

	if _, err := s.GetAPITokenByHash(ctx, "no-such-hash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTokenHashUnique(t *testing.T) {
	s := newTestStore(t)
	u := seedUser(t, s, "rose")
	seedToken(t, s, u.ID, "dup-hash")

	dup := &model.APIToken{
		UserID:      u.ID,
		Name:        "second",
		TokenHash:   "dup-hash",
		TokenPrefix: "tk_cafebabe",
		Permissions: []model.Permission{model.PermissionRead},
		IsActive:    true,
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}
	if err := s.CreateAPIToken(context.Background(), dup); err == nil {
		t.Fatal("expected unique constraint violation on duplicate hash")
	}
}

func TestRevokeIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "rose")
	tok := seedToken(t, s, u.ID, "hash-1")

	if err := s.RevokeAPIToken(ctx, tok.ID, u.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	got, err := s.GetAPIToken(ctx, tok.ID)
	if err != nil {
		t.Fatalf("get after revoke: %v", err)
	}
	if got.IsActive {
		t.Error("expected is_active to be cleared")
	}
	if got.RevokedAt == nil || got.RevokedBy == nil {
		t.Fatal("expected revocation audit fields to be set")
	}
	firstRevokedAt := *got.RevokedAt

	// Second revocation is a no-op and must not rewrite the audit fields.
	if err := s.RevokeAPIToken(ctx, tok.ID, 999); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	got, _ = s.GetAPIToken(ctx, tok.ID)
	if !got.RevokedAt.Equal(firstRevokedAt) {
		t.Error("revoked_at changed on second revocation")
	}
	if *got.RevokedBy != u.ID {
		t.Errorf("revoked_by = %d, want %d", *got.RevokedBy, u.ID)
	}

	if err := s.RevokeAPIToken(ctx, 424242, u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing token, got %v", err)
	}
}

func TestTouchIncrementsAtomically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "rose")
	tok := seedToken(t, s, u.ID, "hash-1")

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.TouchAPIToken(ctx, tok.ID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("touch: %v", err)
		}
	}

	got, err := s.GetAPIToken(ctx, tok.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UsageCount != workers {
		t.Errorf("usage_count = %d, want %d", got.UsageCount, workers)
	}
	if got.LastUsed == nil {
		t.Error("expected last_used to be set")
	}

	if err := s.TouchAPIToken(ctx, 424242); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing token, got %v", err)
	}
}

func TestPostPublishedFiltering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "rose")

	now := time.Now().UTC()
	published := &model.Post{
		Slug:        "spring-bouquets",
		Title:       "Spring Bouquets",
		Body:        "Tulips are in.",
		Tags:        []string{"spring", "tulips"},
		Status:      model.PostPublished,
		AuthorID:    u.ID,
		PublishedAt: &now,
	}
	draft := &model.Post{
		Slug:     "wip-care-guide",
		Title:    "Care Guide",
		Body:     "draft",
		Status:   model.PostDraft,
		AuthorID: u.ID,
	}
	if err := s.CreatePost(ctx, published); err != nil {
		t.Fatalf("create published: %v", err)
	}
	if err := s.CreatePost(ctx, draft); err != nil {
		t.Fatalf("create draft: %v", err)
	}

	all, err := s.ListPosts(ctx, false, 50, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all posts = %d, want 2", len(all))
	}

	pub, err := s.ListPosts(ctx, true, 50, 0)
	if err != nil {
		t.Fatalf("list published: %v", err)
	}
	if len(pub) != 1 || pub[0].Slug != "spring-bouquets" {
		t.Errorf("published list wrong: %+v", pub)
	}
	if len(pub) == 1 && len(pub[0].Tags) != 2 {
		t.Errorf("tags round trip broken: %v", pub[0].Tags)
	}

	got, err := s.GetPublishedPostBySlug(ctx, "spring-bouquets")
	if err != nil {
		t.Fatalf("get published by slug: %v", err)
	}
	if got.ID != published.ID {
		t.Errorf("ID = %d, want %d", got.ID, published.ID)
	}

	// Drafts are invisible through the public slug lookup.
	if _, err := s.GetPublishedPostBySlug(ctx, "wip-care-guide"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for draft slug, got %v", err)
	}
}

func TestSettingsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, model.SettingShopName); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unset key, got %v", err)
	}

	if err := s.SetSetting(ctx, model.SettingShopName, "Bloom & Co"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetSetting(ctx, model.SettingShopName, "Bloom Flowers"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err := s.GetSetting(ctx, model.SettingShopName)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "Bloom Flowers" {
		t.Errorf("value = %q, want %q", got, "Bloom Flowers")
	}

	if err := s.SetSetting(ctx, model.SettingShopPhone, "+1 555 0101"); err != nil {
		t.Fatalf("set second key: %v", err)
	}
	all, err := s.ListSettings(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[model.SettingShopPhone] != "+1 555 0101" {
		t.Errorf("list mismatch: %v", all)
	}
}

func TestSecurityEventFiltering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := &model.SecurityEvent{
		EventType: model.AuditLoginFailure,
		Detail:    "bad password",
		SourceIP:  "10.0.0.9",
	}
	if err := s.AppendSecurityEvent(ctx, old); err != nil {
		t.Fatalf("append: %v", err)
	}
	cutoff := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)
	recent := &model.SecurityEvent{
		EventType: model.AuditTokenCreated,
		Detail:    "token tk_deadbeef",
		SourceIP:  "10.0.0.9",
	}
	if err := s.AppendSecurityEvent(ctx, recent); err != nil {
		t.Fatalf("append: %v", err)
	}

	all, err := s.ListSecurityEvents(ctx, "", time.Time{}, 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all events = %d, want 2", len(all))
	}

	byType, err := s.ListSecurityEvents(ctx, model.AuditLoginFailure, time.Time{}, 100)
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(byType) != 1 || byType[0].Detail != "bad password" {
		t.Errorf("type filter wrong: %+v", byType)
	}

	since, err := s.ListSecurityEvents(ctx, "", cutoff, 100)
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(since) != 1 || since[0].EventType != model.AuditTokenCreated {
		t.Errorf("since filter wrong: %+v", since)
	}
}

func TestWebhookDeliveryLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hook := &model.Webhook{
		URL:      "https://example.com/hook",
		Secret:   "supersecretsigningkey",
		Events:   []string{model.EventSaleCreated},
		IsActive: true,
	}
	if err := s.CreateWebhook(ctx, hook); err != nil {
		t.Fatalf("create webhook: %v", err)
	}

	d := &model.WebhookDelivery{
		WebhookID:  hook.ID,
		Event:      model.EventSaleCreated,
		StatusCode: 204,
		DurationMs: 12,
	}
	if err := s.RecordWebhookDelivery(ctx, d); err != nil {
		t.Fatalf("record delivery: %v", err)
	}

	list, err := s.ListWebhookDeliveries(ctx, hook.ID, 10)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(list) != 1 || list[0].StatusCode != 204 {
		t.Errorf("delivery log wrong: %+v", list)
	}
}
