package handler

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/bloomworks/bloom/internal/model"
)

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, 404, "post not found")

	if rec.Code != 404 {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var resp model.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != 404 || resp.Error.Message != "post not found" {
		t.Errorf("envelope = %+v", resp.Error)
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest("GET", "/posts?limit=25&offset=junk", nil)
	if got := queryInt(r, "limit", 20); got != 25 {
		t.Errorf("limit = %d, want 25", got)
	}
	if got := queryInt(r, "offset", 0); got != 0 {
		t.Errorf("unparseable offset = %d, want default 0", got)
	}
	if got := queryInt(r, "missing", 7); got != 7 {
		t.Errorf("missing param = %d, want default 7", got)
	}
}

func TestClampInt(t *testing.T) {
	cases := []struct{ val, min, max, want int }{
		{5, 1, 10, 5},
		{-3, 1, 10, 1},
		{500, 1, 100, 100},
	}
	for _, tc := range cases {
		if got := clampInt(tc.val, tc.min, tc.max); got != tc.want {
			t.Errorf("clampInt(%d, %d, %d) = %d, want %d", tc.val, tc.min, tc.max, got, tc.want)
		}
	}
}

func TestIsDuplicate(t *testing.T) {
	for _, msg := range []string{
		"UNIQUE constraint failed: posts.slug",
		`pq: duplicate key value violates unique constraint "posts_slug_key"`,
		"Error 1062: Duplicate entry 'x' for key 'slug'",
	} {
		if !isDuplicate(errors.New(msg)) {
			t.Errorf("expected duplicate for %q", msg)
		}
	}
	if isDuplicate(nil) {
		t.Error("nil is not a duplicate")
	}
	if isDuplicate(errors.New("connection refused")) {
		t.Error("unrelated error flagged as duplicate")
	}
}

func TestPostRequestValidate(t *testing.T) {
	valid := postRequest{Slug: "spring-bouquets", Title: "Spring", Status: model.PostDraft}
	if err := valid.validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	cases := []struct {
		name string
		req  postRequest
	}{
		{"missing title", postRequest{Slug: "ok-slug", Status: model.PostDraft}},
		{"uppercase slug", postRequest{Slug: "Spring", Title: "x", Status: model.PostDraft}},
		{"trailing hyphen", postRequest{Slug: "spring-", Title: "x", Status: model.PostDraft}},
		{"empty slug", postRequest{Slug: "", Title: "x", Status: model.PostDraft}},
		{"bad status", postRequest{Slug: "ok", Title: "x", Status: "archived"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.req.validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestWebhookRequestValidate(t *testing.T) {
	valid := webhookRequest{
		URL:    "https://example.com/hook",
		Secret: "sixteen-char-key",
		Events: []string{model.EventSaleCreated},
	}
	if err := valid.validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	cases := []struct {
		name string
		req  webhookRequest
	}{
		{"ftp scheme", webhookRequest{URL: "ftp://example.com", Secret: "sixteen-char-key", Events: []string{model.EventSaleCreated}}},
		{"no host", webhookRequest{URL: "https://", Secret: "sixteen-char-key", Events: []string{model.EventSaleCreated}}},
		{"short secret", webhookRequest{URL: "https://example.com", Secret: "short", Events: []string{model.EventSaleCreated}}},
		{"no events", webhookRequest{URL: "https://example.com", Secret: "sixteen-char-key"}},
		{"unknown event", webhookRequest{URL: "https://example.com", Secret: "sixteen-char-key", Events: []string{"sale.exploded"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.req.validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestProductRequestValidate(t *testing.T) {
	valid := productRequest{Name: "Rose bouquet", Price: 4500, Stock: 3}
	if err := valid.validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}
	if err := (&productRequest{Price: 100}).validate(); err == nil {
		t.Error("missing name accepted")
	}
	if err := (&productRequest{Name: "x", Price: -1}).validate(); err == nil {
		t.Error("negative price accepted")
	}
	if err := (&productRequest{Name: "x", Stock: -1}).validate(); err == nil {
		t.Error("negative stock accepted")
	}
}
