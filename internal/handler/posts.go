package handler

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bloomworks/bloom/internal/deepseek"
	"github.com/bloomworks/bloom/internal/model"
	"github.com/bloomworks/bloom/internal/server/middleware"
	"github.com/bloomworks/bloom/internal/store"
	"github.com/bloomworks/bloom/internal/webhook"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// PostHandler serves the blog: public read access to published posts and
// the admin CRUD surface, including AI-assisted draft generation.
type PostHandler struct {
	store      *store.Store
	ai         *deepseek.Client
	dispatcher *webhook.Dispatcher
}

func NewPostHandler(st *store.Store, ai *deepseek.Client, dispatcher *webhook.Dispatcher) *PostHandler {
	return &PostHandler{store: st, ai: ai, dispatcher: dispatcher}
}

// ListPublished returns published posts, newest first.
// GET /api/v1/posts
func (h *PostHandler) ListPublished(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", 20), 1, 100)
	offset := queryInt(r, "offset", 0)

	posts, err := h.store.ListPosts(r.Context(), true, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: posts,
		Meta:     &model.ResponseMeta{Count: len(posts), Limit: limit, Offset: offset},
	})
}

// GetBySlug returns one published post.
// GET /api/v1/posts/{slug}
func (h *PostHandler) GetBySlug(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	post, err := h.store.GetPublishedPostBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load post")
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// ListAll returns every post including drafts, for the admin console.
// GET /api/v1/admin/posts
func (h *PostHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", 50), 1, 200)
	offset := queryInt(r, "offset", 0)

	posts, err := h.store.ListPosts(r.Context(), false, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: posts,
		Meta:     &model.ResponseMeta{Count: len(posts), Limit: limit, Offset: offset},
	})
}

// Get returns one post by ID, draft or published.
// GET /api/v1/admin/posts/{id}
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	post, err := h.store.GetPost(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load post")
		return
	}
	writeJSON(w, http.StatusOK, post)
}

type postRequest struct {
	Slug     string           `json:"slug"`
	Title    string           `json:"title"`
	Excerpt  string           `json:"excerpt"`
	Body     string           `json:"body"`
	CoverURL string           `json:"cover_url"`
	Tags     []string         `json:"tags"`
	Status   model.PostStatus `json:"status"`
}

func (req *postRequest) validate() error {
	if req.Title == "" {
		return errors.New("title is required")
	}
	if !slugPattern.MatchString(req.Slug) {
		return errors.New("slug must be lowercase words separated by hyphens")
	}
	if req.Status != model.PostDraft && req.Status != model.PostPublished {
		return fmt.Errorf("unknown status %q", req.Status)
	}
	return nil
}

// Create adds a post.
// POST /api/v1/admin/posts
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	var req postRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	post := &model.Post{
		Slug:     req.Slug,
		Title:    req.Title,
		Excerpt:  req.Excerpt,
		Body:     req.Body,
		CoverURL: req.CoverURL,
		Tags:     req.Tags,
		Status:   req.Status,
		AuthorID: principal.User.ID,
	}
	if post.Status == model.PostPublished {
		now := time.Now().UTC()
		post.PublishedAt = &now
	}

	if err := h.store.CreatePost(r.Context(), post); err != nil {
		if isDuplicate(err) {
			writeError(w, http.StatusConflict, "slug already in use")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create post")
		return
	}

	if post.Status == model.PostPublished {
		h.dispatcher.Emit(r.Context(), model.EventPostPublished, post)
	}
	writeJSON(w, http.StatusCreated, post)
}

// Update modifies a post. Publishing a draft stamps published_at and emits
// the post.published event.
// PUT /api/v1/admin/posts/{id}
func (h *PostHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	post, err := h.store.GetPost(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load post")
		return
	}

	var req postRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	justPublished := post.Status == model.PostDraft && req.Status == model.PostPublished

	post.Slug = req.Slug
	post.Title = req.Title
	post.Excerpt = req.Excerpt
	post.Body = req.Body
	post.CoverURL = req.CoverURL
	post.Tags = req.Tags
	post.Status = req.Status
	if justPublished {
		now := time.Now().UTC()
		post.PublishedAt = &now
	}

	if err := h.store.UpdatePost(r.Context(), post); err != nil {
		if isDuplicate(err) {
			writeError(w, http.StatusConflict, "slug already in use")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update post")
		return
	}

	if justPublished {
		h.dispatcher.Emit(r.Context(), model.EventPostPublished, post)
	}
	writeJSON(w, http.StatusOK, post)
}

// Delete removes a post.
// DELETE /api/v1/admin/posts/{id}
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	if err := h.store.DeletePost(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete post")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type generateRequest struct {
	Topic string `json:"topic"`
	Notes string `json:"notes,omitempty"`
}

// Generate drafts blog body text for a topic using the chat model. The
// result is returned to the editor for review, never published directly.
// POST /api/v1/admin/posts/generate
func (h *PostHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	prompt := "Write a blog post for a flower shop website about: " + req.Topic
	if req.Notes != "" {
		prompt += "\nAdditional notes: " + req.Notes
	}

	body, err := h.ai.Complete(r.Context(), []deepseek.Message{
		{Role: "system", Content: "You are a copywriter for a flower shop. Write warm, concise blog posts in plain prose."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		if errors.Is(err, deepseek.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "text generation is not configured")
			return
		}
		writeError(w, http.StatusBadGateway, "text generation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"body": body})
}
