package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bloomworks/bloom/internal/model"
)

// postRow maps 1:1 to the posts table; tags are stored JSON-encoded.
type postRow struct {
	ID          int64      `db:"id"`
	Slug        string     `db:"slug"`
	Title       string     `db:"title"`
	Excerpt     string     `db:"excerpt"`
	Body        string     `db:"body"`
	CoverURL    string     `db:"cover_url"`
	TagsJSON    string     `db:"tags_json"`
	Status      string     `db:"status"`
	AuthorID    int64      `db:"author_id"`
	PublishedAt *time.Time `db:"published_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

func postRowFromModel(p *model.Post) (postRow, error) {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return postRow{}, fmt.Errorf("marshal tags: %w", err)
	}
	return postRow{
		ID:          p.ID,
		Slug:        p.Slug,
		Title:       p.Title,
		Excerpt:     p.Excerpt,
		Body:        p.Body,
		CoverURL:    p.CoverURL,
		TagsJSON:    string(tagsJSON),
		Status:      string(p.Status),
		AuthorID:    p.AuthorID,
		PublishedAt: p.PublishedAt,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

func (r postRow) toModel() (model.Post, error) {
	var tags []string
	if r.TagsJSON != "" && r.TagsJSON != "[]" {
		if err := json.Unmarshal([]byte(r.TagsJSON), &tags); err != nil {
			return model.Post{}, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if tags == nil {
		tags = []string{}
	}
	return model.Post{
		ID:          r.ID,
		Slug:        r.Slug,
		Title:       r.Title,
		Excerpt:     r.Excerpt,
		Body:        r.Body,
		CoverURL:    r.CoverURL,
		Tags:        tags,
		Status:      model.PostStatus(r.Status),
		AuthorID:    r.AuthorID,
		PublishedAt: r.PublishedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

// CreatePost inserts a new blog post. The ID, CreatedAt, and UpdatedAt
// fields are populated after a successful insert.
func (s *Store) CreatePost(ctx context.Context, p *model.Post) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	row, err := postRowFromModel(p)
	if err != nil {
		return err
	}

	const q = `INSERT INTO posts
		(slug, title, excerpt, body, cover_url, tags_json, status, author_id, published_at, created_at, updated_at)
		VALUES
		(:slug, :title, :excerpt, :body, :cover_url, :tags_json, :status, :author_id, :published_at, :created_at, :updated_at)`

	id, err := s.insert(ctx, q, row)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	p.ID = id
	return nil
}

// GetPost returns a post by ID, drafts included.
func (s *Store) GetPost(ctx context.Context, id int64) (*model.Post, error) {
	var row postRow
	if err := s.db.GetContext(ctx, &row, s.rebind("SELECT * FROM posts WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	p, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPublishedPostBySlug returns a published post by its slug. Drafts are
// not found through this lookup.
func (s *Store) GetPublishedPostBySlug(ctx context.Context, slug string) (*model.Post, error) {
	var row postRow
	if err := s.db.GetContext(ctx, &row,
		s.rebind("SELECT * FROM posts WHERE slug = ? AND status = ?"), slug, string(model.PostPublished)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get post by slug: %w", err)
	}
	p, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPosts returns posts newest first. When publishedOnly is set, drafts
// are filtered out and ordering switches to publication time.
func (s *Store) ListPosts(ctx context.Context, publishedOnly bool, limit, offset int) ([]model.Post, error) {
	var rows []postRow
	var err error
	if publishedOnly {
		err = s.db.SelectContext(ctx, &rows,
			s.rebind("SELECT * FROM posts WHERE status = ? ORDER BY published_at DESC LIMIT ? OFFSET ?"),
			string(model.PostPublished), limit, offset)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			s.rebind("SELECT * FROM posts ORDER BY created_at DESC LIMIT ? OFFSET ?"), limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	posts := make([]model.Post, 0, len(rows))
	for _, r := range rows {
		p, err := r.toModel()
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// UpdatePost updates an existing post. The UpdatedAt field is refreshed
// automatically.
func (s *Store) UpdatePost(ctx context.Context, p *model.Post) error {
	p.UpdatedAt = time.Now().UTC()

	row, err := postRowFromModel(p)
	if err != nil {
		return err
	}

	const q = `UPDATE posts SET
		slug = :slug, title = :title, excerpt = :excerpt, body = :body,
		cover_url = :cover_url, tags_json = :tags_json, status = :status,
		published_at = :published_at, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update post rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePost removes a post by ID.
func (s *Store) DeletePost(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM posts WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete post rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
