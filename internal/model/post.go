package model

import "time"

// PostStatus is the publication state of a blog post.
type PostStatus string

const (
	PostDraft     PostStatus = "draft"
	PostPublished PostStatus = "published"
)

// Post is a blog article. Public endpoints only ever see published posts;
// drafts are visible through the admin API.
type Post struct {
	ID          int64      `json:"id" db:"id"`
	Slug        string     `json:"slug" db:"slug"`
	Title       string     `json:"title" db:"title"`
	Excerpt     string     `json:"excerpt" db:"excerpt"`
	Body        string     `json:"body" db:"body"`
	CoverURL    string     `json:"cover_url" db:"cover_url"`
	Tags        []string   `json:"tags"`
	Status      PostStatus `json:"status" db:"status"`
	AuthorID    int64      `json:"author_id" db:"author_id"`
	PublishedAt *time.Time `json:"published_at,omitempty" db:"published_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}
