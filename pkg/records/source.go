// Package records fetches posts and users from a JSONPlaceholder-compatible API.
package records

import "context"

//go:generate mockgen -source=source.go -destination=mocks/mock_source.go -package=mocks

type Post struct {
	UserID int    `json:"userId"`
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

type User struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Source is the remote data source pages render from.
type Source interface {
	// Posts returns every post.
	Posts(ctx context.Context) ([]Post, error)
	// Post returns a single post, or ErrNotFound.
	Post(ctx context.Context, id int) (Post, error)
	// User returns a single user, or ErrNotFound.
	User(ctx context.Context, id int) (User, error)
}
