// Package store persists Post aggregates and their per-provider status map.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/blacktop/xpostd/internal/xpost"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a post id is unknown.
var ErrNotFound = errors.New("post not found")

// Store is the Post record store.
//
// UpdateStatus merges a single provider entry into the status map; entries for
// other providers are left untouched.
type Store interface {
	Create(ctx context.Context, post xpost.Post) (xpost.Post, error)
	UpdateStatus(ctx context.Context, id, provider string, result xpost.PublishResult) (xpost.Post, error)
	Get(ctx context.Context, id string) (xpost.Post, error)
	ListRecent(ctx context.Context, n int) ([]xpost.Post, error)
	Close() error
}

var now = func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

// prepare assigns identity and timestamps to a post about to be created.
func prepare(post xpost.Post) xpost.Post {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	ts := now()
	post.CreatedAt = ts
	post.UpdatedAt = ts
	post.PostStatus = map[string]xpost.PublishResult{}
	if post.Platforms == nil {
		post.Platforms = []string{}
	}
	return post
}
