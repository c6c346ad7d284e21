package xpost

import (
	"context"
	"time"
)

// MediaType classifies the uploaded asset.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// Post is the aggregate persisted for every publish request.
type Post struct {
	ID          string                   `json:"id" bson:"_id"`
	Title       string                   `json:"title" bson:"title"`
	Description string                   `json:"description" bson:"description"`
	MediaType   MediaType                `json:"mediaType" bson:"mediaType"`
	MediaURL    string                   `json:"mediaUrl" bson:"mediaUrl"`
	MediaPath   string                   `json:"-" bson:"mediaPath"`
	Tags        []string                 `json:"tags,omitempty" bson:"tags,omitempty"`
	Platforms   []string                 `json:"platforms" bson:"platforms"`
	PostStatus  map[string]PublishResult `json:"postStatus" bson:"postStatus"`
	CreatedBy   string                   `json:"createdBy" bson:"createdBy"`
	CreatedAt   time.Time                `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time                `json:"updatedAt" bson:"updatedAt"`
}

// Caption joins the title and description the way every provider expects them.
func (p Post) Caption() string {
	return p.Title + "\n\n" + p.Description
}

// PublishResult is the outcome of publishing a post to one provider.
type PublishResult struct {
	Posted               bool   `json:"posted" bson:"posted"`
	PostID               string `json:"postId,omitempty" bson:"postId,omitempty"`
	ErrorMessage         string `json:"errorMessage,omitempty" bson:"errorMessage,omitempty"`
	VideoURL             string `json:"videoUrl,omitempty" bson:"videoUrl,omitempty"`
	NeedsReauthorization bool   `json:"needsReauthorization,omitempty" bson:"needsReauthorization,omitempty"`
}

// Success builds a posted result.
func Success(postID string) PublishResult {
	return PublishResult{Posted: true, PostID: postID}
}

// Failure converts err into a not-posted result.
func Failure(err error) PublishResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return PublishResult{ErrorMessage: msg}
}

// Reauthorize reports that a provider credential must be renewed by a human.
func Reauthorize(msg string) PublishResult {
	return PublishResult{ErrorMessage: msg, NeedsReauthorization: true}
}

// Publisher abstracts a social network that can publish a post.
//
// Publish never returns an error: every failure is reported through the
// returned PublishResult so that one provider cannot abort its siblings.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, post Post) PublishResult
}

// Unavailable is registered for providers whose configuration is incomplete.
type Unavailable struct {
	Provider string
	Err      error
}

// Name returns the provider identifier.
func (u Unavailable) Name() string { return u.Provider }

// Publish always fails with the configuration error.
func (u Unavailable) Publish(context.Context, Post) PublishResult {
	return Failure(u.Err)
}
