// Package events announces completed publishes on NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/xpost"
	"github.com/nats-io/nats.go"
)

// SubjectPostPublished carries one PostPublishedEvent per orchestrated post.
const SubjectPostPublished = "post.published"

// PostPublishedEvent is the message body.
type PostPublishedEvent struct {
	ID        string                         `json:"id"`
	Title     string                         `json:"title"`
	MediaType xpost.MediaType                `json:"media_type"`
	CreatedBy string                         `json:"created_by"`
	Results   map[string]xpost.PublishResult `json:"results"`
	Succeeded []string                       `json:"succeeded"`
	Failed    []string                       `json:"failed"`
	At        time.Time                      `json:"at"`
}

// NewPostPublishedEvent summarizes post, listing providers in request order.
func NewPostPublishedEvent(post xpost.Post) PostPublishedEvent {
	ev := PostPublishedEvent{
		ID:        post.ID,
		Title:     post.Title,
		MediaType: post.MediaType,
		CreatedBy: post.CreatedBy,
		Results:   post.PostStatus,
		Succeeded: []string{},
		Failed:    []string{},
		At:        post.UpdatedAt,
	}
	for _, p := range post.Platforms {
		if post.PostStatus[p].Posted {
			ev.Succeeded = append(ev.Succeeded, p)
		} else {
			ev.Failed = append(ev.Failed, p)
		}
	}
	return ev
}

// Conn is the subset of *nats.Conn used by the publisher.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
}

// NatsPublisher emits post events on a NATS connection.
type NatsPublisher struct {
	nc Conn
}

// NewNatsPublisher wraps an existing connection.
func NewNatsPublisher(nc Conn) *NatsPublisher {
	return &NatsPublisher{nc: nc}
}

// Connect dials url and returns the publisher plus the connection to close.
func Connect(url string) (*NatsPublisher, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("xpostd"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNatsPublisher(nc), nc, nil
}

// PostPublished sends the completion event.
func (p *NatsPublisher) PostPublished(ctx context.Context, post xpost.Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(NewPostPublishedEvent(post))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &nats.Msg{
		Subject: SubjectPostPublished,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Post-Id", post.ID)

	logutil.Debugf("publishing %s post_id=%s", msg.Subject, post.ID)
	return p.nc.PublishMsg(msg)
}
