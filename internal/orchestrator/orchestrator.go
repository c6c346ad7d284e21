// Package orchestrator dispatches a persisted post to each requested provider
// in order and records every outcome in the post's status map.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/store"
	"github.com/blacktop/xpostd/internal/xpost"
)

// PersistenceError wraps a store failure. It is the only error Run returns.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist post (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Notifier is told about every completed post.
type Notifier interface {
	PostPublished(ctx context.Context, post xpost.Post) error
}

// Registry maps provider identifiers to publishers. It is built once at startup.
type Registry map[string]xpost.Publisher

// NewRegistry indexes publishers by Name.
func NewRegistry(publishers ...xpost.Publisher) Registry {
	r := make(Registry, len(publishers))
	for _, p := range publishers {
		r[p.Name()] = p
	}
	return r
}

// Has reports whether a provider identifier is registered.
func (r Registry) Has(name string) bool {
	_, ok := r[name]
	return ok
}

// Orchestrator runs publishes against a store.
type Orchestrator struct {
	registry Registry
	store    store.Store
	notifier Notifier
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sets the completion notifier.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// New creates an orchestrator.
func New(registry Registry, s store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{registry: registry, store: s}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Publish creates the post record and runs it.
func (o *Orchestrator) Publish(ctx context.Context, post xpost.Post) (xpost.Post, error) {
	created, err := o.store.Create(ctx, post)
	if err != nil {
		return xpost.Post{}, &PersistenceError{Op: "create", Err: err}
	}
	logutil.Infof("created post id=%s platforms=%v", created.ID, created.Platforms)
	return o.Run(ctx, created)
}

// Run publishes post to each of its platforms in order, one at a time. A
// provider's failure is recorded and the next provider is still attempted.
// Providers are never retried.
func (o *Orchestrator) Run(ctx context.Context, post xpost.Post) (xpost.Post, error) {
	for _, provider := range post.Platforms {
		result := o.dispatch(ctx, provider, post)
		if err := o.record(ctx, post.ID, provider, result); err != nil {
			return xpost.Post{}, err
		}
	}

	final, err := o.store.Get(ctx, post.ID)
	if err != nil {
		return xpost.Post{}, &PersistenceError{Op: "get", Err: err}
	}

	if o.notifier != nil {
		if err := o.notifier.PostPublished(ctx, final); err != nil {
			logutil.Warnf("notify post=%s: %v", final.ID, err)
		}
	}
	return final, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, provider string, post xpost.Post) (result xpost.PublishResult) {
	log := logutil.With("provider", provider, "post", post.ID)

	publisher, ok := o.registry[provider]
	if !ok {
		log.Warn("no publisher registered")
		return xpost.Failure(fmt.Errorf("unsupported platform %q", provider))
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("publisher panicked", "panic", r, "stack", string(debug.Stack()))
			result = xpost.Failure(fmt.Errorf("%s publisher panicked: %v", provider, r))
		}
	}()

	log.Info("publishing")
	result = publisher.Publish(ctx, post)
	switch {
	case result.Posted:
		log.Info("published", "id", result.PostID)
	case result.NeedsReauthorization:
		log.Warn("reauthorization required", "error", result.ErrorMessage)
	default:
		log.Error("publish failed", "error", result.ErrorMessage)
	}
	return result
}

// record is the single write path for every provider outcome, including the
// reauthorization variant.
func (o *Orchestrator) record(ctx context.Context, id, provider string, result xpost.PublishResult) error {
	if _, err := o.store.UpdateStatus(ctx, id, provider, Normalize(provider, result)); err != nil {
		return &PersistenceError{Op: "update " + provider, Err: err}
	}
	return nil
}

// Normalize enforces the PublishResult invariants: a posted result carries a
// post id and no error; an unposted result carries an error message and no
// ids.
func Normalize(provider string, r xpost.PublishResult) xpost.PublishResult {
	if r.Posted && r.PostID == "" {
		return xpost.PublishResult{ErrorMessage: provider + " returned no post id"}
	}
	if r.Posted {
		return xpost.PublishResult{Posted: true, PostID: r.PostID, VideoURL: r.VideoURL}
	}
	msg := r.ErrorMessage
	if msg == "" {
		msg = provider + " publish failed"
	}
	return xpost.PublishResult{ErrorMessage: msg, NeedsReauthorization: r.NeedsReauthorization}
}
