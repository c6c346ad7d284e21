package mastodon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/blacktop/xpostd/internal/xpost"
	mastodonapi "github.com/mattn/go-mastodon"
)

const (
	providerName   = "mastodon"
	requestTimeout = 60 * time.Second
)

// Config contains the settings needed to reach a Mastodon server.
type Config struct {
	Server       string
	AccessToken  string
	ClientID     string
	ClientSecret string
}

// Missing lists the unset required settings by environment name.
func (c Config) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.Server) == "" {
		missing = append(missing, "XPOSTD_MASTODON_SERVER")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		missing = append(missing, "XPOSTD_MASTODON_ACCESS_TOKEN")
	}
	return missing
}

// Client wraps the Mastodon API client.
type Client struct {
	client *mastodonapi.Client
}

// New constructs a Mastodon publisher.
func New(cfg Config) (xpost.Publisher, error) {
	if missing := cfg.Missing(); len(missing) > 0 {
		return nil, xpost.MissingEnvError{Provider: providerName, Variables: missing}
	}

	mastodonClient := mastodonapi.NewClient(&mastodonapi.Config{
		Server:       cfg.Server,
		AccessToken:  cfg.AccessToken,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	})
	mastodonClient.Timeout = requestTimeout

	return &Client{client: mastodonClient}, nil
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

// Publish uploads the media as an attachment and posts a status referencing it.
func (c *Client) Publish(ctx context.Context, post xpost.Post) xpost.PublishResult {
	attachment, err := c.uploadMedia(ctx, post.MediaPath, post.Title)
	if err != nil {
		return xpost.Failure(err)
	}

	status, err := c.client.PostStatus(ctx, &mastodonapi.Toot{
		Status:     post.Caption(),
		MediaIDs:   []mastodonapi.ID{attachment.ID},
		Visibility: mastodonapi.VisibilityPublic,
	})
	if err != nil {
		return xpost.Failure(fmt.Errorf("post status: %w", err))
	}

	return xpost.Success(string(status.ID))
}

func (c *Client) uploadMedia(ctx context.Context, path, alt string) (*mastodonapi.Attachment, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("media %q not found", path)}
		}
		return nil, fmt.Errorf("open media: %w", err)
	}
	defer file.Close()

	attachment, err := c.client.UploadMediaFromMedia(ctx, &mastodonapi.Media{
		File:        file,
		Description: alt,
	})
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	return attachment, nil
}
