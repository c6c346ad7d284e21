package facebook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/xpost"
	"github.com/blacktop/xpostd/internal/xpost/graphapi"
)

const providerName = "facebook"

// Config identifies the page and its static page access token.
type Config struct {
	PageID      string
	AccessToken string
	GraphURL    string
	Timeout     time.Duration
}

// Missing lists the unset required settings by environment name.
func (c Config) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.PageID) == "" {
		missing = append(missing, "XPOSTD_FACEBOOK_PAGE_ID")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		missing = append(missing, "XPOSTD_FACEBOOK_ACCESS_TOKEN")
	}
	return missing
}

// Client publishes to a Facebook page.
type Client struct {
	pageID string
	graph  *graphapi.Client
}

// New constructs a Facebook publisher.
func New(cfg Config) (xpost.Publisher, error) {
	if missing := cfg.Missing(); len(missing) > 0 {
		return nil, xpost.MissingEnvError{Provider: providerName, Variables: missing}
	}
	return &Client{
		pageID: cfg.PageID,
		graph:  graphapi.New(providerName, cfg.GraphURL, cfg.AccessToken, cfg.Timeout),
	}, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Publish uploads the stored file to the page's photos or videos edge.
func (c *Client) Publish(ctx context.Context, post xpost.Post) xpost.PublishResult {
	var (
		edge   string
		fields map[string]string
	)
	switch post.MediaType {
	case xpost.MediaTypeImage:
		edge = "photos"
		fields = map[string]string{"caption": post.Caption()}
	case xpost.MediaTypeVideo:
		edge = "videos"
		fields = map[string]string{"title": post.Title, "description": post.Caption()}
	default:
		return xpost.Failure(xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("unsupported media type %q", post.MediaType)})
	}

	logutil.Debugf("facebook: uploading %s to /%s/%s", post.MediaType, c.pageID, edge)
	obj, err := c.graph.PostFile(ctx, c.pageID+"/"+edge, fields, "source", post.MediaPath)
	if err != nil {
		return xpost.Failure(err)
	}
	if obj.ID == "" {
		return xpost.Failure(fmt.Errorf("facebook response did not include an id"))
	}

	logutil.Debugf("facebook: published id=%s", obj.ID)
	return xpost.Success(obj.ID)
}
