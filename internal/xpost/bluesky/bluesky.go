package bluesky

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/blacktop/xpostd/internal/xpost"
	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
)

const (
	providerName   = "bluesky"
	requestTimeout = 60 * time.Second

	// DefaultPDSURL is used when no PDS host is configured.
	DefaultPDSURL = "https://bsky.social"

	maxPostRunes = 300
)

// Config holds the account handle, app password and PDS host.
type Config struct {
	Handle      string
	AppPassword string
	PDSURL      string
}

// Missing lists the unset required settings by environment name.
func (c Config) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.Handle) == "" {
		missing = append(missing, "XPOSTD_BLUESKY_HANDLE")
	}
	if strings.TrimSpace(c.AppPassword) == "" {
		missing = append(missing, "XPOSTD_BLUESKY_APP_PASSWORD")
	}
	return missing
}

// Client implements the Publisher interface for Bluesky. A session is created
// per publish so construction never touches the network.
type Client struct {
	cfg  Config
	http *http.Client
}

// New constructs a Bluesky publisher.
func New(cfg Config) (xpost.Publisher, error) {
	if missing := cfg.Missing(); len(missing) > 0 {
		return nil, xpost.MissingEnvError{Provider: providerName, Variables: missing}
	}
	if strings.TrimSpace(cfg.PDSURL) == "" {
		cfg.PDSURL = DefaultPDSURL
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: requestTimeout}}, nil
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

// Publish creates an app.bsky.feed.post record with an image embed.
func (c *Client) Publish(ctx context.Context, post xpost.Post) xpost.PublishResult {
	if post.MediaType != xpost.MediaTypeImage {
		return xpost.Failure(xpost.ValidationError{Provider: providerName, Reason: "only image uploads are supported"})
	}

	client, err := c.login(ctx)
	if err != nil {
		return xpost.Failure(err)
	}

	blob, err := uploadImage(ctx, client, post.MediaPath)
	if err != nil {
		return xpost.Failure(err)
	}

	record := &bsky.FeedPost{
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Text:      truncate(post.Caption(), maxPostRunes),
		Embed: &bsky.FeedPost_Embed{
			EmbedImages: &bsky.EmbedImages{
				Images: []*bsky.EmbedImages_Image{{Alt: post.Title, Image: blob}},
			},
		},
	}

	out, err := atproto.RepoCreateRecord(ctx, client, &atproto.RepoCreateRecord_Input{
		Collection: "app.bsky.feed.post",
		Repo:       client.Auth.Did,
		Record:     &util.LexiconTypeDecoder{Val: record},
	})
	if err != nil {
		return xpost.Failure(fmt.Errorf("create record: %w", err))
	}

	return xpost.Success(out.Uri)
}

func (c *Client) login(ctx context.Context) (*xrpc.Client, error) {
	userAgent := "xpostd/1"
	client := &xrpc.Client{
		Client:    c.http,
		Host:      c.cfg.PDSURL,
		UserAgent: &userAgent,
	}

	session, err := atproto.ServerCreateSession(ctx, client, &atproto.ServerCreateSession_Input{
		Identifier: c.cfg.Handle,
		Password:   c.cfg.AppPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	client.Auth = &xrpc.AuthInfo{
		AccessJwt:  session.AccessJwt,
		RefreshJwt: session.RefreshJwt,
		Handle:     session.Handle,
		Did:        session.Did,
	}
	return client, nil
}

func uploadImage(ctx context.Context, client *xrpc.Client, path string) (*util.LexBlob, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("image %q not found", path)}
		}
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	resp, err := atproto.RepoUploadBlob(ctx, client, file)
	if err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}
	if resp.Blob == nil {
		return nil, errors.New("upload blob: empty response")
	}
	return resp.Blob, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
