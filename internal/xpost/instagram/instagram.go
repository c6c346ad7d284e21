package instagram

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/media"
	"github.com/blacktop/xpostd/internal/poller"
	"github.com/blacktop/xpostd/internal/xpost"
	"github.com/blacktop/xpostd/internal/xpost/graphapi"
)

const (
	providerName = "instagram"

	defaultServeAddr = ":8081"

	statusFinished = "FINISHED"
	statusError    = "ERROR"
	statusExpired  = "EXPIRED"
)

// Config identifies the Instagram business account and how videos are exposed
// to the Graph API for fetching.
type Config struct {
	UserID      string
	AccessToken string
	GraphURL    string
	Timeout     time.Duration

	// ServeAddr is the auxiliary listen address used while videos are fetched.
	// Concurrent video publishes share one listener on it.
	ServeAddr string
	// PublicBaseURL is how the provider reaches ServeAddr. When empty the
	// listener's own address is used, which only suits local testing.
	PublicBaseURL string

	Poller *poller.Poller
}

// Missing lists the unset required settings by environment name.
func (c Config) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.UserID) == "" {
		missing = append(missing, "XPOSTD_INSTAGRAM_USER_ID")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		missing = append(missing, "XPOSTD_INSTAGRAM_ACCESS_TOKEN")
	}
	return missing
}

// Client publishes to an Instagram business account through media containers.
type Client struct {
	userID string
	graph  *graphapi.Client
	media  *mediaServer
	poller *poller.Poller
}

// New constructs an Instagram publisher.
func New(cfg Config) (xpost.Publisher, error) {
	if missing := cfg.Missing(); len(missing) > 0 {
		return nil, xpost.MissingEnvError{Provider: providerName, Variables: missing}
	}
	serveAddr := cfg.ServeAddr
	if serveAddr == "" {
		serveAddr = defaultServeAddr
	}
	p := cfg.Poller
	if p == nil {
		p = poller.New()
	}
	return &Client{
		userID: cfg.UserID,
		graph:  graphapi.New(providerName, cfg.GraphURL, cfg.AccessToken, cfg.Timeout),
		media:  newMediaServer(serveAddr, cfg.PublicBaseURL),
		poller: p,
	}, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Publish creates a media container and publishes it.
func (c *Client) Publish(ctx context.Context, post xpost.Post) xpost.PublishResult {
	var (
		id  string
		err error
	)
	switch post.MediaType {
	case xpost.MediaTypeImage:
		id, err = c.publishImage(ctx, post)
	case xpost.MediaTypeVideo:
		id, err = c.publishVideo(ctx, post)
	default:
		err = xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("unsupported media type %q", post.MediaType)}
	}
	if err != nil {
		return xpost.Failure(err)
	}
	return xpost.Success(id)
}

func (c *Client) publishImage(ctx context.Context, post xpost.Post) (string, error) {
	data, err := os.ReadFile(post.MediaPath)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	dataURL := "data:" + media.ContentType(post.MediaPath) + ";base64," + base64.StdEncoding.EncodeToString(data)

	container, err := c.graph.PostForm(ctx, c.userID+"/media", url.Values{
		"image_url": {dataURL},
		"caption":   {post.Caption()},
	})
	if err != nil {
		return "", fmt.Errorf("create image container: %w", err)
	}
	if container.ID == "" {
		return "", errors.New("instagram response did not include a container id")
	}
	logutil.Debugf("instagram: image container=%s", container.ID)

	return c.publishContainer(ctx, container.ID)
}

func (c *Client) publishVideo(ctx context.Context, post xpost.Post) (string, error) {
	videoURL, release, err := c.media.serve(post.MediaPath)
	if err != nil {
		return "", err
	}
	defer release()
	logutil.Debugf("instagram: serving video at %s", videoURL)

	container, err := c.graph.PostForm(ctx, c.userID+"/media", url.Values{
		"media_type": {"REELS"},
		"video_url":  {videoURL},
		"caption":    {post.Caption()},
	})
	if err != nil {
		return "", fmt.Errorf("create video container: %w", err)
	}
	if container.ID == "" {
		return "", errors.New("instagram response did not include a container id")
	}
	logutil.Debugf("instagram: video container=%s", container.ID)

	attempts, err := c.poller.Wait(ctx, func(ctx context.Context) (poller.State, string, error) {
		obj, err := c.graph.Get(ctx, container.ID, "status_code")
		if err != nil {
			logutil.Debugf("instagram: status check failed: %v", err)
			return poller.Pending, "", err
		}
		status := strings.ToUpper(strings.TrimSpace(obj.StatusCode))
		switch status {
		case statusFinished:
			return poller.Ready, status, nil
		case statusError, statusExpired:
			return poller.Failed, status, nil
		}
		return poller.Pending, status, nil
	})

	var terminal *poller.TerminalError
	switch {
	case errors.Is(err, poller.ErrTimeout):
		return "", errors.New("Video processing timed out")
	case errors.As(err, &terminal):
		return "", fmt.Errorf("Video processing failed with status %s", terminal.Status)
	case err != nil:
		return "", fmt.Errorf("wait for video processing: %w", err)
	}
	logutil.Debugf("instagram: container %s ready after %d checks", container.ID, attempts)

	return c.publishContainer(ctx, container.ID)
}

func (c *Client) publishContainer(ctx context.Context, containerID string) (string, error) {
	published, err := c.graph.PostForm(ctx, c.userID+"/media_publish", url.Values{
		"creation_id": {containerID},
	})
	if err != nil {
		return "", fmt.Errorf("publish container: %w", err)
	}
	if published.ID == "" {
		return "", errors.New("instagram publish response did not include an id")
	}
	return published.ID, nil
}
