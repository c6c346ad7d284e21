package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/token"
	"github.com/blacktop/xpostd/internal/xpost"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

const (
	providerName = "youtube"

	categoryPeopleBlogs = "22"
	privacyPrivate      = "private"
	maxTitleRunes       = 100

	watchURL = "https://www.youtube.com/watch?v="

	// ReauthorizeMessage is reported when the refresh token has been rejected.
	ReauthorizeMessage = "YouTube authorization expired or was revoked; reauthorize via /oauth/youtube/authorize"
	// VideoOnlyMessage is reported for non-video media.
	VideoOnlyMessage = "Only video uploads are supported for YouTube"
)

// TokenSource yields short-lived access tokens.
type TokenSource interface {
	AccessToken(ctx context.Context) (*oauth2.Token, error)
}

// Uploader performs the videos.insert call and returns the new video id.
type Uploader interface {
	Upload(ctx context.Context, tok *oauth2.Token, video *yt.Video, media io.Reader) (string, error)
}

// Client publishes videos to the authorized channel.
type Client struct {
	tokens   TokenSource
	uploader Uploader
}

// New constructs a YouTube publisher backed by the Data API.
func New(tokens TokenSource) xpost.Publisher {
	return &Client{tokens: tokens, uploader: APIUploader{}}
}

// NewWithUploader allows a custom upload implementation.
func NewWithUploader(tokens TokenSource, uploader Uploader) xpost.Publisher {
	return &Client{tokens: tokens, uploader: uploader}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Publish uploads the video as private with the post's title, description and tags.
func (c *Client) Publish(ctx context.Context, post xpost.Post) xpost.PublishResult {
	if post.MediaType != xpost.MediaTypeVideo {
		return xpost.PublishResult{ErrorMessage: VideoOnlyMessage}
	}

	tok, err := c.tokens.AccessToken(ctx)
	if err != nil {
		if errors.Is(err, token.ErrReauthorizationRequired) {
			return xpost.Reauthorize(ReauthorizeMessage)
		}
		return xpost.Failure(fmt.Errorf("youtube token refresh failed: %w", err))
	}

	file, err := os.Open(post.MediaPath)
	if err != nil {
		return xpost.Failure(fmt.Errorf("open video: %w", err))
	}
	defer file.Close()

	video := &yt.Video{
		Snippet: &yt.VideoSnippet{
			Title:       truncate(post.Title, maxTitleRunes),
			Description: post.Description,
			Tags:        post.Tags,
			CategoryId:  categoryPeopleBlogs,
		},
		Status: &yt.VideoStatus{PrivacyStatus: privacyPrivate},
	}

	logutil.Debugf("youtube: uploading %s tags=%d", post.MediaPath, len(post.Tags))
	id, err := c.uploader.Upload(ctx, tok, video, file)
	if err != nil {
		return xpost.Failure(fmt.Errorf("youtube upload failed: %w", err))
	}
	if id == "" {
		return xpost.Failure(errors.New("youtube response did not include a video id"))
	}

	result := xpost.Success(id)
	result.VideoURL = watchURL + id
	return result
}

// APIUploader uploads through google.golang.org/api/youtube/v3.
type APIUploader struct {
	Options []option.ClientOption
}

// Upload runs a single videos.insert call. The call blocks for the whole
// upload; there is no separate processing poll.
func (u APIUploader) Upload(ctx context.Context, tok *oauth2.Token, video *yt.Video, media io.Reader) (string, error) {
	opts := append([]option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(tok))}, u.Options...)
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("create youtube service: %w", err)
	}

	res, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(media).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return res.Id, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
