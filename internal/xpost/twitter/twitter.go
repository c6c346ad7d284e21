package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/poller"
	"github.com/blacktop/xpostd/internal/xpost"
	"github.com/dghubble/oauth1"
	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/media/upload"
	uploadtypes "github.com/michimani/gotwi/media/upload/types"
	"github.com/michimani/gotwi/resources"
	"github.com/michimani/gotwi/tweet/managetweet"
	managetweettypes "github.com/michimani/gotwi/tweet/managetweet/types"
)

const (
	providerName = "twitter"

	maxTweetRunes = 280

	// X rejects APPEND segments above 5 MB.
	defaultChunkSize = 4 << 20
	// upper bound on STATUS checks while X transcodes a video
	defaultMaxChecks = 60

	mediaStatusURL = "https://api.x.com/2/media/upload"

	stateSucceeded  = "succeeded"
	stateFailed     = "failed"
	stateInProgress = "in_progress"
	statePending    = "pending"
)

var defaultTimeout = 60 * time.Second

// Config captures the credentials required for OAuth 1.0a user-context requests.
type Config struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
	Timeout      time.Duration
	Debug        bool
}

// Missing lists the unset required settings by environment name.
func (c Config) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "XPOSTD_TWITTER_CONSUMER_KEY")
	}
	if strings.TrimSpace(c.APISecret) == "" {
		missing = append(missing, "XPOSTD_TWITTER_CONSUMER_SECRET")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		missing = append(missing, "XPOSTD_TWITTER_ACCESS_TOKEN")
	}
	if strings.TrimSpace(c.AccessSecret) == "" {
		missing = append(missing, "XPOSTD_TWITTER_ACCESS_TOKEN_SECRET")
	}
	return missing
}

// processing is the media state reported by FINALIZE and STATUS.
type processing struct {
	State      string
	CheckAfter time.Duration
}

// api is the X surface the publisher needs: the chunked media upload
// commands and tweet creation.
type api interface {
	initUpload(ctx context.Context, mediaType uploadtypes.MediaType, category uploadtypes.MediaCategory, totalBytes int) (string, error)
	appendChunk(ctx context.Context, mediaID string, segment int, chunk []byte) error
	finalizeUpload(ctx context.Context, mediaID string) (processing, error)
	uploadStatus(ctx context.Context, mediaID string) (processing, error)
	createTweet(ctx context.Context, text, mediaID string) (string, error)
}

// Client implements the Publisher interface for X (Twitter).
type Client struct {
	api api

	chunkSize int
	maxChecks int
	// pollInterval overrides the check_after_secs hint when set.
	pollInterval time.Duration
}

// New constructs a Twitter publisher using gotwi and OAuth 1.0a credentials.
func New(cfg Config) (xpost.Publisher, error) {
	if missing := cfg.Missing(); len(missing) > 0 {
		return nil, xpost.MissingEnvError{Provider: providerName, Variables: missing}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client, err := gotwi.NewClient(&gotwi.NewClientInput{
		HTTPClient:           &http.Client{Timeout: timeout},
		AuthenticationMethod: gotwi.AuthenMethodOAuth1UserContext,
		OAuthToken:           cfg.AccessToken,
		OAuthTokenSecret:     cfg.AccessSecret,
		APIKey:               cfg.APIKey,
		APIKeySecret:         cfg.APISecret,
		Debug:                cfg.Debug || logutil.Verbose(),
	})
	if err != nil {
		return nil, fmt.Errorf("create X client: %w", err)
	}
	if !client.IsReady() {
		return nil, errors.New("twitter client not ready")
	}

	// gotwi has no STATUS command; sign that one call with the same credentials.
	status := oauth1.NewConfig(cfg.APIKey, cfg.APISecret).Client(context.Background(), oauth1.NewToken(cfg.AccessToken, cfg.AccessSecret))
	status.Timeout = timeout

	return &Client{
		api:       &gotwiAPI{client: client, status: status, statusURL: mediaStatusURL},
		chunkSize: defaultChunkSize,
		maxChecks: defaultMaxChecks,
	}, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Publish uploads the media then creates a tweet that references it.
func (c *Client) Publish(ctx context.Context, post xpost.Post) xpost.PublishResult {
	logutil.Debugf("twitter: uploading media path=%s", post.MediaPath)
	mediaID, err := c.uploadMedia(ctx, post.MediaPath, post.MediaType)
	if err != nil {
		return xpost.Failure(fmt.Errorf("upload media: %w", err))
	}
	logutil.Debugf("twitter: media uploaded media_id=%s", mediaID)

	tweetID, err := c.api.createTweet(ctx, tweetText(post), mediaID)
	if err != nil {
		return xpost.Failure(fmt.Errorf("post tweet: %w", err))
	}
	if tweetID == "" {
		return xpost.Failure(errors.New("tweet created without an id"))
	}

	logutil.Debugf("twitter: tweet posted id=%s", tweetID)
	return xpost.Success(tweetID)
}

func tweetText(post xpost.Post) string {
	text := []rune(post.Caption())
	if len(text) <= maxTweetRunes {
		return string(text)
	}
	return string(text[:maxTweetRunes-1]) + "…"
}

// uploadMedia streams the file to X in fixed-size APPEND segments and waits
// until X has finished processing it.
func (c *Client) uploadMedia(ctx context.Context, path string, kind xpost.MediaType) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("media %q not found", path)}
		}
		return "", fmt.Errorf("open media: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat media: %w", err)
	}

	sniff := make([]byte, 512)
	n, err := io.ReadFull(file, sniff)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read media: %w", err)
	}
	mediaType, category, err := resolveMediaType(path, kind, sniff[:n])
	if err != nil {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind media: %w", err)
	}

	logutil.Debugf("twitter: initialize upload media_type=%s bytes=%d", mediaType, info.Size())
	mediaID, err := c.api.initUpload(ctx, mediaType, category, int(info.Size()))
	if err != nil {
		return "", fmt.Errorf("initialize upload: %w", err)
	}

	chunkSize := c.chunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	buf := make([]byte, chunkSize)
	for segment := 0; ; segment++ {
		n, err := io.ReadFull(file, buf)
		if n > 0 {
			if appendErr := c.api.appendChunk(ctx, mediaID, segment, buf[:n]); appendErr != nil {
				return "", fmt.Errorf("append upload segment %d: %w", segment, appendErr)
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read media: %w", err)
		}
	}

	state, err := c.api.finalizeUpload(ctx, mediaID)
	if err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	logutil.Debugf("twitter: finalize state=%s media_id=%s", state.State, mediaID)

	switch state.State {
	case "", stateSucceeded:
		return mediaID, nil
	case stateFailed:
		return "", fmt.Errorf("media processing failed: state=%s", state.State)
	}
	if err := c.waitProcessed(ctx, mediaID, state.CheckAfter); err != nil {
		return "", err
	}
	return mediaID, nil
}

// waitProcessed polls STATUS until X reports the media succeeded or failed.
func (c *Client) waitProcessed(ctx context.Context, mediaID string, checkAfter time.Duration) error {
	interval := c.pollInterval
	if interval <= 0 {
		interval = max(checkAfter, time.Second)
	}
	maxChecks := c.maxChecks
	if maxChecks <= 0 {
		maxChecks = defaultMaxChecks
	}
	p := &poller.Poller{Interval: interval, MaxAttempts: maxChecks}

	checks, err := p.Wait(ctx, func(ctx context.Context) (poller.State, string, error) {
		st, err := c.api.uploadStatus(ctx, mediaID)
		if err != nil {
			logutil.Debugf("twitter: status check failed: %v", err)
			return poller.Pending, "", err
		}
		switch st.State {
		case "", stateSucceeded:
			return poller.Ready, st.State, nil
		case stateFailed:
			return poller.Failed, st.State, nil
		}
		return poller.Pending, st.State, nil
	})

	var terminal *poller.TerminalError
	switch {
	case errors.Is(err, poller.ErrTimeout):
		return errors.New("media processing timed out")
	case errors.As(err, &terminal):
		return fmt.Errorf("media processing failed: state=%s", terminal.Status)
	case err != nil:
		return fmt.Errorf("wait for media processing: %w", err)
	}
	logutil.Debugf("twitter: media %s processed after %d checks", mediaID, checks)
	return nil
}

type gotwiAPI struct {
	client *gotwi.Client

	status    *http.Client
	statusURL string
}

func (g *gotwiAPI) createTweet(ctx context.Context, text, mediaID string) (string, error) {
	input := &managetweettypes.CreateInput{
		Text:  gotwi.String(text),
		Media: &managetweettypes.CreateInputMedia{MediaIDs: []string{mediaID}},
	}
	res, err := managetweet.Create(ctx, g.client, input)
	if err != nil {
		return "", unwrapGotwiError(err)
	}
	if res.Data.ID == nil {
		return "", nil
	}
	return *res.Data.ID, nil
}

func (g *gotwiAPI) initUpload(ctx context.Context, mediaType uploadtypes.MediaType, category uploadtypes.MediaCategory, totalBytes int) (string, error) {
	res, err := upload.Initialize(ctx, g.client, &uploadtypes.InitializeInput{
		MediaType:     mediaType,
		TotalBytes:    totalBytes,
		MediaCategory: category,
	})
	if err != nil {
		return "", unwrapGotwiError(err)
	}
	if err := partialError(res.Errors); err != nil {
		return "", err
	}
	return res.Data.MediaID, nil
}

func (g *gotwiAPI) appendChunk(ctx context.Context, mediaID string, segment int, chunk []byte) error {
	in := &uploadtypes.AppendInput{
		MediaID:      mediaID,
		Media:        bytes.NewReader(chunk),
		SegmentIndex: segment,
	}
	in.GenerateBoundary()

	res, err := upload.Append(ctx, g.client, in)
	if err != nil {
		return unwrapGotwiError(err)
	}
	return partialError(res.Errors)
}

func (g *gotwiAPI) finalizeUpload(ctx context.Context, mediaID string) (processing, error) {
	res, err := upload.Finalize(ctx, g.client, &uploadtypes.FinalizeInput{MediaID: mediaID})
	if err != nil {
		return processing{}, unwrapGotwiError(err)
	}
	if err := partialError(res.Errors); err != nil {
		return processing{}, err
	}
	info := res.Data.ProcessingInfo
	return processing{
		State:      fmt.Sprintf("%s", info.State),
		CheckAfter: time.Duration(info.CheckAfterSecs) * time.Second,
	}, nil
}

type statusResponse struct {
	Data struct {
		ProcessingInfo struct {
			State          string `json:"state"`
			CheckAfterSecs int    `json:"check_after_secs"`
		} `json:"processing_info"`
	} `json:"data"`
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (g *gotwiAPI) uploadStatus(ctx context.Context, mediaID string) (processing, error) {
	q := url.Values{"command": {"STATUS"}, "media_id": {mediaID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.statusURL+"?"+q.Encode(), nil)
	if err != nil {
		return processing{}, fmt.Errorf("build status request: %w", err)
	}
	res, err := g.status.Do(req)
	if err != nil {
		return processing{}, fmt.Errorf("status request: %w", err)
	}
	defer res.Body.Close()

	var body statusResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&body); err != nil {
		return processing{}, fmt.Errorf("decode status (http %d): %w", res.StatusCode, err)
	}
	if len(body.Errors) > 0 {
		e := body.Errors[0]
		return processing{}, fmt.Errorf("status: %s", strings.TrimSpace(e.Title+" "+e.Detail))
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return processing{}, fmt.Errorf("status: http %d", res.StatusCode)
	}
	info := body.Data.ProcessingInfo
	return processing{
		State:      info.State,
		CheckAfter: time.Duration(info.CheckAfterSecs) * time.Second,
	}, nil
}

func resolveMediaType(path string, kind xpost.MediaType, data []byte) (uploadtypes.MediaType, uploadtypes.MediaCategory, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg":
		return uploadtypes.MediaTypeJPEG, uploadtypes.MediaCategoryTweetImage, nil
	case ".png":
		return uploadtypes.MediaTypePNG, uploadtypes.MediaCategoryTweetImage, nil
	case ".gif":
		return uploadtypes.MediaTypeGIF, uploadtypes.MediaCategoryTweetGIF, nil
	case ".mp4":
		return uploadtypes.MediaType("video/mp4"), uploadtypes.MediaCategory("tweet_video"), nil
	case ".mov":
		return uploadtypes.MediaType("video/quicktime"), uploadtypes.MediaCategory("tweet_video"), nil
	}

	if kind == xpost.MediaTypeVideo {
		return "", "", xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("unsupported video container %q (mp4 or mov required)", ext)}
	}

	detected := http.DetectContentType(data)
	switch {
	case strings.Contains(detected, "jpeg"):
		return uploadtypes.MediaTypeJPEG, uploadtypes.MediaCategoryTweetImage, nil
	case strings.Contains(detected, "png"):
		return uploadtypes.MediaTypePNG, uploadtypes.MediaCategoryTweetImage, nil
	case strings.Contains(detected, "gif"):
		return uploadtypes.MediaTypeGIF, uploadtypes.MediaCategoryTweetGIF, nil
	}

	return "", "", xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("unsupported media type for %q", path)}
}

func partialError(partials []resources.PartialError) error {
	if len(partials) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(partials))
	for _, pe := range partials {
		switch {
		case pe.Detail != nil && *pe.Detail != "":
			msgs = append(msgs, *pe.Detail)
		case pe.Title != nil && *pe.Title != "":
			msgs = append(msgs, *pe.Title)
		case pe.ResourceType != nil:
			msgs = append(msgs, fmt.Sprintf("%s", *pe.ResourceType))
		}
	}
	if len(msgs) == 0 {
		msgs = append(msgs, "unknown error")
	}
	return errors.New(strings.Join(msgs, "; "))
}

func unwrapGotwiError(err error) error {
	var gwErr *gotwi.GotwiError
	if errors.As(err, &gwErr) && gwErr != nil {
		return errors.New(summarizeGotwiError(gwErr))
	}
	return err
}

func summarizeGotwiError(err *gotwi.GotwiError) string {
	parts := make([]string, 0, 4)
	if err.Title != "" {
		parts = append(parts, err.Title)
	}
	if err.Detail != "" {
		parts = append(parts, err.Detail)
	}
	for _, apiErr := range err.APIErrors {
		if apiErr.Message != "" {
			parts = append(parts, apiErr.Message)
		}
	}
	if len(parts) == 0 {
		if msg := err.Error(); msg != "" {
			parts = append(parts, msg)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "X API request failed")
	}
	return strings.Join(parts, "; ")
}
