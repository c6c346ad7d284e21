// Package graphapi is a minimal client for the Facebook Graph API endpoints
// used by the Facebook page and Instagram business publishers.
package graphapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blacktop/xpostd/internal/xpost"
)

const (
	DefaultBaseURL = "https://graph.facebook.com/v18.0"

	maxResponseBytes = 1 << 20
)

// Client issues access-token authenticated Graph API calls.
type Client struct {
	provider    string
	baseURL     string
	accessToken string
	http        *http.Client
}

// New returns a client reporting errors on behalf of provider.
func New(provider, baseURL, accessToken string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		provider:    provider,
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		http:        &http.Client{Timeout: timeout},
	}
}

// Object is the subset of Graph responses the publishers read.
type Object struct {
	ID         string `json:"id"`
	PostID     string `json:"post_id"`
	StatusCode string `json:"status_code"`
}

type errorEnvelope struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		UserMessage  string `json:"error_user_msg"`
	} `json:"error"`
}

// PostForm sends a url-encoded POST to path.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (Object, error) {
	form.Set("access_token", c.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), strings.NewReader(form.Encode()))
	if err != nil {
		return Object{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

// PostFile uploads the file at filePath as the multipart field fileField,
// alongside the given text fields.
func (c *Client) PostFile(ctx context.Context, path string, fields map[string]string, fileField, filePath string) (Object, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return Object{}, fmt.Errorf("open media: %w", err)
	}

	// The body is streamed so large videos are never held in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer file.Close()
		pw.CloseWithError(writeMultipart(mw, fields, c.accessToken, fileField, filePath, file))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), pr)
	if err != nil {
		pr.Close()
		return Object{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	obj, err := c.do(req)
	// unblocks the writer if the response came back before the upload finished
	pr.Close()
	return obj, err
}

func writeMultipart(mw *multipart.Writer, fields map[string]string, accessToken, fileField, filePath string, file io.Reader) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.WriteField("access_token", accessToken); err != nil {
		return fmt.Errorf("write field access_token: %w", err)
	}
	part, err := mw.CreateFormFile(fileField, filepath.Base(filePath))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy media: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}
	return nil
}

// Get reads an object, selecting fields.
func (c *Client) Get(ctx context.Context, path string, fields ...string) (Object, error) {
	q := url.Values{}
	q.Set("access_token", c.accessToken)
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path)+"?"+q.Encode(), nil)
	if err != nil {
		return Object{}, fmt.Errorf("build request: %w", err)
	}
	return c.do(req)
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) do(req *http.Request) (Object, error) {
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return Object{}, fmt.Errorf("%s request failed: %w", c.provider, redact(err, c.accessToken))
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return Object{}, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Object{}, &xpost.ProviderError{
			Provider:   c.provider,
			StatusCode: res.StatusCode,
			Message:    errorMessage(data),
		}
	}

	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return Object{}, fmt.Errorf("decode %s response: %w", c.provider, err)
	}
	return obj, nil
}

func errorMessage(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		switch {
		case env.Error.UserMessage != "":
			return env.Error.UserMessage
		case env.Error.Message != "":
			return env.Error.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "empty error response"
	}
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}

// redact strips the access token from transport errors, which embed the URL.
func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "REDACTED"))
}
