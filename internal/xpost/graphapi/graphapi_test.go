package graphapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blacktop/xpostd/internal/xpost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/123/photos", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "secret", r.FormValue("access_token"))
		assert.Equal(t, "hello", r.FormValue("caption"))
		f, hdr, err := r.FormFile("source")
		require.NoError(t, err)
		f.Close()
		assert.Equal(t, "photo.jpg", hdr.Filename)
		w.Write([]byte(`{"id":"1","post_id":"123_1"}`))
	}))
	defer srv.Close()

	c := New("facebook", srv.URL+"/", "secret", time.Second)
	obj, err := c.PostFile(context.Background(), "/123/photos", map[string]string{"caption": "hello"}, "source", path)
	require.NoError(t, err)
	assert.Equal(t, Object{ID: "1", PostID: "123_1"}, obj)
}

func TestPostFileStreamsBody(t *testing.T) {
	const size = 8 << 20
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("v"), size), 0o644))

	var received int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// a buffered body would carry a Content-Length
		assert.Equal(t, int64(-1), r.ContentLength)
		mr, err := r.MultipartReader()
		require.NoError(t, err)
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			if part.FormName() == "source" {
				received, err = io.Copy(io.Discard, part)
				require.NoError(t, err)
			}
		}
		w.Write([]byte(`{"id":"v1"}`))
	}))
	defer srv.Close()

	c := New("facebook", srv.URL, "secret", 10*time.Second)
	obj, err := c.PostFile(context.Background(), "/123/videos", nil, "source", path)
	require.NoError(t, err)
	assert.Equal(t, "v1", obj.ID)
	assert.Equal(t, int64(size), received)
}

func TestPostFileRejectedBeforeUploadCompletes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("v"), 8<<20), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid OAuth access token"}}`))
	}))
	defer srv.Close()

	c := New("facebook", srv.URL, "secret", 10*time.Second)
	_, err := c.PostFile(context.Background(), "/123/videos", nil, "source", path)
	assert.Error(t, err)
}

func TestPostFileMissing(t *testing.T) {
	c := New("facebook", "http://127.0.0.1:1", "secret", time.Second)
	_, err := c.PostFile(context.Background(), "/123/videos", nil, "source", filepath.Join(t.TempDir(), "gone.mp4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open media")
}

func TestErrorEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"user message", `{"error":{"message":"Invalid OAuth access token","error_user_msg":"Session expired"}}`, "Session expired"},
		{"message", `{"error":{"message":"(#100) Invalid parameter","code":100}}`, "(#100) Invalid parameter"},
		{"plain text", `bad gateway`, "bad gateway"},
		{"empty", ``, "empty error response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New("instagram", srv.URL, "secret", time.Second).PostForm(context.Background(), "1/media", url.Values{})
			var pe *xpost.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, "instagram", pe.Provider)
			assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
			assert.Equal(t, tt.want, pe.Message)
		})
	}
}

func TestGetSelectsFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "status_code", r.URL.Query().Get("fields"))
		w.Write([]byte(`{"id":"c1","status_code":"IN_PROGRESS"}`))
	}))
	defer srv.Close()

	obj, err := New("instagram", srv.URL, "secret", time.Second).Get(context.Background(), "c1", "status_code")
	require.NoError(t, err)
	assert.Equal(t, "IN_PROGRESS", obj.StatusCode)
}

func TestRedactsTokenFromTransportErrors(t *testing.T) {
	c := New("facebook", "http://127.0.0.1:1", "very-secret-token", time.Second)
	_, err := c.Get(context.Background(), "me")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "very-secret-token")
}
