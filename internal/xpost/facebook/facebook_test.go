package facebook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/blacktop/xpostd/internal/xpost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMedia(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("media-bytes"), 0o644))
	return path
}

func newClient(t *testing.T, handler http.HandlerFunc) xpost.Publisher {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	pub, err := New(Config{PageID: "page-1", AccessToken: "page-token", GraphURL: server.URL})
	require.NoError(t, err)
	return pub
}

func TestNewMissingConfig(t *testing.T) {
	_, err := New(Config{PageID: "page-1"})
	var missing xpost.MissingEnvError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"XPOSTD_FACEBOOK_ACCESS_TOKEN"}, missing.Variables)
}

func TestPublishPhoto(t *testing.T) {
	pub := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/page-1/photos", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Rally\n\nSaturday at noon", r.FormValue("caption"))
		assert.Equal(t, "page-token", r.FormValue("access_token"))

		file, header, err := r.FormFile("source")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "media-bytes", string(data))
		assert.Equal(t, "photo.jpg", header.Filename)

		json.NewEncoder(w).Encode(map[string]string{"id": "photo-123", "post_id": "page-1_456"})
	})

	result := pub.Publish(context.Background(), xpost.Post{
		Title:       "Rally",
		Description: "Saturday at noon",
		MediaType:   xpost.MediaTypeImage,
		MediaPath:   writeMedia(t, "photo.jpg"),
	})

	assert.True(t, result.Posted)
	assert.Equal(t, "photo-123", result.PostID)
	assert.Empty(t, result.ErrorMessage)
}

func TestPublishVideo(t *testing.T) {
	pub := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/page-1/videos", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Rally\n\nSaturday", r.FormValue("description"))
		w.Write([]byte(`{"id":"video-9"}`))
	})

	result := pub.Publish(context.Background(), xpost.Post{
		Title:       "Rally",
		Description: "Saturday",
		MediaType:   xpost.MediaTypeVideo,
		MediaPath:   writeMedia(t, "clip.mp4"),
	})

	assert.True(t, result.Posted)
	assert.Equal(t, "video-9", result.PostID)
}

func TestPublishProviderError(t *testing.T) {
	pub := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid OAuth access token.","type":"OAuthException","code":190}}`))
	})

	result := pub.Publish(context.Background(), xpost.Post{
		Title:     "Rally",
		MediaType: xpost.MediaTypeImage,
		MediaPath: writeMedia(t, "photo.jpg"),
	})

	assert.False(t, result.Posted)
	assert.Empty(t, result.PostID)
	assert.Contains(t, result.ErrorMessage, "Invalid OAuth access token.")
	assert.Contains(t, result.ErrorMessage, "400")
}

func TestPublishMissingFile(t *testing.T) {
	called := false
	pub := newClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	result := pub.Publish(context.Background(), xpost.Post{
		MediaType: xpost.MediaTypeImage,
		MediaPath: filepath.Join(t.TempDir(), "gone.jpg"),
	})

	assert.False(t, result.Posted)
	assert.NotEmpty(t, result.ErrorMessage)
	assert.False(t, called)
}

func TestPublishNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	pub, err := New(Config{PageID: "page-1", AccessToken: "page-token", GraphURL: url})
	require.NoError(t, err)

	result := pub.Publish(context.Background(), xpost.Post{
		MediaType: xpost.MediaTypeImage,
		MediaPath: writeMedia(t, "photo.jpg"),
	})
	assert.False(t, result.Posted)
	assert.Contains(t, result.ErrorMessage, "facebook request failed")
}
