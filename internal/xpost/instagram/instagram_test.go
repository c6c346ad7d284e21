package instagram

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blacktop/xpostd/internal/poller"
	"github.com/blacktop/xpostd/internal/xpost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGraph struct {
	t        *testing.T
	mu       sync.Mutex
	statuses []string
	checks   int
	videoURL string
	fetched  []byte
	imageURL string
	publish  int
}

func (f *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/ig-1/media":
		require.NoError(f.t, r.ParseForm())
		assert.Equal(f.t, "ig-token", r.Form.Get("access_token"))
		if v := r.Form.Get("video_url"); v != "" {
			assert.Equal(f.t, "REELS", r.Form.Get("media_type"))
			f.videoURL = v
			client := &http.Client{Transport: &http.Transport{}, Timeout: 5 * time.Second}
			res, err := client.Get(v)
			require.NoError(f.t, err)
			f.fetched, _ = io.ReadAll(res.Body)
			res.Body.Close()
		} else {
			f.imageURL = r.Form.Get("image_url")
		}
		w.Write([]byte(`{"id":"container-1"}`))
	case r.Method == http.MethodGet && r.URL.Path == "/container-1":
		assert.Equal(f.t, "status_code", r.URL.Query().Get("fields"))
		status := "IN_PROGRESS"
		if f.checks < len(f.statuses) {
			status = f.statuses[f.checks]
		}
		f.checks++
		w.Write([]byte(`{"id":"container-1","status_code":"` + status + `"}`))
	case r.Method == http.MethodPost && r.URL.Path == "/ig-1/media_publish":
		require.NoError(f.t, r.ParseForm())
		assert.Equal(f.t, "container-1", r.Form.Get("creation_id"))
		f.publish++
		w.Write([]byte(`{"id":"media-77"}`))
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func setup(t *testing.T, statuses ...string) (*fakeGraph, xpost.Publisher) {
	t.Helper()
	fake := &fakeGraph{t: t, statuses: statuses}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	pub, err := New(Config{
		UserID:      "ig-1",
		AccessToken: "ig-token",
		GraphURL:    server.URL,
		ServeAddr:   "127.0.0.1:0",
		Poller:      &poller.Poller{Interval: time.Millisecond, MaxAttempts: 30},
	})
	require.NoError(t, err)
	return fake, pub
}

func writeMedia(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func assertListenerClosed(t *testing.T, rawURL string) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	conn, err := net.DialTimeout("tcp", u.Host, time.Second)
	if err == nil {
		conn.Close()
	}
	assert.Error(t, err, "media listener should be closed")
}

func videoPost(t *testing.T) xpost.Post {
	return xpost.Post{
		Title:       "Ward meeting",
		Description: "Recording",
		MediaType:   xpost.MediaTypeVideo,
		MediaPath:   writeMedia(t, "clip.mp4", "video-bytes"),
	}
}

func TestPublishImage(t *testing.T) {
	fake, pub := setup(t)

	result := pub.Publish(context.Background(), xpost.Post{
		Title:       "Ward meeting",
		Description: "Tonight",
		MediaType:   xpost.MediaTypeImage,
		MediaPath:   writeMedia(t, "photo.png", "png-bytes"),
	})

	require.True(t, result.Posted, result.ErrorMessage)
	assert.Equal(t, "media-77", result.PostID)
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("png-bytes")), fake.imageURL)
	assert.Zero(t, fake.checks)
	assert.Equal(t, 1, fake.publish)
}

func TestPublishVideoReady(t *testing.T) {
	fake, pub := setup(t, "IN_PROGRESS", "IN_PROGRESS", "FINISHED")

	result := pub.Publish(context.Background(), videoPost(t))

	require.True(t, result.Posted, result.ErrorMessage)
	assert.Equal(t, "media-77", result.PostID)
	assert.Equal(t, 3, fake.checks)
	assert.Equal(t, "video-bytes", string(fake.fetched))
	assertListenerClosed(t, fake.videoURL)
}

func TestPublishVideoTimeout(t *testing.T) {
	fake, pub := setup(t)

	result := pub.Publish(context.Background(), videoPost(t))

	assert.False(t, result.Posted)
	assert.Equal(t, "Video processing timed out", result.ErrorMessage)
	assert.Empty(t, result.PostID)
	assert.Equal(t, 30, fake.checks)
	assert.Zero(t, fake.publish)
	require.NotEmpty(t, fake.videoURL)
	assertListenerClosed(t, fake.videoURL)
}

func TestPublishVideoTerminalStatus(t *testing.T) {
	for _, status := range []string{"ERROR", "EXPIRED"} {
		t.Run(status, func(t *testing.T) {
			fake, pub := setup(t, "IN_PROGRESS", status)

			result := pub.Publish(context.Background(), videoPost(t))

			assert.False(t, result.Posted)
			assert.Equal(t, "Video processing failed with status "+status, result.ErrorMessage)
			assert.Equal(t, 2, fake.checks)
			assert.Zero(t, fake.publish)
			assertListenerClosed(t, fake.videoURL)
		})
	}
}

func TestPublishVideoContainerRejected(t *testing.T) {
	var videoURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		videoURL = r.Form.Get("video_url")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Unsupported video format"}}`))
	}))
	t.Cleanup(server.Close)

	pub, err := New(Config{UserID: "ig-1", AccessToken: "ig-token", GraphURL: server.URL, ServeAddr: "127.0.0.1:0"})
	require.NoError(t, err)

	result := pub.Publish(context.Background(), videoPost(t))

	assert.False(t, result.Posted)
	assert.Contains(t, result.ErrorMessage, "Unsupported video format")
	require.True(t, strings.HasPrefix(videoURL, "http://127.0.0.1:"))
	assertListenerClosed(t, videoURL)
}

func TestPublicBaseURL(t *testing.T) {
	m := newMediaServer("127.0.0.1:0", "https://media.example.org/")
	videoURL, release, err := m.serve(writeMedia(t, "clip.mp4", "x"))
	require.NoError(t, err)
	defer release()

	assert.True(t, strings.HasPrefix(videoURL, "https://media.example.org/"))
	assert.True(t, strings.HasSuffix(videoURL, ".mp4"))
}

func TestMediaServerSharesListener(t *testing.T) {
	m := newMediaServer("127.0.0.1:0", "")
	first, releaseFirst, err := m.serve(writeMedia(t, "a.mp4", "first"))
	require.NoError(t, err)
	second, releaseSecond, err := m.serve(writeMedia(t, "b.mp4", "second"))
	require.NoError(t, err)

	u1, _ := url.Parse(first)
	u2, _ := url.Parse(second)
	assert.Equal(t, u1.Host, u2.Host)

	releaseFirst()
	res, err := http.Get(first)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, err = http.Get(second)
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, "second", string(body))

	releaseSecond()
	releaseSecond()
	assertListenerClosed(t, second)
}

// concurrentGraph hands out one container per video and holds each container
// request until every publish has registered its video, so the fetches overlap.
type concurrentGraph struct {
	t       *testing.T
	ready   sync.WaitGroup
	mu      sync.Mutex
	next    int
	fetched map[string]string
}

func (g *concurrentGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/ig-1/media":
		require.NoError(g.t, r.ParseForm())
		g.ready.Done()
		g.ready.Wait()

		res, err := http.Get(r.Form.Get("video_url"))
		if !assert.NoError(g.t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(res.Body)
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"video fetch failed"}}`))
			return
		}

		g.mu.Lock()
		g.next++
		id := fmt.Sprintf("container-%d", g.next)
		g.fetched[id] = string(body)
		g.mu.Unlock()
		w.Write([]byte(`{"id":"` + id + `"}`))
	case r.Method == http.MethodGet:
		w.Write([]byte(`{"status_code":"FINISHED"}`))
	case r.Method == http.MethodPost && r.URL.Path == "/ig-1/media_publish":
		require.NoError(g.t, r.ParseForm())
		w.Write([]byte(`{"id":"published-` + r.Form.Get("creation_id") + `"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestPublishVideoConcurrent(t *testing.T) {
	graph := &concurrentGraph{t: t, fetched: make(map[string]string)}
	graph.ready.Add(2)
	server := httptest.NewServer(graph)
	t.Cleanup(server.Close)

	addr := freeAddr(t)
	pub, err := New(Config{
		UserID:      "ig-1",
		AccessToken: "ig-token",
		GraphURL:    server.URL,
		ServeAddr:   addr,
		Poller:      &poller.Poller{Interval: time.Millisecond, MaxAttempts: 5},
	})
	require.NoError(t, err)

	posts := []xpost.Post{
		{MediaType: xpost.MediaTypeVideo, MediaPath: writeMedia(t, "one.mp4", "video-one")},
		{MediaType: xpost.MediaTypeVideo, MediaPath: writeMedia(t, "two.mp4", "video-two")},
	}
	results := make([]xpost.PublishResult, len(posts))
	var wg sync.WaitGroup
	for i, post := range posts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = pub.Publish(context.Background(), post)
		}()
	}
	wg.Wait()

	for _, result := range results {
		assert.True(t, result.Posted, result.ErrorMessage)
	}
	graph.mu.Lock()
	fetched := []string{graph.fetched["container-1"], graph.fetched["container-2"]}
	graph.mu.Unlock()
	assert.ElementsMatch(t, []string{"video-one", "video-two"}, fetched)
	assertListenerClosed(t, "http://"+addr)
}

func TestNewMissingConfig(t *testing.T) {
	_, err := New(Config{})
	var missing xpost.MissingEnvError
	require.ErrorAs(t, err, &missing)
	assert.Len(t, missing.Variables, 2)
}
