package instagram

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/media"
	"github.com/google/uuid"
)

// mediaServer exposes local videos so the Graph API can fetch them. One
// listener is shared by every in-flight publish: each publish registers its
// own route, and the listener is closed once the last route is released.
type mediaServer struct {
	addr       string
	publicBase string

	mu     sync.Mutex
	ln     net.Listener
	srv    *http.Server
	base   string
	routes map[string]string
}

func newMediaServer(addr, publicBase string) *mediaServer {
	return &mediaServer{
		addr:       addr,
		publicBase: strings.TrimRight(publicBase, "/"),
		routes:     make(map[string]string),
	}
}

// serve registers path under a fresh route and returns its public URL. The
// release func must be called on every path once the provider is done.
func (m *mediaServer) serve(path string) (string, func(), error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, fmt.Errorf("stat video: %w", err)
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("video path %q is a directory", path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ln == nil {
		if err := m.start(); err != nil {
			return "", nil, err
		}
	}
	route := "/" + uuid.NewString() + strings.ToLower(filepath.Ext(path))
	m.routes[route] = path

	var once sync.Once
	release := func() {
		once.Do(func() { m.release(route) })
	}
	return m.base + route, release, nil
}

// start must be called with mu held.
func (m *mediaServer) start() error {
	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.addr, err)
	}
	m.ln = ln
	m.srv = &http.Server{Handler: http.HandlerFunc(m.handle), ReadHeaderTimeout: 10 * time.Second}
	m.base = m.publicBase
	if m.base == "" {
		m.base = "http://" + ln.Addr().String()
	}

	srv := m.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logutil.Errorf("instagram media server: %v", err)
		}
	}()
	logutil.Debugf("instagram: media listener started on %s", ln.Addr())
	return nil
}

func (m *mediaServer) release(route string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.routes, route)
	if len(m.routes) > 0 || m.ln == nil {
		return
	}
	if err := m.srv.Close(); err != nil {
		logutil.Debugf("instagram: close media server: %v", err)
	}
	// Serve may not be tracking the listener yet.
	if err := m.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logutil.Debugf("instagram: close media listener: %v", err)
	}
	m.ln, m.srv = nil, nil
	logutil.Debugf("instagram: media listener stopped")
}

func (m *mediaServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	path, ok := m.routes[r.URL.Path]
	m.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", media.ContentType(path))
	http.ServeFile(w, r, path)
}
