// Package media validates uploaded assets and stores them in the blob directory.
package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/xpost"
	"github.com/google/uuid"
)

// MaxSize is the upload ceiling enforced by every transport.
const MaxSize int64 = 100 << 20

var (
	imageExtensions = map[string]struct{}{".jpeg": {}, ".jpg": {}, ".png": {}, ".gif": {}}
	videoExtensions = map[string]struct{}{".mp4": {}, ".mov": {}, ".avi": {}, ".wmv": {}, ".flv": {}, ".mkv": {}}

	contentTypes = map[string]string{
		".jpeg": "image/jpeg",
		".jpg":  "image/jpeg",
		".png":  "image/png",
		".gif":  "image/gif",
		".mp4":  "video/mp4",
		".mov":  "video/quicktime",
		".avi":  "video/x-msvideo",
		".wmv":  "video/x-ms-wmv",
		".flv":  "video/x-flv",
		".mkv":  "video/x-matroska",
	}
)

// Asset describes a stored upload.
type Asset struct {
	Name string
	Path string
	URL  string
	Type xpost.MediaType
	Size int64
}

// Config locates the blob directory and the base URL it is served under.
type Config struct {
	Dir           string
	PublicBaseURL string
	MaxSize       int64
}

// Store writes validated uploads to disk.
type Store struct {
	dir     string
	baseURL string
	maxSize int64
}

// New creates a media store. The directory is created lazily on first save.
func New(cfg Config) *Store {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = MaxSize
	}
	return &Store{
		dir:     cfg.Dir,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		maxSize: maxSize,
	}
}

// MaxSize returns the configured upload ceiling.
func (s *Store) MaxSize() int64 { return s.maxSize }

// Classify maps a file name to its media type by extension.
func Classify(name string) (xpost.MediaType, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := imageExtensions[ext]; ok {
		return xpost.MediaTypeImage, nil
	}
	if _, ok := videoExtensions[ext]; ok {
		return xpost.MediaTypeVideo, nil
	}
	if ext == "" {
		return "", xpost.ValidationError{Reason: fmt.Sprintf("file %q has no extension", name)}
	}
	return "", xpost.ValidationError{Reason: fmt.Sprintf("unsupported file type %q", ext)}
}

// ContentType returns the MIME type for a supported file name.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Validate checks type and size without side effects.
func (s *Store) Validate(name string, size int64) (xpost.MediaType, error) {
	mediaType, err := Classify(name)
	if err != nil {
		return "", err
	}
	if size <= 0 {
		return "", xpost.ValidationError{Reason: "file is empty"}
	}
	if size > s.maxSize {
		return "", TooLarge(s.maxSize)
	}
	return mediaType, nil
}

// Save validates and persists r under a generated name. The declared size is
// checked up front and the stream is capped while copying, so a body larger
// than declared is still rejected and its partial file removed.
func (s *Store) Save(ctx context.Context, name string, size int64, r io.Reader) (Asset, error) {
	mediaType, err := s.Validate(name, size)
	if err != nil {
		return Asset{}, err
	}
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Asset{}, fmt.Errorf("create media dir: %w", err)
	}

	stored := uuid.NewString() + strings.ToLower(filepath.Ext(name))
	path := filepath.Join(s.dir, stored)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Asset{}, fmt.Errorf("create media file: %w", err)
	}

	written, err := io.Copy(file, io.LimitReader(r, s.maxSize+1))
	closeErr := file.Close()
	switch {
	case err != nil:
		os.Remove(path)
		return Asset{}, fmt.Errorf("write media file: %w", err)
	case closeErr != nil:
		os.Remove(path)
		return Asset{}, fmt.Errorf("close media file: %w", closeErr)
	case written > s.maxSize:
		os.Remove(path)
		return Asset{}, TooLarge(s.maxSize)
	case written == 0:
		os.Remove(path)
		return Asset{}, xpost.ValidationError{Reason: "file is empty"}
	}

	logutil.Debugf("stored media: name=%s type=%s bytes=%d", stored, mediaType, written)

	return Asset{
		Name: stored,
		Path: path,
		URL:  s.baseURL + "/uploads/" + stored,
		Type: mediaType,
		Size: written,
	}, nil
}

// TooLarge is the validation error reported for uploads over limit bytes.
func TooLarge(limit int64) error {
	if limit%(1<<20) == 0 {
		return xpost.ValidationError{Reason: fmt.Sprintf("file exceeds the %d MB limit", limit>>20)}
	}
	return xpost.ValidationError{Reason: fmt.Sprintf("file exceeds the %d byte limit", limit)}
}
