package media

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blacktop/xpostd/internal/xpost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		expected xpost.MediaType
		wantErr  bool
	}{
		{"photo.jpg", xpost.MediaTypeImage, false},
		{"photo.JPEG", xpost.MediaTypeImage, false},
		{"shot.png", xpost.MediaTypeImage, false},
		{"anim.gif", xpost.MediaTypeImage, false},
		{"clip.mp4", xpost.MediaTypeVideo, false},
		{"clip.MOV", xpost.MediaTypeVideo, false},
		{"clip.avi", xpost.MediaTypeVideo, false},
		{"clip.wmv", xpost.MediaTypeVideo, false},
		{"clip.flv", xpost.MediaTypeVideo, false},
		{"clip.mkv", xpost.MediaTypeVideo, false},
		{"doc.pdf", "", true},
		{"image.webp", "", true},
		{"noext", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.name)
			if tt.wantErr {
				var verr xpost.ValidationError
				require.ErrorAs(t, err, &verr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestValidate(t *testing.T) {
	s := New(Config{Dir: t.TempDir()})

	t.Run("2 MB jpeg accepted", func(t *testing.T) {
		mt, err := s.Validate("photo.jpg", 2<<20)
		require.NoError(t, err)
		assert.Equal(t, xpost.MediaTypeImage, mt)
	})

	t.Run("exactly 100 MB accepted", func(t *testing.T) {
		_, err := s.Validate("clip.mp4", MaxSize)
		require.NoError(t, err)
	})

	t.Run("150 MB rejected", func(t *testing.T) {
		_, err := s.Validate("clip.mp4", 150<<20)
		var verr xpost.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, err.Error(), "100 MB")
	})

	t.Run("empty rejected", func(t *testing.T) {
		_, err := s.Validate("photo.jpg", 0)
		require.Error(t, err)
	})

	t.Run("decision is repeatable", func(t *testing.T) {
		for _, c := range []struct {
			name string
			size int64
		}{{"a.png", 10}, {"b.exe", 10}, {"c.mp4", 200 << 20}} {
			mt1, err1 := s.Validate(c.name, c.size)
			mt2, err2 := s.Validate(c.name, c.size)
			assert.Equal(t, mt1, mt2)
			assert.Equal(t, err1, err2)
		}
		entries, err := os.ReadDir(s.dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "uploads")
	s := New(Config{Dir: dir, PublicBaseURL: "http://localhost:8080/"})

	data := []byte("\xff\xd8\xff\xe0 fake jpeg")
	asset, err := s.Save(context.Background(), "Photo.JPG", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, xpost.MediaTypeImage, asset.Type)
	assert.True(t, strings.HasSuffix(asset.Name, ".jpg"))
	assert.Equal(t, "http://localhost:8080/uploads/"+asset.Name, asset.URL)
	assert.Equal(t, int64(len(data)), asset.Size)

	stored, err := os.ReadFile(asset.Path)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	again, err := s.Save(context.Background(), "Photo.JPG", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)
	assert.NotEqual(t, asset.Name, again.Name)
}

func TestSaveRejectsUnderstatedSize(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{Dir: dir, MaxSize: 16})

	_, err := s.Save(context.Background(), "clip.mp4", 8, bytes.NewReader(make([]byte, 64)))
	var verr xpost.ValidationError
	require.ErrorAs(t, err, &verr)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveRejectsBeforeTouchingDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never")
	s := New(Config{Dir: dir})

	_, err := s.Save(context.Background(), "notes.txt", 4, strings.NewReader("text"))
	require.Error(t, err)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentType("a.jpg"))
	assert.Equal(t, "video/mp4", ContentType("a.MP4"))
	assert.Equal(t, "application/octet-stream", ContentType("a.bin"))
}
