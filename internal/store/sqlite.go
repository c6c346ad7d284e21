package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/store/migrations"
	"github.com/blacktop/xpostd/internal/xpost"
	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// SQLite is a Store backed by an embedded SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := map[string]bool{}
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("query migrations: %w", err)
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate migrations: %w", err)
	}

	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		if applied[file] {
			continue
		}
		content, err := fs.ReadFile(migrations.FS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, upMigration(string(content))); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", file); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
		logutil.Debugf("applied migration %s", file)
	}
	return nil
}

// upMigration returns the part of a migration before the Down marker.
func upMigration(content string) string {
	if idx := strings.Index(content, "-- +migrate Down"); idx >= 0 {
		content = content[:idx]
	}
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(content), "-- +migrate Up"))
}

// Create inserts a new post with an empty status map.
func (s *SQLite) Create(ctx context.Context, post xpost.Post) (xpost.Post, error) {
	post = prepare(post)

	tags, err := json.Marshal(nonNil(post.Tags))
	if err != nil {
		return xpost.Post{}, fmt.Errorf("marshal tags: %w", err)
	}
	platforms, err := json.Marshal(post.Platforms)
	if err != nil {
		return xpost.Post{}, fmt.Errorf("marshal platforms: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO posts (id, title, description, media_type, media_url, media_path, tags, platforms, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		post.ID, post.Title, post.Description, string(post.MediaType), post.MediaURL, post.MediaPath,
		string(tags), string(platforms), post.CreatedBy,
		post.CreatedAt.Format(timeLayout), post.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return xpost.Post{}, fmt.Errorf("insert post: %w", err)
	}
	return post, nil
}

// UpdateStatus upserts the result for one provider.
func (s *SQLite) UpdateStatus(ctx context.Context, id, provider string, result xpost.PublishResult) (xpost.Post, error) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return xpost.Post{}, fmt.Errorf("marshal result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xpost.Post{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE posts SET updated_at = ? WHERE id = ?", now().Format(timeLayout), id)
	if err != nil {
		return xpost.Post{}, fmt.Errorf("touch post: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return xpost.Post{}, ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO post_status (post_id, provider, result) VALUES (?, ?, ?)
		ON CONFLICT (post_id, provider) DO UPDATE SET result = excluded.result`,
		id, provider, string(encoded),
	); err != nil {
		return xpost.Post{}, fmt.Errorf("upsert status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return xpost.Post{}, fmt.Errorf("commit status: %w", err)
	}
	return s.Get(ctx, id)
}

// Get loads a post with its status map.
func (s *SQLite) Get(ctx context.Context, id string) (xpost.Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, media_type, media_url, media_path, tags, platforms, created_by, created_at, updated_at
		FROM posts WHERE id = ?`, id)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return xpost.Post{}, ErrNotFound
	}
	if err != nil {
		return xpost.Post{}, err
	}
	if err := s.loadStatus(ctx, &post); err != nil {
		return xpost.Post{}, err
	}
	return post, nil
}

// ListRecent returns up to n posts, newest first.
func (s *SQLite) ListRecent(ctx context.Context, n int) ([]xpost.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, media_type, media_url, media_path, tags, platforms, created_by, created_at, updated_at
		FROM posts ORDER BY created_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}

	posts := []xpost.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		posts = append(posts, post)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}

	for i := range posts {
		if err := s.loadStatus(ctx, &posts[i]); err != nil {
			return nil, err
		}
	}
	return posts, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) loadStatus(ctx context.Context, post *xpost.Post) error {
	rows, err := s.db.QueryContext(ctx, "SELECT provider, result FROM post_status WHERE post_id = ?", post.ID)
	if err != nil {
		return fmt.Errorf("query status: %w", err)
	}
	defer rows.Close()

	post.PostStatus = map[string]xpost.PublishResult{}
	for rows.Next() {
		var provider, encoded string
		if err := rows.Scan(&provider, &encoded); err != nil {
			return fmt.Errorf("scan status: %w", err)
		}
		var result xpost.PublishResult
		if err := json.Unmarshal([]byte(encoded), &result); err != nil {
			return fmt.Errorf("decode status %s: %w", provider, err)
		}
		post.PostStatus[provider] = result
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (xpost.Post, error) {
	var (
		post                 xpost.Post
		mediaType            string
		tags, platforms      string
		createdAt, updatedAt string
	)
	if err := row.Scan(&post.ID, &post.Title, &post.Description, &mediaType, &post.MediaURL, &post.MediaPath,
		&tags, &platforms, &post.CreatedBy, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return xpost.Post{}, err
		}
		return xpost.Post{}, fmt.Errorf("scan post: %w", err)
	}
	post.MediaType = xpost.MediaType(mediaType)

	if err := json.Unmarshal([]byte(tags), &post.Tags); err != nil {
		return xpost.Post{}, fmt.Errorf("decode tags: %w", err)
	}
	if len(post.Tags) == 0 {
		post.Tags = nil
	}
	if err := json.Unmarshal([]byte(platforms), &post.Platforms); err != nil {
		return xpost.Post{}, fmt.Errorf("decode platforms: %w", err)
	}

	var err error
	if post.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return xpost.Post{}, fmt.Errorf("parse created_at: %w", err)
	}
	if post.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return xpost.Post{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return post, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
