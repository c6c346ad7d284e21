package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/store"
	"github.com/blacktop/xpostd/internal/xpost"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type publishForm struct {
	Title       string `form:"title" validate:"required"`
	Description string `form:"description" validate:"required"`
	Platforms   string `form:"platforms" validate:"required"`
	Tags        string `form:"tags"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("form"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func (s *Server) validateForm(form *publishForm) error {
	err := s.validate.Struct(form)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Tag() == "required" {
			return xpost.ValidationError{Reason: fe.Field() + " is required"}
		}
		return xpost.ValidationError{Reason: fmt.Sprintf("%s is invalid", fe.Field())}
	}
	return err
}

func (s *Server) handlePublish(c *fiber.Ctx) error {
	var form publishForm
	if err := c.BodyParser(&form); err != nil {
		return xpost.ValidationError{Reason: "request must be multipart/form-data"}
	}
	form.Title = strings.TrimSpace(form.Title)
	form.Description = strings.TrimSpace(form.Description)
	if err := s.validateForm(&form); err != nil {
		return err
	}

	platforms, err := s.parsePlatforms(form.Platforms)
	if err != nil {
		return err
	}
	tags, err := parseTags(form.Tags)
	if err != nil {
		return err
	}

	fh, err := c.FormFile("media")
	if err != nil {
		return xpost.ValidationError{Reason: "media file is required"}
	}
	if _, err := s.deps.Media.Validate(fh.Filename, fh.Size); err != nil {
		return err
	}
	file, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	ctx := c.UserContext()
	asset, err := s.deps.Media.Save(ctx, fh.Filename, fh.Size, file)
	if err != nil {
		return err
	}

	post, err := s.deps.Publisher.Publish(ctx, xpost.Post{
		Title:       form.Title,
		Description: form.Description,
		MediaType:   asset.Type,
		MediaURL:    asset.URL,
		MediaPath:   asset.Path,
		Tags:        tags,
		Platforms:   platforms,
		CreatedBy:   strings.TrimSpace(c.Get("X-User-ID")),
	})
	if err != nil {
		// no record references the blob
		if rmErr := os.Remove(asset.Path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			logutil.Warnf("remove orphaned upload %s: %v", asset.Path, rmErr)
		}
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// parsePlatforms decodes the JSON array, lower-cases and de-duplicates it
// keeping the caller's order, and rejects identifiers with no publisher.
func (s *Server) parsePlatforms(raw string) ([]string, error) {
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, xpost.ValidationError{Reason: "platforms must be a JSON array of strings"}
	}
	platforms := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if !s.deps.Registry.Has(v) {
			return nil, xpost.ValidationError{Reason: fmt.Sprintf("unsupported platform %q", v)}
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		platforms = append(platforms, v)
	}
	if len(platforms) == 0 {
		return nil, xpost.ValidationError{Reason: "at least one platform is required"}
	}
	return platforms, nil
}

func parseTags(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, xpost.ValidationError{Reason: "tags must be a JSON array of strings"}
	}
	tags := values[:0]
	for _, t := range values {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags, nil
}

func (s *Server) handleRecent(c *fiber.Ctx) error {
	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return xpost.ValidationError{Reason: "limit must be a positive integer"}
		}
		limit = min(n, maxRecentLimit)
	}

	posts, err := s.deps.Posts.ListRecent(c.UserContext(), limit)
	if err != nil {
		return fmt.Errorf("list recent posts: %w", err)
	}
	return c.JSON(posts)
}

func (s *Server) handleGetPost(c *fiber.Ctx) error {
	post, err := s.deps.Posts.Get(c.UserContext(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "post not found")
	}
	if err != nil {
		return fmt.Errorf("get post: %w", err)
	}
	return c.JSON(post)
}

func (s *Server) handleAuthorize(c *fiber.Ctx) error {
	if s.deps.OAuth == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "youtube is not configured")
	}
	return c.JSON(fiber.Map{"authUrl": s.deps.OAuth.AuthCodeURL(uuid.NewString())})
}

func (s *Server) handleCallback(c *fiber.Ctx) error {
	if s.deps.OAuth == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "youtube is not configured")
	}
	if denied := c.Query("error"); denied != "" {
		return fiber.NewError(fiber.StatusBadRequest, "authorization denied: "+denied)
	}
	code := c.Query("code")
	if code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing authorization code")
	}

	grant, err := s.deps.OAuth.Exchange(c.UserContext(), code)
	if err != nil {
		logutil.Errorf("youtube code exchange failed: %v", err)
		return fiber.NewError(fiber.StatusBadGateway, "authorization code exchange failed")
	}
	return c.JSON(grant)
}
