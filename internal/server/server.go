// Package server exposes the publish pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/media"
	"github.com/blacktop/xpostd/internal/orchestrator"
	"github.com/blacktop/xpostd/internal/store"
	"github.com/blacktop/xpostd/internal/token"
	"github.com/blacktop/xpostd/internal/xpost"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100

	// multipart framing and text fields on top of the media ceiling
	formOverhead = 1 << 20

	accessLogFormat = "${locals:requestid} ${method} ${path} -> ${status} (${latency})\n"
)

// Publisher runs a post through every requested provider.
type Publisher interface {
	Publish(ctx context.Context, post xpost.Post) (xpost.Post, error)
}

// OAuth drives the YouTube consent flow.
type OAuth interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (token.Grant, error)
}

// Deps are the collaborators the handlers need. OAuth may be nil when YouTube
// is not configured.
type Deps struct {
	Publisher Publisher
	Registry  orchestrator.Registry
	Posts     store.Store
	Media     *media.Store
	MediaDir  string
	OAuth     OAuth
	// AllowOrigins is passed to the CORS middleware; empty allows any origin.
	AllowOrigins string
}

// Server wraps the Fiber application.
type Server struct {
	app      *fiber.App
	deps     Deps
	validate *validator.Validate
}

// New builds the application and registers every route.
func New(deps Deps) *Server {
	s := &Server{deps: deps, validate: newValidator()}

	s.app = fiber.New(fiber.Config{
		AppName:               "xpostd",
		BodyLimit:             int(deps.Media.MaxSize()) + formOverhead,
		ReadTimeout:           5 * time.Minute,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	origins := deps.AllowOrigins
	if origins == "" {
		origins = "*"
	}
	s.app.Use(requestid.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
	}))
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Next:          func(*fiber.Ctx) bool { return !logutil.Verbose() },
		Format:        accessLogFormat,
		Output:        logutil.DebugWriter(),
		DisableColors: true,
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	s.app.Post("/publish", s.handlePublish)
	s.app.Get("/posts/recent", s.handleRecent)
	s.app.Get("/posts/:id", s.handleGetPost)

	s.app.Get("/oauth/youtube/authorize", s.handleAuthorize)
	s.app.Get("/oauth/youtube/callback", s.handleCallback)

	if s.deps.MediaDir != "" {
		s.app.Static("/uploads", s.deps.MediaDir)
	}
}

// App returns the underlying Fiber application.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves until Shutdown is called.
func (s *Server) Listen(addr string) error {
	logutil.Infof("listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	var (
		fe *fiber.Error
		ve xpost.ValidationError
		pe *orchestrator.PersistenceError
	)
	switch {
	case errors.As(err, &fe):
		code, message = fe.Code, fe.Message
		if code == fiber.StatusRequestEntityTooLarge {
			// oversize uploads are reported like any other validation failure
			code = fiber.StatusBadRequest
			message = media.TooLarge(s.deps.Media.MaxSize()).Error()
		}
	case errors.As(err, &ve):
		code, message = fiber.StatusBadRequest, ve.Error()
	case errors.As(err, &pe):
		message = "failed to persist post"
	}

	log := logutil.With("method", c.Method(), "path", c.Path(), "status", code)
	if rid, ok := c.Locals(requestid.ConfigDefault.ContextKey).(string); ok {
		log = log.With("request_id", rid)
	}
	if code >= fiber.StatusInternalServerError {
		log.Error("request failed", "error", err)
	} else {
		log.Warn("request rejected", "error", message)
	}

	return c.Status(code).JSON(fiber.Map{"error": message})
}
