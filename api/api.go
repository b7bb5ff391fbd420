package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/TFMV/evfeatures/internal/runner"
	"github.com/TFMV/evfeatures/metrics"
	"github.com/TFMV/evfeatures/pkg/core"
	"github.com/TFMV/evfeatures/pkg/features"
	"github.com/TFMV/evfeatures/pkg/readers"
	"github.com/TFMV/evfeatures/pkg/schema"
	"github.com/TFMV/evfeatures/version"
)

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Addr    string
	Prefork bool

	// Features is the base configuration; requests may override the
	// reference year and the tie-break rule.
	Features features.Options
	Logger   *zap.Logger
}

// Server holds the Fiber app instance
type Server struct {
	app  *fiber.App
	opts ServerOptions
	log  *zap.Logger
}

// NewServer initializes a new Fiber instance.
func NewServer(opts ServerOptions) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		IdleTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		BodyLimit:    256 << 20,
		Prefork:      opts.Prefork,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{app: app, opts: opts, log: log}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	app.Get("/version", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": "EV Features API",
			"version": version.Version,
			"build":   version.BuildDate,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	app.Post("/derive", s.handleDerive)
	app.Post("/report", s.handleReport)

	return s
}

// GetApp exposes the Fiber app for testing.
func (s *Server) GetApp() *fiber.App {
	return s.app
}

// Start listens on the configured address. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info("EV Features API listening", zap.String("addr", s.opts.Addr))
	return s.app.Listen(s.opts.Addr)
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// requestOptions applies query overrides to the base feature options.
func (s *Server) requestOptions(c *fiber.Ctx) (features.Options, error) {
	opts := s.opts.Features
	if v := c.Query("current_year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil || year <= 0 {
			return opts, fmt.Errorf("invalid current_year %q", v)
		}
		opts.CurrentYear = year
	}
	if v := c.Query("tie_break"); v != "" {
		opts.TieBreak = features.TieBreak(v)
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// derive runs the body through the pipeline. On a handled failure it writes
// the error response itself and returns a nil outcome.
func (s *Server) derive(c *fiber.Ctx) (*runner.Outcome, error) {
	body := c.Body()
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"code":    "empty_body",
			"message": "request body must be a CSV registration table",
		})
	}

	opts, err := s.requestOptions(c)
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"code":    "invalid_options",
			"message": err.Error(),
		})
	}

	r := runner.New(opts, s.log)
	reader := readers.NewCSVStreamReader(bytes.NewReader(body), core.ReaderConfig{
		Type:        "csv",
		ColumnTypes: schema.SourceColumnTypes(opts),
	})
	defer reader.Close()

	out, err := r.Derive(c.UserContext(), reader, metrics.RunMetadata{Input: "request", InputType: "csv"})
	if err != nil {
		out.Release()
		return nil, s.sendError(c, err)
	}
	return out, nil
}

func (s *Server) sendError(c *fiber.Ctx, err error) error {
	code := runner.ErrorCode(err)
	status := fiber.StatusUnprocessableEntity
	var fault *features.Fault
	var verr *metrics.ValidationError
	switch {
	case errors.As(err, &fault), errors.As(err, &verr):
	case code == "cancelled":
		status = fiber.StatusServiceUnavailable
	default:
		status = fiber.StatusBadRequest
	}
	s.log.Warn("Derivation rejected", zap.String("code", code), zap.Error(err))
	return c.Status(status).JSON(fiber.Map{"code": code, "message": err.Error()})
}

// handleDerive returns the derived table as CSV.
func (s *Server) handleDerive(c *fiber.Ctx) error {
	out, err := s.derive(c)
	if out == nil {
		return err
	}
	defer out.Release()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf, out.Output.Schema(), csv.WithHeader(true), csv.WithNullWriter(""))
	if err := w.Write(out.Output); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	if err := w.Flush(); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	c.Set("X-Row-Count", strconv.FormatInt(out.Output.NumRows(), 10))
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	return c.Send(buf.Bytes())
}

// handleReport returns the run report as JSON instead of the table.
func (s *Server) handleReport(c *fiber.Ctx) error {
	out, err := s.derive(c)
	if out == nil {
		return err
	}
	defer out.Release()
	return c.JSON(out.Report)
}
