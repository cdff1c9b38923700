// Package server exposes scans, progress and statistics over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/dsablic/linestat/internal/scan"
	"github.com/dsablic/linestat/internal/store"
)

// Config wires a Server.
type Config struct {
	Store   *store.Store
	Scanner *scan.Scanner
	// Owner is used when a request names none.
	Owner  string
	Logger *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	// ctx bounds background scans started by requests.
	ctx     context.Context
	app     *fiber.App
	store   *store.Store
	scanner *scan.Scanner
	owner   string
	log     *slog.Logger
	now     func() time.Time
}

// New builds the fiber app and registers every route.
func New(cfg Config) *Server {
	if cfg.Owner == "" {
		cfg.Owner = "default"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		ctx:     context.Background(),
		store:   cfg.Store,
		scanner: cfg.Scanner,
		owner:   cfg.Owner,
		log:     cfg.Logger,
		now:     time.Now,
	}

	s.app = fiber.New(fiber.Config{
		AppName:      "linestat",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(s.logRequests)
	s.Register(s.app)
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Register sets up the API routes on router.
func (s *Server) Register(router fiber.Router) {
	api := router.Group("/api")
	api.Get("/health", s.health)

	api.Post("/scan", s.startScan)
	api.Get("/progress", s.getProgress)
	api.Get("/progress/stream", s.streamProgress)
	api.Post("/progress/reset", s.resetProgress)

	api.Get("/stats", s.getStats)
	api.Get("/history", s.getHistory)
	api.Get("/badge/:metric", s.getBadge)

	api.Get("/accounts", s.listAccounts)
	api.Post("/accounts", s.addAccount)
	api.Put("/accounts/:id/active", s.setAccountActive)
	api.Delete("/accounts/:id", s.removeAccount)
	api.Get("/repositories", s.listRepositories)

	api.Get("/cache", s.cacheStatus)
	api.Delete("/cache", s.clearCache)
}

// Run serves on addr and, when interval is positive, starts a scan for the
// default owner every interval. It returns after ctx is done and running
// scans have finished.
func (s *Server) Run(ctx context.Context, addr string, interval time.Duration) error {
	s.ctx = ctx
	if interval > 0 {
		go s.scanner.RunPeriodic(ctx, s.owner, interval, scan.Request{})
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr, "scan_interval", interval)
		errCh <- s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		s.log.Warn("http shutdown", "error", err)
	}
	s.scanner.Wait()
	return nil
}

func (s *Server) logRequests(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.log.Debug("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", time.Since(start),
	)
	return err
}

func (s *Server) handleError(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, store.ErrNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, scan.ErrScanInProgress):
		code = fiber.StatusConflict
	}
	if code >= fiber.StatusInternalServerError {
		s.log.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) health(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"backend": s.store.Backend(),
		"active":  s.scanner.Tracker().Active(),
		"streams": s.scanner.Tracker().Streams(),
	})
}
