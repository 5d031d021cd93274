// Package web provides the HTTP status server for the home-monitor daemon.
package web

import (
	"bytes"
	"context"
	"net"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/home-monitor/internal/history"
	"github.com/sweeney/home-monitor/internal/status"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HistorySource is the read side of the history store.
type HistorySource interface {
	RecentReadings(ctx context.Context, n int) ([]history.Reading, error)
	RecentEvents(ctx context.Context, kind string, n int) ([]history.Event, error)
}

// Server serves the status page over HTTP.
type Server struct {
	app     *fiber.App
	addr    string
	tracker *status.Tracker
	history HistorySource
}

// New creates a Server that reads state from tracker. hist may be nil when
// history is disabled.
func New(addr string, tracker *status.Tracker, hist HistorySource) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ReadTimeout:           10 * time.Second,
			WriteTimeout:          10 * time.Second,
		}),
		addr:    addr,
		tracker: tracker,
		history: hist,
	}

	s.app.Get("/", s.handleIndex)
	s.app.Get("/index.html", s.handleIndex)
	s.app.Get("/index.json", s.handleJSON)
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/history.json", s.handleHistory)
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.app.Listen(s.addr)
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleIndex(c *fiber.Ctx) error {
	var buf bytes.Buffer
	if err := renderHTML(&buf, s.tracker.Snapshot()); err != nil {
		log.Warnf("web: render index: %v", err)
		return fiber.ErrInternalServerError
	}
	c.Type("html", "utf-8")
	return c.Send(buf.Bytes())
}

func (s *Server) handleJSON(c *fiber.Ctx) error {
	c.Type("json")
	return c.Send(status.FormatJSON(s.tracker.Snapshot()))
}

// HealthJSON is the /health response.
type HealthJSON struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	MQTTConnected bool   `json:"mqtt_connected"`
	Goroutines    int    `json:"goroutines"`
	HeapMB        uint64 `json:"heap_mb"`
	GoVersion     string `json:"go_version"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	snap := s.tracker.Snapshot()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return c.JSON(HealthJSON{
		Status:        "ok",
		UptimeSeconds: int64(snap.Uptime().Seconds()),
		MQTTConnected: snap.MQTTConnected,
		Goroutines:    runtime.NumGoroutine(),
		HeapMB:        m.Alloc / 1024 / 1024,
		GoVersion:     runtime.Version(),
	})
}

// HistoryJSON is the /history.json response.
type HistoryJSON struct {
	Readings []history.Reading `json:"readings"`
	Events   []history.Event   `json:"events"`
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	if s.history == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "history disabled"})
	}

	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	ctx := c.UserContext()
	readings, err := s.history.RecentReadings(ctx, limit)
	if err != nil {
		log.Warnf("web: history readings: %v", err)
		return fiber.ErrInternalServerError
	}
	events, err := s.history.RecentEvents(ctx, c.Query("kind"), limit)
	if err != nil {
		log.Warnf("web: history events: %v", err)
		return fiber.ErrInternalServerError
	}

	if readings == nil {
		readings = []history.Reading{}
	}
	if events == nil {
		events = []history.Event{}
	}
	return c.JSON(HistoryJSON{Readings: readings, Events: events})
}
