// Package httpapi is the REST facade over a dagstore.Store.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"xdao.co/cadstore/dagstore"
	"xdao.co/cadstore/stats"
)

// DefaultBodyLimit caps request bodies when Options.BodyLimit is empty.
const DefaultBodyLimit = "64M"

type Options struct {
	// BodyLimit uses echo's size syntax, e.g. "4M" or "1G".
	BodyLimit string
	Logger    *slog.Logger
	// Stats receives one count per request. A fresh Collector is created
	// when nil.
	Stats *stats.Collector
}

// Server routes the REST API onto a Store.
type Server struct {
	store *dagstore.Store
	stats *stats.Collector
	log   *slog.Logger
	echo  *echo.Echo
}

func New(store *dagstore.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Stats == nil {
		opts.Stats = stats.New(0)
	}
	if opts.BodyLimit == "" {
		opts.BodyLimit = DefaultBodyLimit
	}
	s := &Server{store: store, stats: opts.Stats, log: opts.Logger}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(s.requestLogger())
	e.Use(middleware.CORS())
	e.Use(s.countRequests)
	e.Use(middleware.BodyLimit(opts.BodyLimit))

	e.GET("/health", s.health)

	api := e.Group("/api/v1")
	api.POST("/add/text", s.addText)
	api.POST("/add/json", s.addJSON)
	api.POST("/add/bytes", s.addBytes)
	api.POST("/add/file", s.addFile)
	api.GET("/cat/:cid", s.cat)
	api.HEAD("/cat/:cid", s.cat)
	api.GET("/stat/:cid", s.stat)
	api.GET("/stats", s.getStats)

	s.echo = e
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler { return s.echo }

// Echo exposes the router, e.g. for Start/Shutdown.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Stats returns the collector the server counts into.
func (s *Server) Stats() *stats.Collector { return s.stats }

func (s *Server) countRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.stats.IncRequest()
		return next(c)
	}
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency.Round(time.Microsecond),
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				s.log.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			s.log.Info("request", attrs...)
			return nil
		},
	})
}
