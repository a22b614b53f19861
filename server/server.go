// Package server wires the HTTP surface: the two tagging endpoints, the
// health check, the frontend and the metrics scrape.
package server

import (
	"context"
	"image"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"github.com/krau/autotagger/config"
	"github.com/krau/autotagger/metrics"
	"github.com/krau/autotagger/tagger"
	"github.com/krau/autotagger/tagger/rrj"
	"github.com/krau/autotagger/tagger/wdv3"
)

// ImageTagger is what the server needs from a tagging backend.
type ImageTagger interface {
	// Ready reports whether the backend can serve a request right now.
	Ready() error
	// Tag labels img. Backends that apply their own cutoff ignore threshold.
	Tag(ctx context.Context, img image.Image, threshold float32) (*tagger.Result, error)
}

// Options carries the server dependencies. A nil backend means that
// tagger failed to initialize; its endpoint then reports unavailable
// instead of the whole process refusing to start.
type Options struct {
	Config  config.Config
	WDv3    ImageTagger
	RRJ     ImageTagger
	Metrics *metrics.Metrics
}

type Server struct {
	cfg     config.Config
	wdv3    ImageTagger
	rrj     ImageTagger
	metrics *metrics.Metrics
	engine  *gin.Engine
}

// New builds the router and all middleware.
func New(opts Options) *Server {
	s := &Server{
		cfg:     opts.Config,
		wdv3:    opts.WDv3,
		rrj:     opts.RRJ,
		metrics: opts.Metrics,
	}

	e := gin.New()
	e.Use(gin.Recovery(), requestID(), logRequests())
	e.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	e.Use(static.Serve("/assets", static.LocalFile(s.cfg.Frontend.Assets, false)))

	e.GET("/", s.indexHandler)
	e.GET("/health", s.healthHandler)
	e.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	tag := e.Group("/autotag", s.limitBody(), s.rateLimit())
	tag.POST("/"+wdv3.Name, s.wdv3Handler)
	tag.POST("/"+rrj.Name, s.rrjHandler)

	s.engine = e
	return s
}

// Handler exposes the router for an http.Server or a test client.
func (s *Server) Handler() http.Handler { return s.engine }
