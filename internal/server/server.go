// Package server is the node's HTTP status and control surface.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/wotlink/internal/auth"
	"github.com/danmuck/wotlink/internal/dispatch"
	"github.com/danmuck/wotlink/internal/journal"
	"github.com/danmuck/wotlink/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Submitter accepts messages for the consumer. *dispatch.Queue satisfies it.
type Submitter interface {
	Submit(ctx context.Context, msg dispatch.Message, wait time.Duration) error
}

// Snapshot is the body of GET /status.
type Snapshot struct {
	Node       string         `json:"node"`
	DeviceID   uint32         `json:"device_id"`
	DeviceTag  string         `json:"device_tag"`
	PeerHost   string         `json:"peer_host"`
	LinkUp     bool           `json:"link_up"`
	QueueDepth int            `json:"queue_depth"`
	QueueCap   int            `json:"queue_capacity"`
	Consumer   dispatch.Stats `json:"consumer"`
}

type StatusFunc func() Snapshot

type Config struct {
	Node        string
	Addr        string
	CorsOrigins []string
	SubmitWait  time.Duration
	// Token guards /messages when non-empty.
	Token string
	// ResultTimeout bounds how long a request waits on the consumer.
	ResultTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Node:          "wotlink",
		Addr:          "127.0.0.1:8090",
		SubmitWait:    0,
		ResultTimeout: 30 * time.Second,
	}
}

type Server struct {
	cfg     Config
	queue   Submitter
	journal journal.Journal
	status  StatusFunc
	router  *gin.Engine
	started time.Time
}

func New(cfg Config, queue Submitter, j journal.Journal, status StatusFunc) *Server {
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = DefaultConfig().ResultTimeout
	}
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, "/metrics", "/health"))
	r.Use(observability.RequestMetricsMiddleware(cfg.Node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		queue:   queue,
		journal: j,
		status:  status,
		router:  r,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("server.Server.Run listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requireToken rejects requests without the configured bearer token.
func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.CheckHeader(v, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
