// Package server is the outer surface: the websocket endpoint clients play
// through plus a small HTTP API for discovery, history, health, and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cardroom/cardroom/internal/auth"
	"github.com/cardroom/cardroom/internal/ledger"
	"github.com/cardroom/cardroom/internal/registry"
	"github.com/cardroom/cardroom/internal/session"
	"github.com/cardroom/cardroom/internal/table"
)

// Accounts is the slice of the ledger the HTTP layer needs.
type Accounts interface {
	FindOrCreate(ctx context.Context, steamID, displayName string, defaultChips int64) (ledger.User, error)
	Balance(ctx context.Context, steamID string) (int64, error)
	Hands(ctx context.Context, tableID string, limit int) ([]table.HandRecord, error)
}

// Server hosts the websocket and HTTP endpoints.
type Server struct {
	addr         string
	defaultBuyIn int64
	log          *log.Logger

	verifier auth.Verifier
	ledger   Accounts
	sessions *session.Manager
	registry *registry.Registry
	gatherer prometheus.Gatherer

	upgrader websocket.Upgrader
	engine   *gin.Engine
}

// New assembles the server around its collaborators.
func New(addr string, defaultBuyIn int64, verifier auth.Verifier, accounts Accounts,
	sessions *session.Manager, reg *registry.Registry, gatherer prometheus.Gatherer,
	logger *log.Logger) *Server {

	s := &Server{
		addr:         addr,
		defaultBuyIn: defaultBuyIn,
		log:          logger.WithPrefix("server"),
		verifier:     verifier,
		ledger:       accounts,
		sessions:     sessions,
		registry:     reg,
		gatherer:     gatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The game client is not a browser; origin checks add nothing.
				return true
			},
		},
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.handleHealth)
	engine.GET("/tables", s.handleListTables)
	engine.GET("/tables/:id/hands", s.handleTableHands)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	engine.GET("/ws", s.handleWebSocket)
	return engine
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the context is canceled, then drains with a timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListTables(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tables": s.registry.List(c.Request.Context())})
}

func (s *Server) handleTableHands(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	hands, err := s.ledger.Hands(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.log.Error("hand history query failed", "table", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hands": hands})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}
	client := newConnection(conn, s)
	client.start()
}
