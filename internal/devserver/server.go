package devserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zfogg/emoine/pkg/logger"
	"github.com/zfogg/emoine/pkg/metrics"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// WebSocketPath is where clients connect
const WebSocketPath = "/api/ws"

// ServiceName identifies the server in traces
const ServiceName = "emoine-devserver"

const shutdownTimeout = 30 * time.Second

// Server is the development broadcast server
type Server struct {
	hub     *Hub
	handler *Handler
	router  *gin.Engine
	srv     *http.Server
}

// New creates a server listening on addr. Call Run to start it.
func New(addr string) *Server {
	metrics.Initialize()
	gin.SetMode(gin.ReleaseMode)

	hub := NewHub()
	s := &Server{
		hub:     hub,
		handler: NewHandler(hub),
	}
	s.router = s.newRouter()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(ServiceName), requestLogger())

	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowMethods = []string{"GET", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type"}
	r.Use(cors.New(config))

	r.GET(WebSocketPath, s.handler.HandleWebSocket)

	api := r.Group("/")
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		api.GET("/health", s.handler.HandleHealth)
		api.GET(WebSocketPath+"/stats", s.handler.HandleStats)
		api.GET(WebSocketPath+"/frames", s.handler.HandleFrames)
		api.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	return r
}

// Handler returns the HTTP handler, for mounting under httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the broadcast hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run listens on the configured address and serves until ctx is canceled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.hub.Run()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Development server listening", "addr", ln.Addr().String(), "ws", WebSocketPath)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		_ = s.hub.Shutdown(context.Background())
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.hub.Shutdown(shutdownCtx); err != nil {
		logger.Warn("WebSocket shutdown warning", "error", err)
	}
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("Server exited")
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
