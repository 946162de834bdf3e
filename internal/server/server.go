// Package server exposes a Session over HTTP, with events pushed over a websocket, so that a UI can drive it.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/alanbriolat/video-fetcher/async"
	"github.com/alanbriolat/video-fetcher/internal/session"
)

type Config struct {
	// AllowOrigins for CORS; empty allows the usual local UI dev servers.
	AllowOrigins []string
	// ShutdownTimeout bounds how long Run waits for in-flight requests once its context is done.
	ShutdownTimeout time.Duration
}

var DefaultConfig = Config{
	AllowOrigins:    []string{"http://localhost:3000", "http://localhost:5173", "http://localhost:1420"},
	ShutdownTimeout: 5 * time.Second,
}

type Server struct {
	config  Config
	session *session.Session
	engine  *gin.Engine
	log     *zap.SugaredLogger
}

func New(s *session.Session, config Config) *Server {
	if len(config.AllowOrigins) == 0 {
		config.AllowOrigins = DefaultConfig.AllowOrigins
	}
	srv := &Server{
		config:  config,
		session: s,
		engine:  gin.New(),
		log:     zap.S().Named("server"),
	}
	srv.engine.Use(gin.Recovery())
	srv.engine.Use(CORS(config.AllowOrigins))
	srv.engine.Use(Logging(srv.log))
	srv.setupRoutes()
	return srv
}

func (srv *Server) setupRoutes() {
	srv.engine.GET("/health", srv.health)

	api := srv.engine.Group("/api")
	{
		api.POST("/downloads", srv.startDownload)
		api.GET("/progress", srv.getProgress)
		api.GET("/formats", srv.listFormats)
		api.POST("/cancel", srv.cancelDownload)
		api.GET("/history", srv.history)
		api.DELETE("/history/:id", srv.deleteHistory)
		api.GET("/ws", srv.streamEvents)
	}
}

func (srv *Server) Handler() http.Handler {
	return srv.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (srv *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.engine,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	errc := async.Run(func() error {
		srv.log.Infof("listening on %v", addr)
		return httpServer.ListenAndServe()
	})
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	timeout := srv.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig.ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
