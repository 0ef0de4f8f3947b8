package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shepherdhq/console/pkg/event"
	"github.com/shepherdhq/console/pkg/export"
	"github.com/shepherdhq/console/pkg/handler"
	"github.com/shepherdhq/console/pkg/session"
	"github.com/shepherdhq/console/pkg/utils"
)

// Server hosts the GUI-facing HTTP API and WebSocket event stream.
type Server struct {
	ginEngine *gin.Engine
	logger    *slog.Logger
	host      string
	port      int
}

func NewServer(host string, port int, store *session.Store, exports *export.Queue) *Server {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: allow the desktop webview's dev origins and common
	// localhost origins. No credentials are used, so Allow-Credentials stays off.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// No Origin header means it's not a browser CORS request.
		if origin != "" {
			allowed := strings.HasPrefix(origin, "tauri://localhost") ||
				strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1")

			if allowed {
				// Echo the Origin: custom schemes (tauri://) can't match "*".
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			} else {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	server := &Server{
		ginEngine: ginEngine,
		logger:    utils.GetLogger(),
		host:      host,
		port:      port,
	}

	server.setupRoutes(store, exports)

	return server
}

func (s *Server) setupRoutes(store *session.Store, exports *export.Queue) {
	api := s.ginEngine.Group("/api")

	handler.NewConversationHandler(store).RegisterRoutes(api)
	handler.NewCompactionHandler(store).RegisterRoutes(api)
	handler.NewExportHandler(exports).RegisterRoutes(api)

	api.GET("/events/ws", event.NewWSHandler().Handle)

	s.ginEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Start listens and serves until ctx is cancelled. Binding failures are
// returned immediately; after a successful bind it returns nil and serves in
// the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}
	s.logger.Info("Console API listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}
