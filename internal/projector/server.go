// Package projector serves the chat View over HTTP for local front ends.
package projector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/ridechat/internal/chat"
	"github.com/zulandar/ridechat/internal/logger"
)

// Source is the engine surface the projector reads from and drives.
type Source interface {
	Snapshot() chat.View
	Subscribe() (<-chan struct{}, func())
	SetInput(text string) error
	Submit(text string) error
	Reload() error
}

var _ Source = (*chat.Engine)(nil)

// StartOpts holds configuration for the projector server.
type StartOpts struct {
	Source    Source
	Port      int
	Heartbeat time.Duration // SSE heartbeat interval, defaults to 15s
	Logger    *logger.Logger
	Out       io.Writer
}

// NewRouter builds the gin router with every projector route.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("projector: source is required")
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts.Source, opts.Heartbeat, opts.Logger)
	return router, nil
}

// Start launches the projector HTTP server on localhost. It blocks until ctx
// is cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8088
	}
	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Projector running at http://localhost:%d/api/chat\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("projector: %w", err)
	}
	return nil
}
