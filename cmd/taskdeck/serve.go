package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/broady/taskdeck"
	"github.com/broady/taskdeck/middleware"
	"github.com/broady/taskdeck/server"
)

type ServeCmd struct {
	Addr        string        `help:"Address to listen on." default:":8080" env:"TASKDECK_ADDR"`
	AccessTTL   time.Duration `name:"access-ttl" help:"Lifetime of access tokens." default:"15m"`
	Empty       bool          `help:"Start with no tasks instead of the sample list."`
	CORSOrigins []string      `name:"cors-origin" help:"Allowed CORS origins." default:"*" sep:","`
	MaskErrors  bool          `help:"Hide internal error details from clients." default:"true" negatable:""`
}

func (c *ServeCmd) Run(g *Globals, env *Env) error {
	logger := newLogger(g.LogLevel, env.stderr)
	if g.LogLevel == "warn" {
		// Request logs are the point of running the mock server.
		logger = newLogger("info", env.stderr)
	}

	cfg := server.Config{
		AccessTTL: c.AccessTTL,
		Logger:    logger,
	}
	if c.Empty {
		cfg.Seed = []taskdeck.Task{}
	}
	app, api := server.New(cfg)
	app.WithMiddleware(middleware.CORS(&middleware.CORSConfig{
		AllowOrigins:     c.CORSOrigins,
		AllowCredentials: true,
	})).WithUnaryInterceptor(middleware.LoggingInterceptor(logger))
	if c.MaskErrors {
		app.WithMaskInternalErrors()
	}

	ln, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	fmt.Fprintf(env.stdout, "Serving %d tasks on http://%s\n", api.Store.Len(), ln.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-env.ctx.Done():
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.WithoutCancel(env.ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", slog.Any("error", err))
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
