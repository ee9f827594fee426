package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	retry "github.com/avast/retry-go/v5"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/ampdeck/agent/cmd/config"
	"github.com/ampdeck/agent/lib/logger"
	"github.com/ampdeck/agent/lib/page"
	"github.com/ampdeck/agent/lib/scrape"
	"github.com/ampdeck/agent/lib/session"
)

func main() {
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Load configuration from environment variables
	config, err := config.Load()
	if err != nil {
		slogger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	slogger.Info("agent configuration", "config", config)

	// context cancellation on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profiles, err := scrape.NewStore(slogger, config.ProfilePath)
	if err != nil {
		slogger.Error("failed to load selector profile", "err", err)
		os.Exit(1)
	}
	defer profiles.Close()

	// The browser (and an eligible page) may come up after the agent does;
	// keep retrying the attach for a while before giving up.
	var doc *page.CDPDocument
	err = retry.New(
		retry.Attempts(uint(config.AttachRetries)),
		retry.Delay(config.AttachDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slogger.Info("CDP attach failed, retrying", "attempt", n+1, "err", err)
		}),
	).Do(func() error {
		d, err := page.Dial(ctx, config.CDPURL, config.HostPatterns, slogger)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		slogger.Error("could not attach to a page target", "err", err)
		os.Exit(1)
	}
	defer doc.Close()

	sess := session.New(slogger, doc, profiles.Profile, config.VizBars, session.DefaultTimings())
	sess.Start(ctx)

	r := chi.NewRouter()
	r.Use(
		chiMiddleware.Logger,
		chiMiddleware.Recoverer,
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxWithLogger := logger.AddToContext(r.Context(), slogger)
				next.ServeHTTP(w, r.WithContext(ctxWithLogger))
			})
		},
	)

	r.Get("/session/socket", session.SocketHandler(sess))
	r.Get("/status", session.StatusHandler(sess, func() map[string]any {
		return map[string]any{"page": doc.Status()}
	}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: r,
	}

	go func() {
		slogger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slogger.Error("http server failed", "err", err)
			stop()
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	slogger.Info("shutdown signal received")

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Shutdown(context.Background())
	})
	g.Go(func() error {
		sess.Destroy("agent shutting down")
		return nil
	})

	if err := g.Wait(); err != nil {
		slogger.Error("agent failed to shutdown", "err", err)
	}
}
