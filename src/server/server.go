package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"positionmanager/src/auth"
	"positionmanager/src/handler"
	"positionmanager/src/manager"
	"positionmanager/src/repository"
	"positionmanager/src/router"
)

// Deps bundles everything the HTTP surface needs. Wiring happens in cmd.
type Deps struct {
	Users      *repository.GormUserRepository
	Router     *router.Router
	Manager    *manager.PositionManager
	Exceptions *repository.ExceptionRepository
}

func StartServer(port string, deps Deps) {
	// Router with middleware
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(deps.Users))

		r.Post("/webhook/signal", handler.SignalWebhookHandler(deps.Router, deps.Manager, deps.Exceptions))

		r.Get("/positions", handler.ListPositionsHandler(deps.Manager))
		r.Post("/positions", handler.CreatePositionHandler(deps.Manager))
		r.Post("/positions/{positionID}/take-profit", handler.AddTakeProfitHandler(deps.Manager))
		r.Post("/positions/{positionID}/stop-loss", handler.SetStopLossHandler(deps.Manager))
		r.Post("/positions/{positionID}/close", handler.ClosePositionHandler(deps.Manager))
		r.Get("/positions/{positionID}/events", handler.PositionEventsHandler(deps.Manager))
	})

	// Graceful server
	// Server setup
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
