// Package httpapi exposes the sync trigger, organization management and dashboard metrics over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Martian-dev/watchlane/internal/auth"
	"github.com/Martian-dev/watchlane/internal/dashboard"
	"github.com/Martian-dev/watchlane/internal/model"
	"github.com/Martian-dev/watchlane/internal/sync"
)

// Store is the slice of the store the handlers use directly
type Store interface {
	Ping(ctx context.Context) error
	ListMemberships(ctx context.Context, userID string) ([]model.Membership, error)
	CreateOrganization(ctx context.Context, name, ownerID string) (model.Membership, error)
}

// Syncer triggers mailbox syncs for the current user
type Syncer interface {
	SyncAccountsForUser(ctx context.Context, userID string) (sync.Report, error)
}

type Deps struct {
	Store      Store
	Syncer     Syncer
	Dashboard  *dashboard.Engine
	Verifier   *auth.Verifier
	CookieName string
}

type handler struct {
	Deps
	logger *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps, logger *zap.Logger) *gin.Engine {
	if deps.CookieName == "" {
		deps.CookieName = "token"
	}
	h := &handler{Deps: deps, logger: logger.Named("http")}

	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog())

	r.GET("/healthz", h.healthz)
	r.GET("/readyz", h.readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(h.authenticate())

	api.GET("/organizations", h.listOrganizations)
	api.POST("/organizations", h.createOrganization)
	api.POST("/sync", h.syncNow)
	api.GET("/dashboard/metrics", h.dashboardMetrics)
	api.GET("/dashboard/summary", h.orgContext(), h.dashboardSummary)

	return r
}

// Server runs the router until its context is cancelled
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewServer(addr string, router http.Handler, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.Named("http"),
	}
}

// Run serves until ctx is done, then drains in-flight requests for up to ten seconds.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", zap.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
