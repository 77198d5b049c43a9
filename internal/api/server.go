package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	appconfig "stockwatch/config"
	"stockwatch/internal/feed"
	"stockwatch/internal/metrics"
	"stockwatch/internal/quote"
	"stockwatch/internal/target"
	"stockwatch/logger"
)

// FeedStatusSource reports the current state of the streaming price feed.
type FeedStatusSource interface {
	Status() feed.Status
}

// Subscriber makes sure quotes flow for a symbol after a target is created.
type Subscriber interface {
	EnsureSubscribed(symbol string) error
}

// Server hosts the REST API for managing price targets and inspecting the
// feed.
type Server struct {
	cfg           appconfig.ServerConfig
	log           *logger.Log
	store         target.Store
	cache         *quote.Cache
	feed          FeedStatusSource
	subscriber    Subscriber
	userID        string
	metricStore   *metricStore
	metricHandler metrics.MetricHandlerID
	httpServer    *http.Server
}

// NewServer constructs the API server when it is enabled. A disabled
// server is returned as nil and every method on it is a no-op.
func NewServer(
	cfg appconfig.ServerConfig,
	monitorCfg appconfig.MonitorConfig,
	store target.Store,
	cache *quote.Cache,
	feedSource FeedStatusSource,
	subscriber Subscriber,
	log *logger.Log,
) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Address = normalizeAddress(cfg.Address)

	metricStore := newMetricStore(200)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	return &Server{
		cfg:           cfg,
		log:           log,
		store:         store,
		cache:         cache,
		feed:          feedSource,
		subscriber:    subscriber,
		userID:        monitorCfg.UserID,
		metricStore:   metricStore,
		metricHandler: handlerID,
	}, nil
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	defer metrics.UnregisterMetricHandler(s.metricHandler)

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	s.log.WithComponent("api").WithFields(logger.Fields{"address": s.cfg.Address}).Info("api server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

// Address reports the network address the API server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/targets", s.createTarget)
		v1.GET("/targets", s.listTargets)
		v1.GET("/targets/:id", s.getTarget)
		v1.PUT("/targets/:id", s.updateTarget)
		v1.DELETE("/targets/:id", s.deleteTarget)

		v1.GET("/feed/status", s.feedStatus)
		v1.GET("/feed/prices", s.feedPrices)

		v1.GET("/notifications", s.notificationHistory)
		v1.GET("/metrics", s.recentMetrics)
	}

	return router, nil
}

func normalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ":8080"
	}
	if !strings.Contains(address, ":") {
		return net.JoinHostPort("", address)
	}
	return address
}
