package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"liquidityTiers/internal/cache"
	"liquidityTiers/internal/model"
	"liquidityTiers/internal/monitor"
)

const shutdownTimeout = 5 * time.Second

// Reader is the read side of the tier cache.
type Reader interface {
	Ping(ctx context.Context) error
	GetClassification(ctx context.Context, poolID string) (model.Classification, bool, error)
	ListByTier(ctx context.Context, tier model.Tier) ([]model.Classification, error)
	GetAggregate(ctx context.Context) (model.TierAggregate, error)
}

// Options configures the HTTP server. Status and Gatherer are optional.
type Options struct {
	Addr     string
	Logger   *zap.Logger
	Gatherer prometheus.Gatherer
	Status   func() monitor.Status
	Now      func() time.Time
}

// Server exposes the cached tier view over HTTP. It never writes.
type Server struct {
	reader  Reader
	opts    Options
	logger  *zap.Logger
	started time.Time
	engine  *gin.Engine
}

func NewServer(reader Reader, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	s := &Server{
		reader:  reader,
		opts:    opts,
		logger:  opts.Logger,
		started: opts.Now(),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/health", s.handleHealth)
	r.GET("/api/pool/:poolId/tier", s.handleGetPool)
	r.GET("/api/pools/tier/:tier", s.handleListTier)
	r.GET("/api/liquidity-stats", s.handleStats)
	if s.opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server start", zap.String("addr", srv.Addr))
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		s.logger.Info("http server stopped")
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

type healthResponse struct {
	Status    string              `json:"status"`
	Pools     model.TierAggregate `json:"pools"`
	Uptime    float64             `json:"uptime"`
	Timestamp time.Time           `json:"timestamp"`
	LastCycle *monitor.Status     `json:"lastCycle,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	agg, err := s.health(ctx)
	if err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}

	now := s.opts.Now()
	resp := healthResponse{
		Status:    "healthy",
		Pools:     agg,
		Uptime:    now.Sub(s.started).Seconds(),
		Timestamp: now,
	}
	if s.opts.Status != nil {
		st := s.opts.Status()
		resp.LastCycle = &st
	}
	c.JSON(http.StatusOK, resp)
}

// health fails only when the store is unreachable. An aggregate that cannot
// be read for any other reason is reported as zero.
func (s *Server) health(ctx context.Context) (model.TierAggregate, error) {
	if err := s.reader.Ping(ctx); err != nil {
		return model.TierAggregate{}, err
	}
	agg, err := s.reader.GetAggregate(ctx)
	if err != nil {
		if errors.Is(err, cache.ErrStoreUnavailable) {
			return model.TierAggregate{}, err
		}
		s.logger.Warn("health: aggregate unreadable, reporting zero", zap.Error(err))
		return model.TierAggregate{}, nil
	}
	return agg, nil
}

func (s *Server) handleGetPool(c *gin.Context) {
	poolID := c.Param("poolId")
	classification, ok, err := s.reader.GetClassification(c.Request.Context(), poolID)
	if err != nil {
		s.storeError(c, "get classification", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "pool not found"})
		return
	}
	c.JSON(http.StatusOK, classification)
}

func (s *Server) handleListTier(c *gin.Context) {
	tier, err := model.ParseTier(c.Param("tier"))
	if err != nil {
		s.logger.Debug("invalid tier argument", zap.String("tier", c.Param("tier")))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pools, err := s.reader.ListByTier(c.Request.Context(), tier)
	if err != nil {
		if errors.Is(err, model.ErrInvalidTier) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.storeError(c, "list by tier", err)
		return
	}
	if pools == nil {
		pools = []model.Classification{}
	}
	c.JSON(http.StatusOK, pools)
}

func (s *Server) handleStats(c *gin.Context) {
	agg, err := s.reader.GetAggregate(c.Request.Context())
	if err != nil {
		s.storeError(c, "get aggregate", err)
		return
	}
	c.JSON(http.StatusOK, agg)
}

func (s *Server) storeError(c *gin.Context, op string, err error) {
	s.logger.Error(op+" failed", zap.Error(err), zap.String("path", c.Request.URL.Path))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
