package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/clucraft/phusage-sub000/internal/api"
	"github.com/clucraft/phusage-sub000/internal/config"
	"github.com/clucraft/phusage-sub000/internal/logger"
	"github.com/clucraft/phusage-sub000/internal/middleware"
	"github.com/clucraft/phusage-sub000/internal/report"
	"github.com/clucraft/phusage-sub000/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the phusage HTTP API.

The /api/v1 routes require the admin API key in X-Admin-Key or as a bearer
token. When no key is configured the management API answers 403.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.MainLog.Infof("phusage %s starting on port %s", version, cfg.Port)

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.MainLog.Warnf("store unavailable (%v): data endpoints will answer 503", err)
		st = nil
	} else {
		defer func() {
			if err := st.Close(); err != nil {
				logger.StoreLog.Warnf("closing store: %v", err)
			}
		}()
		logger.MainLog.Info("store connected")
	}

	var (
		svc       *report.Service
		estimates store.EstimateStore
		limiter   middleware.RateLimiter
	)
	if st != nil {
		svc = report.New(st, cfg.AggregateWorkers)
		es, rc := openEstimates(ctx, cfg, st)
		estimates = es
		if rc != nil {
			defer func() {
				if err := rc.Close(); err != nil {
					logger.StoreLog.Warnf("closing redis: %v", err)
				}
			}()
			limiter = rc
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, api.NewHandlers(st, svc, estimates), limiter),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.MainLog.Infof("phusage API ready on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.MainLog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.MainLog.Info("server stopped")
	return nil
}

// newRouter assembles the gin engine. limiter may be nil.
func newRouter(c *config.Config, h *api.Handlers, limiter middleware.RateLimiter) *gin.Engine {
	if c.LogLevel != "debug" && c.LogLevel != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.LoggingMiddleware())
	if len(c.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     c.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.AdminKeyHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/health", h.HealthCheck)

	v1 := r.Group("/api/v1")
	if c.AdminAPIKey == "" {
		logger.MainLog.Warn("PHUSAGE_ADMIN_API_KEY not set: management API is disabled")
	}
	v1.Use(middleware.AdminAuth(c.AdminAPIKey))
	if limiter != nil && c.RateLimit > 0 {
		v1.Use(middleware.RateLimitMiddleware(limiter, c.RateLimit, time.Minute))
		logger.MainLog.Infof("rate limiting enabled: %d requests/minute", c.RateLimit)
	}
	h.RegisterRoutes(v1)
	return r
}
