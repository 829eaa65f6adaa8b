// Package api serves the checkout HTTP surface with gin: the public
// checkout and lead endpoints, a status poll for the 3-D Secure flow,
// and a JWT-guarded admin view over the checkout log.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/enrollkit/chargeonce/internal/catalog"
	"github.com/enrollkit/chargeonce/internal/checkout"
	"github.com/enrollkit/chargeonce/internal/config"
	"github.com/enrollkit/chargeonce/internal/ratelimit"
	"github.com/enrollkit/chargeonce/internal/store"
)

// Server wires the orchestrator and its collaborators into a gin router.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	orch    *checkout.Orchestrator
	catalog *catalog.Catalog
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// New assembles a Server. limiter may be nil to disable rate limiting
// (tests mostly do).
func New(cfg *config.Config, st *store.Store, orch *checkout.Orchestrator, cat *catalog.Catalog, limiter *ratelimit.Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		store:   st,
		orch:    orch,
		catalog: cat,
		limiter: limiter,
		logger:  logger,
	}
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	if s.cfg.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(SecurityHeaders())
	router.Use(s.corsMiddleware())

	router.GET("/healthz", s.handleHealthz)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/checkout", s.rateLimited("checkout"), s.handleCheckout)
		apiGroup.POST("/leads", s.rateLimited("leads"), s.handleCreateLead)
		apiGroup.GET("/leads/:id", s.handleGetLead)
		apiGroup.GET("/courses", s.handleListCourses)
		apiGroup.GET("/checkouts/:reference", s.handleGetCheckout)
	}

	if s.cfg.AdminEnabled() {
		admin := apiGroup.Group("/admin", AdminAuth(s.cfg.AdminJWTSecret))
		admin.GET("/checkouts", s.handleAdminListCheckouts)
		admin.GET("/checkouts/:reference/events", s.handleAdminCheckoutEvents)
	}

	return router
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders:    []string{"Content-Length", "Idempotency-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if s.cfg.CORSOrigin != "" {
		corsCfg.AllowOrigins = []string{s.cfg.CORSOrigin}
	} else {
		corsCfg.AllowOrigins = []string{"*"}
		corsCfg.AllowCredentials = false
	}
	return cors.New(corsCfg)
}

// rateLimited throttles one route scope, keyed by client IP.
func (s *Server) rateLimited(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		if !s.limiter.Allow(c.Request.Context(), scope, c.ClientIP()) {
			abortWithError(c, http.StatusTooManyRequests, "rate_limited",
				"too many requests, slow down")
			return
		}
		c.Next()
	}
}
