// Package httpapi assembles the gin router: route registration, CORS,
// and the handful of handlers too small to deserve their own package.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/storemon/storemon/internal/lifecycle"
	"github.com/storemon/storemon/internal/totalreport"
)

// Deps bundles everything the router needs to wire up. The lifecycle
// manager registers its own routes; everything else is wired here.
type Deps struct {
	Lifecycle    *lifecycle.Manager
	TotalReport  *totalreport.Job
	Pool         *pgxpool.Pool
	Log          zerolog.Logger
	TrustedProxy []string
}

// New builds the gin engine with every route registered.
func New(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(deps.Log))

	if len(deps.TrustedProxy) > 0 {
		_ = r.SetTrustedProxies(deps.TrustedProxy)
	}

	r.Use(cors())

	r.GET("/health", healthCheck(deps.Pool))
	deps.Lifecycle.RegisterRoutes(r)
	r.GET("/debug/total-report", debugTotalReport(deps.TotalReport))

	return r
}

// cors mirrors the teacher's permissive same-origin-free CORS middleware:
// this API has no cookie-based session to protect, so a wide-open policy
// matches the source's own lack of any CORS restriction.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func healthCheck(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": gin.H{"status": "down", "error": err.Error()},
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	}
}

// debugTotalReport is the rewrite's equivalent of the source's bare
// diagnostic "/test" route: it kicks off a total-report rebuild if one
// isn't already running and reports whether the artifact is currently
// available, without blocking the request on the rebuild itself.
func debugTotalReport(job *totalreport.Job) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !job.Exists() {
			job.TryGenerate()
			c.JSON(http.StatusOK, gin.H{"status": "generating"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "available",
			"path":   job.ArtifactPath(),
		})
	}
}
