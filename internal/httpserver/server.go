// Package httpserver exposes the availability-matching operations over a
// small JSON API consumed by the web frontend.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/dadmatch/dadmatch/internal/database"
	"github.com/dadmatch/dadmatch/internal/services"
)

// Options carries the service dependencies for the HTTP layer.
type Options struct {
	DB           *database.DB
	Availability *services.AvailabilityService
	Matches      *services.MatchService
}

// New builds the gin engine with all routes registered.
func New(opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("dadmatch-api"))
	router.Use(requestLogging())

	router.GET("/health", func(c *gin.Context) {
		if opts.DB != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := opts.DB.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{availability: opts.Availability, matches: opts.Matches}

	v1 := router.Group("/api/v1")
	{
		v1.PUT("/users/:id/availability", h.setAvailability)
		v1.GET("/users/:id/availability", h.getAvailability)
		v1.POST("/users/:id/availability/toggle", h.toggleSlot)
		v1.GET("/users/:id/matches", h.getMatches)
		v1.GET("/users/:id/matches/slot", h.getMatchesForSlot)
		v1.GET("/users/:id/slots/stats", h.getSlotStatistics)
	}

	return router
}
