package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/logger"
)

// NewRouter builds the gin engine with every route registered.
func NewRouter(h *Handler, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/health", h.Health)
	r.GET("/cycles", h.Cycle)

	r.POST("/accounts/:id/recompute", h.RecomputeAccount)
	r.POST("/cards/:id/recompute", h.RecomputeCard)
	r.POST("/cards/:id/purchases", h.RecordPurchase)
	r.POST("/users/:id/recompute", h.RecomputeUser)
	r.POST("/users/:id/process-due", h.ProcessDue)
	r.POST("/installments/split", h.SplitInstallments)

	return r
}

// requestLogger tags each request with an id, stores a request-scoped
// logger in the request context and logs the outcome.
func requestLogger(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		log := base.With().Str("request_id", requestID).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), log))

		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(started)).
			Msg("request handled")
	}
}
