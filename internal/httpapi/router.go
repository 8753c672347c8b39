package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine. metrics may be nil.
func NewRouter(h *Handler, metrics http.Handler, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/health", h.Health)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/posts", h.ListPosts)
		v1.GET("/posts/:id/history", h.History)

		v1.POST("/runs", h.TriggerRun)
		v1.GET("/runs/last", h.LastRun)
		v1.GET("/scheduler", h.SchedulerStatus)

		v1.GET("/keywords/stats", h.KeywordStats)
		v1.POST("/keywords/reload", h.ReloadKeywords)
	}

	ops := v1.Group("/posts/:id", requireOperator())
	{
		ops.POST("/assign", h.Assign)
		ops.POST("/reply", h.Reply)
		ops.POST("/archive", h.Archive)
		ops.POST("/notes", h.Annotate)
	}

	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	log := logger.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		log.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
