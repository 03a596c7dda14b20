package http

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"biotutor/internal/config"
	"biotutor/internal/logging"
	"biotutor/internal/session"
	"biotutor/internal/sse"
	"biotutor/internal/workflow"
)

// NewRouter wires every endpoint over the shared collaborators.
func NewRouter(cfg *config.Config, store *session.Store, publisher *sse.Publisher, tutor *workflow.Tutor) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logging.NewComponentLogger("HTTP")))

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.CORSOrigins) == 1 && cfg.Server.CORSOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", "Cache-Control")
	router.Use(cors.New(corsConfig))

	h := NewHandler(cfg, store, publisher, tutor)

	api := router.Group("/api")
	{
		api.POST("/session", h.CreateSession)
		api.POST("/session/:id/upload", h.UploadImage)
		api.POST("/session/:id/message", h.PostMessage)
		api.POST("/session/:id/tutor", h.TutorStream)
		api.GET("/session/:id/status", h.SessionStatus)
		api.GET("/session/:id/events", h.EventStream)
		api.DELETE("/session/:id", h.DeleteSession)
		api.POST("/chat", h.GeneralChat)
	}

	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// requestLogger logs one line per request with method, path, status, and
// latency. The event streams are excluded; their lifetime is logged by the
// handlers themselves.
func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Writer.Header().Get("Content-Type") == "text/event-stream" {
			return
		}
		logger.Info("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
