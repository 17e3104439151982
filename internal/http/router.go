package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/steveyiyo/adsflex-assistant/internal/config"
	"github.com/steveyiyo/adsflex-assistant/internal/core/audit"
	"github.com/steveyiyo/adsflex-assistant/internal/core/session"
	"github.com/steveyiyo/adsflex-assistant/internal/http/handlers"
)

// Deps are the services behind the HTTP surface.
type Deps struct {
	Sessions *session.Service
	Audit    *audit.Service
	Registry *prometheus.Registry
	Greeting string
	Log      *slog.Logger
}

func NewRouter(cfg config.Config, d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(d.Log.With("component", "http")))

	sh := handlers.NewSessionsHandler(d.Sessions, cfg.Scheme(), cfg.Host(), d.Greeting)
	ah := handlers.NewAuditHandler(d.Audit)
	wsh := handlers.NewStreamHandler(d.Sessions.Hub, d.Sessions, d.Log)

	api := r.Group("/v1")
	api.POST("/sessions", sh.Create)
	api.GET("/sessions/:id/transcript", sh.Transcript)
	api.DELETE("/sessions/:id", sh.Delete)
	api.POST("/sessions/:id/chat", sh.Chat)
	api.POST("/audit-insight", ah.Insight)
	r.GET("/v1/stream", wsh.WS)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	return r
}

func requestLog(log *slog.Logger) gin.HandlerFunc {
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
			"took", time.Since(start))
	}
}
