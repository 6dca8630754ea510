package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/govchat/internal/common"
	"github.com/suPer8Hu/govchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/govchat/internal/httpapi/middleware"
	"go.uber.org/zap"
)

type Options struct {
	Log *zap.Logger
	// Limiter throttles POST /chat when set.
	Limiter middleware.Limiter
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

func NewRouter(h *handlers.Handler, opts Options) *gin.Engine {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/healthz", h.Healthz)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	// chat
	chatGroup := r.Group("/chat")
	if opts.Limiter != nil {
		chatGroup.POST("", middleware.RateLimit(opts.Limiter, "chat", log), h.Chat)
	} else {
		chatGroup.POST("", h.Chat)
	}
	chatGroup.GET("/sessions/:session_id/messages", h.ListChatMessages)
	chatGroup.DELETE("/sessions/:session_id", h.DeleteSession)

	// admin (JWT required)
	if h.AdminEnabled() {
		r.POST("/admin/login", h.Login)
		admin := r.Group("/admin")
		admin.Use(middleware.AuthRequired(h.Tokens()))
		admin.POST("/ingest", h.StartIngest)
		admin.GET("/jobs/:id", h.GetJob)
		admin.GET("/stats", h.Stats)
		admin.GET("/documents", h.ListDocuments)
		admin.DELETE("/documents/:id", h.DeleteDocument)
	}
	return r
}
