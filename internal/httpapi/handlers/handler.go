package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/govchat/internal/agent"
	"github.com/suPer8Hu/govchat/internal/auth"
	"github.com/suPer8Hu/govchat/internal/chat"
	"github.com/suPer8Hu/govchat/internal/common"
	"github.com/suPer8Hu/govchat/internal/ingest"
	"github.com/suPer8Hu/govchat/internal/knowledge"
	"go.uber.org/zap"
)

type ChatService interface {
	Ask(ctx context.Context, req agent.Request) (*agent.Reply, error)
}

type SessionStore interface {
	Messages(ctx context.Context, sessionID string, limit int, beforeID uint64) ([]chat.Message, error)
	Delete(ctx context.Context, sessionID string) error
}

type DocumentAdmin interface {
	List(ctx context.Context, language string, limit, offset int) ([]knowledge.Document, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (knowledge.Stats, error)
}

type JobStore interface {
	Create(ctx context.Context, req ingest.JobRequest) (*ingest.Job, error)
	Get(ctx context.Context, id string) (*ingest.Job, error)
}

// Deps collects what the handlers serve. Admin routes are only mounted when
// Tokens is set.
type Deps struct {
	Chat     ChatService
	Sessions SessionStore
	Docs     DocumentAdmin
	Jobs     JobStore
	Dispatch ingest.Dispatcher

	Tokens            *auth.TokenManager
	AdminPasswordHash string

	// Ping checks the database for /healthz.
	Ping func(ctx context.Context) error

	Logger *zap.Logger
}

type Handler struct {
	d   Deps
	log *zap.Logger
}

func NewHandler(d Deps) *Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{d: d, log: log}
}

func (h *Handler) AdminEnabled() bool { return h.d.Tokens != nil }

func (h *Handler) Tokens() *auth.TokenManager { return h.d.Tokens }

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func (h *Handler) Healthz(c *gin.Context) {
	if h.d.Ping != nil {
		if err := h.d.Ping(c.Request.Context()); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			common.Fail(c, http.StatusServiceUnavailable, 50300, "database unavailable")
			return
		}
	}
	common.OK(c, gin.H{"status": "ok"})
}

// fail maps err onto the envelope. Only caller mistakes are described;
// anything else is logged and reported as an internal error.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	status := common.StatusClass(err)
	switch status {
	case http.StatusBadRequest:
		msg := "invalid request"
		var e *common.Error
		if errors.As(err, &e) && e.Err != nil {
			msg = e.Err.Error()
		}
		common.Fail(c, status, 40001, msg)
	case http.StatusNotFound:
		common.Fail(c, status, 40400, "not found")
	default:
		_ = c.Error(err)
		h.log.Error(op+" failed", zap.String("request_id", c.GetString("request_id")), zap.Error(err))
		common.Fail(c, status, 50001, "internal error")
	}
}
