package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/govchat/internal/agent"
	"github.com/suPer8Hu/govchat/internal/common"
	"github.com/suPer8Hu/govchat/internal/render"
	"go.uber.org/zap"
)

type chatReq struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type chatResp struct {
	*agent.Reply
	ResponseHTML string `json:"response_html,omitempty"`
}

// Chat answers one message. ?format=html adds a rendered copy of the
// response.
func (h *Handler) Chat(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	reply, err := h.d.Chat.Ask(c.Request.Context(), agent.Request{Message: req.Message, SessionID: req.SessionID})
	if err != nil {
		h.fail(c, "chat", err)
		return
	}

	out := chatResp{Reply: reply}
	if c.Query("format") == "html" {
		html, err := render.HTML(reply.Response)
		if err != nil {
			h.log.Warn("render response", zap.Error(err))
		} else {
			out.ResponseHTML = html
		}
	}
	common.OK(c, out)
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	sessionID := c.Param("session_id")

	limit, _ := strconv.Atoi(c.Query("limit"))
	beforeIDStr := c.Query("before_id")
	var beforeID uint64
	if beforeIDStr != "" {
		n, err := strconv.ParseUint(beforeIDStr, 10, 64)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10002, "invalid before_id")
			return
		}
		beforeID = n
	}

	msgs, err := h.d.Sessions.Messages(c.Request.Context(), sessionID, limit, beforeID)
	if err != nil {
		h.fail(c, "list messages", err)
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}

	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

// DeleteSession drops a conversation and its history.
func (h *Handler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := h.d.Sessions.Delete(c.Request.Context(), sessionID); err != nil {
		h.fail(c, "delete session", err)
		return
	}
	h.log.Info("session deleted", zap.String("session_id", sessionID))
	common.OK(c, gin.H{"deleted": sessionID})
}
