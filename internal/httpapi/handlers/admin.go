package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/govchat/internal/auth"
	"github.com/suPer8Hu/govchat/internal/common"
	"github.com/suPer8Hu/govchat/internal/ingest"
	"go.uber.org/zap"
)

type loginReq struct {
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if !auth.CheckPassword(h.d.AdminPasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40100, "invalid credentials")
		return
	}
	token, exp, err := h.d.Tokens.Sign(auth.AdminSubject)
	if err != nil {
		h.fail(c, "sign token", err)
		return
	}
	common.OK(c, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_at": exp,
	})
}

type ingestReq struct {
	URLs    []string `json:"urls"`
	Sitemap string   `json:"sitemap"`
	Prune   bool     `json:"prune"`
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// StartIngest records a job and hands it to the dispatcher.
func (h *Handler) StartIngest(c *gin.Context) {
	var req ingestReq
	// an empty body means the configured sources
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
			return
		}
	}

	jr := ingest.JobRequest{Prune: req.Prune}
	for _, u := range req.URLs {
		u = strings.TrimSpace(u)
		if !validURL(u) {
			common.Fail(c, http.StatusBadRequest, 10003, "invalid url: "+u)
			return
		}
		jr.URLs = append(jr.URLs, u)
	}
	if s := strings.TrimSpace(req.Sitemap); s != "" {
		if !validURL(s) {
			common.Fail(c, http.StatusBadRequest, 10003, "invalid sitemap url")
			return
		}
		jr.Sitemaps = []string{s}
	}
	if jr.Prune && (len(jr.URLs) > 0 || len(jr.Sitemaps) > 0) {
		common.Fail(c, http.StatusBadRequest, 10004, "prune is only allowed for a full source run")
		return
	}

	job, err := h.d.Jobs.Create(c.Request.Context(), jr)
	if err != nil {
		h.fail(c, "create ingest job", err)
		return
	}
	if err := h.d.Dispatch.Dispatch(c.Request.Context(), job.ID); err != nil {
		h.log.Error("dispatch ingest job", zap.String("job_id", job.ID), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"code":    0,
		"message": "ok",
		"data":    gin.H{"job_id": job.ID, "status": job.Status},
	})
}

func (h *Handler) GetJob(c *gin.Context) {
	j, err := h.d.Jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get ingest job", err)
		return
	}
	common.OK(c, gin.H{"job": j})
}

func (h *Handler) Stats(c *gin.Context) {
	st, err := h.d.Docs.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, "stats", err)
		return
	}
	common.OK(c, st)
}

func (h *Handler) ListDocuments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	docs, err := h.d.Docs.List(c.Request.Context(), c.Query("language"), limit, offset)
	if err != nil {
		h.fail(c, "list documents", err)
		return
	}
	common.OK(c, gin.H{
		"documents": docs,
		"limit":     limit,
		"offset":    offset,
	})
}

func (h *Handler) DeleteDocument(c *gin.Context) {
	id := c.Param("id")
	if err := h.d.Docs.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, "delete document", err)
		return
	}
	h.log.Info("document deleted", zap.String("document_id", id))
	common.OK(c, gin.H{"deleted": id})
}
