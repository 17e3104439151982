package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/steveyiyo/adsflex-assistant/internal/core/chat"
	"github.com/steveyiyo/adsflex-assistant/internal/core/session"
	"github.com/steveyiyo/adsflex-assistant/pkg/types"

	"github.com/gin-gonic/gin"
)

type SessionsHandler struct {
	Svc      *session.Service
	Scheme   string
	Host     string
	Greeting string
}

func NewSessionsHandler(svc *session.Service, scheme, host, greeting string) *SessionsHandler {
	return &SessionsHandler{Svc: svc, Scheme: scheme, Host: host, Greeting: greeting}
}

func (h *SessionsHandler) Create(c *gin.Context) {
	var req types.CreateSessionReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	sess := h.Svc.Create(req.Locale)
	wsScheme := "ws"
	if h.Scheme == "https" {
		wsScheme = "wss"
	}
	c.JSON(http.StatusOK, types.CreateSessionResp{
		SessionID: sess.ID,
		WSURL:     wsScheme + "://" + h.Host + "/v1/stream?sess=" + sess.ID,
		Greeting:  h.Greeting,
	})
}

func (h *SessionsHandler) Transcript(c *gin.Context) {
	tr, ok := h.Svc.Transcript(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, tr)
}

func (h *SessionsHandler) Delete(c *gin.Context) {
	if !h.Svc.Close(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Chat streams the reply to one message as server-sent events: a "chunk"
// per piece of text, then "done" or "error".
func (h *SessionsHandler) Chat(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.Svc.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	var req types.ChatReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	var full strings.Builder
	err := h.Svc.Chat(c.Request.Context(), id, req.Text, func(chunk string) {
		full.WriteString(chunk)
		c.SSEvent("chunk", gin.H{"text": chunk})
		c.Writer.Flush()
	})
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
	case err != nil:
		c.SSEvent("error", gin.H{"error": err.Error()})
	default:
		c.SSEvent("done", gin.H{"text": full.String()})
	}
	c.Writer.Flush()
}
