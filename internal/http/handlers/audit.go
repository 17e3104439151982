package handlers

import (
	"net/http"

	"github.com/steveyiyo/adsflex-assistant/internal/core/audit"
	"github.com/steveyiyo/adsflex-assistant/pkg/types"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	Svc *audit.Service
}

func NewAuditHandler(svc *audit.Service) *AuditHandler {
	return &AuditHandler{Svc: svc}
}

// Insight answers with generated text or a fallback line; generation
// failures never surface as HTTP errors.
func (h *AuditHandler) Insight(c *gin.Context) {
	var req types.AuditInsightReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	c.JSON(http.StatusOK, types.AuditInsightResp{
		Text: h.Svc.Insight(c.Request.Context(), req.Website, req.Niche),
	})
}
