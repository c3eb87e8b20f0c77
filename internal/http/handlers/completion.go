package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/answercache/internal/http/middleware"
	"github.com/yungbote/answercache/internal/http/response"
	errs "github.com/yungbote/answercache/internal/pkg/errors"
	"github.com/yungbote/answercache/internal/services"
)

type CompletionHandler struct {
	completions services.CompletionService
}

func NewCompletionHandler(completions services.CompletionService) *CompletionHandler {
	return &CompletionHandler{completions: completions}
}

type completionReq struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
}

type completionResp struct {
	Answer      string    `json:"answer"`
	Model       string    `json:"model"`
	Cached      bool      `json:"cached"`
	Fingerprint string    `json:"fingerprint"`
	ComputedAt  time.Time `json:"computed_at"`
	LatencyMS   int64     `json:"latency_ms"`
}

// POST /api/v1/completions
func (h *CompletionHandler) Complete(c *gin.Context) {
	var req completionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.RespondAPIError(c, fmt.Errorf("user_id: %w", errs.ErrInvalidArgument))
		return
	}
	conversationID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		response.RespondAPIError(c, fmt.Errorf("conversation_id: %w", errs.ErrInvalidArgument))
		return
	}

	res, err := h.completions.Complete(c.Request.Context(), services.CompletionRequest{
		UserID:         userID,
		ConversationID: conversationID,
		Query:          req.Query,
	})
	if err != nil {
		_ = c.Error(err)
		response.RespondAPIError(c, err)
		return
	}
	c.Set(middleware.CtxKeyCached, res.Cached)
	response.RespondOK(c, completionResp{
		Answer:      res.Answer.Content,
		Model:       res.Answer.Model,
		Cached:      res.Cached,
		Fingerprint: res.Fingerprint.String(),
		ComputedAt:  res.ComputedAt,
		LatencyMS:   res.Latency.Milliseconds(),
	})
}
