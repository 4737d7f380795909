// Package controller exposes the judge core over HTTP.
package controller

import (
	"github.com/gin-gonic/gin"

	"gavel/internal/judge/service"
	"gavel/pkg/utils/response"
)

// JudgeController handles submission, status and contest requests.
type JudgeController struct {
	svc *service.Service
}

// NewJudgeController creates a new controller.
func NewJudgeController(svc *service.Service) *JudgeController {
	return &JudgeController{svc: svc}
}

// RegisterRoutes mounts the judge API under /api/v1.
func (h *JudgeController) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	api.POST("/submissions", h.Submit)
	api.GET("/submissions/:id", h.GetStatus)
	api.GET("/languages", h.ListLanguages)
	api.GET("/problems/:id/signature", h.GetSignature)
	api.GET("/contests/:id/leaderboard", h.GetLeaderboard)
	api.GET("/judge/pool", h.GetPoolStatus)
}

// Submit accepts a submission and queues it for judging.
func (h *JudgeController) Submit(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid submission payload")
		return
	}
	sub, err := h.svc.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"submission_id": sub.ID,
		"status":        sub.Status,
	})
}

// GetStatus returns the live status for one submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	record, err := h.svc.Status(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, record)
}

// ListLanguages returns the supported languages.
func (h *JudgeController) ListLanguages(c *gin.Context) {
	response.Success(c, h.svc.Languages())
}

// GetSignature returns the author-visible declaration for a
// parameter-based problem. The language comes from the query string.
func (h *JudgeController) GetSignature(c *gin.Context) {
	problemID := c.Param("id")
	language := c.Query("language")
	if problemID == "" || language == "" {
		response.BadRequest(c, "problem id and language are required")
		return
	}
	signature, err := h.svc.Signature(c.Request.Context(), problemID, language)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"signature": signature})
}

// GetLeaderboard returns contest standings. The frozen view is the
// default during a contest; pass full=true for the unfrozen board.
func (h *JudgeController) GetLeaderboard(c *gin.Context) {
	contestID := c.Param("id")
	if contestID == "" {
		response.BadRequest(c, "Invalid contest id")
		return
	}
	frozen := c.Query("full") != "true"
	rows, err := h.svc.Leaderboard(c.Request.Context(), contestID, frozen)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, rows)
}

// GetPoolStatus reports worker pool occupancy.
func (h *JudgeController) GetPoolStatus(c *gin.Context) {
	response.Success(c, h.svc.PoolStatus())
}
