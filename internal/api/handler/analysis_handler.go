package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis"
	"github.com/cuongbtq/restaurant-analysis/internal/api/dto"
	"github.com/gin-gonic/gin"
)

// SubmitAnalysis handles POST /analysis
// Accepts a website for analysis and answers before any work is done
func (h *AnalysisHandler) SubmitAnalysis(c *gin.Context) {
	var req dto.SubmitAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: url is required",
		})
		return
	}

	result, err := h.service.Submit(c.Request.Context(), analysis.SubmitRequest{
		URL:      req.URL,
		Metadata: req.Metadata,
	})
	if err != nil {
		respondError(c, h.logger, err, "Failed to submit analysis")
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitAnalysisResponse{
		JobID:        result.JobID,
		State:        result.State.String(),
		Deduplicated: result.Deduplicated,
	})
}

// GetAnalysis handles GET /analysis/:job_id
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	jobID := c.Param("job_id")

	status, err := h.service.GetStatus(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to get analysis")
		return
	}

	if !status.State.IsTerminal() && h.pendingTTL > 0 {
		c.Set(CacheTTLKey, h.pendingTTL)
	}

	c.JSON(http.StatusOK, dto.AnalysisStatusResponse{
		JobID:       status.JobID,
		State:       status.State.String(),
		Attempt:     status.Attempt,
		MaxAttempts: status.MaxAttempts,
		Result:      status.Result,
		LastError:   status.LastError,
		CreatedAt:   formatTime(status.CreatedAt),
		UpdatedAt:   formatTime(status.UpdatedAt),
	})
}

// CancelAnalysis handles POST /analysis/:job_id/cancel
// A leased job keeps running until its worker reaches a safe point
func (h *AnalysisHandler) CancelAnalysis(c *gin.Context) {
	jobID := c.Param("job_id")

	status, err := h.service.Cancel(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to cancel analysis")
		return
	}

	c.JSON(http.StatusAccepted, dto.CancelAnalysisResponse{
		JobID: status.JobID,
		State: status.State.String(),
	})
}
