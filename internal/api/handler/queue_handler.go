package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/restaurant-analysis/internal/api/dto"
	"github.com/gin-gonic/gin"
)

// GetStats handles GET /admin/queue/stats
func (h *QueueHandler) GetStats(c *gin.Context) {
	stats, err := h.introspector.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "Failed to read queue stats")
		return
	}

	counts := make(map[string]int, len(stats.Counts))
	for state, n := range stats.Counts {
		counts[state.String()] = n
	}

	c.JSON(http.StatusOK, dto.QueueStatsResponse{
		Counts: counts,
		Total:  stats.Total,
	})
}

// ListDeadLetters handles GET /admin/queue/dead-letters
// Lists dead-lettered jobs newest first with cursor pagination
func (h *QueueHandler) ListDeadLetters(c *gin.Context) {
	var req dto.ListDeadLettersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	page, err := h.introspector.DeadLetters(c.Request.Context(), req.Cursor, req.PageSize)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list dead letters")
		return
	}

	jobs := make([]dto.DeadLetterDTO, len(page.Jobs))
	for i, dl := range page.Jobs {
		jobs[i] = dto.DeadLetterDTO{
			JobID:     dl.JobID,
			URL:       dl.InputURL,
			Attempt:   dl.Attempt,
			LastError: dl.LastError,
			UpdatedAt: formatTime(dl.UpdatedAt),
		}
	}

	c.JSON(http.StatusOK, dto.ListDeadLettersResponse{
		Jobs:       jobs,
		NextCursor: page.NextCursor,
	})
}
