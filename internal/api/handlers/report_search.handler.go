package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agentops/agentops-core/internal/search"
	"github.com/agentops/agentops-core/pkg/logger"
)

// ReportSearchHandler serves full-text search over completed RCA reports.
type ReportSearchHandler struct {
	index  *search.ReportIndex
	logger logger.Logger
}

// NewReportSearchHandler builds the handler; index may be nil when report
// search is disabled.
func NewReportSearchHandler(index *search.ReportIndex, log logger.Logger) *ReportSearchHandler {
	return &ReportSearchHandler{index: index, logger: log}
}

// GET /api/v1/rca-reports/search?q=...&category=...&limit=...
func (h *ReportSearchHandler) Search(c *gin.Context) {
	if h.index == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "report search is disabled"})
		return
	}

	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "query parameter q is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	result, err := h.index.Search(q, c.Query("category"), limit)
	if err != nil {
		h.logger.Error("report search", "query", q, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}
