package httpapi

import (
	"errors"
	"net/http"
	"time"

	"tablecall/internal/reporting"

	"github.com/gin-gonic/gin"
)

// --- Reports ---

// OutreachReport summarizes the book and recent call activity. Defaults to
// the trailing 24 hours; from/to accept RFC 3339 stamps.
func (h Handlers) OutreachReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}

	now := time.Now().UTC()
	rng := reporting.TimeRange{From: now.Add(-24 * time.Hour), To: now}
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
		rng.From = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
		rng.To = t
	}

	sum, err := h.Reports.OutreachSummary(c.Request.Context(), rng)
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRange) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
