package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"tablecall/internal/customers"
	"tablecall/internal/voice"
	"tablecall/pkg/logger"

	"github.com/gin-gonic/gin"
)

// --- Calls and webhooks ---

const webhookTokenHeader = "X-Webhook-Token"

// CallResult ingests the provider's call-finished webhook and hands the
// outcome to the scheduler. Unknown customers return 404 so a misconfigured
// proxy shows up in its own delivery logs.
func (h Handlers) CallResult(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Scheduler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "scheduler not configured"})
		return
	}
	if h.WebhookSecret != "" {
		got := c.GetHeader(webhookTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.WebhookSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad webhook token"})
			return
		}
	}

	outcome, err := voice.ParseCallResult(c.Request)
	if err != nil {
		log.Warn("call-result webhook unreadable", "error", err)
		if errors.Is(err, voice.ErrMissingCustomerID) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "customer_id required"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable webhook body"})
		return
	}

	if err := h.Scheduler.HandleOutcome(c.Request.Context(), outcome.CustomerID, outcome); err != nil {
		if errors.Is(err, customers.ErrNotFound) {
			log.Warn("call-result webhook named an unknown customer", "customer_id", outcome.CustomerID)
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "customer not found"})
			return
		}
		log.Error("call outcome processing failed", "customer_id", outcome.CustomerID, "error", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// ListCalls proxies the provider's recent-call listing for ops visibility.
func (h Handlers) ListCalls(c *gin.Context) {
	if h.Provider == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "voice provider not configured"})
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if n > 100 {
			n = 100
		}
		limit = n
	}
	calls, err := h.Provider.ListCalls(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls, "count": len(calls)})
}

// CallDetail proxies a single call's outcome, raw payload included, so staff
// can inspect what the agent actually captured.
func (h Handlers) CallDetail(c *gin.Context) {
	if h.Provider == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "voice provider not configured"})
		return
	}
	outcome, err := h.Provider.CallOutcome(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}
