package httpapi

import (
	"errors"
	"net/http"
	"time"

	"tablecall/internal/auth"
	"tablecall/internal/customers"
	"tablecall/internal/dispatch"
	"tablecall/internal/journal"
	"tablecall/internal/reporting"
	"tablecall/internal/schedule"
	"tablecall/internal/voice"

	"github.com/gin-gonic/gin"
)

// Handlers carries every dependency the HTTP layer fronts, injected once
// at startup. Handler methods stay thin; anything interesting lives in
// the internal packages they call.
type Handlers struct {
	Auth      *auth.Manager
	Creds     auth.StaticCredentials
	Customers *customers.Service
	Journal   *journal.Service
	Scheduler *schedule.Scheduler
	Provider  voice.Provider
	Reports   *reporting.Service

	// WebhookSecret, when set, gates the call-result webhook.
	WebhookSecret string
}

// writeError maps internal errors onto HTTP statuses. Handlers funnel every
// service error through here so the mapping cannot drift between routes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, customers.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "customer not found"})
	case errors.Is(err, customers.ErrInvalidRecord):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, schedule.ErrCallInFlight):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "a call is already in flight for this customer"})
	case errors.Is(err, schedule.ErrNotEligible):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "customer is not in a callable state"})
	case errors.Is(err, dispatch.ErrDispatch):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "call dispatch failed"})
	case errors.Is(err, voice.ErrCallNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, voice.ErrRecordingNotAvailable):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "recording not available"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// --- Auth ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login checks the seeded staff credentials and issues a JWT token pair.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !h.Creds.Check(req.Username, req.Password) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), h.Creds.Username, h.Creds.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a valid refresh token for a fresh pair. The role is
// re-derived from the seeded account, not read from the refresh token.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if claims.UserID != h.Creds.Username {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown account"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), h.Creds.Username, h.Creds.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// Me echoes the authenticated identity.
func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
}
