package httpapi

import (
	"net/http"
	"time"

	"tablecall/internal/customers"
	"tablecall/internal/journal"

	"github.com/gin-gonic/gin"
)

// --- Customers ---

func (h Handlers) CreateCustomer(c *gin.Context) {
	var req customers.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rec, err := h.Customers.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	if h.Journal != nil {
		// Best-effort; the record exists either way.
		_ = h.Journal.Append(c.Request.Context(), journal.Entry{
			CustomerID: rec.ID,
			Event:      journal.EventCustomerCreated,
		})
	}
	c.JSON(http.StatusCreated, rec)
}

func (h Handlers) ListCustomers(c *gin.Context) {
	recs, err := h.Customers.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	// Optional status filter, e.g. ?status=no_show.
	if want := c.Query("status"); want != "" {
		filtered := recs[:0]
		for _, r := range recs {
			if string(r.Status) == want {
				filtered = append(filtered, r)
			}
		}
		recs = filtered
	}
	c.JSON(http.StatusOK, gin.H{"customers": recs, "count": len(recs)})
}

func (h Handlers) GetCustomer(c *gin.Context) {
	rec, err := h.Customers.Get(c.Request.Context(), c.Param("customer_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// updateCustomerRequest exposes the staff-editable fields. Scheduler
// bookkeeping (call guard, attempts, notified flag) is deliberately absent;
// those fields belong to the scheduler alone.
type updateCustomerRequest struct {
	Name                *string    `json:"name"`
	Mobile              *string    `json:"mobile"`
	Email               *string    `json:"email"`
	Status              *string    `json:"status"`
	OrderDetails        *string    `json:"order_details"`
	ExpectedArrivalTime *time.Time `json:"expected_arrival_time"`
	ArrivalConfirmed    *bool      `json:"arrival_confirmed"`
	Remarks             *string    `json:"remarks"`
}

func (h Handlers) UpdateCustomer(c *gin.Context) {
	var req updateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p := customers.Patch{
		Name:                req.Name,
		Mobile:              req.Mobile,
		Email:               req.Email,
		OrderDetails:        req.OrderDetails,
		ExpectedArrivalTime: req.ExpectedArrivalTime,
		ArrivalConfirmed:    req.ArrivalConfirmed,
		Remarks:             req.Remarks,
	}
	if req.Status != nil {
		st := customers.Status(*req.Status)
		p.Status = &st
	}
	rec, err := h.Customers.Update(c.Request.Context(), c.Param("customer_id"), p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// CustomerJournal lists the outreach history for one customer.
func (h Handlers) CustomerJournal(c *gin.Context) {
	if h.Journal == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "journal not configured"})
		return
	}
	id := c.Param("customer_id")
	if _, err := h.Customers.Get(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	entries, err := h.Journal.ListByCustomer(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// TriggerCall places a call for one customer right now, skipping the
// schedule's timing gates. The in-flight guard still applies.
func (h Handlers) TriggerCall(c *gin.Context) {
	if h.Scheduler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "scheduler not configured"})
		return
	}
	sub, flow, err := h.Scheduler.TriggerNow(c.Request.Context(), c.Param("customer_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"call_id": sub.CallID, "flow": flow})
}

// Recording resolves the playback URL for a customer's most recent call.
func (h Handlers) Recording(c *gin.Context) {
	if h.Provider == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "voice provider not configured"})
		return
	}
	rec, err := h.Customers.Get(c.Request.Context(), c.Param("customer_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if rec.LastCallID == "" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no call on record"})
		return
	}
	url, err := h.Provider.RecordingURL(c.Request.Context(), rec.LastCallID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": rec.LastCallID, "recording_url": url})
}
