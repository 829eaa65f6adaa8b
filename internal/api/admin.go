package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/enrollkit/chargeonce/internal/payment"
	"github.com/enrollkit/chargeonce/internal/store"
)

func (s *Server) handleAdminListCheckouts(c *gin.Context) {
	leadID := c.Query("lead_id")
	if leadID == "" {
		abortWithError(c, http.StatusBadRequest, "invalid_request", "lead_id query parameter is required")
		return
	}

	records, err := s.store.ListCheckoutsByLead(c.Request.Context(), leadID)
	if err != nil {
		s.logger.Error("admin checkout list failed", "request_id", requestID(c), "error", err)
		abortWithError(c, http.StatusInternalServerError, "internal_error", "checkouts could not be listed")
		return
	}

	body := make([]gin.H, 0, len(records))
	for i := range records {
		body = append(body, checkoutJSON(&records[i]))
	}
	c.JSON(http.StatusOK, gin.H{"lead_id": leadID, "checkouts": body})
}

func (s *Server) handleAdminCheckoutEvents(c *gin.Context) {
	reference := c.Param("reference")

	rec, err := s.store.FindCheckoutByReference(c.Request.Context(), reference, "")
	if errors.Is(err, store.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "not_found", "no checkout under that reference")
		return
	}
	if err != nil {
		s.logger.Error("admin checkout fetch failed", "request_id", requestID(c), "error", err)
		abortWithError(c, http.StatusInternalServerError, "internal_error", "checkout could not be read")
		return
	}

	events, err := s.store.ListCheckoutEvents(c.Request.Context(), rec.ID)
	if err != nil {
		s.logger.Error("admin event list failed", "request_id", requestID(c), "error", err)
		abortWithError(c, http.StatusInternalServerError, "internal_error", "events could not be listed")
		return
	}

	body := make([]gin.H, 0, len(events))
	for _, ev := range events {
		body = append(body, eventJSON(ev))
	}
	c.JSON(http.StatusOK, gin.H{
		"checkout": checkoutJSON(rec),
		"events":   body,
	})
}

func eventJSON(ev payment.CheckoutEvent) gin.H {
	return gin.H{
		"from_status": ev.FromStatus,
		"to_status":   ev.ToStatus,
		"return_code": ev.ReturnCode,
		"detail":      ev.Detail,
		"created_at":  ev.CreatedAt.UTC().Format(time.RFC3339),
	}
}
