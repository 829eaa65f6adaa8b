package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/enrollkit/chargeonce/internal/checkout"
	"github.com/enrollkit/chargeonce/internal/payment"
	"github.com/enrollkit/chargeonce/internal/store"
)

// checkoutResponse is the normalized checkout body plus the request id.
type checkoutResponse struct {
	*checkout.Result
	RequestID string `json:"request_id"`
}

func (s *Server) handleCheckout(c *gin.Context) {
	var p checkoutPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	req := resolveCheckoutRequest(c, p)

	res, err := s.orch.Process(c.Request.Context(), req)
	if err != nil {
		if orchErr, ok := checkout.AsError(err); ok {
			abortWithError(c, orchErr.HTTPStatus(), string(orchErr.Code), orchErr.Message)
			return
		}
		s.logger.Error("checkout failed", "request_id", requestID(c), "error", err)
		abortWithError(c, http.StatusInternalServerError, "internal_error",
			"checkout could not be processed")
		return
	}

	// Echo the effective key so a client that let the server derive one
	// can replay it explicitly.
	c.Header("Idempotency-Key", res.IdempotencyKey)
	c.JSON(res.HTTPStatus(), checkoutResponse{Result: res, RequestID: requestID(c)})
}

type leadPayload struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	CourseSlug string `json:"course_slug"`
	CourseAlt  string `json:"courseSlug"`
}

func (s *Server) handleCreateLead(c *gin.Context) {
	var p leadPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	slug := firstOf(p.CourseSlug, p.CourseAlt)
	name := strings.TrimSpace(p.Name)
	email := strings.TrimSpace(p.Email)

	switch {
	case name == "":
		abortWithError(c, http.StatusBadRequest, "invalid_request", "name is required")
		return
	case email == "" || !strings.Contains(email, "@"):
		abortWithError(c, http.StatusBadRequest, "invalid_request", "a valid email is required")
		return
	case slug == "":
		abortWithError(c, http.StatusBadRequest, "invalid_request", "course_slug is required")
		return
	}
	if _, ok := s.catalog.Course(slug); !ok {
		abortWithError(c, http.StatusBadRequest, "unknown_course", "course is not in the catalog")
		return
	}

	lead := payment.Lead{
		ID:         "lead-" + uuid.Must(uuid.NewV7()).String(),
		Name:       name,
		Email:      email,
		CourseSlug: slug,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateLead(c.Request.Context(), lead); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			abortWithError(c, http.StatusBadRequest, "unknown_course", "course is not provisioned")
			return
		}
		s.logger.Error("lead creation failed", "request_id", requestID(c), "error", err)
		abortWithError(c, http.StatusInternalServerError, "internal_error", "lead could not be created")
		return
	}
	c.JSON(http.StatusCreated, leadJSON(&lead))
}

func (s *Server) handleGetLead(c *gin.Context) {
	lead, err := s.store.GetLead(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "not_found", "no such lead")
		return
	}
	if err != nil {
		s.logger.Error("lead fetch failed", "request_id", requestID(c), "error", err)
		abortWithError(c, http.StatusInternalServerError, "internal_error", "lead could not be read")
		return
	}
	c.JSON(http.StatusOK, leadJSON(lead))
}

func (s *Server) handleListCourses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"courses": s.catalog.Courses()})
}

func (s *Server) handleGetCheckout(c *gin.Context) {
	reference := c.Param("reference")
	leadID := c.Query("lead_id")
	if leadID == "" {
		// The public poll is lead-scoped; unscoped lookup is for the
		// admin surface only.
		abortWithError(c, http.StatusBadRequest, "invalid_request", "lead_id query parameter is required")
		return
	}

	rec, err := s.store.FindCheckoutByReference(c.Request.Context(), reference, leadID)
	if errors.Is(err, store.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "not_found", "no checkout under that reference")
		return
	}
	if err != nil {
		s.logger.Error("checkout fetch failed", "request_id", requestID(c), "error", err)
		abortWithError(c, http.StatusInternalServerError, "internal_error", "checkout could not be read")
		return
	}
	c.JSON(http.StatusOK, checkoutJSON(rec))
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":                "ok",
		"environment":           s.catalog.Environment,
		"gateway_mode":          s.cfg.GatewayMode,
		"idempotency_persisted": s.store.IdempotencyKeySupported(),
		"admin_surface":         s.cfg.AdminEnabled(),
	})
}

// leadJSON is the external lead shape: the payment projection nested,
// sensitive-free.
func leadJSON(lead *payment.Lead) gin.H {
	paymentBody := gin.H{
		"status":         lead.Payment.Status,
		"reference":      lead.Payment.Reference,
		"gateway_tid":    lead.Payment.GatewayTID,
		"return_code":    lead.Payment.ReturnCode,
		"return_message": lead.Payment.ReturnMessage,
	}
	if lead.Payment.PaidAt != nil {
		paymentBody["paid_at"] = lead.Payment.PaidAt.UTC().Format(time.RFC3339)
	}
	return gin.H{
		"id":          lead.ID,
		"name":        lead.Name,
		"email":       lead.Email,
		"course_slug": lead.CourseSlug,
		"payment":     paymentBody,
		"created_at":  lead.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// checkoutJSON is the external checkout record shape.
func checkoutJSON(rec *payment.CheckoutRecord) gin.H {
	return gin.H{
		"checkout_id":        rec.ID,
		"lead_id":            rec.LeadID,
		"reference":          rec.Reference,
		"status":             rec.Status,
		"approved":           rec.Status == payment.StatusApproved,
		"amount_cents":       rec.AmountCents,
		"installments":       rec.Installments,
		"card_brand":         rec.CardBrand,
		"card_last4":         rec.CardLast4,
		"gateway_tid":        rec.GatewayTID,
		"return_code":        rec.ReturnCode,
		"return_message":     rec.ReturnMessage,
		"authorization_code": rec.AuthorizationCode,
		"redirect_url":       rec.ThreeDSURL,
		"created_at":         rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}
