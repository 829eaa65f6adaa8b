package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enrollkit/chargeonce/internal/catalog"
	"github.com/enrollkit/chargeonce/internal/checkout"
	"github.com/enrollkit/chargeonce/internal/config"
	"github.com/enrollkit/chargeonce/internal/gateway"
	"github.com/enrollkit/chargeonce/internal/payment"
	"github.com/enrollkit/chargeonce/internal/ratelimit"
	"github.com/enrollkit/chargeonce/internal/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

const (
	cardApproved = "4242424242424242"
	cardDeclined = "4000000000020000"
)

const testDeployment = `
environment: "sandbox"
gateway: mode: "mock"
courses: {
	"go-fundamentals": {
		title:            "Go Fundamentals"
		price_cents:      49900
		max_installments: 6
	}
	"sql-performance": {
		title:            "SQL Performance Tuning"
		price_cents:      29900
		max_installments: 3
	}
}
`

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type seqIDs struct{ n int }

func (g *seqIDs) Generate() string {
	g.n++
	return fmt.Sprintf("chk-%04d", g.n)
}

type serverFixture struct {
	server *Server
	router *gin.Engine
	store  *store.Store
	cfg    *config.Config
}

func newServerFixture(t *testing.T, limiter *ratelimit.Limiter) *serverFixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.SeedCourse(ctx, store.Course{
		Slug: "go-fundamentals", Title: "Go Fundamentals",
		PriceCents: 49900, MaxInstallments: 6,
	}))
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateLead(ctx, payment.Lead{
		ID: "lead-7f32", Name: "Ada Lovelace", Email: "ada@example.com",
		CourseSlug: "go-fundamentals", CreatedAt: now,
	}))

	cat, err := catalog.Compile("test.cue", []byte(testDeployment))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := checkout.New(st, gateway.NewMock(), cat,
		checkout.WithClock(fixedClock{at: now}),
		checkout.WithIDGenerator(&seqIDs{}),
		checkout.WithLogger(logger),
	)

	cfg := &config.Config{
		GatewayMode:    "mock",
		AdminJWTSecret: "test-admin-secret",
	}
	srv := New(cfg, st, orch, cat, limiter, logger)
	return &serverFixture{server: srv, router: srv.Router(), store: st, cfg: cfg}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func checkoutBody(card, key string) map[string]any {
	body := map[string]any{
		"lead_id":        "lead-7f32",
		"course_slug":    "go-fundamentals",
		"installments":   1,
		"card_number":    card,
		"card_cvv":       "123",
		"card_holder":    "Ada Lovelace",
		"card_exp_month": 12,
		"card_exp_year":  2030,
	}
	if key != "" {
		body["idempotency_key"] = key
	}
	return body
}

func TestCheckoutEndpointApproves(t *testing.T) {
	f := newServerFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(cardApproved, "order-2026-0001"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "order-2026-0001", w.Header().Get("Idempotency-Key"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	body := decodeBody(t, w)
	assert.Equal(t, true, body["approved"])
	assert.Equal(t, "approved", body["status"])
	assert.Equal(t, "order-2026-0001", body["idempotency_key"])
	assert.Equal(t, false, body["idempotent_reused"])
	assert.Equal(t, true, body["idempotency_persisted"])
	assert.NotEmpty(t, body["request_id"])
}

func TestCheckoutEndpointReplay(t *testing.T) {
	f := newServerFixture(t, nil)

	first := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(cardDeclined, "order-2026-0002"), nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(cardDeclined, "order-2026-0002"), nil)
	require.Equal(t, http.StatusOK, second.Code)

	body := decodeBody(t, second)
	assert.Equal(t, true, body["idempotent_reused"])
	assert.Equal(t, "idempotency_key", body["reuse_reason"])
	assert.Equal(t, decodeBody(t, first)["checkout_id"], body["checkout_id"])
}

func TestCheckoutKeyHeaderBeatsBody(t *testing.T) {
	f := newServerFixture(t, nil)

	body := checkoutBody(cardApproved, "body-key-123456")
	w := f.do(t, http.MethodPost, "/api/checkout", body,
		map[string]string{"Idempotency-Key": "header-key-123456"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "header-key-123456", w.Header().Get("Idempotency-Key"))
	assert.Equal(t, "header-key-123456", decodeBody(t, w)["idempotency_key"])
}

func TestCheckoutCamelCaseAliases(t *testing.T) {
	f := newServerFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/checkout", map[string]any{
		"leadId":          "lead-7f32",
		"courseSlug":      "go-fundamentals",
		"cardNumber":      cardApproved,
		"cvv":             "123",
		"holder_name":     "Ada Lovelace",
		"expirationMonth": 12,
		"expirationYear":  2030,
		"idempotencyKey":  "camel-key-123456",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "camel-key-123456", decodeBody(t, w)["idempotency_key"])
}

func TestCheckoutErrorMapping(t *testing.T) {
	f := newServerFixture(t, nil)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
		wantCode   string
	}{
		{
			name: "unknown lead",
			body: func() map[string]any {
				b := checkoutBody(cardApproved, "order-2026-0003")
				b["lead_id"] = "lead-nope"
				return b
			}(),
			wantStatus: http.StatusBadRequest,
			wantCode:   "unknown_lead",
		},
		{
			name: "bad card",
			body: func() map[string]any {
				b := checkoutBody("4242424242424241", "order-2026-0004")
				return b
			}(),
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_instrument",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/checkout", tt.body, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, tt.wantCode, body["error"])
			assert.NotEmpty(t, body["request_id"])
		})
	}
}

func TestCheckoutMalformedJSON(t *testing.T) {
	f := newServerFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/checkout", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decodeBody(t, w)["error"])
}

func TestLeadLifecycle(t *testing.T) {
	f := newServerFixture(t, nil)

	created := f.do(t, http.MethodPost, "/api/leads", map[string]any{
		"name": "Grace Hopper", "email": "grace@example.com", "course_slug": "go-fundamentals",
	}, nil)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	leadID, _ := decodeBody(t, created)["id"].(string)
	require.NotEmpty(t, leadID)

	fetched := f.do(t, http.MethodGet, "/api/leads/"+leadID, nil, nil)
	require.Equal(t, http.StatusOK, fetched.Code)
	body := decodeBody(t, fetched)
	assert.Equal(t, "grace@example.com", body["email"])

	missing := f.do(t, http.MethodGet, "/api/leads/lead-unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestCreateLeadValidation(t *testing.T) {
	f := newServerFixture(t, nil)

	tests := []struct {
		name     string
		body     map[string]any
		wantCode string
	}{
		{"missing name", map[string]any{"email": "a@b.c", "course_slug": "go-fundamentals"}, "invalid_request"},
		{"bad email", map[string]any{"name": "A", "email": "nope", "course_slug": "go-fundamentals"}, "invalid_request"},
		{"unknown course", map[string]any{"name": "A", "email": "a@b.c", "course_slug": "underwater-basket"}, "unknown_course"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/leads", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantCode, decodeBody(t, w)["error"])
		})
	}
}

func TestListCourses(t *testing.T) {
	f := newServerFixture(t, nil)

	w := f.do(t, http.MethodGet, "/api/courses", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	courses, _ := decodeBody(t, w)["courses"].([]any)
	require.Len(t, courses, 2)
	first, _ := courses[0].(map[string]any)
	assert.Equal(t, "go-fundamentals", first["slug"])
}

func TestCheckoutStatusPoll(t *testing.T) {
	f := newServerFixture(t, nil)

	created := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(cardApproved, "order-2026-0005"), nil)
	require.Equal(t, http.StatusOK, created.Code)
	reference, _ := decodeBody(t, created)["reference"].(string)
	require.NotEmpty(t, reference)

	polled := f.do(t, http.MethodGet, "/api/checkouts/"+reference+"?lead_id=lead-7f32", nil, nil)
	require.Equal(t, http.StatusOK, polled.Code)
	body := decodeBody(t, polled)
	assert.Equal(t, "approved", body["status"])
	assert.Equal(t, "4242", body["card_last4"])

	missing := f.do(t, http.MethodGet, "/api/checkouts/co-0000000000000000dead?lead_id=lead-7f32", nil, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)

	// Without the lead scope the public poll refuses the lookup; the
	// reference alone must not be enough to read someone's checkout.
	unscoped := f.do(t, http.MethodGet, "/api/checkouts/"+reference, nil, nil)
	assert.Equal(t, http.StatusBadRequest, unscoped.Code)
	assert.Equal(t, "invalid_request", decodeBody(t, unscoped)["error"])

	// A different lead cannot read it either.
	foreign := f.do(t, http.MethodGet, "/api/checkouts/"+reference+"?lead_id=lead-other", nil, nil)
	assert.Equal(t, http.StatusNotFound, foreign.Code)
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t, nil)

	w := f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "sandbox", body["environment"])
	assert.Equal(t, true, body["idempotency_persisted"])
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	f := newServerFixture(t, nil)

	w := f.do(t, http.MethodGet, "/api/admin/checkouts?lead_id=lead-7f32", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/admin/checkouts?lead_id=lead-7f32", nil,
		map[string]string{"Authorization": "Bearer not-a-token"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Token signed with the wrong secret.
	wrong, err := NewAdminToken("some-other-secret", time.Hour)
	require.NoError(t, err)
	w = f.do(t, http.MethodGet, "/api/admin/checkouts?lead_id=lead-7f32", nil,
		map[string]string{"Authorization": "Bearer " + wrong})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminCheckoutTrail(t *testing.T) {
	f := newServerFixture(t, nil)

	created := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(cardApproved, "order-2026-0006"), nil)
	require.Equal(t, http.StatusOK, created.Code)
	reference, _ := decodeBody(t, created)["reference"].(string)

	token, err := NewAdminToken(f.cfg.AdminJWTSecret, time.Hour)
	require.NoError(t, err)
	auth := map[string]string{"Authorization": "Bearer " + token}

	listed := f.do(t, http.MethodGet, "/api/admin/checkouts?lead_id=lead-7f32", nil, auth)
	require.Equal(t, http.StatusOK, listed.Code)
	checkouts, _ := decodeBody(t, listed)["checkouts"].([]any)
	require.Len(t, checkouts, 1)

	events := f.do(t, http.MethodGet, "/api/admin/checkouts/"+reference+"/events", nil, auth)
	require.Equal(t, http.StatusOK, events.Code)
	trail, _ := decodeBody(t, events)["events"].([]any)
	require.Len(t, trail, 2)
	last, _ := trail[1].(map[string]any)
	assert.Equal(t, "approved", last["to_status"])
}

func TestCheckoutRateLimited(t *testing.T) {
	limiter := ratelimit.New(alwaysFullCounters{}, time.Minute, 1,
		ratelimit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	f := newServerFixture(t, limiter)

	first := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(cardDeclined, "order-2026-0007"), nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(cardDeclined, "order-2026-0007"), nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "rate_limited", decodeBody(t, second)["error"])
}

// alwaysFullCounters returns ever-increasing hits from a shared store.
type alwaysFullCounters struct{}

var fullHits int64

func (alwaysFullCounters) IncrementRateCounter(context.Context, string, time.Time) (int64, error) {
	fullHits++
	return fullHits, nil
}
