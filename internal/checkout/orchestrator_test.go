package checkout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enrollkit/chargeonce/internal/catalog"
	"github.com/enrollkit/chargeonce/internal/gateway"
	"github.com/enrollkit/chargeonce/internal/payment"
	"github.com/enrollkit/chargeonce/internal/store"
)

// Luhn-valid instruments wired to the mock adapter's decision table.
const (
	cardApproved    = "4242424242424242"
	cardDeclined    = "4000000000020000"
	cardPendingAuth = "4000000000061111"
	cardBadChecksum = "4242424242424241"
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

type gatewayFunc func(ctx context.Context, req gateway.ChargeRequest) (gateway.Result, error)

func (f gatewayFunc) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.Result, error) {
	return f(ctx, req)
}

type countingGateway struct {
	inner gateway.Gateway
	calls int
}

func (g *countingGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.Result, error) {
	g.calls++
	return g.inner.Charge(ctx, req)
}

type fixture struct {
	store   *store.Store
	gateway *countingGateway
	orch    *Orchestrator
	now     time.Time
}

func newFixture(t *testing.T, gw gateway.Gateway) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "checkout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.SeedCourse(ctx, store.Course{
		Slug: "go-fundamentals", Title: "Go Fundamentals",
		PriceCents: 49900, MaxInstallments: 6,
	}))
	require.NoError(t, st.SeedCourse(ctx, store.Course{
		Slug: "sql-performance", Title: "SQL Performance Tuning",
		PriceCents: 29900, MaxInstallments: 3,
	}))

	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateLead(ctx, payment.Lead{
		ID: "lead-7f32", Name: "Ada Lovelace", Email: "ada@example.com",
		CourseSlug: "go-fundamentals", CreatedAt: now,
	}))

	cat, err := catalog.Compile("test.cue", []byte(testDeployment))
	require.NoError(t, err)

	if gw == nil {
		gw = gateway.NewMock()
	}
	counting := &countingGateway{inner: gw}

	orch := New(st, counting, cat,
		WithClock(fixedClock{at: now}),
		WithIDGenerator(&seqIDs{}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return &fixture{store: st, gateway: counting, orch: orch, now: now}
}

func validCard(number string) payment.CardDetails {
	return payment.CardDetails{
		Number:          number,
		CVV:             "123",
		HolderName:      "Ada Lovelace",
		ExpirationMonth: 12,
		ExpirationYear:  2030,
	}
}

func checkoutRequest(card payment.CardDetails, key string) Request {
	return Request{
		LeadID:         "lead-7f32",
		CourseSlug:     "go-fundamentals",
		Installments:   1,
		Card:           card,
		IdempotencyKey: key,
	}
}

func TestProcessApprovesFreshCheckout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.orch.Process(ctx, checkoutRequest(validCard(cardApproved), "order-2026-0001"))
	require.NoError(t, err)

	assert.True(t, res.Approved)
	assert.Equal(t, payment.StatusApproved, res.Status)
	assert.Equal(t, 200, res.HTTPStatus())
	assert.Equal(t, "chk-0001", res.CheckoutID)
	assert.Equal(t, "lead-7f32", res.LeadID)
	assert.Equal(t, "order-2026-0001", res.IdempotencyKey)
	assert.Equal(t, payment.DeriveReference("order-2026-0001"), res.Reference)
	assert.Equal(t, int64(49900), res.AmountCents)
	assert.Equal(t, "visa", res.CardBrand)
	assert.Equal(t, "4242", res.CardLast4)
	assert.Contains(t, res.GatewayTID, "MOCK-")
	assert.Equal(t, gateway.CodeApproved, res.ReturnCode)
	assert.False(t, res.IdempotentReused)
	assert.True(t, res.IdempotencyPersisted)
	assert.Equal(t, 1, f.gateway.calls)

	lead, err := f.store.GetLead(ctx, "lead-7f32")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusApproved, lead.Payment.Status)
	require.NotNil(t, lead.Payment.PaidAt)
	assert.Equal(t, f.now.Unix(), lead.Payment.PaidAt.Unix())

	events, err := f.store.ListCheckoutEvents(ctx, res.CheckoutID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, payment.StatusProcessing, events[0].ToStatus)
	assert.Equal(t, payment.StatusApproved, events[1].ToStatus)
}

func TestProcessReplaysApprovedLeadWithoutCharging(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.orch.Process(ctx, checkoutRequest(validCard(cardApproved), "order-2026-0001"))
	require.NoError(t, err)

	// Retry with the same key, and also with a different key: an
	// approved lead is never charged again either way.
	for _, key := range []string{"order-2026-0001", "order-2026-9999"} {
		res, err := f.orch.Process(ctx, checkoutRequest(validCard(cardApproved), key))
		require.NoError(t, err)
		assert.True(t, res.Approved)
		assert.True(t, res.IdempotentReused)
		assert.Equal(t, ReuseLeadAlreadyPaid, res.ReuseReason)
		assert.Equal(t, first.CheckoutID, res.CheckoutID)
	}
	assert.Equal(t, 1, f.gateway.calls)
}

func TestProcessReplaysDeclineByKey(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.orch.Process(ctx, checkoutRequest(validCard(cardDeclined), "order-2026-0002"))
	require.NoError(t, err)
	assert.False(t, first.Approved)
	assert.Equal(t, payment.StatusDeclined, first.Status)
	assert.Equal(t, 200, first.HTTPStatus())

	second, err := f.orch.Process(ctx, checkoutRequest(validCard(cardDeclined), "order-2026-0002"))
	require.NoError(t, err)
	assert.True(t, second.IdempotentReused)
	assert.Equal(t, ReuseByKey, second.ReuseReason)
	assert.Equal(t, first.CheckoutID, second.CheckoutID)
	assert.Equal(t, 1, f.gateway.calls, "replay must not recharge")
}

func TestProcessDerivesKeyFromIntent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.orch.Process(ctx, checkoutRequest(validCard(cardDeclined), ""))
	require.NoError(t, err)
	assert.Contains(t, first.IdempotencyKey, "auto-")

	// Identical intent in the same time bucket derives the same key.
	second, err := f.orch.Process(ctx, checkoutRequest(validCard(cardDeclined), ""))
	require.NoError(t, err)
	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)
	assert.True(t, second.IdempotentReused)
	assert.Equal(t, 1, f.gateway.calls)
}

func TestProcessPendingAuthentication(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.orch.Process(ctx, checkoutRequest(validCard(cardPendingAuth), "order-2026-0003"))
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPendingAuthentication, res.Status)
	assert.False(t, res.Approved)
	assert.Equal(t, 200, res.HTTPStatus())
	assert.NotEmpty(t, res.RedirectURL)

	lead, err := f.store.GetLead(ctx, "lead-7f32")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPendingAuthentication, lead.Payment.Status)
	assert.Nil(t, lead.Payment.PaidAt)

	// While authentication is pending any new attempt is a conflict.
	_, err = f.orch.Process(ctx, checkoutRequest(validCard(cardApproved), "order-2026-0004"))
	require.Error(t, err)
	assert.Equal(t, ErrCodePaymentInFlight, CodeOf(err))
}

func TestProcessRejectsKeyBoundToAnotherLead(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.CreateLead(ctx, payment.Lead{
		ID: "lead-9c41", Name: "Grace Hopper", Email: "grace@example.com",
		CourseSlug: "go-fundamentals", CreatedAt: f.now,
	}))

	_, err := f.orch.Process(ctx, checkoutRequest(validCard(cardDeclined), "order-2026-0005"))
	require.NoError(t, err)

	req := checkoutRequest(validCard(cardDeclined), "order-2026-0005")
	req.LeadID = "lead-9c41"
	_, err = f.orch.Process(ctx, req)
	require.Error(t, err)

	orchErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeIdempotencyKeyConflict, orchErr.Code)
	assert.Equal(t, 409, orchErr.HTTPStatus())
	assert.Equal(t, 1, f.gateway.calls)
}

func TestProcessValidationFailures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Request)
		wantCode ErrorCode
	}{
		{
			name:     "unknown lead",
			mutate:   func(r *Request) { r.LeadID = "lead-missing" },
			wantCode: ErrCodeUnknownLead,
		},
		{
			name:     "unknown course",
			mutate:   func(r *Request) { r.CourseSlug = "quantum-basket-weaving" },
			wantCode: ErrCodeUnknownCourse,
		},
		{
			name:     "course mismatch",
			mutate:   func(r *Request) { r.CourseSlug = "sql-performance" },
			wantCode: ErrCodeCourseMismatch,
		},
		{
			name:     "luhn failure",
			mutate:   func(r *Request) { r.Card = validCard(cardBadChecksum) },
			wantCode: ErrCodeInvalidInstrument,
		},
		{
			name: "expired card",
			mutate: func(r *Request) {
				c := validCard(cardApproved)
				c.ExpirationYear = 2024
				r.Card = c
			},
			wantCode: ErrCodeInvalidInstrument,
		},
		{
			name:     "installments above course cap",
			mutate:   func(r *Request) { r.Installments = 7 },
			wantCode: ErrCodeInvalidInstrument,
		},
		{
			name:     "negative installments",
			mutate:   func(r *Request) { r.Installments = -1 },
			wantCode: ErrCodeInvalidInstrument,
		},
		{
			name:     "too short idempotency key",
			mutate:   func(r *Request) { r.IdempotencyKey = "ab" },
			wantCode: ErrCodeInvalidIdempotencyKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			req := checkoutRequest(validCard(cardApproved), "order-2026-0006")
			tt.mutate(&req)

			_, err := f.orch.Process(context.Background(), req)
			require.Error(t, err)

			orchErr, ok := AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, orchErr.Code)
			assert.Equal(t, 400, orchErr.HTTPStatus())
			assert.Equal(t, 0, f.gateway.calls)
		})
	}
}

func TestProcessProviderUnreachable(t *testing.T) {
	down := gatewayFunc(func(context.Context, gateway.ChargeRequest) (gateway.Result, error) {
		return gateway.Result{}, fmt.Errorf("dial tcp: connection refused")
	})
	f := newFixture(t, down)
	ctx := context.Background()

	res, err := f.orch.Process(ctx, checkoutRequest(validCard(cardApproved), "order-2026-0007"))
	require.NoError(t, err)
	assert.Equal(t, payment.StatusProviderUnavailable, res.Status)
	assert.Equal(t, 502, res.HTTPStatus())
	assert.False(t, res.Approved)

	// The outcome is settled: a same-key retry replays the stored
	// record instead of probing the provider again.
	res2, err := f.orch.Process(ctx, checkoutRequest(validCard(cardApproved), "order-2026-0007"))
	require.NoError(t, err)
	assert.True(t, res2.IdempotentReused)
	assert.Equal(t, payment.StatusProviderUnavailable, res2.Status)
	assert.Equal(t, 1, f.gateway.calls)

	lead, err := f.store.GetLead(ctx, "lead-7f32")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusProviderUnavailable, lead.Payment.Status)
}

func TestProcessProviderErrorWithoutDecision(t *testing.T) {
	// A 5xx with a body we could not parse: no decision to settle, so
	// the checkout lands on provider_unavailable, not a decline.
	failing := gatewayFunc(func(context.Context, gateway.ChargeRequest) (gateway.Result, error) {
		return gateway.Result{OK: false, HTTPStatus: 503}, nil
	})
	f := newFixture(t, failing)
	ctx := context.Background()

	res, err := f.orch.Process(ctx, checkoutRequest(validCard(cardApproved), "order-2026-0012"))
	require.NoError(t, err)
	assert.Equal(t, payment.StatusProviderUnavailable, res.Status)
	assert.Equal(t, 502, res.HTTPStatus())
	assert.False(t, res.Approved)
	assert.Empty(t, res.ReturnCode)

	// An error status whose body still carried a decision settles on
	// that decision.
	decided := gatewayFunc(func(context.Context, gateway.ChargeRequest) (gateway.Result, error) {
		return gateway.Result{
			OK:         false,
			HTTPStatus: 500,
			Response:   gateway.NormalizedResponse{ReturnCode: "05", ReturnMessage: "transaction not authorized"},
		}, nil
	})
	f2 := newFixture(t, decided)

	res, err = f2.orch.Process(ctx, checkoutRequest(validCard(cardApproved), "order-2026-0013"))
	require.NoError(t, err)
	assert.Equal(t, payment.StatusDeclined, res.Status)
	assert.Equal(t, "05", res.ReturnCode)
}

func TestProcessCredentialsRejected(t *testing.T) {
	rejecting := gatewayFunc(func(context.Context, gateway.ChargeRequest) (gateway.Result, error) {
		return gateway.Result{OK: false, HTTPStatus: 401}, nil
	})
	f := newFixture(t, rejecting)
	ctx := context.Background()

	_, err := f.orch.Process(ctx, checkoutRequest(validCard(cardApproved), "order-2026-0008"))
	require.Error(t, err)

	orchErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeProviderCredentialsInvalid, orchErr.Code)
	assert.Equal(t, 500, orchErr.HTTPStatus())

	// The record still settles so the attempt is visible in the log.
	rec, err := f.store.FindCheckoutByKey(ctx, "order-2026-0008")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusProviderUnavailable, rec.Status)
}

func TestProcessSurvivesLegacySchema(t *testing.T) {
	// A database predating the idempotency column, owned by a user
	// without DDL rights: charges must still work, with duplicate
	// protection degraded to reference matching.
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.db")
	createLegacyCheckoutDB(t, path)

	st, err := store.Open(path, store.WithAutoRepair(false))
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
	counting := &countingGateway{inner: gateway.NewMock()}
	orch := New(st, counting, cat,
		WithClock(fixedClock{at: now}),
		WithIDGenerator(&seqIDs{}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	first, err := orch.Process(ctx, checkoutRequest(validCard(cardDeclined), "order-2026-0009"))
	require.NoError(t, err)
	assert.Equal(t, payment.StatusDeclined, first.Status)
	assert.False(t, first.IdempotencyPersisted)

	// The key column is gone, but the deterministic reference still
	// catches the retry.
	second, err := orch.Process(ctx, checkoutRequest(validCard(cardDeclined), "order-2026-0009"))
	require.NoError(t, err)
	assert.True(t, second.IdempotentReused)
	assert.Equal(t, ReuseByReference, second.ReuseReason)
	assert.Equal(t, first.CheckoutID, second.CheckoutID)
	assert.Equal(t, 1, counting.calls)
}
