package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/enrollkit/chargeonce/internal/catalog"
	"github.com/enrollkit/chargeonce/internal/gateway"
	"github.com/enrollkit/chargeonce/internal/payment"
	"github.com/enrollkit/chargeonce/internal/store"
)

// Catalog resolves course pricing server-side. The client-declared
// amount is never consulted; the catalog is the only price source.
// Implemented by *catalog.Catalog.
type Catalog interface {
	Course(slug string) (catalog.Course, bool)
}

// Request is the boundary-resolved checkout intent. All field aliasing
// and header/body precedence has already been settled by the caller;
// the orchestrator trusts these fields as typed input.
type Request struct {
	LeadID       string
	CourseSlug   string
	Installments int
	Card         payment.CardDetails

	// IdempotencyKey is the raw client key, empty when the key should
	// be derived from the intent.
	IdempotencyKey string
}

// Orchestrator coordinates the key resolver, the record store, and the
// gateway adapter into the checkout state machine.
type Orchestrator struct {
	store   *store.Store
	gateway gateway.Gateway
	catalog Catalog
	clock   Clock
	ids     IDGenerator
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the wall clock (tests pin it for stable auto-key
// buckets and paid_at values).
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *Orchestrator) { o.ids = g }
}

// WithLogger sets the structured logger. The orchestrator only ever
// logs sanitized summaries: masked instruments, no credentials.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator over the given collaborators.
func New(st *store.Store, gw gateway.Gateway, cat Catalog, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   st,
		gateway: gw,
		catalog: cat,
		clock:   SystemClock{},
		ids:     UUIDv7Generator{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs one checkout request through the state machine and
// returns the normalized result.
//
// The anti-duplicate-charge guarantee lives in two places: the LOOKUP
// step returns any stored record under the resolved key without calling
// the gateway, and the store's unique index collapses concurrent
// inserts onto one row. A nil error with a provider_unavailable status
// means the provider was unreachable; the caller may retry with the
// same key, which replays from LOOKUP.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	now := o.clock.Now()

	// Pre-checks: the lead must exist, be enrolled in the declared
	// course, and not already be paid or mid-charge.
	lead, err := o.store.GetLead(ctx, req.LeadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrCodeUnknownLead, "lead %s not found", req.LeadID)
	}
	if err != nil {
		return nil, fmt.Errorf("checkout pre-check: %w", err)
	}

	course, ok := o.catalog.Course(req.CourseSlug)
	if !ok {
		return nil, newError(ErrCodeUnknownCourse, "course %s not in catalog", req.CourseSlug)
	}
	if lead.CourseSlug != req.CourseSlug {
		return nil, newError(ErrCodeCourseMismatch,
			"lead %s is enrolled in %s, not %s", lead.ID, lead.CourseSlug, req.CourseSlug)
	}

	switch lead.Payment.Status {
	case payment.StatusApproved:
		return o.reuseAlreadyPaid(ctx, lead)
	case payment.StatusProcessing, payment.StatusPendingAuthentication:
		return nil, newError(ErrCodePaymentInFlight,
			"a charge for lead %s is already %s", lead.ID, lead.Payment.Status)
	}

	installments := req.Installments
	if installments == 0 {
		installments = 1
	}

	intent := payment.PaymentIntent{
		LeadID:         lead.ID,
		CourseSlug:     course.Slug,
		AmountCents:    course.PriceCents,
		Installments:   installments,
		Card:           req.Card,
		IdempotencyKey: req.IdempotencyKey,
	}

	key, derived, err := payment.ResolveKey(intent, now)
	if err != nil {
		return nil, wrapError(ErrCodeInvalidIdempotencyKey, err, "idempotency key rejected")
	}
	reference := payment.DeriveReference(key)

	// LOOKUP: a stored record under this key (or, degraded, this
	// reference) is the answer - no gateway call.
	rec, reason, err := o.lookup(ctx, key, reference, lead.ID)
	switch {
	case err == nil:
		if rec.LeadID != "" && rec.LeadID != lead.ID {
			return nil, newError(ErrCodeIdempotencyKeyConflict,
				"idempotency key is bound to a different lead")
		}
		o.logger.Debug("checkout replayed from store",
			"reference", reference, "status", rec.Status, "reason", reason)
		return resultFromRecord(rec, key, rec.IdempotencyKey != "", true, reason), nil
	case errors.Is(err, store.ErrNotFound):
		// Fresh attempt.
	default:
		return nil, fmt.Errorf("checkout lookup: %w", err)
	}

	// Instrument validation happens after LOOKUP so replays of settled
	// checkouts succeed even if the client resubmits garbage card data.
	if installments < 1 || installments > course.MaxInstallments {
		return nil, newError(ErrCodeInvalidInstrument,
			"installments must be between 1 and %d", course.MaxInstallments)
	}
	if err := payment.ValidateCard(req.Card, now); err != nil {
		return nil, wrapError(ErrCodeInvalidInstrument, err, "card rejected")
	}

	// CREATE: claim the key with a processing record. Losing the insert
	// race is not an error - the winner's record is the shared result.
	fresh := payment.CheckoutRecord{
		ID:             o.ids.Generate(),
		LeadID:         lead.ID,
		Reference:      reference,
		IdempotencyKey: key,
		Status:         payment.StatusProcessing,
		AmountCents:    course.PriceCents,
		Installments:   installments,
		CardBrand:      payment.CardBrand(req.Card.Number),
		CardLast4:      payment.Last4(req.Card.Number),
		CreatedAt:      now,
	}
	stored, inserted, keyPersisted, err := o.store.InsertProcessing(ctx, fresh)
	if errors.Is(err, store.ErrSchemaIncompatible) {
		return nil, wrapError(ErrCodeSchemaIncompatible, err, "no writable checkout schema")
	}
	if err != nil {
		return nil, fmt.Errorf("checkout create: %w", err)
	}
	if !inserted {
		o.logger.Debug("checkout insert race lost, reusing winner",
			"reference", reference, "winner_id", stored.ID)
		return resultFromRecord(stored, key, keyPersisted, true, ReuseInsertRace), nil
	}

	o.appendEvent(ctx, payment.CheckoutEvent{
		CheckoutID: stored.ID,
		ToStatus:   payment.StatusProcessing,
		Detail:     createDetail(derived, keyPersisted),
		CreatedAt:  now,
	})
	o.projectLead(ctx, lead.ID, payment.EnrollmentPayment{
		Status:    payment.StatusProcessing,
		Reference: reference,
	})

	o.logger.Info("checkout created",
		"checkout_id", stored.ID, "lead_id", lead.ID, "reference", reference,
		"amount_cents", course.PriceCents, "card", payment.MaskPAN(req.Card.Number),
		"auto_key", derived, "idempotency_persisted", keyPersisted)

	// CHARGE: one bounded gateway call. A transport failure settles the
	// record as provider_unavailable; the same key replays later.
	gres, err := o.gateway.Charge(ctx, gateway.ChargeRequest{
		Reference:    reference,
		AmountCents:  course.PriceCents,
		Installments: installments,
		HolderEmail:  lead.Email,
		Card:         req.Card,
	})
	if err != nil {
		o.logger.Error("gateway unreachable", "reference", reference, "error", err)
		final := o.settle(ctx, stored, lead.ID, store.ResultUpdate{
			Status:        payment.StatusProviderUnavailable,
			ReturnMessage: "payment provider unreachable",
		}, now)
		return resultFromRecord(final, key, keyPersisted, false, ""), nil
	}

	if gres.CredentialsRejected() {
		o.logger.Error("gateway rejected credentials",
			"reference", reference, "http_status", gres.HTTPStatus)
		o.settle(ctx, stored, lead.ID, store.ResultUpdate{
			Status:        payment.StatusProviderUnavailable,
			ReturnCode:    gres.Response.ReturnCode,
			ReturnMessage: "payment provider rejected credentials",
		}, now)
		return nil, newError(ErrCodeProviderCredentialsInvalid,
			"payment provider rejected the configured credentials")
	}

	// The provider answered with an error status and no readable
	// decision (5xx, unparseable body). That is a provider failure, not
	// a customer decline; settle it like an unreachable provider.
	if !gres.OK && gres.Response.ReturnCode == "" && gres.Response.ThreeDSURL == "" {
		o.logger.Error("gateway answered without a decision",
			"reference", reference, "http_status", gres.HTTPStatus)
		final := o.settle(ctx, stored, lead.ID, store.ResultUpdate{
			Status:        payment.StatusProviderUnavailable,
			ReturnMessage: "payment provider returned no decision",
		}, now)
		return resultFromRecord(final, key, keyPersisted, false, ""), nil
	}

	// SETTLE: map the normalized decision onto the record lifecycle.
	status := settleStatus(gres.Response)
	final := o.settle(ctx, stored, lead.ID, store.ResultUpdate{
		Status:            status,
		GatewayTID:        gres.Response.TID,
		ReturnCode:        gres.Response.ReturnCode,
		ReturnMessage:     gres.Response.ReturnMessage,
		AuthorizationCode: gres.Response.AuthorizationCode,
		ThreeDSURL:        gres.Response.ThreeDSURL,
	}, now)

	o.logger.Info("checkout settled",
		"checkout_id", final.ID, "reference", reference, "status", final.Status,
		"return_code", final.ReturnCode, "tid", final.GatewayTID)

	return resultFromRecord(final, key, keyPersisted, false, ""), nil
}

// lookup finds an existing record for the key, degrading to the
// reference scope when the key column is unavailable.
func (o *Orchestrator) lookup(ctx context.Context, key, reference, leadID string) (*payment.CheckoutRecord, string, error) {
	rec, err := o.store.FindCheckoutByKey(ctx, key)
	if err == nil {
		return rec, ReuseByKey, nil
	}
	if errors.Is(err, store.ErrKeyLookupUnavailable) {
		rec, err = o.store.FindCheckoutByReference(ctx, reference, leadID)
		if err == nil {
			return rec, ReuseByReference, nil
		}
	}
	return nil, "", err
}

// reuseAlreadyPaid answers an approved lead without charging, from the
// stored record when it is still findable, otherwise from the lead's
// own payment projection.
func (o *Orchestrator) reuseAlreadyPaid(ctx context.Context, lead *payment.Lead) (*Result, error) {
	if lead.Payment.Reference != "" {
		rec, err := o.store.FindCheckoutByReference(ctx, lead.Payment.Reference, lead.ID)
		if err == nil {
			res := resultFromRecord(rec, rec.IdempotencyKey, rec.IdempotencyKey != "", true, ReuseLeadAlreadyPaid)
			return res, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("already-paid lookup: %w", err)
		}
	}
	return &Result{
		Approved:             true,
		Status:               payment.StatusApproved,
		LeadID:               lead.ID,
		Reference:            lead.Payment.Reference,
		GatewayTID:           lead.Payment.GatewayTID,
		ReturnCode:           lead.Payment.ReturnCode,
		ReturnMessage:        lead.Payment.ReturnMessage,
		IdempotentReused:     true,
		ReuseReason:          ReuseLeadAlreadyPaid,
		IdempotencyPersisted: o.store.IdempotencyKeySupported(),
	}, nil
}

// settle performs the exactly-once transition and its two follow-on
// writes: the audit event and the lead projection. It runs detached
// from request cancellation - once the provider has answered, the
// outcome gets recorded even if the client connection is gone, because
// the stored record is the source of truth for the next retry.
func (o *Orchestrator) settle(ctx context.Context, rec *payment.CheckoutRecord, leadID string, update store.ResultUpdate, now time.Time) *payment.CheckoutRecord {
	ctx = context.WithoutCancel(ctx)

	final, err := o.store.UpdateCheckoutResult(ctx, rec.ID, update)
	if err != nil {
		// The transition is lost but the provider outcome is known;
		// answer from memory and let the audit trail show the gap.
		o.logger.Error("settle write failed", "checkout_id", rec.ID, "error", err)
		settled := *rec
		settled.Status = update.Status
		settled.GatewayTID = update.GatewayTID
		settled.ReturnCode = update.ReturnCode
		settled.ReturnMessage = update.ReturnMessage
		settled.AuthorizationCode = update.AuthorizationCode
		settled.ThreeDSURL = update.ThreeDSURL
		final = &settled
	}

	o.appendEvent(ctx, payment.CheckoutEvent{
		CheckoutID: rec.ID,
		FromStatus: payment.StatusProcessing,
		ToStatus:   update.Status,
		ReturnCode: update.ReturnCode,
		CreatedAt:  now,
	})

	projection := payment.EnrollmentPayment{
		Status:        final.Status,
		Reference:     final.Reference,
		GatewayTID:    final.GatewayTID,
		ReturnCode:    final.ReturnCode,
		ReturnMessage: final.ReturnMessage,
	}
	if final.Status == payment.StatusApproved {
		paidAt := now
		projection.PaidAt = &paidAt
	}
	o.projectLead(ctx, leadID, projection)

	return final
}

// settleStatus maps a normalized gateway decision to a record status:
// return code 00 approves, a 3-D Secure redirect demands
// authentication even under a non-zero code, anything else declines.
func settleStatus(resp gateway.NormalizedResponse) payment.Status {
	switch {
	case resp.ReturnCode == gateway.CodeApproved:
		return payment.StatusApproved
	case resp.ThreeDSURL != "":
		return payment.StatusPendingAuthentication
	default:
		return payment.StatusDeclined
	}
}

// appendEvent writes an audit row; losing one never fails a checkout.
func (o *Orchestrator) appendEvent(ctx context.Context, ev payment.CheckoutEvent) {
	if err := o.store.AppendCheckoutEvent(ctx, ev); err != nil {
		o.logger.Error("audit append failed", "checkout_id", ev.CheckoutID, "error", err)
	}
}

// projectLead mirrors a status onto the lead projection; failures are
// logged, not fatal - the checkout record stays authoritative.
func (o *Orchestrator) projectLead(ctx context.Context, leadID string, p payment.EnrollmentPayment) {
	if err := o.store.UpdateLeadPayment(ctx, leadID, p); err != nil {
		o.logger.Error("lead projection write failed", "lead_id", leadID, "error", err)
	}
}

func createDetail(autoKey, keyPersisted bool) string {
	switch {
	case !keyPersisted:
		return "created without idempotency column"
	case autoKey:
		return "created with derived key"
	default:
		return "created with client key"
	}
}
