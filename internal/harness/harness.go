// Package harness replays scripted checkout scenarios against the full
// orchestrator stack (real store, mock provider, pinned clock) and
// pins the normalized response sequences with golden files.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/enrollkit/chargeonce/internal/catalog"
	"github.com/enrollkit/chargeonce/internal/checkout"
	"github.com/enrollkit/chargeonce/internal/gateway"
	"github.com/enrollkit/chargeonce/internal/store"
	"github.com/enrollkit/chargeonce/internal/testutil"
)

// deployment is the fixed catalog every scenario runs against. Changing
// a price here invalidates golden files, which is the point: amounts
// are part of the pinned behavior.
const deployment = `
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

// ResponseEvent is one normalized response in the replay transcript.
// Field order is the golden file order.
type ResponseEvent struct {
	Step              string `json:"step"`
	LeadID            string `json:"lead_id"`
	HTTP              int    `json:"http"`
	Error             string `json:"error,omitempty"`
	Status            string `json:"status,omitempty"`
	Approved          bool   `json:"approved"`
	CheckoutID        string `json:"checkout_id,omitempty"`
	Reference         string `json:"reference,omitempty"`
	IdempotencyKey    string `json:"idempotency_key,omitempty"`
	AmountCents       int64  `json:"amount_cents,omitempty"`
	GatewayTID        string `json:"gateway_tid,omitempty"`
	ReturnCode        string `json:"return_code,omitempty"`
	AuthorizationCode string `json:"authorization_code,omitempty"`
	RedirectURL       string `json:"redirect_url,omitempty"`
	Reused            bool   `json:"reused"`
	ReuseReason       string `json:"reuse_reason,omitempty"`
}

// Result is the outcome of one scenario run.
type Result struct {
	Pass      bool
	Responses []ResponseEvent
	Errors    []string
}

// Run executes a scenario against a fresh store and returns the
// transcript plus any expectation mismatches.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "chargeonce-harness-*")
	if err != nil {
		return nil, fmt.Errorf("harness workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("harness store: %w", err)
	}
	defer st.Close()

	cat, err := catalog.Compile("harness.cue", []byte(deployment))
	if err != nil {
		return nil, fmt.Errorf("harness catalog: %w", err)
	}

	ctx := context.Background()
	for _, course := range cat.Courses() {
		err := st.SeedCourse(ctx, store.Course{
			Slug:            course.Slug,
			Title:           course.Title,
			PriceCents:      course.PriceCents,
			MaxInstallments: course.MaxInstallments,
		})
		if err != nil {
			return nil, fmt.Errorf("seeding course %s: %w", course.Slug, err)
		}
	}
	for _, seed := range scenario.Leads {
		if err := st.CreateLead(ctx, testutil.Lead(seed.ID, seed.Course)); err != nil {
			return nil, fmt.Errorf("seeding lead %s: %w", seed.ID, err)
		}
	}

	clock := testutil.NewFixedClock(testutil.Epoch)
	orch := checkout.New(st, gateway.NewMock(), cat,
		checkout.WithClock(clock),
		checkout.WithIDGenerator(testutil.NewSeqIDGenerator("chk")),
		checkout.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	result := &Result{Pass: true}
	for _, step := range scenario.Steps {
		if step.Advance != "" {
			d, _ := time.ParseDuration(step.Advance)
			clock.Advance(d)
		}

		event := runStep(ctx, orch, step)
		result.Responses = append(result.Responses, event)

		for _, mismatch := range checkExpect(step, event) {
			result.Pass = false
			result.Errors = append(result.Errors, mismatch)
		}
	}
	return result, nil
}

func runStep(ctx context.Context, orch *checkout.Orchestrator, step Step) ResponseEvent {
	req := checkout.Request{
		LeadID:         step.Lead,
		CourseSlug:     step.Course,
		Installments:   step.Installments,
		Card:           testutil.Card(step.Card),
		IdempotencyKey: step.Key,
	}

	event := ResponseEvent{Step: step.Name, LeadID: step.Lead}

	res, err := orch.Process(ctx, req)
	if err != nil {
		if orchErr, ok := checkout.AsError(err); ok {
			event.HTTP = orchErr.HTTPStatus()
			event.Error = string(orchErr.Code)
		} else {
			event.HTTP = 500
			event.Error = "internal_error"
		}
		return event
	}

	event.HTTP = res.HTTPStatus()
	event.Status = string(res.Status)
	event.Approved = res.Approved
	event.CheckoutID = res.CheckoutID
	event.Reference = res.Reference
	event.IdempotencyKey = res.IdempotencyKey
	event.AmountCents = res.AmountCents
	event.GatewayTID = res.GatewayTID
	event.ReturnCode = res.ReturnCode
	event.AuthorizationCode = res.AuthorizationCode
	event.RedirectURL = res.RedirectURL
	event.Reused = res.IdempotentReused
	event.ReuseReason = res.ReuseReason
	return event
}

func checkExpect(step Step, event ResponseEvent) []string {
	expect := step.Expect
	if expect == nil {
		return nil
	}
	var mismatches []string
	fail := func(field string, want, got any) {
		mismatches = append(mismatches,
			fmt.Sprintf("step %q: %s: want %v, got %v", step.Name, field, want, got))
	}

	if expect.Status != "" && expect.Status != event.Status {
		fail("status", expect.Status, event.Status)
	}
	if expect.HTTP != 0 && expect.HTTP != event.HTTP {
		fail("http", expect.HTTP, event.HTTP)
	}
	if expect.Approved != nil && *expect.Approved != event.Approved {
		fail("approved", *expect.Approved, event.Approved)
	}
	if expect.Reused != nil && *expect.Reused != event.Reused {
		fail("reused", *expect.Reused, event.Reused)
	}
	if expect.ReuseReason != "" && expect.ReuseReason != event.ReuseReason {
		fail("reuse_reason", expect.ReuseReason, event.ReuseReason)
	}
	if expect.Error != "" && expect.Error != event.Error {
		fail("error", expect.Error, event.Error)
	}
	return mismatches
}
