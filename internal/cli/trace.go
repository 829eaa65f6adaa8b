package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/enrollkit/chargeonce/internal/payment"
	"github.com/enrollkit/chargeonce/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
}

// traceResult is the JSON payload: the record plus its transition trail.
type traceResult struct {
	CheckoutID     string       `json:"checkout_id"`
	LeadID         string       `json:"lead_id,omitempty"`
	Reference      string       `json:"reference"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
	Status         string       `json:"status"`
	AmountCents    int64        `json:"amount_cents"`
	Installments   int          `json:"installments"`
	CardBrand      string       `json:"card_brand,omitempty"`
	CardLast4      string       `json:"card_last4,omitempty"`
	GatewayTID     string       `json:"gateway_tid,omitempty"`
	ReturnCode     string       `json:"return_code,omitempty"`
	ReturnMessage  string       `json:"return_message,omitempty"`
	CreatedAt      string       `json:"created_at"`
	Events         []traceEvent `json:"events"`
}

type traceEvent struct {
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status"`
	ReturnCode string `json:"return_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <reference>",
		Short: "Print a checkout record and its transition trail",
		Long: `Look up a checkout by its deterministic reference and print the stored
record together with every status transition from the audit log.

Examples:
  chargeonce trace co-1a2b3c4d5e6f7a8b9c0d --db ./chargeonce.db
  chargeonce trace co-1a2b3c4d5e6f7a8b9c0d --db ./chargeonce.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runTrace(cmd *cobra.Command, opts *TraceOptions, reference string) error {
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	rec, err := st.FindCheckoutByReference(ctx, reference, "")
	if errors.Is(err, store.ErrNotFound) {
		return NewExitError(ExitFailure, fmt.Sprintf("no checkout under reference %s", reference))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "checkout lookup failed", err)
	}

	events, err := st.ListCheckoutEvents(ctx, rec.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "event lookup failed", err)
	}

	result := buildTrace(rec, events)
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return formatter.Success(traceText(result))
}

func buildTrace(rec *payment.CheckoutRecord, events []payment.CheckoutEvent) traceResult {
	result := traceResult{
		CheckoutID:     rec.ID,
		LeadID:         rec.LeadID,
		Reference:      rec.Reference,
		IdempotencyKey: rec.IdempotencyKey,
		Status:         string(rec.Status),
		AmountCents:    rec.AmountCents,
		Installments:   rec.Installments,
		CardBrand:      rec.CardBrand,
		CardLast4:      rec.CardLast4,
		GatewayTID:     rec.GatewayTID,
		ReturnCode:     rec.ReturnCode,
		ReturnMessage:  rec.ReturnMessage,
		CreatedAt:      rec.CreatedAt.UTC().Format(time.RFC3339),
		Events:         []traceEvent{},
	}
	for _, ev := range events {
		result.Events = append(result.Events, traceEvent{
			FromStatus: string(ev.FromStatus),
			ToStatus:   string(ev.ToStatus),
			ReturnCode: ev.ReturnCode,
			Detail:     ev.Detail,
			CreatedAt:  ev.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return result
}

func traceText(result traceResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "checkout %s (%s)\n", result.CheckoutID, result.Status)
	fmt.Fprintf(&b, "  reference: %s\n", result.Reference)
	if result.IdempotencyKey != "" {
		fmt.Fprintf(&b, "  key:       %s\n", result.IdempotencyKey)
	}
	if result.LeadID != "" {
		fmt.Fprintf(&b, "  lead:      %s\n", result.LeadID)
	}
	fmt.Fprintf(&b, "  amount:    %d cents x%d\n", result.AmountCents, result.Installments)
	if result.CardLast4 != "" {
		fmt.Fprintf(&b, "  card:      %s ****%s\n", result.CardBrand, result.CardLast4)
	}
	if result.GatewayTID != "" {
		fmt.Fprintf(&b, "  gateway:   %s (%s) %s\n", result.GatewayTID, result.ReturnCode, result.ReturnMessage)
	}
	fmt.Fprintf(&b, "transitions:\n")
	if len(result.Events) == 0 {
		fmt.Fprintf(&b, "  (none recorded)\n")
	}
	for _, ev := range result.Events {
		from := ev.FromStatus
		if from == "" {
			from = "-"
		}
		fmt.Fprintf(&b, "  %s  %s -> %s", ev.CreatedAt, from, ev.ToStatus)
		if ev.Detail != "" {
			fmt.Fprintf(&b, "  (%s)", ev.Detail)
		}
		fmt.Fprintf(&b, "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
