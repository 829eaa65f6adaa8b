package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/enrollkit/chargeonce/internal/catalog"
	"github.com/enrollkit/chargeonce/internal/checkout"
	"github.com/enrollkit/chargeonce/internal/gateway"
	"github.com/enrollkit/chargeonce/internal/payment"
	"github.com/enrollkit/chargeonce/internal/store"
)

// ChargeOptions holds flags for the charge command.
type ChargeOptions struct {
	*RootOptions
	Config       string
	Database     string
	Lead         string
	Course       string
	Card         string
	CVV          string
	Holder       string
	Expiry       string // MM/YYYY
	Installments int
	Key          string
}

// NewChargeCommand creates the charge command: one checkout run through
// the full orchestrator against the mock provider, for demos and
// diagnosing replay behavior from a terminal.
func NewChargeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChargeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "charge",
		Short: "Run one mock checkout from the command line",
		Long: `Run a single checkout through the orchestrator with the mock provider.

The charge goes through the same lookup/create/charge/settle pipeline as
the HTTP endpoint, so replaying the same --key shows the stored result
instead of charging again.

Examples:
  chargeonce charge --config examples/checkout.cue --db ./chargeonce.db \
    --lead lead-7f32 --course go-fundamentals \
    --card 4242424242424242 --cvv 123 --expiry 12/2030 \
    --key order-2026-0001`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCharge(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to the CUE deployment document (required)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Lead, "lead", "", "lead id (required)")
	cmd.Flags().StringVar(&opts.Course, "course", "", "course slug (required)")
	cmd.Flags().StringVar(&opts.Card, "card", "", "card number (required)")
	cmd.Flags().StringVar(&opts.CVV, "cvv", "", "card security code (required)")
	cmd.Flags().StringVar(&opts.Holder, "holder", "", "cardholder name")
	cmd.Flags().StringVar(&opts.Expiry, "expiry", "", "card expiry as MM/YYYY (required)")
	cmd.Flags().IntVar(&opts.Installments, "installments", 1, "number of installments")
	cmd.Flags().StringVar(&opts.Key, "key", "", "idempotency key (derived from the intent when empty)")
	for _, flag := range []string{"config", "db", "lead", "course", "card", "cvv", "expiry"} {
		_ = cmd.MarkFlagRequired(flag)
	}

	return cmd
}

func runCharge(cmd *cobra.Command, opts *ChargeOptions) error {
	month, year, err := parseExpiry(opts.Expiry)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --expiry", err)
	}

	cat, err := catalog.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile catalog", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	orch := checkout.New(st, gateway.NewMock(), cat)
	res, err := orch.Process(cmd.Context(), checkout.Request{
		LeadID:       opts.Lead,
		CourseSlug:   opts.Course,
		Installments: opts.Installments,
		Card: payment.CardDetails{
			Number:          opts.Card,
			CVV:             opts.CVV,
			HolderName:      opts.Holder,
			ExpirationMonth: month,
			ExpirationYear:  year,
		},
		IdempotencyKey: opts.Key,
	})

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if err != nil {
		if orchErr, ok := checkout.AsError(err); ok {
			_ = formatter.Error(string(orchErr.Code), orchErr.Message)
			return NewExitError(ExitFailure, orchErr.Message)
		}
		return WrapExitError(ExitCommandError, "checkout failed", err)
	}

	if opts.Format == "json" {
		return formatter.Success(res)
	}
	return formatter.Success(chargeText(res))
}

func chargeText(res *checkout.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "status:    %s\n", res.Status)
	fmt.Fprintf(&b, "approved:  %t\n", res.Approved)
	fmt.Fprintf(&b, "checkout:  %s\n", res.CheckoutID)
	fmt.Fprintf(&b, "reference: %s\n", res.Reference)
	fmt.Fprintf(&b, "key:       %s\n", res.IdempotencyKey)
	fmt.Fprintf(&b, "amount:    %d cents x%d\n", res.AmountCents, res.Installments)
	if res.GatewayTID != "" {
		fmt.Fprintf(&b, "tid:       %s (%s)\n", res.GatewayTID, res.ReturnCode)
	}
	if res.RedirectURL != "" {
		fmt.Fprintf(&b, "3-D Secure challenge: %s\n", res.RedirectURL)
	}
	if res.IdempotentReused {
		fmt.Fprintf(&b, "replayed from store (%s), no new charge\n", res.ReuseReason)
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseExpiry parses "MM/YYYY" into its numeric parts.
func parseExpiry(s string) (month, year int, err error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want MM/YYYY, got %q", s)
	}
	month, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("bad month in %q", s)
	}
	year, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("bad year in %q", s)
	}
	if year < 100 {
		year += 2000
	}
	return month, year, nil
}
