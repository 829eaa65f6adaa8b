package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/enrollkit/chargeonce/internal/catalog"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Config      string
	GatewayMode string
	APIKey      string
}

// validateReport is the JSON payload for a successful validation.
type validateReport struct {
	Environment string `json:"environment"`
	GatewayMode string `json:"gateway_mode"`
	Courses     int    `json:"courses"`
	PolicyCheck string `json:"policy_check"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Compile a deployment document and check its policy",
		Long: `Compile the CUE deployment document against the embedded schema.

When --gateway-mode (and optionally --api-key) are given, the
environment pairing policy is re-checked against those runtime values,
the same check serve performs at boot.

Examples:
  chargeonce validate --config examples/checkout.cue
  chargeonce validate --config checkout.cue --gateway-mode live --api-key "$KEY"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to the CUE deployment document (required)")
	cmd.Flags().StringVar(&opts.GatewayMode, "gateway-mode", "", "runtime gateway mode to check the pairing policy against")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", "", "runtime gateway API key to check the pairing policy against")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runValidate(cmd *cobra.Command, opts *ValidateOptions) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	cat, err := catalog.Load(opts.Config)
	if err != nil {
		_ = formatter.Error("invalid_catalog", err.Error())
		return WrapExitError(ExitFailure, "catalog validation failed", err)
	}

	policyCheck := "skipped"
	if opts.GatewayMode != "" {
		if err := cat.CheckPolicy(opts.GatewayMode, opts.APIKey); err != nil {
			_ = formatter.Error("policy_violation", err.Error())
			return WrapExitError(ExitFailure, "deployment policy violation", err)
		}
		policyCheck = "ok"
	}

	report := validateReport{
		Environment: cat.Environment,
		GatewayMode: cat.GatewayMode,
		Courses:     len(cat.Courses()),
		PolicyCheck: policyCheck,
	}
	if opts.Format == "json" {
		return formatter.Success(report)
	}
	return formatter.Success(fmt.Sprintf("catalog valid: %d courses, environment %s, policy check %s",
		report.Courses, report.Environment, report.PolicyCheck))
}
