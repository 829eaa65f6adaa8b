package catalog

import (
	"fmt"
	"strings"
)

// sandboxKeyPrefixes are credential prefixes that only ever identify
// sandbox accounts at the provider.
var sandboxKeyPrefixes = []string{"sandbox_", "sk_sandbox_", "test_"}

// CheckPolicy re-checks the environment pairing rule against the live
// runtime configuration. The CUE schema already constrains what the
// document may declare, but the real gateway mode and API key come from
// the environment, so the check has to run again with those values.
func (c *Catalog) CheckPolicy(gatewayMode, apiKey string) error {
	if c.GatewayMode != "" && gatewayMode != c.GatewayMode {
		return fmt.Errorf("gateway mode %q does not match catalog declaration %q",
			gatewayMode, c.GatewayMode)
	}
	if c.Environment != "production" {
		return nil
	}
	if gatewayMode != "live" {
		return fmt.Errorf("production environment requires the live gateway, got %q", gatewayMode)
	}
	if apiKey == "" {
		return fmt.Errorf("production environment requires a gateway API key")
	}
	for _, prefix := range sandboxKeyPrefixes {
		if strings.HasPrefix(apiKey, prefix) {
			return fmt.Errorf("production environment paired with sandbox credentials (%s...)", prefix)
		}
	}
	return nil
}
