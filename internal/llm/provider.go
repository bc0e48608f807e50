// Package llm runs the bias/claims analysis against hosted model providers.
package llm

import (
	"context"
)

// Provider is one hosted model behind the analysis chain. Error
// classification (primary vs secondary) is assigned by the chain based on
// the provider's role, not by the provider itself.
type Provider interface {
	// Name labels the provider in logs and telemetry.
	Name() string
	// Complete sends the prompt and returns the raw model output.
	Complete(ctx context.Context, prompt string) (string, error)
}
