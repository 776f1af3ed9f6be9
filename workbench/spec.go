package workbench

import (
	"fmt"
	"time"
)

// Kind labels a tool-provider flavour. It is set at construction time and is
// used for labeling only, never for control flow.
type Kind string

const (
	KindAzure       Kind = "azure"
	KindAzureDevOps Kind = "ado"
	KindGitHub      Kind = "github"
	KindBrowser     Kind = "browser"
)

// Timeouts bounds each stage of bringing a workbench up.
type Timeouts struct {
	// Connect bounds spawning the subprocess and the transport handshake.
	Connect time.Duration
	// Init bounds the provider's initialization round trip.
	Init time.Duration
	// List bounds each individual capability-listing attempt.
	List time.Duration
}

// RetryPolicy governs the capability-listing stage. Providers that cold-start
// slowly get a larger attempt budget and a longer per-attempt timeout.
type RetryPolicy struct {
	Attempts uint
	Backoff  time.Duration
}

// Spec is the immutable static description of one tool-provider connection.
type Spec struct {
	Kind     Kind
	Command  string
	Args     []string
	Env      []string
	Timeouts Timeouts
	Retry    RetryPolicy
}

// Validate ensures the spec is well formed before connecting.
func (s Spec) Validate() error {
	if s.Kind == "" {
		return fmt.Errorf("workbench: spec kind is required")
	}
	if s.Command == "" {
		return fmt.Errorf("workbench: spec command is required")
	}
	if s.Timeouts.Connect <= 0 || s.Timeouts.Init <= 0 || s.Timeouts.List <= 0 {
		return fmt.Errorf("workbench: all stage timeouts must be positive")
	}
	if s.Retry.Attempts == 0 {
		return fmt.Errorf("workbench: retry attempts must be positive")
	}
	return nil
}

// DefaultTimeouts is the baseline stage budget for fast-starting providers.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: 10 * time.Second,
		Init:    10 * time.Second,
		List:    10 * time.Second,
	}
}

// DefaultRetry matches the historically observed behavior: three listing
// attempts with a fixed half-second pause between them.
func DefaultRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 500 * time.Millisecond}
}
