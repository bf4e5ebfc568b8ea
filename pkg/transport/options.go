package transport

import (
	"fmt"
	"time"

	"dario.cat/mergo"
)

// PermissionMode controls how a CLI handles tool approval prompts.
type PermissionMode string

const (
	PermissionModeDefault           PermissionMode = "default"
	PermissionModeAcceptEdits       PermissionMode = "acceptEdits"
	PermissionModeBypassPermissions PermissionMode = "bypassPermissions"
	PermissionModePlan              PermissionMode = "plan"
)

// Options is the polymorphic option bag for an agent call: a vendor tag,
// fields every vendor understands, and vendor-specific fields the matching
// transport picks up. Unknown fields for a vendor are ignored by its
// transport; truly open-ended values go into Extras.
type Options struct {
	// Vendor tag; when set it must match the transport executing the call.
	Vendor string

	// Common fields.
	Model            string
	Timeout          time.Duration
	WorkingDirectory string
	Env              map[string]string
	ExecutablePath   string
	// Yolo auto-approves all tool use (bypass-permissions / full-auto).
	Yolo bool

	// Vendor-specific fields.
	MaxThinkingTokens  int
	MaxTokens          int
	MaxTurns           int
	MaxBudgetUSD       float64
	PermissionMode     PermissionMode
	AllowedTools       []string
	DisallowedTools    []string
	SystemPrompt       string
	AppendSystemPrompt string
	FallbackModel      string
	JSONSchema         string

	// Extras is an open-ended vendor bag surfaced as repeated flags or
	// ignored, at the transport's discretion.
	Extras map[string]any
}

// Validate checks vendor-independent constraints.
func (o *Options) Validate() error {
	if o.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %v", o.Timeout)
	}
	if o.MaxTurns < 0 {
		return fmt.Errorf("max turns must be non-negative, got %d", o.MaxTurns)
	}
	switch o.PermissionMode {
	case "", PermissionModeDefault, PermissionModeAcceptEdits, PermissionModeBypassPermissions, PermissionModePlan:
	default:
		return fmt.Errorf("unknown permission mode %q", o.PermissionMode)
	}
	return nil
}

// Merge overlays per-request options over defaults: request values win where
// set, defaults fill the gaps.
func Merge(defaults, request Options) (Options, error) {
	merged := request
	if err := mergo.Merge(&merged, defaults); err != nil {
		return Options{}, fmt.Errorf("merge options: %w", err)
	}
	return merged, nil
}
