package transport

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/codeready-toolchain/verdict/pkg/stream"
)

// NewGeminiTransport drives the Gemini CLI. Output is a single JSON
// document; the processor synthesizes session framing around it.
func NewGeminiTransport(cfg Config) (AgentTransport, error) {
	return newCLITransport(vendorSpec{
		name:       "gemini",
		binaries:   []string{"gemini"},
		wellKnown:  []string{"~/.local/bin", "/usr/local/bin", "/opt/homebrew/bin"},
		pathEnvVar: "GEMINI_CLI_PATH",
		secretVars: []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"},
		format:     stream.FormatJSON,

		buildArgs: func(opts Options, prompt string) []string {
			args := []string{"--output-format", "json"}
			if opts.Model != "" {
				args = append(args, "--model", opts.Model)
			}
			if opts.Yolo {
				args = append(args, "--yolo")
			} else {
				args = append(args, "--approval-mode", geminiApprovalMode(opts.PermissionMode))
			}
			if len(opts.AllowedTools) > 0 {
				for _, tool := range opts.AllowedTools {
					args = append(args, "--allowed-tools", tool)
				}
			}
			args = appendExtraFlags(args, opts.Extras)
			return append(args, "--prompt", prompt)
		},
	}, cfg)
}

func geminiApprovalMode(mode PermissionMode) string {
	switch mode {
	case PermissionModeAcceptEdits:
		return "auto_edit"
	case PermissionModeBypassPermissions:
		return "yolo"
	default:
		return "default"
	}
}

// NewCodexTransport drives the OpenAI Codex CLI via its exec subcommand,
// which emits line-delimited JSON.
func NewCodexTransport(cfg Config) (AgentTransport, error) {
	return newCLITransport(vendorSpec{
		name:       "codex",
		binaries:   []string{"codex"},
		wellKnown:  []string{"~/.local/bin", "/usr/local/bin", "/opt/homebrew/bin"},
		pathEnvVar: "CODEX_CLI_PATH",
		secretVars: []string{"OPENAI_API_KEY"},
		format:     stream.FormatStreamJSON,

		buildArgs: func(opts Options, prompt string) []string {
			args := []string{"exec", "--json"}
			if opts.Model != "" {
				args = append(args, "--model", opts.Model)
			}
			if opts.Yolo {
				args = append(args, "--dangerously-bypass-approvals-and-sandbox")
			} else {
				// Explicit sandbox and approval policy when not full-auto.
				args = append(args, "--sandbox", "workspace-write", "--ask-for-approval", "never")
			}
			if opts.WorkingDirectory != "" {
				args = append(args, "--cd", opts.WorkingDirectory)
			}
			if opts.JSONSchema != "" {
				args = append(args, "--output-schema", opts.JSONSchema)
			}
			args = appendExtraFlags(args, opts.Extras)
			return append(args, prompt)
		},
		buildResumeArgs: func(opts Options, sessionID, prompt string) []string {
			args := []string{"exec", "resume", sessionID, "--json"}
			if opts.Model != "" {
				args = append(args, "--model", opts.Model)
			}
			if opts.Yolo {
				args = append(args, "--dangerously-bypass-approvals-and-sandbox")
			}
			return append(args, prompt)
		},
	}, cfg)
}

// NewAmpTransport drives the Sourcegraph Amp CLI in execute mode with
// stream-json output.
func NewAmpTransport(cfg Config) (AgentTransport, error) {
	return newCLITransport(vendorSpec{
		name:       "amp",
		binaries:   []string{"amp"},
		wellKnown:  []string{"~/.local/bin", "/usr/local/bin", "/opt/homebrew/bin"},
		pathEnvVar: "AMP_CLI_PATH",
		secretVars: []string{"AMP_API_KEY"},
		format:     stream.FormatStreamJSON,

		buildArgs: func(opts Options, prompt string) []string {
			args := []string{"--execute", "--stream-json"}
			if opts.Yolo {
				args = append(args, "--dangerously-allow-all")
			}
			args = appendExtraFlags(args, opts.Extras)
			return append(args, prompt)
		},
		buildResumeArgs: func(opts Options, sessionID, prompt string) []string {
			args := []string{"threads", "continue", sessionID, "--execute", "--stream-json"}
			if opts.Yolo {
				args = append(args, "--dangerously-allow-all")
			}
			return append(args, prompt)
		},
	}, cfg)
}

// NewSWETransport drives the SWE-agent CLI. Its output is unframed text; a
// synthetic result terminates the stream at close.
func NewSWETransport(cfg Config) (AgentTransport, error) {
	return newCLITransport(vendorSpec{
		name:       "swe",
		binaries:   []string{"sweagent", "swe-agent"},
		wellKnown:  []string{"~/.local/bin", "/usr/local/bin"},
		pathEnvVar: "SWE_CLI_PATH",
		secretVars: []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY"},
		format:     stream.FormatText,

		buildArgs: func(opts Options, prompt string) []string {
			args := []string{"run"}
			if opts.Model != "" {
				args = append(args, "--agent.model.name", opts.Model)
			}
			if opts.MaxBudgetUSD > 0 {
				args = append(args, "--agent.model.per_instance_cost_limit",
					strconv.FormatFloat(opts.MaxBudgetUSD, 'f', -1, 64))
			}
			args = appendExtraFlags(args, opts.Extras)
			return append(args, "--problem_statement.text", prompt)
		},
	}, cfg)
}

// Registry of transport constructors by vendor tag.
var constructors = map[string]func(Config) (AgentTransport, error){
	"claude": NewClaudeTransport,
	"gemini": NewGeminiTransport,
	"codex":  NewCodexTransport,
	"amp":    NewAmpTransport,
	"swe":    NewSWETransport,
}

// New creates the transport for a vendor tag.
func New(vendor string, cfg Config) (AgentTransport, error) {
	constructor, ok := constructors[vendor]
	if !ok {
		return nil, fmt.Errorf("unknown vendor %q", vendor)
	}
	return constructor(cfg)
}

// Vendors lists the supported vendor tags.
func Vendors() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sortedKeys returns map keys in deterministic order for argv stability.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// toFlagValue renders an extras value as a flag argument.
func toFlagValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
