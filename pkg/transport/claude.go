package transport

import (
	"strconv"
	"strings"

	"github.com/codeready-toolchain/verdict/pkg/stream"
)

// NewClaudeTransport drives the Claude Code CLI. Output format is
// stream-json with the bidirectional control protocol.
func NewClaudeTransport(cfg Config) (AgentTransport, error) {
	return newCLITransport(vendorSpec{
		name:       "claude",
		binaries:   []string{"claude"},
		wellKnown:  []string{"~/.local/bin", "/usr/local/bin", "/opt/homebrew/bin"},
		pathEnvVar: "CLAUDE_CLI_PATH",
		secretVars: []string{"ANTHROPIC_API_KEY"},
		format:     stream.FormatStreamJSON,

		buildArgs:       buildClaudeArgs,
		buildResumeArgs: buildClaudeResumeArgs,
	}, cfg)
}

func buildClaudeArgs(opts Options, prompt string) []string {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}

	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.FallbackModel != "" {
		args = append(args, "--fallback-model", opts.FallbackModel)
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}

	// Yolo maps to the CLI's skip-permissions mode; otherwise an explicit
	// permission mode is forwarded.
	if opts.Yolo {
		args = append(args, "--dangerously-skip-permissions")
	} else if opts.PermissionMode != "" && opts.PermissionMode != PermissionModeDefault {
		args = append(args, "--permission-mode", string(opts.PermissionMode))
	}

	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if len(opts.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(opts.DisallowedTools, ","))
	}

	if opts.SystemPrompt != "" {
		args = append(args, "--system-prompt", opts.SystemPrompt)
	}
	if opts.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.AppendSystemPrompt)
	}
	if opts.MaxThinkingTokens > 0 {
		args = append(args, "--max-thinking-tokens", strconv.Itoa(opts.MaxThinkingTokens))
	}

	args = appendExtraFlags(args, opts.Extras)
	return append(args, prompt)
}

func buildClaudeResumeArgs(opts Options, sessionID, prompt string) []string {
	args := buildClaudeArgs(opts, prompt)
	// Insert before the trailing prompt.
	prompt = args[len(args)-1]
	args = append(args[:len(args)-1], "--resume", sessionID, prompt)
	return args
}

// appendExtraFlags renders the open-ended extras bag as repeated flags.
// Keys are used verbatim; nil values emit a bare flag.
func appendExtraFlags(args []string, extras map[string]any) []string {
	for _, key := range sortedKeys(extras) {
		value := extras[key]
		flag := key
		if !strings.HasPrefix(flag, "-") {
			flag = "--" + flag
		}
		if value == nil {
			args = append(args, flag)
			continue
		}
		args = append(args, flag, toFlagValue(value))
	}
	return args
}
