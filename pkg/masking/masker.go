// Package masking redacts secrets from captured subprocess output before it
// is logged or embedded in error messages. Vendor API keys are surfaced into
// the subprocess environment, so CLIs occasionally echo them back.
package masking

import (
	"log/slog"
	"regexp"
)

// Pattern is a named redaction rule.
type Pattern struct {
	Name        string
	Pattern     string
	Replacement string
	Description string
}

// builtinPatterns covers the secrets this runtime handles: vendor API keys
// and bearer credentials.
var builtinPatterns = []Pattern{
	{
		Name:        "anthropic_api_key",
		Pattern:     `sk-ant-[A-Za-z0-9_-]{8,}`,
		Replacement: "***MASKED_API_KEY***",
		Description: "Anthropic API keys",
	},
	{
		Name:        "openai_api_key",
		Pattern:     `sk-[A-Za-z0-9]{20}[A-Za-z0-9]*`,
		Replacement: "***MASKED_API_KEY***",
		Description: "OpenAI API keys",
	},
	{
		Name:        "google_api_key",
		Pattern:     `AIza[0-9A-Za-z_-]{35}`,
		Replacement: "***MASKED_API_KEY***",
		Description: "Google API keys",
	},
	{
		Name:        "bearer_token",
		Pattern:     `(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}=*`,
		Replacement: "Bearer ***MASKED_TOKEN***",
		Description: "Bearer authorization headers",
	},
	{
		Name:        "env_assignment",
		Pattern:     `(?i)((?:ANTHROPIC|OPENAI|GEMINI|GOOGLE)_API_KEY)=\S+`,
		Replacement: "$1=***MASKED***",
		Description: "API key environment assignments",
	},
}

// compiledPattern is a rule ready to apply.
type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Service applies redaction rules to text. Immutable after construction;
// safe for concurrent use.
type Service struct {
	patterns []compiledPattern
}

// NewService compiles the built-in rules plus any custom ones. Invalid
// patterns are logged and skipped.
func NewService(custom ...Pattern) *Service {
	s := &Service{}
	for _, pattern := range append(builtinPatterns, custom...) {
		compiled, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", pattern.Name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, compiledPattern{
			name:        pattern.Name,
			regex:       compiled,
			replacement: pattern.Replacement,
		})
	}
	return s
}

// Mask applies every rule to the text.
func (s *Service) Mask(text string) string {
	for _, pattern := range s.patterns {
		text = pattern.regex.ReplaceAllString(text, pattern.replacement)
	}
	return text
}
