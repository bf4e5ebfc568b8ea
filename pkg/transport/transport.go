// Package transport drives vendor coding-agent CLIs: argv construction,
// sandboxed execution wrapped in circuit breaker and retry, and stream-json
// output parsing into a QueryResult.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/verdict/pkg/config"
	"github.com/codeready-toolchain/verdict/pkg/masking"
	"github.com/codeready-toolchain/verdict/pkg/resilience"
	"github.com/codeready-toolchain/verdict/pkg/sandbox"
	"github.com/codeready-toolchain/verdict/pkg/stream"
)

// AgentTransport is the uniform per-vendor contract.
type AgentTransport interface {
	// Vendor returns the vendor tag ("claude", "gemini", ...).
	Vendor() string

	// IsAvailable probes the executable; any failure yields false.
	IsAvailable(ctx context.Context) bool

	// Execute runs a goal to completion.
	Execute(ctx context.Context, goal string, opts Options) (*QueryResult, error)

	// Resume continues a previous session, for vendors that support it.
	Resume(ctx context.Context, sessionID, prompt string, opts Options) (*QueryResult, error)

	// BuildCommand exposes argv construction so callers can run the command
	// inside their own (e.g. containerized) sandbox.
	BuildCommand(prompt string, opts Options) ([]string, error)

	// ParseResult exposes output parsing for the same indirection.
	ParseResult(rawOutput string, opts Options) (*QueryResult, error)
}

// SandboxFactory creates the sandbox for one call. workDir may be empty, in
// which case the factory chooses (the default creates a temp directory).
type SandboxFactory func(workDir string) (sandbox.Sandbox, error)

func defaultSandboxFactory(workDir string) (sandbox.Sandbox, error) {
	if workDir == "" {
		return sandbox.NewTempSandbox()
	}
	return sandbox.NewLocalSandbox(workDir)
}

// availabilityTTL caches executable probes so repeated jury calls do not
// re-exec --version.
const availabilityTTL = 30 * time.Second

// vendorSpec is the static description each vendor file provides.
type vendorSpec struct {
	name       string
	binaries   []string
	wellKnown  []string
	pathEnvVar string
	secretVars []string
	format     stream.Format
	versionArg string

	// buildArgs constructs argv after the executable.
	buildArgs func(opts Options, prompt string) []string
	// buildResumeArgs is nil when the vendor has no session resume.
	buildResumeArgs func(opts Options, sessionID, prompt string) []string
}

// Config wires shared collaborators into a transport.
type Config struct {
	// Vendor holds the per-vendor runtime defaults.
	Vendor config.VendorConfig
	// Breakers is the process-wide breaker registry. Required.
	Breakers *resilience.Registry
	// BreakerPreset selects the breaker config: default/sensitive/tolerant.
	BreakerPreset string
	// Retry overrides the default retry policy.
	Retry *resilience.RetryPolicy
	// Masker redacts secrets from logged output. Nil disables masking.
	Masker *masking.Service
	// SandboxFactory overrides local execution (e.g. Docker).
	SandboxFactory SandboxFactory
}

// cliTransport is the shared engine behind every vendor transport.
type cliTransport struct {
	spec      vendorSpec
	cfg       config.VendorConfig
	breaker   *resilience.CircuitBreaker
	retry     resilience.RetryPolicy
	masker    *masking.Service
	sandboxes SandboxFactory

	availMu sync.Mutex
	avail   map[string]availability
}

type availability struct {
	ok      bool
	checked time.Time
}

func newCLITransport(spec vendorSpec, cfg Config) (*cliTransport, error) {
	if cfg.Breakers == nil {
		return nil, fmt.Errorf("%s transport requires a breaker registry", spec.name)
	}

	var breakerCfg resilience.CircuitBreakerConfig
	switch cfg.BreakerPreset {
	case "", "default":
		breakerCfg = resilience.DefaultConfig(spec.name)
	case "sensitive":
		breakerCfg = resilience.SensitiveConfig(spec.name)
	case "tolerant":
		breakerCfg = resilience.TolerantConfig(spec.name)
	default:
		return nil, fmt.Errorf("unknown breaker preset %q", cfg.BreakerPreset)
	}
	breaker, err := cfg.Breakers.GetOrCreate(breakerCfg)
	if err != nil {
		return nil, err
	}

	retry := resilience.DefaultRetryPolicy()
	if cfg.Retry != nil {
		if err := cfg.Retry.Validate(); err != nil {
			return nil, fmt.Errorf("%s transport retry policy: %w", spec.name, err)
		}
		retry = *cfg.Retry
	}
	// Subprocess execution failures are retryable alongside the defaults.
	base := retry.Retryable
	if base == nil {
		base = resilience.DefaultRetryable
	}
	retry.Retryable = func(err error) bool {
		var sandboxErr *sandbox.Error
		if errors.As(err, &sandboxErr) {
			return true
		}
		return base(err)
	}

	factory := cfg.SandboxFactory
	if factory == nil {
		factory = defaultSandboxFactory
	}

	return &cliTransport{
		spec:      spec,
		cfg:       cfg.Vendor,
		breaker:   breaker,
		retry:     retry,
		masker:    cfg.Masker,
		sandboxes: factory,
		avail:     make(map[string]availability),
	}, nil
}

func (t *cliTransport) Vendor() string { return t.spec.name }

// resolveExecutable locates the CLI binary: explicit option, vendor config,
// the <VENDOR>_CLI_PATH environment override, PATH, then well-known install
// locations.
func (t *cliTransport) resolveExecutable(opts Options) (string, error) {
	var tried []string

	candidates := make([]string, 0, 4)
	if opts.ExecutablePath != "" {
		candidates = append(candidates, opts.ExecutablePath)
	}
	if t.cfg.Executable != "" {
		candidates = append(candidates, t.cfg.Executable)
	}
	if t.spec.pathEnvVar != "" {
		if fromEnv := os.Getenv(t.spec.pathEnvVar); fromEnv != "" {
			candidates = append(candidates, fromEnv)
		}
	}
	for _, candidate := range candidates {
		tried = append(tried, candidate)
		if isExecutableFile(candidate) {
			return candidate, nil
		}
	}

	for _, binary := range t.spec.binaries {
		tried = append(tried, binary)
		if found, err := exec.LookPath(binary); err == nil {
			return found, nil
		}
	}

	home, _ := os.UserHomeDir()
	for _, dir := range t.spec.wellKnown {
		for _, binary := range t.spec.binaries {
			candidate := filepath.Join(expandHome(dir, home), binary)
			tried = append(tried, candidate)
			if isExecutableFile(candidate) {
				return candidate, nil
			}
		}
	}

	return "", &ExecutableNotFoundError{Vendor: t.spec.name, Tried: tried}
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0o111 != 0
}

func expandHome(dir, home string) string {
	if strings.HasPrefix(dir, "~/") && home != "" {
		return filepath.Join(home, dir[2:])
	}
	return dir
}

// IsAvailable probes the executable with --version, cached per path.
func (t *cliTransport) IsAvailable(ctx context.Context) bool {
	exe, err := t.resolveExecutable(Options{})
	if err != nil {
		return false
	}

	t.availMu.Lock()
	if entry, ok := t.avail[exe]; ok && time.Since(entry.checked) < availabilityTTL {
		t.availMu.Unlock()
		return entry.ok
	}
	t.availMu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	versionArg := t.spec.versionArg
	if versionArg == "" {
		versionArg = "--version"
	}
	probeErr := exec.CommandContext(probeCtx, exe, versionArg).Run()
	ok := probeErr == nil

	t.availMu.Lock()
	t.avail[exe] = availability{ok: ok, checked: time.Now()}
	t.availMu.Unlock()

	if !ok {
		slog.Debug("CLI availability probe failed",
			"vendor", t.spec.name, "executable", exe, "error", probeErr)
	}
	return ok
}

// effectiveOptions folds the vendor config defaults into the options.
func (t *cliTransport) effectiveOptions(opts Options) Options {
	if opts.Model == "" {
		opts.Model = t.cfg.Model
	}
	if opts.Timeout <= 0 {
		opts.Timeout = t.cfg.Timeout.Std()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = stream.DefaultTotalTimeout
	}
	return opts
}

// BuildCommand constructs the full argv for the goal.
func (t *cliTransport) BuildCommand(prompt string, opts Options) ([]string, error) {
	if err := t.checkVendorTag(opts); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = t.effectiveOptions(opts)
	exe, err := t.resolveExecutable(opts)
	if err != nil {
		return nil, err
	}
	return append([]string{exe}, t.spec.buildArgs(opts, prompt)...), nil
}

func (t *cliTransport) checkVendorTag(opts Options) error {
	if opts.Vendor != "" && opts.Vendor != t.spec.name {
		return fmt.Errorf("options are tagged for vendor %q but transport is %q", opts.Vendor, t.spec.name)
	}
	return nil
}

// secretEnv surfaces the vendor's API keys from the ambient environment so
// the sandbox forwards them explicitly.
func (t *cliTransport) secretEnv() map[string]string {
	env := make(map[string]string)
	for _, key := range t.spec.secretVars {
		if value := os.Getenv(key); value != "" {
			env[key] = value
		}
	}
	return env
}

// Execute runs the goal end to end.
func (t *cliTransport) Execute(ctx context.Context, goal string, opts Options) (*QueryResult, error) {
	argv, err := t.BuildCommand(goal, opts)
	if err != nil {
		return nil, err
	}
	return t.run(ctx, argv, t.effectiveOptions(opts))
}

// Resume continues a session for vendors that support it.
func (t *cliTransport) Resume(ctx context.Context, sessionID, prompt string, opts Options) (*QueryResult, error) {
	if t.spec.buildResumeArgs == nil {
		return nil, ErrResumeUnsupported
	}
	if err := t.checkVendorTag(opts); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, fmt.Errorf("resume requires a session id")
	}
	opts = t.effectiveOptions(opts)
	exe, err := t.resolveExecutable(opts)
	if err != nil {
		return nil, err
	}
	argv := append([]string{exe}, t.spec.buildResumeArgs(opts, sessionID, prompt)...)
	return t.run(ctx, argv, opts)
}

// run executes argv in a sandbox under breaker and retry, then parses the
// merged output.
func (t *cliTransport) run(ctx context.Context, argv []string, opts Options) (*QueryResult, error) {
	sb, err := t.sandboxes(opts.WorkingDirectory)
	if err != nil {
		return nil, &SDKError{Vendor: t.spec.name, Op: "sandbox", Cause: err}
	}
	defer func() {
		if closeErr := sb.Close(); closeErr != nil {
			slog.Warn("Failed to close sandbox", "vendor", t.spec.name, "error", closeErr)
		}
	}()

	env := t.secretEnv()
	for k, v := range opts.Env {
		env[k] = v
	}

	spec := sandbox.ExecSpec{
		Command: argv,
		Env:     env,
		Timeout: opts.Timeout,
	}

	start := time.Now()
	var execResult *sandbox.ExecResult
	var timedOut bool
	var partialLog string

	callErr := t.breaker.Execute(func() error {
		return t.retry.Do(ctx, func() error {
			result, execErr := sb.Exec(ctx, spec)
			if execErr != nil {
				var timeoutErr *sandbox.TimeoutError
				if errors.As(execErr, &timeoutErr) {
					timedOut = true
					partialLog = timeoutErr.PartialLog
				}
				return execErr
			}
			timedOut = false
			execResult = result
			return nil
		})
	})
	elapsedMS := time.Since(start).Milliseconds()

	if callErr != nil {
		switch {
		case timedOut && !errors.Is(callErr, context.Canceled):
			// Deadline exceeded inside the sandbox: a result, not an error.
			qr := t.parseOutput(partialLog, opts, 0, elapsedMS, true)
			qr.Status = StatusTimeout
			return qr, nil
		case errors.Is(callErr, context.Canceled):
			qr := t.parseOutput(partialLog, opts, 0, elapsedMS, false)
			qr.Status = StatusCancelled
			return qr, nil
		case errors.Is(callErr, resilience.ErrCircuitOpen):
			return nil, callErr
		default:
			var notFound *ExecutableNotFoundError
			if errors.As(callErr, &notFound) {
				return nil, callErr
			}
			return nil, &SDKError{Vendor: t.spec.name, Op: "execute", Cause: callErr}
		}
	}

	qr := t.parseOutput(execResult.MergedLog, opts, execResult.ExitCode, elapsedMS, false)
	return qr, nil
}

// ParseResult parses raw CLI output, for callers that executed the command
// themselves.
func (t *cliTransport) ParseResult(rawOutput string, opts Options) (*QueryResult, error) {
	if err := t.checkVendorTag(opts); err != nil {
		return nil, err
	}
	return t.parseOutput(rawOutput, t.effectiveOptions(opts), 0, 0, false), nil
}

func (t *cliTransport) parseOutput(raw string, opts Options, exitCode int, elapsedMS int64, timedOut bool) *QueryResult {
	var messages []stream.Message
	var warnings []string

	processor, err := stream.NewProcessor(stream.ProcessorConfig{
		Consumer: func(msg stream.Message) { messages = append(messages, msg) },
		Format:   t.spec.format,
		// The sandbox already enforced the wall-clock deadline.
		TotalTimeout: opts.Timeout + time.Minute,
	})
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("processor init failed: %v", err))
		qr := projectResult(nil, opts.Model, exitCode, elapsedMS, timedOut)
		qr.Warnings = warnings
		return qr
	}

	var streamFailed error
	for line := range strings.SplitSeq(raw, "\n") {
		if err := processor.FeedLine(line); err != nil {
			streamFailed = err
			break
		}
	}
	if err := processor.Close(); err != nil && streamFailed == nil {
		streamFailed = err
	}

	qr := projectResult(messages, opts.Model, exitCode, elapsedMS, timedOut)

	if streamFailed != nil {
		var protoErr *stream.ProtocolError
		if errors.As(streamFailed, &protoErr) {
			// Out-of-order or malformed protocol traffic terminates the call.
			qr.Status = StatusError
		}
		warnings = append(warnings, streamFailed.Error())
		t.logMasked("Stream parsing failed", raw, "error", streamFailed)
	}
	qr.Warnings = warnings
	return qr
}

// logMasked logs with the raw output redacted.
func (t *cliTransport) logMasked(msg, raw string, args ...any) {
	excerpt := raw
	if len(excerpt) > 2048 {
		excerpt = excerpt[:2048] + "…"
	}
	if t.masker != nil {
		excerpt = t.masker.Mask(excerpt)
	}
	slog.Warn(msg, append(args, "vendor", t.spec.name, "output_excerpt", excerpt)...)
}
