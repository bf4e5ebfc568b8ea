package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/codeready-toolchain/verdict/pkg/fetch"
)

// ReferenceKind discriminates how a reference is materialized.
type ReferenceKind string

const (
	// ReferenceGit clones a repository (shallow).
	ReferenceGit ReferenceKind = "git"
	// ReferenceHTTP downloads a document.
	ReferenceHTTP ReferenceKind = "http"
	// ReferenceInline writes literal content.
	ReferenceInline ReferenceKind = "inline"
)

// Reference is one external input to materialize into the workspace before
// the agent runs.
type Reference struct {
	Kind ReferenceKind
	// Name is the file or directory name under the context subdirectory.
	Name string
	// Location is the URL for git and http references.
	Location string
	// Content is the literal body for inline references.
	Content string
}

// ContextAdvisorConfig configures the gathering advisor.
type ContextAdvisorConfig struct {
	// References to materialize.
	References []Reference
	// Subdirectory under the workspace. Defaults to ".agents/context".
	Subdirectory string
	// Fetcher downloads http references. Required when any are present.
	Fetcher *fetch.Client
	// Cleanup removes the materialized directory after the call returns.
	Cleanup bool
	// GitTimeout bounds one clone. Defaults to 2 minutes.
	GitTimeout time.Duration
}

// ContextAdvisor materializes external references (git clones, HTTP fetches,
// inline content) into a workspace subdirectory before the agent runs.
// Gathering failures are recorded in the request context and do not abort
// the call.
type ContextAdvisor struct {
	cfg   ContextAdvisorConfig
	order int
}

// NewContextAdvisor builds the gathering advisor.
func NewContextAdvisor(cfg ContextAdvisorConfig) (*ContextAdvisor, error) {
	if cfg.Subdirectory == "" {
		cfg.Subdirectory = ".agents/context"
	}
	if cfg.GitTimeout <= 0 {
		cfg.GitTimeout = 2 * time.Minute
	}
	for i, ref := range cfg.References {
		if ref.Name == "" {
			return nil, fmt.Errorf("reference %d requires a name", i)
		}
		if strings.Contains(ref.Name, "..") || filepath.IsAbs(ref.Name) {
			return nil, fmt.Errorf("reference name %q must be a relative path without traversal", ref.Name)
		}
		switch ref.Kind {
		case ReferenceGit, ReferenceHTTP:
			if ref.Location == "" {
				return nil, fmt.Errorf("reference %q requires a location", ref.Name)
			}
			if ref.Kind == ReferenceHTTP && cfg.Fetcher == nil {
				return nil, fmt.Errorf("http reference %q requires a fetcher", ref.Name)
			}
		case ReferenceInline:
		default:
			return nil, fmt.Errorf("reference %q has unknown kind %q", ref.Name, ref.Kind)
		}
	}
	return &ContextAdvisor{cfg: cfg, order: 100}, nil
}

func (a *ContextAdvisor) Name() string { return "context-gatherer" }
func (a *ContextAdvisor) Order() int   { return a.order }

// AdviseCall gathers references, runs the inner chain, then optionally
// cleans up.
func (a *ContextAdvisor) AdviseCall(ctx context.Context, req *CallRequest, chain *CallChain) (*CallResponse, error) {
	contextDir := filepath.Join(req.WorkingDirectory, a.cfg.Subdirectory)

	gathered, errs := a.gather(ctx, contextDir)
	if len(gathered) > 0 {
		req.Context[ContextKeyGatheredFiles] = gathered
	}
	if len(errs) > 0 {
		req.Context[ContextKeyGatherErrors] = errs
		slog.Warn("Context gathering partially failed",
			"gathered", len(gathered), "errors", len(errs))
	}

	resp, err := chain.NextCall(ctx, req)

	if a.cfg.Cleanup {
		if rmErr := os.RemoveAll(contextDir); rmErr != nil {
			slog.Warn("Failed to clean up gathered context", "dir", contextDir, "error", rmErr)
		}
	}
	return resp, err
}

func (a *ContextAdvisor) gather(ctx context.Context, contextDir string) (gathered []string, errs []string) {
	if len(a.cfg.References) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(contextDir, 0o755); err != nil {
		return nil, []string{fmt.Sprintf("create context dir: %v", err)}
	}

	for _, ref := range a.cfg.References {
		target := filepath.Join(contextDir, ref.Name)
		var err error
		switch ref.Kind {
		case ReferenceGit:
			err = a.cloneRepo(ctx, ref.Location, target)
		case ReferenceHTTP:
			err = a.download(ctx, ref.Location, target)
		case ReferenceInline:
			err = writeInline(target, ref.Content)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s (%s): %v", ref.Name, ref.Kind, err))
			continue
		}
		gathered = append(gathered, target)
	}
	return gathered, errs
}

func (a *ContextAdvisor) cloneRepo(ctx context.Context, url, target string) error {
	cloneCtx, cancel := context.WithTimeout(ctx, a.cfg.GitTimeout)
	defer cancel()

	cmd := exec.CommandContext(cloneCtx, "git", "clone", "--depth", "1", url, target)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone: %v (%s)", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (a *ContextAdvisor) download(ctx context.Context, url, target string) error {
	content, err := a.cfg.Fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}
	return writeInline(target, content)
}

func writeInline(target, content string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, []byte(content), 0o644)
}
