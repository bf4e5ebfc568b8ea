package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// containerWorkDir is where the sandbox working directory is mounted inside
// the container.
const containerWorkDir = "/work"

// DockerSandbox executes commands inside a long-lived container created from
// a pre-built image. The host working directory is bind-mounted at /work.
type DockerSandbox struct {
	cli         *client.Client
	containerID string
	workDir     string
	image       string

	closed    bool
	closeOnce sync.Once
	mu        sync.Mutex
}

// DockerSandboxConfig configures container creation.
type DockerSandboxConfig struct {
	// Image is the pre-built image to run. Required.
	Image string
	// WorkDir is the host directory mounted at /work. Required.
	WorkDir string
	// PullImage pulls the image when it is not present locally.
	PullImage bool
}

// NewDockerSandbox creates and starts the backing container. The container
// idles (sleep infinity) and individual commands run via docker exec.
func NewDockerSandbox(ctx context.Context, cfg DockerSandboxConfig) (*DockerSandbox, error) {
	if cfg.Image == "" {
		return nil, &Error{Op: "init", Cause: fmt.Errorf("image is required")}
	}
	if cfg.WorkDir == "" {
		return nil, &Error{Op: "init", Cause: fmt.Errorf("work dir is required")}
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, &Error{Op: "init", Cause: err}
	}

	if cfg.PullImage {
		if err := pullIfMissing(ctx, cli, cfg.Image); err != nil {
			_ = cli.Close()
			return nil, &Error{Op: "pull", Cause: err}
		}
	}

	created, err := cli.ContainerCreate(ctx,
		&container.Config{
			Image:      cfg.Image,
			Cmd:        []string{"sleep", "infinity"},
			WorkingDir: containerWorkDir,
		},
		&container.HostConfig{
			Binds: []string{cfg.WorkDir + ":" + containerWorkDir},
		},
		nil, nil, "")
	if err != nil {
		_ = cli.Close()
		return nil, &Error{Op: "create", Cause: err}
	}

	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		_ = cli.Close()
		return nil, &Error{Op: "start", Cause: err}
	}

	slog.Info("Docker sandbox started",
		"container_id", created.ID[:12], "image", cfg.Image, "work_dir", cfg.WorkDir)

	return &DockerSandbox{
		cli:         cli,
		containerID: created.ID,
		workDir:     cfg.WorkDir,
		image:       cfg.Image,
	}, nil
}

// WorkingDirectory returns the host-side working directory.
func (s *DockerSandbox) WorkingDirectory() string { return s.workDir }

// IsClosed reports whether the sandbox has been closed.
func (s *DockerSandbox) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close removes the backing container. Idempotent.
func (s *DockerSandbox) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		removeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if rmErr := s.cli.ContainerRemove(removeCtx, s.containerID, container.RemoveOptions{Force: true}); rmErr != nil {
			slog.Warn("Failed to remove sandbox container",
				"container_id", s.containerID[:12], "error", rmErr)
			err = &Error{Op: "close", Cause: rmErr}
		}
		if cliErr := s.cli.Close(); cliErr != nil && err == nil {
			err = &Error{Op: "close", Cause: cliErr}
		}
	})
	return err
}

// Exec runs the spec inside the container via docker exec. The exec is
// attached with a TTY so stdout and stderr arrive as one merged stream.
func (s *DockerSandbox) Exec(ctx context.Context, spec ExecSpec) (*ExecResult, error) {
	if s.IsClosed() {
		return nil, ErrClosed
	}
	if err := spec.Validate(); err != nil {
		return nil, &Error{Op: "exec", Cause: err}
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	workDir := containerWorkDir
	if spec.WorkingDirectory != "" {
		workDir = spec.WorkingDirectory
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	start := time.Now()

	created, err := s.cli.ContainerExecCreate(execCtx, s.containerID, container.ExecOptions{
		Cmd:          spec.Command,
		Env:          env,
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
	})
	if err != nil {
		return nil, &Error{Op: "exec create", Cause: err}
	}

	attach, err := s.cli.ContainerExecAttach(execCtx, created.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, &Error{Op: "exec attach", Cause: err}
	}
	defer attach.Close()

	merged := &cappedBuffer{limit: maxMergedLog}
	_, copyErr := io.Copy(merged, attach.Reader)
	elapsed := time.Since(start)

	if execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		// Kill the whole container: docker provides no way to kill a single
		// exec, and the sandbox is owned by this one call anyway.
		killCtx, killCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer killCancel()
		if killErr := s.cli.ContainerKill(killCtx, s.containerID, "KILL"); killErr != nil {
			slog.Warn("Failed to kill timed-out sandbox container",
				"container_id", s.containerID[:12], "error", killErr)
		}
		return nil, &TimeoutError{Timeout: spec.Timeout, PartialLog: merged.String()}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if copyErr != nil && !strings.Contains(copyErr.Error(), "use of closed") {
		return nil, &Error{Op: "exec read", Cause: copyErr}
	}

	inspect, err := s.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, &Error{Op: "exec inspect", Cause: err}
	}

	return &ExecResult{
		ExitCode:  inspect.ExitCode,
		MergedLog: merged.String(),
		Duration:  elapsed,
	}, nil
}

func pullIfMissing(ctx context.Context, cli *client.Client, ref string) error {
	if _, err := cli.ImageInspect(ctx, ref); err == nil {
		return nil
	}
	slog.Info("Pulling sandbox image", "image", ref)
	rc, err := cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	// Drain the progress stream; the pull completes when it hits EOF.
	_, err = io.Copy(io.Discard, rc)
	return err
}
