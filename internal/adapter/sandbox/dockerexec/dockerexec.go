// Package dockerexec implements the Sandbox Executor (§4.1) by running a
// single command inside a one-shot, isolated Docker container: no network,
// CPU/memory/PID caps, a bind-mounted working directory, and a wall-clock
// deadline enforced by a forceful kill.
package dockerexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/exercisejudge/judge/internal/domain"
)

// workspaceMount is the fixed bind-mount path inside the sandbox container (§6).
const workspaceMount = "/workspace"

// stdinFileName is written into the bind-mounted directory and redirected
// into the command via a shell wrapper, avoiding a hijacked attach stream.
const stdinFileName = ".sandbox-stdin"

// dockerAPI is the slice of the Docker Engine client this package depends on.
// Narrowing to an interface keeps Run unit-testable against a fake.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// clientAdapter narrows *client.Client to dockerAPI, fixing the
// networking-config and platform arguments of ContainerCreate to nil since
// this package never needs custom networks or cross-platform image selection.
type clientAdapter struct {
	cli *client.Client
}

func (a clientAdapter) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, containerName string) (container.CreateResponse, error) {
	return a.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
}

func (a clientAdapter) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return a.cli.ContainerStart(ctx, containerID, options)
}

func (a clientAdapter) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	return a.cli.ContainerWait(ctx, containerID, condition)
}

func (a clientAdapter) ContainerKill(ctx context.Context, containerID, signal string) error {
	return a.cli.ContainerKill(ctx, containerID, signal)
}

func (a clientAdapter) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	return a.cli.ContainerLogs(ctx, containerID, options)
}

func (a clientAdapter) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	return a.cli.ContainerRemove(ctx, containerID, options)
}

// Executor runs commands in the configured image via the Docker Engine API.
type Executor struct {
	cli   dockerAPI
	image string
	// DialBackoffMaxElapsed bounds retries of transient daemon-connection errors.
	DialBackoffMaxElapsed time.Duration
}

// New connects to the local Docker daemon (respecting DOCKER_HOST etc. via
// client.FromEnv) and returns an Executor bound to image.
func New(image string, dialBackoffMaxElapsed time.Duration) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("dockerexec: connect: %w", err)
	}
	return &Executor{cli: clientAdapter{cli: cli}, image: image, DialBackoffMaxElapsed: dialBackoffMaxElapsed}, nil
}

// Run implements domain.SandboxExecutor.
func (e *Executor) Run(ctx domain.Context, command []string, workDir string, stdin []byte, wallTimeoutMs int) (domain.SandboxResult, error) {
	start := time.Now()

	if err := os.WriteFile(filepath.Join(workDir, stdinFileName), stdin, 0o644); err != nil {
		return domain.SandboxResult{}, fmt.Errorf("dockerexec: write stdin: %w", err)
	}

	shellCmd := fmt.Sprintf("%s < %s/%s", joinShellWords(command), workspaceMount, stdinFileName)
	pidsLimit := int64(128)

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Binds:       []string{workDir + ":" + workspaceMount + ":rw"},
		Resources: container.Resources{
			NanoCPUs:  1_000_000_000, // 1 core-equivalent
			Memory:    512 * 1024 * 1024,
			PidsLimit: &pidsLimit,
		},
		AutoRemove: false,
	}
	containerCfg := &container.Config{
		Image:      e.image,
		Cmd:        []string{"/bin/sh", "-c", shellCmd},
		WorkingDir: workspaceMount,
		Tty:        false,
	}

	var containerID string
	op := func() error {
		resp, err := e.cli.ContainerCreate(ctx, containerCfg, hostCfg, "")
		if err != nil {
			return err
		}
		containerID = resp.ID
		return nil
	}
	boff := backoff.WithMaxElapsedTime(backoff.NewExponentialBackOff(), e.backoffMax())
	if err := backoff.Retry(op, boff); err != nil {
		return domain.SandboxResult{
			Stderr:     "sandbox tooling unavailable: " + err.Error(),
			ExitCode:   domain.ToolingMissingSentinel,
			DurationMs: float64(time.Since(start).Milliseconds()),
		}, nil
	}
	defer func() {
		_ = e.cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	}()

	if err := e.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return domain.SandboxResult{
			Stderr:     "sandbox tooling unavailable: " + err.Error(),
			ExitCode:   domain.ToolingMissingSentinel,
			DurationMs: float64(time.Since(start).Milliseconds()),
		}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(wallTimeoutMs)*time.Millisecond)
	defer cancel()

	statusCh, errCh := e.cli.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case <-waitCtx.Done():
		_ = e.cli.ContainerKill(context.Background(), containerID, "KILL")
		exitCode = domain.TimeoutSentinel
	case err := <-errCh:
		if err != nil {
			return domain.SandboxResult{
				Stderr:     "sandbox wait error: " + err.Error(),
				ExitCode:   domain.ToolingMissingSentinel,
				DurationMs: float64(time.Since(start).Milliseconds()),
			}, nil
		}
	case st := <-statusCh:
		exitCode = int(st.StatusCode)
	}

	stdout, stderr := e.collectLogs(containerID)
	return domain.SandboxResult{
		Stdout:     stdout,
		Stderr:     stderr,
		ExitCode:   exitCode,
		DurationMs: float64(time.Since(start).Milliseconds()),
	}, nil
}

func (e *Executor) collectLogs(containerID string) (string, string) {
	logs, err := e.cli.ContainerLogs(context.Background(), containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "sandbox log retrieval failed: " + err.Error()
	}
	defer func() { _ = logs.Close() }()

	var stdoutBuf, stderrBuf bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdoutBuf, &stderrBuf, logs)
	return stdoutBuf.String(), stderrBuf.String()
}

func (e *Executor) backoffMax() time.Duration {
	if e.DialBackoffMaxElapsed > 0 {
		return e.DialBackoffMaxElapsed
	}
	return 5 * time.Second
}

func joinShellWords(words []string) string {
	var buf bytes.Buffer
	for i, w := range words {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(shellQuote(w))
	}
	return buf.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
