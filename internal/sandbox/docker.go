package sandbox

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const cpuPeriod = 100000 // 100ms, Docker's default CFS period

// Docker runs each agent in a throwaway container with hard resource limits
// derived from the bundle budget. The workspace is the only writable mount.
type Docker struct {
	image         string
	totalMemoryMB int64
	serviceURL    string
	logger        *log.Logger
}

// NewDocker verifies the Docker daemon is reachable and returns the sandbox.
// totalMemoryMB is the host memory pool the MEMORY fraction is taken from.
func NewDocker(image string, totalMemoryMB int64, serviceURL string) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker ping: %w", err)
	}

	return &Docker{
		image:         image,
		totalMemoryMB: totalMemoryMB,
		serviceURL:    serviceURL,
		logger:        log.New(log.Writer(), "[Sandbox] ", log.LstdFlags),
	}, nil
}

func (d *Docker) Run(ctx context.Context, spec RunSpec) (int, string, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return 1, "", fmt.Errorf("docker client: %w", err)
	}
	defer cli.Close()

	// Wall-clock bound for the whole run.
	timeout := time.Duration(spec.Budget.DurationSeconds * float64(time.Second))
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	memBytes := int64(spec.Budget.MemoryFraction * float64(d.totalMemoryMB) * 1024 * 1024)
	if memBytes < 6*1024*1024 {
		memBytes = 6 * 1024 * 1024 // Docker's minimum memory limit
	}
	cpuQuota := int64(spec.Budget.CPUFraction * cpuPeriod)
	if cpuQuota <= 0 {
		cpuQuota = cpuPeriod / 100
	}

	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		Binds:       []string{spec.WorkspacePath + ":/workspace:rw"},
		Resources: container.Resources{
			Memory:    memBytes,
			CPUPeriod: cpuPeriod,
			CPUQuota:  cpuQuota,
		},
	}
	cfg := &container.Config{
		Image:      d.image,
		WorkingDir: "/workspace",
		Env: []string{
			"AGENT_ID=" + spec.AgentID,
			"EXECUTION_ID=" + spec.ExecutionID,
			"SYSTEM_SERVICE_URL=" + d.serviceURL,
		},
	}

	resp, err := cli.ContainerCreate(runCtx, cfg, hostConfig, nil, nil, "")
	if err != nil {
		return 1, "", fmt.Errorf("create container: %w", err)
	}
	defer func() {
		// Removal runs on a fresh context so a timed-out run still cleans up.
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer rmCancel()
		if err := cli.ContainerRemove(rmCtx, resp.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
			d.logger.Printf("⚠️ failed to remove container %.12s: %v", resp.ID, err)
		}
	}()

	if err := cli.ContainerStart(runCtx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return 1, "", fmt.Errorf("start container: %w", err)
	}

	exitCode := 1
	statusCh, errCh := cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case err = <-errCh:
		// Timeout or daemon failure; logs below still describe the run.
		exitCode = 1
	}

	logs := d.collectLogs(resp.ID, cli)
	if err != nil {
		return exitCode, logs, fmt.Errorf("container wait: %w", err)
	}
	return exitCode, logs, nil
}

func (d *Docker) collectLogs(containerID string, cli *client.Client) string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reader, err := cli.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return fmt.Sprintf("(logs unavailable: %v)", err)
	}
	defer reader.Close()

	// Cap log capture; the executor truncates further for the record.
	data, err := io.ReadAll(io.LimitReader(reader, 64*1024))
	if err != nil {
		return fmt.Sprintf("(log read failed: %v)", err)
	}
	return string(data)
}

var _ Sandbox = (*Docker)(nil)
