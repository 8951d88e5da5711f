package taskmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/rzbill/spoolq/internal/workqueue"
	logpkg "github.com/rzbill/spoolq/pkg/log"
)

// DockerPayload is the request payload understood by Docker.
type DockerPayload struct {
	Image string            `json:"image,omitempty"`
	Cmd   []string          `json:"cmd,omitempty"`
	Env   map[string]string `json:"env,omitempty"`
	// CPUSet pins the container, e.g. "1,5".
	CPUSet string `json:"cpuset,omitempty"`
}

// ContainerAPI is the subset of the Docker client used here.
type ContainerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Docker runs each request in its own container.
type Docker struct {
	*base
	api          ContainerAPI
	defaultImage string
}

var _ workqueue.TaskManager = (*Docker)(nil)

// NewDockerFromEnv connects to the daemon configured by DOCKER_HOST et al.
func NewDockerFromEnv(defaultImage string, opts Options) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("taskmgr: docker client: %w", err)
	}
	return NewDocker(cli, defaultImage, opts), nil
}

// NewDocker returns a container manager using api.
func NewDocker(api ContainerAPI, defaultImage string, opts Options) *Docker {
	return &Docker{base: newBase(opts, "taskmgr.docker"), api: api, defaultImage: defaultImage}
}

func (d *Docker) StartTask(requestID string, payload json.RawMessage) error {
	var p DockerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if p.Image == "" {
		p.Image = d.defaultImage
	}
	if p.Image == "" {
		return fmt.Errorf("%w: no image", ErrBadPayload)
	}
	return d.launch(requestID, func(ctx context.Context) workqueue.Result {
		return d.run(ctx, requestID, p)
	})
}

func (d *Docker) run(ctx context.Context, requestID string, p DockerPayload) workqueue.Result {
	start := time.Now()
	config := &container.Config{
		Image:  p.Image,
		Cmd:    p.Cmd,
		Env:    envList(p.Env),
		Labels: map[string]string{"spoolq.request": requestID},
	}
	hostConfig := &container.HostConfig{
		Resources: container.Resources{CpusetCpus: p.CPUSet},
	}
	name := "spoolq-" + requestID + "-" + uuid.NewString()[:8]
	resp, err := d.api.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return workqueue.Failure(fmt.Errorf("create container: %w", err))
	}
	// Cleanup must survive cancellation of ctx.
	defer func() {
		if err := d.api.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			d.logger.Warn("container remove failed", logpkg.RequestID(requestID), logpkg.Str("container", resp.ID), logpkg.Err(err))
		}
	}()

	if err := d.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return workqueue.Failure(fmt.Errorf("start container: %w", err))
	}
	d.logger.Debug("container started", logpkg.RequestID(requestID), logpkg.Str("container", resp.ID), logpkg.Str("image", p.Image))

	statusCh, errCh := d.api.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var code int64
	select {
	case <-ctx.Done():
		if err := d.api.ContainerKill(context.Background(), resp.ID, "SIGKILL"); err != nil {
			d.logger.Warn("container kill failed", logpkg.RequestID(requestID), logpkg.Err(err))
		}
		return workqueue.Failure(ctx.Err())
	case err := <-errCh:
		return workqueue.Failure(fmt.Errorf("wait container: %w", err))
	case st := <-statusCh:
		if st.Error != nil {
			return workqueue.Failure(fmt.Errorf("wait container: %s", st.Error.Message))
		}
		code = st.StatusCode
	}

	var stdout, stderr bytes.Buffer
	if logs, err := d.api.ContainerLogs(context.Background(), resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true}); err == nil {
		_, _ = stdcopy.StdCopy(&stdout, &stderr, logs)
		_ = logs.Close()
	}
	if code != 0 {
		return workqueue.Failure(&ExitError{Code: int(code), Stderr: stderr.String()})
	}
	res, err := workqueue.OK(Output{Stdout: stdout.String(), Stderr: stderr.String(), Elapsed: time.Since(start).String()})
	if err != nil {
		return workqueue.Failure(err)
	}
	return res
}
