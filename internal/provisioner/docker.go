package provisioner

import (
	"context"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"

	"github.com/lcnr/docker-queue/internal/models"
)

// engineAPI is the part of the docker client the runtime uses.
type engineAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	Close() error
}

// DockerRuntime lists and watches containers through the docker engine API.
type DockerRuntime struct {
	cli    engineAPI
	logger *logrus.Entry
}

// NewDockerRuntime connects to the engine configured by the DOCKER_* environment.
func NewDockerRuntime(ctx context.Context, logger *logrus.Entry) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	r := &DockerRuntime{cli: cli, logger: logger.WithField("component", "docker")}
	if err := r.Ping(ctx); err != nil {
		cli.Close()
		return nil, err
	}

	r.logger.WithField("host", cli.DaemonHost()).Info("connected to docker daemon")
	return r, nil
}

// ListRunning returns the containers the engine currently reports as running.
func (r *DockerRuntime) ListRunning(ctx context.Context) ([]container.Summary, error) {
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("status", "running")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	return list, nil
}

// Wait blocks until the container is no longer running. Any exit outcome is a
// normal return; a container that no longer exists counts as exited.
func (r *DockerRuntime) Wait(ctx context.Context, id models.RunningContainerID) error {
	statusCh, errCh := r.cli.ContainerWait(ctx, id.String(), container.WaitConditionNotRunning)

	select {
	case resp := <-statusCh:
		log := r.logger.WithFields(logrus.Fields{"container_id": id.Short(), "exit_code": resp.StatusCode})
		if resp.Error != nil {
			log = log.WithField("wait_error", resp.Error.Message)
		}
		log.Debug("container stopped")
		return nil
	case err := <-errCh:
		if cerrdefs.IsNotFound(err) {
			r.logger.WithField("container_id", id.Short()).Debug("container already removed")
			return nil
		}
		return fmt.Errorf("failed to wait for container: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping checks that the engine is reachable.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach docker daemon: %w", err)
	}
	return nil
}

func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}
