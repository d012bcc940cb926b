package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// DockerConfig describes the backend container to provision.
type DockerConfig struct {
	Image         string
	ContainerName string
	// HostPort is published to the container's ContainerPort.
	HostPort      int
	ContainerPort int
	// HealthURL is the backend base URL probed by HealthCheck.
	HealthURL string
	Env       []string
}

// DockerController provisions the transcription backend as a Docker
// container with a fixed name, so stale instances from a previous run
// can be found and removed.
type DockerController struct {
	client     *client.Client
	cfg        DockerConfig
	httpClient *http.Client
}

// NewDockerController creates a Docker-based process controller.
func NewDockerController(cfg DockerConfig) (*DockerController, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	if cfg.ContainerPort == 0 {
		cfg.ContainerPort = 8000
	}
	if cfg.HostPort == 0 {
		cfg.HostPort = cfg.ContainerPort
	}
	return &DockerController{
		client:     cli,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// IsRunning reports whether the backend container exists and is running.
func (d *DockerController) IsRunning(ctx context.Context) (bool, error) {
	inspect, err := d.client.ContainerInspect(ctx, d.cfg.ContainerName)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect container: %w", err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// Start force-removes any stale container under our name, pulls the image
// if it is not present locally, then creates and starts a fresh container.
func (d *DockerController) Start(ctx context.Context) error {
	// A stale container from a crashed run would collide on the name.
	err := d.client.ContainerRemove(ctx, d.cfg.ContainerName, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove stale container: %w", err)
	}

	if _, _, err := d.client.ImageInspectWithRaw(ctx, d.cfg.Image); err != nil {
		reader, err := d.client.ImagePull(ctx, d.cfg.Image, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("failed to pull image %s: %w", d.cfg.Image, err)
		}
		defer reader.Close()
		io.Copy(io.Discard, reader)
	}

	containerPort, err := nat.NewPort("tcp", strconv.Itoa(d.cfg.ContainerPort))
	if err != nil {
		return fmt.Errorf("invalid container port: %w", err)
	}

	containerConfig := &container.Config{
		Image: d.cfg.Image,
		Env:   d.cfg.Env,
		ExposedPorts: nat.PortSet{
			containerPort: struct{}{},
		},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: strconv.Itoa(d.cfg.HostPort)},
			},
		},
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, d.cfg.ContainerName)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}

	return nil
}

// Stop stops and removes the backend container. A missing container is
// treated as already stopped.
func (d *DockerController) Stop(ctx context.Context) error {
	timeout := 10
	err := d.client.ContainerStop(ctx, d.cfg.ContainerName, container.StopOptions{Timeout: &timeout})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to stop container: %w", err)
	}

	err = d.client.ContainerRemove(ctx, d.cfg.ContainerName, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// HealthCheck probes the backend's health endpoint.
func (d *DockerController) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.HealthURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}

	var hr struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return fmt.Errorf("unparseable health reply: %w", err)
	}
	if hr.Status != "healthy" {
		return fmt.Errorf("backend reports status %q", hr.Status)
	}
	return nil
}
