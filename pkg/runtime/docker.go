package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/health"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/types"
)

// DockerDriver implements Driver against the Docker Engine API
type DockerDriver struct {
	client *client.Client
	logger zerolog.Logger
}

// NewDockerDriver connects to the engine using the standard environment
// (DOCKER_HOST and friends) and negotiates the API version.
func NewDockerDriver() (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker: %w", err)
	}

	return &DockerDriver{
		client: cli,
		logger: log.WithComponent("runtime"),
	}, nil
}

// Close closes the docker client connection
func (d *DockerDriver) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// CreateAndStart launches a worker container for the given spec
func (d *DockerDriver) CreateAndStart(ctx context.Context, spec types.WorkerSpec) (string, error) {
	resp, err := d.client.ContainerCreate(
		ctx,
		workerConfig(spec),
		workerHostConfig(spec),
		workerNetworking(spec),
		nil,
		containerName(spec.SessionID),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// The created container would leak without a record of its id,
		// so remove it before reporting the failure.
		if rmErr := d.Remove(ctx, resp.ID); rmErr != nil {
			d.logger.Warn().Err(rmErr).Str("container_id", shortID(resp.ID)).
				Msg("Failed to remove container after start failure")
		}
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	d.logger.Debug().
		Str("session_id", spec.SessionID).
		Str("container_id", shortID(resp.ID)).
		Int("host_port", spec.HostPort).
		Msg("Worker container started")

	return resp.ID, nil
}

// Stop gracefully stops a container, escalating to SIGKILL after StopGrace.
// A container that is already gone satisfies the desired state.
func (d *DockerDriver) Stop(ctx context.Context, containerID string) error {
	grace := int(StopGrace.Seconds())
	err := d.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to stop container %s: %w", shortID(containerID), err)
	}
	return nil
}

// Remove deletes a container and its anonymous volumes. Workers run with
// autoremove, so most of the time the container is already gone.
func (d *DockerDriver) Remove(ctx context.Context, containerID string) error {
	err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{
		RemoveVolumes: true,
		Force:         true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", shortID(containerID), err)
	}
	return nil
}

// Alive reports whether a container exists and is running
func (d *DockerDriver) Alive(ctx context.Context, containerID string) (bool, error) {
	inspect, err := d.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect container %s: %w", shortID(containerID), err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// Logs returns up to tail lines of the container's combined output
func (d *DockerDriver) Logs(ctx context.Context, containerID string, tail int, since time.Time) ([]string, error) {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	if !since.IsZero() {
		opts.Since = since.UTC().Format(time.RFC3339)
	}

	rc, err := d.client.ContainerLogs(ctx, containerID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs for container %s: %w", shortID(containerID), err)
	}
	defer rc.Close()

	// Workers run without a TTY, so the stream is multiplexed and has
	// to be demuxed before splitting into lines.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return nil, fmt.Errorf("failed to demux logs for container %s: %w", shortID(containerID), err)
	}

	return splitLogLines(buf.String()), nil
}

// ListSessionContainers finds every container carrying the gateway's
// service label and maps session id to container id.
func (d *DockerDriver) ListSessionContainers(ctx context.Context) (map[string]string, error) {
	listFilters := filters.NewArgs(filters.Arg("label", LabelService+"="+ServiceName))

	containers, err := d.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: listFilters,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	sessions := make(map[string]string, len(containers))
	for _, c := range containers {
		if sessionID, ok := c.Labels[LabelSession]; ok && sessionID != "" {
			sessions[sessionID] = c.ID
		}
	}
	return sessions, nil
}

// EnsureNetwork creates the named bridge network if it does not exist
func (d *DockerDriver) EnsureNetwork(ctx context.Context, name string) error {
	networks, err := d.client.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return fmt.Errorf("failed to list networks: %w", err)
	}

	// The name filter is a substring match; verify the exact name.
	for _, n := range networks {
		if n.Name == name {
			return nil
		}
	}

	if _, err := d.client.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"}); err != nil {
		return fmt.Errorf("failed to create network %s: %w", name, err)
	}

	d.logger.Info().Str("network", name).Msg("Created worker network")
	return nil
}

// EnsureImage pulls ref unless it is already present locally
func (d *DockerDriver) EnsureImage(ctx context.Context, ref string) error {
	images, err := d.client.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	if len(images) > 0 {
		return nil
	}

	d.logger.Info().Str("image", ref).Msg("Pulling worker image")

	rc, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer rc.Close()

	// The pull completes when the progress stream drains.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// workerConfig builds the container configuration for a worker
func workerConfig(spec types.WorkerSpec) *container.Config {
	return &container.Config{
		Image: spec.Image,
		Env: []string{
			"HUTCH_SESSION_ID=" + spec.SessionID,
			// Dev tooling respects the console do-not-track convention.
			"DO_NOT_TRACK=1",
			// The package manager must not reach for the network; every
			// dependency ships baked into the worker image.
			"npm_config_offline=true",
		},
		ExposedPorts: nat.PortSet{
			workerPort(): struct{}{},
		},
		Labels: map[string]string{
			LabelSession: spec.SessionID,
			LabelService: ServiceName,
			LabelCreated: time.Now().UTC().Format(time.RFC3339),
		},
		Healthcheck: workerHealthcheck(),
	}
}

// workerHostConfig builds the host configuration: bind mount, port
// publishing, the resource envelope and the security profile.
func workerHostConfig(spec types.WorkerSpec) *container.HostConfig {
	res := spec.Resources
	pids := res.PidsLimit
	oomKillDisable := false

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: spec.WorkDir,
				Target: AppDir,
			},
		},
		PortBindings: nat.PortMap{
			// Workers are only reachable through the gateway's proxy.
			workerPort(): []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: strconv.Itoa(spec.HostPort)},
			},
		},
		Resources: container.Resources{
			Memory: res.MemoryMB * 1024 * 1024,
			// Swap equal to the cap disables swapping beyond it.
			MemorySwap:        res.MemoryMB * 1024 * 1024,
			MemoryReservation: res.MemoryReservationMB * 1024 * 1024,
			CPUPeriod:         100000,
			CPUQuota:          int64(res.CPUPercent) * 1000,
			CPUShares:         res.CPUShares,
			PidsLimit:         &pids,
			BlkioWeight:       res.BlkioWeight,
			OomKillDisable:    &oomKillDisable,
		},
		CapDrop:     strslice.StrSlice{"ALL"},
		CapAdd:      strslice.StrSlice{"CHOWN", "SETUID", "SETGID"},
		SecurityOpt: []string{"no-new-privileges"},
		// The dev server writes caches and temp files; root stays writable.
		ReadonlyRootfs: false,
		AutoRemove:     true,
	}

	if res.DiskMB > 0 {
		// Honored only on storage drivers with quota support (overlay2
		// on xfs with pquota); elsewhere the daemon rejects it and the
		// caller is expected to have disabled it.
		hostConfig.StorageOpt = map[string]string{
			"size": fmt.Sprintf("%dM", res.DiskMB),
		}
	}

	if len(spec.DNS) > 0 {
		hostConfig.DNS = spec.DNS
	}

	return hostConfig
}

// workerNetworking attaches the worker to the isolated bridge
func workerNetworking(spec types.WorkerSpec) *network.NetworkingConfig {
	if spec.Network == "" {
		return nil
	}
	return &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			spec.Network: {},
		},
	}
}

// workerHealthcheck translates the worker probe profile into the
// runtime-level healthcheck.
func workerHealthcheck() *container.HealthConfig {
	probe := health.WorkerProbeConfig()
	return &container.HealthConfig{
		Test:        []string{"CMD-SHELL", fmt.Sprintf("curl -fsS http://localhost:%d/ || exit 1", WorkerPort)},
		Interval:    probe.Interval,
		Timeout:     probe.Timeout,
		Retries:     probe.Retries,
		StartPeriod: probe.StartPeriod,
	}
}

func workerPort() nat.Port {
	return nat.Port(strconv.Itoa(WorkerPort) + "/tcp")
}

func containerName(sessionID string) string {
	return "hutch-" + sessionID
}

// shortID truncates a container id to the familiar 12-character form
func shortID(containerID string) string {
	if len(containerID) > 12 {
		return containerID[:12]
	}
	return containerID
}

func splitLogLines(raw string) []string {
	raw = strings.TrimRight(raw, "\n")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}
