package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/harborwatch/harborwatch/monitor/internal/state"
)

// composeProjectLabel is the label docker compose sets on every container it
// manages. It is the preferred group source; the name prefix is the fallback.
const composeProjectLabel = "com.docker.compose.project"

// namePrefixRe extracts the project prefix from compose-style container names
// (projectname-servicename-1).
var namePrefixRe = regexp.MustCompile(`^([^-]+)-`)

// dockerAPI is the slice of the Docker client surface the source needs.
// Narrowed from client.APIClient so tests can provide a fake.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
}

// DockerSource implements Source against the local Docker Engine API.
type DockerSource struct {
	cli dockerAPI
}

// NewDockerSource connects to the Docker daemon. An empty endpoint uses the
// standard environment configuration (DOCKER_HOST et al.).
func NewDockerSource(endpoint string) (*DockerSource, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if endpoint != "" {
		opts = append(opts, client.WithHost(endpoint))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker source: connect: %w", err)
	}
	return &DockerSource{cli: cli}, nil
}

// NewDockerSourceWithClient wraps an existing API client. Used by tests.
func NewDockerSourceWithClient(cli dockerAPI) *DockerSource {
	return &DockerSource{cli: cli}
}

// List returns all running containers as entities.
func (d *DockerSource) List(ctx context.Context) ([]Entity, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("docker source: list containers: %w", err)
	}

	out := make([]Entity, 0, len(containers))
	for _, c := range containers {
		name := containerName(c)
		if name == "" {
			continue
		}
		out = append(out, Entity{
			Identity: name,
			Group:    groupOf(name, c.Labels),
		})
	}
	return out, nil
}

// Status inspects one container and maps its healthcheck state to a Status.
// Containers without a healthcheck report StatusUnknown; containers the
// daemon no longer knows report StatusMissing.
func (d *DockerSource) Status(ctx context.Context, identity string) (state.Status, error) {
	info, err := d.cli.ContainerInspect(ctx, identity)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return state.StatusMissing, nil
		}
		return state.StatusUnknown, fmt.Errorf("docker source: inspect %q: %w", identity, err)
	}

	if info.State == nil || info.State.Health == nil {
		return state.StatusUnknown, nil
	}
	switch info.State.Health.Status {
	case types.Healthy:
		return state.StatusHealthy, nil
	case types.Unhealthy:
		return state.StatusUnhealthy, nil
	case types.Starting:
		return state.StatusStarting, nil
	default:
		return state.StatusUnknown, nil
	}
}

// RecentLogs fetches the last maxLines of stdout+stderr from a container.
// A missing container is reported in-band so alert composition never fails
// on context collection.
func (d *DockerSource) RecentLogs(ctx context.Context, identity string, maxLines int) (string, error) {
	rc, err := d.cli.ContainerLogs(ctx, identity, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(maxLines),
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "container not found - may have been removed", nil
		}
		return "", fmt.Errorf("docker source: logs %q: %w", identity, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("docker source: read logs %q: %w", identity, err)
	}

	// Non-TTY containers multiplex stdout/stderr into one stream; stdcopy
	// demultiplexes it. TTY containers produce a raw stream that makes
	// StdCopy fail on the missing header, so fall back to the raw bytes.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, bytes.NewReader(data)); err != nil {
		return string(data), nil
	}
	return buf.String(), nil
}

// containerName returns the primary container name without the leading slash.
func containerName(c types.Container) string {
	if len(c.Names) == 0 {
		return ""
	}
	return strings.TrimPrefix(c.Names[0], "/")
}

// groupOf derives the grouping label from the compose project label, falling
// back to the container name prefix, then "unknown".
func groupOf(name string, labels map[string]string) string {
	if p, ok := labels[composeProjectLabel]; ok && p != "" {
		return p
	}
	if m := namePrefixRe.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return "unknown"
}
