package upstream

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"updock/internal/domain"
)

// Compose attaches these labels to the containers it manages; they are the
// source of the stack and service names used by stack-service criteria.
const (
	labelComposeProject = "com.docker.compose.project"
	labelComposeService = "com.docker.compose.service"
)

// DockerEndpoint implements InventoryProvider and UpgradeAction against one
// Docker Engine API endpoint.
type DockerEndpoint struct {
	cli  client.APIClient
	info domain.EndpointInfo
}

// NewDockerEndpoint dials the engine at host. An empty host uses the
// environment (DOCKER_HOST or the default socket).
func NewDockerEndpoint(id, name, host string) (*DockerEndpoint, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = []client.Opt{client.WithHost(host), client.WithAPIVersionNegotiation()}
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client for %s: %w", name, err)
	}
	return &DockerEndpoint{cli: cli, info: domain.EndpointInfo{ID: id, Name: name}}, nil
}

func (d *DockerEndpoint) Endpoint() domain.EndpointInfo { return d.info }

func (d *DockerEndpoint) Containers(ctx context.Context) ([]domain.ContainerSnapshot, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, &Error{Endpoint: d.info.Name, Op: "list containers", Err: err}
	}
	out := make([]domain.ContainerSnapshot, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		repo, tag := splitImageRef(c.Image)
		out = append(out, domain.ContainerSnapshot{
			ID:           c.ID,
			Name:         name,
			ImageRepo:    repo,
			ImageTag:     tag,
			ImageDigest:  c.ImageID,
			StackName:    c.Labels[labelComposeProject],
			ServiceName:  c.Labels[labelComposeService],
			EndpointID:   d.info.ID,
			EndpointName: d.info.Name,
		})
	}
	return out, nil
}

// Upgrade pulls the target image, then recreates the container with its
// previous configuration pointed at the new reference. Failure before the old
// container is removed leaves it running.
func (d *DockerEndpoint) Upgrade(ctx context.Context, c domain.ContainerSnapshot, targetTag string) error {
	ref := c.ImageRepo
	if targetTag != "" {
		ref = c.ImageRepo + ":" + targetTag
	}

	resp, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	if _, err := io.Copy(io.Discard, resp); err != nil {
		resp.Close()
		return fmt.Errorf("pull %s: read response: %w", ref, err)
	}
	resp.Close()

	info, err := d.cli.ContainerInspect(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", c.Name, err)
	}

	if err := d.cli.ContainerStop(ctx, c.ID, container.StopOptions{}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("stop %s: %w", c.Name, err)
	}
	if err := d.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove %s: %w", c.Name, err)
	}

	cfg := info.Config
	cfg.Image = ref
	created, err := d.cli.ContainerCreate(ctx, cfg, info.HostConfig, nil, nil, c.Name)
	if err != nil {
		return fmt.Errorf("recreate %s: %w", c.Name, err)
	}
	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start %s: %w", c.Name, err)
	}
	return nil
}

// splitImageRef separates a repo from its tag, leaving digests and ports
// alone: "nginx:1.25" -> ("nginx", "1.25"), "registry:5000/app" stays whole.
func splitImageRef(ref string) (repo, tag string) {
	if i := strings.Index(ref, "@"); i >= 0 {
		ref = ref[:i]
	}
	slash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref, ":")
	if colon > slash {
		return ref[:colon], ref[colon+1:]
	}
	return ref, ""
}
