package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/melih/howls-moving-docker/internal/core/domain"
	"github.com/melih/howls-moving-docker/internal/core/ports"
	"github.com/sirupsen/logrus"
)

var _ ports.ContainerRuntime = (*Adapter)(nil)

// Labels put on every container the adapter creates.
const (
	LabelManaged = "hmd.managed"
	LabelService = "hmd.service"
)

// stopTimeout is how long a container gets to exit before it is killed.
const stopTimeout = 10 * time.Second

// Adapter implements ports.ContainerRuntime using Docker SDK
type Adapter struct {
	cli *client.Client
	log *logrus.Entry
}

// NewAdapter creates a new Docker adapter instance. Without opts the client
// is configured from the environment.
func NewAdapter(log *logrus.Entry, opts ...client.Opt) (*Adapter, error) {
	if len(opts) == 0 {
		opts = []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli, log: log.WithField("component", "docker")}, nil
}

// Ping checks that the Docker daemon is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	if _, err := a.cli.Ping(ctx); err != nil {
		return &domain.RuntimeError{Op: "reach docker daemon", Err: err}
	}
	return nil
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

// CreateNetwork creates a bridge network, or returns the ID of an existing
// network of the same name.
func (a *Adapter) CreateNetwork(ctx context.Context, name string) (string, error) {
	existing, err := a.cli.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return "", &domain.RuntimeError{Op: "list networks", Err: err}
	}
	for _, n := range existing {
		// the name filter matches substrings
		if n.Name == name {
			a.log.WithField("network", name).Info("reusing existing network")
			return n.ID, nil
		}
	}

	resp, err := a.cli.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return "", &domain.RuntimeError{Op: "create network " + name, Err: err}
	}
	return resp.ID, nil
}

// RunContainer creates and starts a container, pulling its image first
// when it is not available locally.
func (a *Adapter) RunContainer(ctx context.Context, spec domain.ContainerSpec) (domain.RunningContainer, error) {
	// 1. Image Pull (Ensure image exists)
	if err := a.ensureImage(ctx, spec.Image); err != nil {
		return domain.RunningContainer{}, err
	}

	// 2. Create Container
	exposed, bindings := portMap(spec.Ports)
	cfg := &container.Config{
		Image:        spec.Image,
		Env:          envList(spec.Env),
		ExposedPorts: exposed,
		Labels: map[string]string{
			LabelManaged: "true",
			LabelService: spec.Service,
		},
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Binds:        spec.Volumes,
	}
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
	}

	resp, err := a.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return domain.RunningContainer{}, &domain.RuntimeError{Op: "create container " + spec.Name, Err: err}
	}
	for _, w := range resp.Warnings {
		a.log.WithField("container", spec.Name).Warn(w)
	}

	// 3. Start Container
	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// A created but unstarted container would still hold the name.
		rmErr := a.cli.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		if rmErr != nil && !cerrdefs.IsNotFound(rmErr) {
			a.log.WithError(rmErr).WithField("container", spec.Name).Warn("failed to remove unstarted container")
		}
		return domain.RunningContainer{}, &domain.RuntimeError{Op: "start container " + spec.Name, Err: err}
	}

	return domain.RunningContainer{ID: resp.ID, ContainerSpec: spec}, nil
}

func (a *Adapter) ensureImage(ctx context.Context, ref string) error {
	images, err := a.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return &domain.RuntimeError{Op: "list images", Err: err}
	}
	if len(images) > 0 {
		return nil
	}

	a.log.WithField("image", ref).Info("pulling image")
	reader, err := a.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return &domain.RuntimeError{Op: "pull image " + ref, Err: err}
	}
	defer reader.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return &domain.RuntimeError{Op: "pull image " + ref, Err: err}
	}
	return nil
}

// StopContainer stops a running container. A container that no longer
// exists counts as stopped.
func (a *Adapter) StopContainer(ctx context.Context, c domain.RunningContainer) error {
	timeout := int(stopTimeout.Seconds())
	if err := a.cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
		if cerrdefs.IsNotFound(err) {
			a.log.WithField("container", c.Name).Debug("container already gone")
			return nil
		}
		return &domain.RuntimeError{Op: "stop container " + c.Name, Err: err}
	}
	return nil
}

// RemoveContainer removes a stopped container. A container that is already
// gone counts as removed.
func (a *Adapter) RemoveContainer(ctx context.Context, c domain.RunningContainer) error {
	if err := a.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{}); err != nil {
		if cerrdefs.IsNotFound(err) {
			a.log.WithField("container", c.Name).Debug("container already removed")
			return nil
		}
		return &domain.RuntimeError{Op: "remove container " + c.Name, Err: err}
	}
	return nil
}

// RenameContainer gives a container a new name
func (a *Adapter) RenameContainer(ctx context.Context, c domain.RunningContainer, newName string) error {
	if err := a.cli.ContainerRename(ctx, c.ID, newName); err != nil {
		return &domain.RuntimeError{Op: "rename container " + c.Name, Err: err}
	}
	return nil
}

// ExecCapture runs cmd inside the container and returns stdout and stderr
// as one stream. A non-zero exit code is reported as an error.
func (a *Adapter) ExecCapture(ctx context.Context, c domain.RunningContainer, cmd []string) ([]byte, error) {
	op := fmt.Sprintf("exec %q in container %s", strings.Join(cmd, " "), c.Name)

	exec, err := a.cli.ContainerExecCreate(ctx, c.ID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, &domain.RuntimeError{Op: op, Err: err}
	}

	resp, err := a.cli.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, &domain.RuntimeError{Op: op, Err: err}
	}
	defer resp.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, resp.Reader); err != nil {
		return nil, &domain.RuntimeError{Op: op, Err: err}
	}

	inspect, err := a.cli.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return nil, &domain.RuntimeError{Op: op, Err: err}
	}
	if inspect.ExitCode != 0 {
		return out.Bytes(), &domain.RuntimeError{
			Op:  op,
			Err: fmt.Errorf("exit code %d: %s", inspect.ExitCode, strings.TrimSpace(out.String())),
		}
	}
	return out.Bytes(), nil
}

// ListRunning returns the running containers created by this adapter.
func (a *Adapter) ListRunning(ctx context.Context) ([]domain.RunningContainer, error) {
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return nil, &domain.RuntimeError{Op: "list containers", Err: err}
	}

	result := make([]domain.RunningContainer, 0, len(containers))
	for _, c := range containers {
		// Use the first name if available, remove slash
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		var bindings []domain.PortBinding
		for _, p := range c.Ports {
			if p.PublicPort == 0 {
				continue
			}
			bindings = append(bindings, domain.PortBinding{
				ContainerPort: int(p.PrivatePort),
				Protocol:      p.Type,
				HostPort:      int(p.PublicPort),
			})
		}

		result = append(result, domain.RunningContainer{
			ID: c.ID,
			ContainerSpec: domain.ContainerSpec{
				Name:    name,
				Service: c.Labels[LabelService],
				Image:   c.Image,
				Ports:   bindings,
			},
		})
	}
	return result, nil
}

func portMap(ports []domain.PortBinding) (nat.PortSet, nat.PortMap) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		port := nat.Port(p.Key())
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: strconv.Itoa(p.HostPort)})
	}
	return exposed, bindings
}

// envList renders env as KEY=value pairs, sorted for stable output.
func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}
