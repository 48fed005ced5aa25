package docker

import (
	"context"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

type Client struct {
	cli *client.Client
}

func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) PullImage(ctx context.Context, ref string) error {
	reader, err := c.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// EnsureContainer returns the id of the container named spec.Name, creating
// it (and pulling the image) when it does not exist yet.
func (c *Client) EnsureContainer(ctx context.Context, spec ContainerSpec) (id string, created bool, err error) {
	if spec.Name == "" {
		return "", false, fmt.Errorf("container spec: name is required")
	}
	existing, err := c.cli.ContainerInspect(ctx, spec.Name)
	if err == nil {
		return existing.ID, false, nil
	}
	if !client.IsErrNotFound(err) {
		return "", false, fmt.Errorf("inspect %s: %w", spec.Name, err)
	}
	if spec.Image == "" {
		return "", false, fmt.Errorf("container %s does not exist and no image is configured", spec.Name)
	}
	if err := c.PullImage(ctx, spec.Image); err != nil {
		return "", false, err
	}
	id, err = c.create(ctx, spec)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (c *Client) create(ctx context.Context, spec ContainerSpec) (string, error) {
	exposedPorts := nat.PortSet{}
	portBindings := nat.PortMap{}
	for _, p := range spec.Ports {
		port, err := nat.NewPort(p.protocol(), p.Container)
		if err != nil {
			return "", fmt.Errorf("port %s: %w", p, err)
		}
		exposedPorts[port] = struct{}{}
		portBindings[port] = append(portBindings[port], nat.PortBinding{HostPort: p.Host})
	}

	mounts := make([]mount.Mount, 0, len(spec.Volumes))
	for hostPath, containerPath := range spec.Volumes {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: hostPath,
			Target: containerPath,
		})
	}

	hostCfg := &container.HostConfig{
		PortBindings:  portBindings,
		Mounts:        mounts,
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
	}
	if spec.MemoryLimit > 0 {
		hostCfg.Memory = spec.MemoryLimit
	}
	if spec.CPULimit > 0 {
		hostCfg.NanoCPUs = int64(spec.CPULimit * 1e9)
	}

	resp, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image:        spec.Image,
		Env:          spec.EnvList(),
		ExposedPorts: exposedPorts,
		Tty:          true,
		OpenStdin:    true,
		AttachStdin:  true,
	}, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return resp.ID, nil
}

func (c *Client) Start(ctx context.Context, id string) error {
	return c.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (c *Client) Stop(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return c.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs})
}

// Status returns the container state ("running", "exited", ...).
func (c *Client) Status(ctx context.Context, id string) (string, error) {
	resp, err := c.cli.ContainerInspect(ctx, id)
	if err != nil {
		return "unknown", err
	}
	return resp.State.Status, nil
}

// Wait blocks until the container stops and returns its exit code.
func (c *Client) Wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := c.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case st := <-statusCh:
		if st.Error != nil {
			return st.StatusCode, fmt.Errorf("wait %s: %s", id, st.Error.Message)
		}
		return st.StatusCode, nil
	case err := <-errCh:
		return -1, err
	}
}

// Logs follows the container output from now on. tty reports whether the
// stream is raw or stdout/stderr multiplexed.
func (c *Client) Logs(ctx context.Context, id string) (io.ReadCloser, bool, error) {
	inspect, err := c.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("inspect %s: %w", id, err)
	}
	rc, err := c.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       "0",
	})
	if err != nil {
		return nil, false, err
	}
	return rc, inspect.Config != nil && inspect.Config.Tty, nil
}

// SendCommand writes one console line to the server's stdin.
func (c *Client) SendCommand(ctx context.Context, id, command string) error {
	attach, err := c.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  true,
	})
	if err != nil {
		return fmt.Errorf("attach %s: %w", id, err)
	}
	defer attach.Close()
	if _, err := attach.Conn.Write([]byte(command + "\n")); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

// Usage is one resource sample of a container.
type Usage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes int64   `json:"memory_bytes"`
	MemoryLimit int64   `json:"memory_limit"`
	NetworkRx   int64   `json:"network_rx"`
	NetworkTx   int64   `json:"network_tx"`
}

// StatsOnce takes a single non-streaming stats sample.
func (c *Client) StatsOnce(ctx context.Context, id string) (Usage, error) {
	resp, err := c.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return Usage{}, err
	}
	defer resp.Body.Close()

	var raw statsJSON
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Usage{}, fmt.Errorf("decode stats: %w", err)
	}
	return raw.usage(), nil
}
