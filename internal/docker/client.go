package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"
)

// engine is the slice of the Docker Engine API the runner drives.
type engine interface {
	Ping(ctx context.Context) error
	EnsureImage(ctx context.Context, ref string) error
	Create(ctx context.Context, cfg *container.Config, host *container.HostConfig) (string, error)
	Attach(ctx context.Context, id string, opts container.AttachOptions) (types.HijackedResponse, error)
	Start(ctx context.Context, id string) error
	Wait(ctx context.Context, id string) (<-chan container.WaitResponse, <-chan error)
	Remove(ctx context.Context, id string) error
	Close() error
}

type Client struct {
	cli *client.Client
	log zerolog.Logger
}

// NewClient connects to the daemon named by DOCKER_HOST and friends.
func NewClient(log zerolog.Logger) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &Client{cli: cli, log: log}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return err
}

// EnsureImage pulls ref unless the daemon already has it.
func (c *Client) EnsureImage(ctx context.Context, ref string) error {
	if _, _, err := c.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}
	c.log.Info().Str("image", ref).Msg("pulling image")
	reader, err := c.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", ref, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (c *Client) Create(ctx context.Context, cfg *container.Config, host *container.HostConfig) (string, error) {
	resp, err := c.cli.ContainerCreate(ctx, cfg, host, nil, nil, "")
	if err != nil {
		return "", err
	}
	for _, w := range resp.Warnings {
		c.log.Warn().Str("container", resp.ID).Msg(w)
	}
	return resp.ID, nil
}

func (c *Client) Attach(ctx context.Context, id string, opts container.AttachOptions) (types.HijackedResponse, error) {
	return c.cli.ContainerAttach(ctx, id, opts)
}

func (c *Client) Start(ctx context.Context, id string) error {
	return c.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (c *Client) Wait(ctx context.Context, id string) (<-chan container.WaitResponse, <-chan error) {
	return c.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
}

func (c *Client) Remove(ctx context.Context, id string) error {
	return c.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}
