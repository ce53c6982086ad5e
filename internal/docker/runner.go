package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"

	"github.com/stacksnap/snapferry/internal/config"
	"github.com/stacksnap/snapferry/internal/domain"
	"github.com/stacksnap/snapferry/internal/runner"
)

// ContainerRunner runs dump and restore tools in throwaway containers, so
// the host needs a Docker daemon instead of the database client packages.
type ContainerRunner struct {
	engine engine
	images config.Tools
	log    zerolog.Logger
}

var _ runner.Runner = (*ContainerRunner)(nil)

func NewContainerRunner(e engine, images config.Tools, log zerolog.Logger) *ContainerRunner {
	return &ContainerRunner{
		engine: e,
		images: images,
		log:    log.With().Str("runner", "docker").Logger(),
	}
}

// NewFromEnv builds a ContainerRunner on the daemon from the environment.
func NewFromEnv(images config.Tools, log zerolog.Logger) (*ContainerRunner, error) {
	c, err := NewClient(log)
	if err != nil {
		return nil, domain.Collaborator("docker", err).
			WithSuggestion("check DOCKER_HOST or set TOOLS_RUNNER=local")
	}
	return NewContainerRunner(c, images, log), nil
}

// imageFor picks the image that ships tool.
func (r *ContainerRunner) imageFor(tool string) (string, error) {
	switch tool {
	case "mongodump", "mongorestore":
		return r.images.MongoImage, nil
	case "mysqldump", "mysql":
		return r.images.MySQLImage, nil
	default:
		return "", fmt.Errorf("no image configured for %s", tool)
	}
}

func (r *ContainerRunner) Available(ctx context.Context, tool string) error {
	if _, err := r.imageFor(tool); err != nil {
		return domain.Collaborator(tool, err)
	}
	if err := r.engine.Ping(ctx); err != nil {
		return domain.Collaborator(tool, fmt.Errorf("docker daemon not reachable: %w", err)).
			WithSuggestion("ensure Docker is running and you can access its socket, or set TOOLS_RUNNER=local")
	}
	return nil
}

func (r *ContainerRunner) Close() error {
	return r.engine.Close()
}

func (r *ContainerRunner) Run(ctx context.Context, c runner.Command) error {
	if len(c.Args) == 0 {
		return domain.Collaborator("docker", errors.New("empty command"))
	}
	tool := c.Args[0]
	ref, err := r.imageFor(tool)
	if err != nil {
		return domain.Collaborator(tool, err)
	}
	if err := r.engine.EnsureImage(ctx, ref); err != nil {
		return domain.Collaborator(tool, err)
	}

	r.log.Info().Str("image", ref).Str("cmd", runner.Redacted(c.Args)).Msg("exec")

	id, err := r.engine.Create(ctx, containerConfig(ref, c), hostConfig(c))
	if err != nil {
		return domain.Collaborator(tool, fmt.Errorf("failed to create container: %w", err))
	}
	defer func() {
		if err := r.engine.Remove(context.WithoutCancel(ctx), id); err != nil {
			r.log.Warn().Err(err).Str("container", id).Msg("failed to remove container")
		}
	}()

	attach, err := r.engine.Attach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  c.Stdin != nil,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return domain.Collaborator(tool, fmt.Errorf("failed to attach to container: %w", err))
	}
	defer attach.Close()

	if err := r.engine.Start(ctx, id); err != nil {
		return domain.Collaborator(tool, fmt.Errorf("failed to start container: %w", err))
	}

	stdinErr := make(chan error, 1)
	if c.Stdin != nil {
		go func() {
			_, err := io.Copy(attach.Conn, c.Stdin)
			attach.CloseWrite()
			stdinErr <- err
		}()
	} else {
		stdinErr <- nil
	}

	stdout := c.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := runner.NewTailBuffer(4096)
	if _, err := stdcopy.StdCopy(stdout, stderr, attach.Reader); err != nil {
		return domain.Collaborator(tool, fmt.Errorf("failed to read container output: %w", err))
	}
	if err := <-stdinErr; err != nil {
		return domain.Collaborator(tool, fmt.Errorf("failed to stream input: %w", err))
	}

	statusCh, errCh := r.engine.Wait(ctx, id)
	select {
	case err := <-errCh:
		return domain.Collaborator(tool, fmt.Errorf("error waiting for container: %w", err))
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return domain.Collaborator(tool, fmt.Errorf("command failed (exit %d): %s", status.StatusCode, stderr.String()))
		}
	}
	return nil
}

func containerConfig(ref string, c runner.Command) *container.Config {
	cfg := &container.Config{
		Image:        ref,
		Cmd:          c.Args,
		Env:          c.Env,
		User:         fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		AttachStdout: true,
		AttachStderr: true,
	}
	if c.Stdin != nil {
		cfg.AttachStdin = true
		cfg.OpenStdin = true
		cfg.StdinOnce = true
	}
	return cfg
}

// hostConfig shares the host network, so database hosts resolve exactly as
// they would for a local tool, and mounts every path at its host location.
func hostConfig(c runner.Command) *container.HostConfig {
	hc := &container.HostConfig{NetworkMode: "host"}
	seen := map[string]bool{}
	for _, p := range c.Paths {
		p = strings.TrimRight(p, "/")
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		hc.Mounts = append(hc.Mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: p,
			Target: p,
		})
	}
	return hc
}
