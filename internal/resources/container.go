package resources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"

	"github.com/delinoio/delidev/internal/domain"
)

const (
	setupDockerfileRelPath = ".delidev/setup/Dockerfile"
	stopTimeout            = 30 * time.Second
)

// ContainerManager owns the Docker half of the Resource Manager: building or
// reusing per-repository setup images and driving the lifecycle of
// per-unit-task sandbox containers. Generalized from a fixed
// session-id/branch environment convention into an arbitrary env map so it
// can serve any AgentKind, not just one hard-coded backend.
type ContainerManager struct {
	cli          *client.Client
	defaultImage string
}

func NewContainerManager(cli *client.Client, defaultImage string) *ContainerManager {
	return &ContainerManager{cli: cli, defaultImage: defaultImage}
}

func (c *ContainerManager) Client() *client.Client { return c.cli }

// BuildOrReuseImage returns a setup image ref for repoPath. If
// <repo>/.delidev/setup/Dockerfile exists, it is built and tagged with
// delidev-setup:<sha256-16hex-of-contents>, reusing an existing image with
// that tag when present. Otherwise the configured default image is returned.
func (c *ContainerManager) BuildOrReuseImage(ctx context.Context, repoPath, taskID string) (string, error) {
	dockerfilePath := repoPath + "/" + setupDockerfileRelPath
	contents, err := os.ReadFile(dockerfilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return c.defaultImage, nil
		}
		return "", domain.NewResourceSetup("read setup Dockerfile: " + err.Error())
	}

	sum := sha256.Sum256(contents)
	tag := fmt.Sprintf("delidev-setup:%s", hex.EncodeToString(sum[:])[:16])

	images, err := c.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", tag)),
	})
	if err == nil && len(images) > 0 {
		return tag, nil
	}

	buildCtx, err := tarDirectory(repoPath + "/.delidev/setup")
	if err != nil {
		return "", domain.NewResourceSetup("build context: " + err.Error())
	}

	resp, err := c.cli.ImageBuild(ctx, buildCtx, image.BuildOptions{
		Tags:       []string{tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return "", domain.NewResourceSetup("image build: " + err.Error())
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return "", domain.NewResourceSetup("drain image build output: " + err.Error())
	}

	return tag, nil
}

func tarDirectory(dir string) (io.Reader, error) {
	// The image build context for a setup Dockerfile is expected to be
	// small (a Dockerfile plus a handful of scripts); callers supply dir as
	// the archive root.
	return archiveTar(dir)
}

// ContainerOptions configures a sandbox container for one unit-task
// execution.
type ContainerOptions struct {
	Name       string
	Image      string
	WorkingDir string
	HostPath   string
	Env        map[string]string
	MemLimit   string
	CPULimit   string
}

func (c *ContainerManager) CreateContainer(ctx context.Context, opts ContainerOptions) (string, error) {
	if !ValidContainerName(opts.Name) {
		return "", domain.NewValidation("container_name", "must match ^delidev-[A-Za-z0-9-]+$")
	}

	resolvedHost, err := CanonicalBaseTmp(opts.HostPath)
	if err != nil {
		return "", err
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	res, err := ResourcesFor(opts.MemLimit, opts.CPULimit)
	if err != nil {
		return "", err
	}

	resp, err := c.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      opts.Image,
			Env:        env,
			WorkingDir: opts.WorkingDir,
			Tty:        false,
		},
		&container.HostConfig{
			NetworkMode: "none",
			Resources:   res,
			Mounts: []mount.Mount{
				{
					Type:   mount.TypeBind,
					Source: resolvedHost,
					Target: opts.WorkingDir,
				},
			},
		},
		nil, nil, opts.Name,
	)
	if err != nil {
		return "", domain.NewResourceSetup("container create: " + err.Error())
	}
	return resp.ID, nil
}

func (c *ContainerManager) StartContainer(ctx context.Context, id string) error {
	if err := c.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return domain.NewResourceSetup("container start: " + err.Error())
	}
	return nil
}

func (c *ContainerManager) StopContainer(ctx context.Context, id string) error {
	timeout := int(stopTimeout.Seconds())
	if err := c.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("container stop: %w", err)
	}
	return nil
}

func (c *ContainerManager) RemoveContainer(ctx context.Context, id string) error {
	if err := c.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

func (c *ContainerManager) IsRunning(ctx context.Context, name string) (bool, error) {
	inspect, err := c.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("container inspect: %w", err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

func (c *ContainerManager) ListRunningNames(ctx context.Context) ([]string, error) {
	containers, err := c.cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", "delidev-")),
	})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}
	names := make([]string, 0, len(containers))
	for _, ctr := range containers {
		for _, n := range ctr.Names {
			names = append(names, strings.TrimPrefix(n, "/"))
		}
	}
	return names, nil
}

// CleanupTask stops the task's container if it is running and removes it;
// the task's worktree is not touched. It returns no error, so it cannot
// override the caller's terminal transition; all failures are logged.
func (c *ContainerManager) CleanupTask(ctx context.Context, containerName string) {
	running, err := c.IsRunning(ctx, containerName)
	if err != nil {
		log.Warn().Err(err).Str("container", containerName).Msg("resources: inspect during cleanup failed")
		return
	}
	if !running {
		if err := c.RemoveContainer(ctx, containerName); err != nil {
			log.Debug().Err(err).Str("container", containerName).Msg("resources: remove of already-stopped container failed")
		}
		return
	}
	if err := c.StopContainer(ctx, containerName); err != nil {
		log.Warn().Err(err).Str("container", containerName).Msg("resources: stop during cleanup failed")
	}
	if err := c.RemoveContainer(ctx, containerName); err != nil {
		log.Warn().Err(err).Str("container", containerName).Msg("resources: remove during cleanup failed")
	}
}
