// Package dockerbuild runs a build script inside a throwaway
// container instead of on the host, for build-environment isolation.
// It is an optional backend for pkg/buildmgr, selected by setting
// Config.ContainerImage.
package dockerbuild

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

// Backend runs a build inside a named image, mounting the build path
// into the container at /workspace and running BuildScript there.
type Backend struct {
	image       string
	buildScript string
}

// New returns a Backend that runs "./build.sh" inside image; use
// WithBuildScript to run a different command.
func New(image string) *Backend {
	return &Backend{image: image, buildScript: "./build.sh"}
}

// WithBuildScript overrides the in-container command (relative to
// /workspace) run to perform the build. Defaults to "./build.sh".
func (b *Backend) WithBuildScript(script string) *Backend {
	b.buildScript = script
	return b
}

// Run pulls (if needed) and starts the configured image with
// buildPath bind-mounted at /workspace, runs the build script, and
// copies the container's combined stdout/stderr to stdoutPath and
// stderrPath respectively. A non-zero exit code is reported as an
// error, matching the host build backend's contract in pkg/buildmgr.
func (b *Backend) Run(ctx context.Context, buildPath, stdoutPath, stderrPath string) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("dockerbuild: creating docker client: %w", err)
	}
	defer cli.Close()

	const workspace = "/workspace"
	resp, err := cli.ContainerCreate(ctx,
		&container.Config{
			Image:      b.image,
			Cmd:        []string{"/bin/sh", "-c", b.buildScript},
			WorkingDir: workspace,
			Tty:        false,
		},
		&container.HostConfig{
			Binds: []string{buildPath + ":" + workspace},
		},
		nil,
		&specs.Platform{},
		"",
	)
	if err != nil {
		return fmt.Errorf("dockerbuild: creating container: %w", err)
	}
	defer func() {
		_ = cli.ContainerRemove(context.Background(), resp.ID, types.ContainerRemoveOptions{Force: true})
	}()

	if err := cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("dockerbuild: starting container: %w", err)
	}

	if err := b.streamLogs(ctx, cli, resp.ID, stdoutPath, stderrPath); err != nil {
		return fmt.Errorf("dockerbuild: streaming logs: %w", err)
	}

	statusCh, errCh := cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("dockerbuild: waiting for container: %w", err)
		}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return fmt.Errorf("dockerbuild: build container exited with code %d", status.StatusCode)
		}
	}

	return nil
}

func (b *Backend) streamLogs(ctx context.Context, cli *client.Client, containerID, stdoutPath, stderrPath string) error {
	reader, err := cli.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return err
	}
	defer reader.Close()

	outFile, err := os.Create(stdoutPath)
	if err != nil {
		return err
	}
	defer outFile.Close()
	errFile, err := os.Create(stderrPath)
	if err != nil {
		return err
	}
	defer errFile.Close()

	return demuxDockerLog(reader, outFile, errFile)
}

// demuxDockerLog splits the multiplexed stream produced by the Docker
// API (an 8-byte header per frame: 1 stream-type byte, 3 reserved,
// 4 big-endian length) into stdout and stderr. When attached without
// a TTY, ContainerLogs always returns this framing.
func demuxDockerLog(r io.Reader, stdout, stderr io.Writer) error {
	br := bufio.NewReader(r)
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		dst := stdout
		if header[0] == 2 {
			dst = stderr
		}
		if _, err := io.CopyN(dst, br, int64(size)); err != nil {
			return err
		}
	}
}
