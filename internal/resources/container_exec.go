package resources

import (
	"bufio"
	"context"
	"sync"

	"github.com/docker/docker/api/types/container"

	"github.com/delinoio/delidev/internal/runner"
)

// ContainerCommandRunner implements runner.CommandRunner by execing the
// agent CLI inside an already-created, already-started sandbox container,
// used in "container mode" as opposed to LocalCommandRunner's direct mode.
type ContainerCommandRunner struct {
	manager     *ContainerManager
	containerID string
}

func NewContainerCommandRunner(manager *ContainerManager, containerID string) *ContainerCommandRunner {
	return &ContainerCommandRunner{manager: manager, containerID: containerID}
}

func (c *ContainerCommandRunner) Start(ctx context.Context, argv []string, workingDir string, env map[string]string) (runner.Process, error) {
	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	execResp, err := c.manager.cli.ContainerExecCreate(ctx, c.containerID, container.ExecOptions{
		Cmd:          argv,
		Env:          envList,
		WorkingDir:   workingDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, err
	}

	attach, err := c.manager.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, err
	}

	p := &containerProcess{
		manager: c.manager,
		execID:  execResp.ID,
		lines:   make(chan string, 64),
		scanner: bufio.NewScanner(attach.Reader),
	}
	buf := make([]byte, scannerInitialBuf)
	p.scanner.Buffer(buf, scannerMaxBuf)
	go func() {
		defer attach.Close()
		p.pump()
	}()

	return p, nil
}

type containerProcess struct {
	manager *ContainerManager
	execID  string
	scanner *bufio.Scanner
	lines   chan string

	mu   sync.Mutex
	tail []string
}

func (p *containerProcess) pump() {
	defer close(p.lines)
	for p.scanner.Scan() {
		line := p.scanner.Text()
		p.mu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > stderrTailLines {
			p.tail = p.tail[len(p.tail)-stderrTailLines:]
		}
		p.mu.Unlock()
		p.lines <- line
	}
}

func (p *containerProcess) StdoutLine() (string, bool) {
	line, ok := <-p.lines
	return line, ok
}

func (p *containerProcess) Wait() (int, string, error) {
	inspect, err := p.manager.cli.ContainerExecInspect(context.Background(), p.execID)
	p.mu.Lock()
	tail := ""
	for i, l := range p.tail {
		if i > 0 {
			tail += "\n"
		}
		tail += l
	}
	p.mu.Unlock()
	if err != nil {
		return -1, tail, err
	}
	return inspect.ExitCode, tail, nil
}

func (p *containerProcess) Kill() error {
	// Docker exec has no direct kill; stopping the owning container is the
	// Resource Manager's responsibility on timeout.
	return nil
}

const (
	scannerInitialBuf = 256 * 1024
	scannerMaxBuf     = 1024 * 1024
	stderrTailLines   = 20
)
