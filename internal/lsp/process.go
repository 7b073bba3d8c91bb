package lsp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.lsp.dev/uri"
)

var (
	ErrLSPNotInstalled = errors.New("lsp server not installed")
	ErrMaxRestarts     = errors.New("max restart attempts exceeded")
)

const (
	shutdownGrace = 5 * time.Second
	exitGrace     = 3 * time.Second
)

// Process owns one language server child and the client talking to it.
// Failed initializations count against MaxRestarts; a server that keeps
// failing to come up stays down until the daemon restarts.
type Process struct {
	config ServerConfig

	cmd      *exec.Cmd
	client   *Client
	rootPath string

	state        atomic.Value
	restartCount int
	startedAt    time.Time
	lastError    error
	lastErrorAt  time.Time

	mu       sync.RWMutex
	stopOnce sync.Once
}

func NewProcess(config ServerConfig) *Process {
	p := &Process{config: config}
	p.state.Store(StateStopped)
	return p
}

// Start spawns the server in rootPath and runs the initialize handshake.
// The child outlives ctx; only the handshake is bounded by it.
func (p *Process) Start(ctx context.Context, rootPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.getState() {
	case StateReady, StateStarting, StateInitializing:
		return nil
	}

	if p.restartCount >= p.config.MaxRestarts {
		return fmt.Errorf("%w: %s", ErrMaxRestarts, p.config.Command)
	}

	p.state.Store(StateStarting)
	p.rootPath = rootPath
	p.stopOnce = sync.Once{}

	stdin, stdout, err := p.spawn(rootPath)
	if err != nil {
		return p.fail(err)
	}
	p.startedAt = time.Now()

	p.state.Store(StateInitializing)
	p.client = NewClient(context.Background(), stdin, stdout, ClientConfig{
		Language:       p.config.Language,
		InitTimeout:    p.config.InitTimeout,
		RequestTimeout: p.config.RequestTimeout,
	})

	if err := p.client.Initialize(ctx, uri.File(rootPath)); err != nil {
		p.killProcess()
		p.restartCount++
		return p.fail(fmt.Errorf("failed to initialize %s: %w", p.config.Language, err))
	}

	log.Info("language server ready",
		"server", p.config.Command,
		"root", rootPath,
		"pid", p.cmd.Process.Pid,
		"took", time.Since(p.startedAt).Round(time.Millisecond))
	p.state.Store(StateReady)
	return nil
}

func (p *Process) spawn(rootPath string) (io.WriteCloser, io.ReadCloser, error) {
	path, err := exec.LookPath(p.config.Command)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrLSPNotInstalled, p.config.Command)
	}

	cmd := exec.Command(path, p.config.Args...)
	cmd.Dir = rootPath
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, nil, fmt.Errorf("failed to start %s: %w", p.config.Command, err)
	}

	go p.drainStderr(stderr)
	p.cmd = cmd
	return stdin, stdout, nil
}

// drainStderr forwards the server's own diagnostics to the debug log so a
// chatty server never blocks on a full pipe.
func (p *Process) drainStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		log.Debug("server stderr", "server", p.config.Command, "line", sc.Text())
	}
}

func (p *Process) fail(err error) error {
	p.state.Store(StateError)
	p.lastError = err
	p.lastErrorAt = time.Now()
	return err
}

// Stop asks the server to shut down, then interrupts it and finally kills
// it if it does not exit in time.
func (p *Process) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.getState() == StateStopped {
			return
		}

		if p.client != nil && p.client.IsReady() {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
			err = p.client.Shutdown(shutdownCtx)
			cancel()
			p.client.Close()
		}

		if p.cmd != nil && p.cmd.Process != nil {
			if sigErr := p.cmd.Process.Signal(os.Interrupt); sigErr != nil && err == nil {
				err = sigErr
			}

			done := make(chan error, 1)
			go func() { done <- p.cmd.Wait() }()

			select {
			case <-done:
			case <-time.After(exitGrace):
				log.Warn("language server did not exit, killing", "server", p.config.Command)
				p.cmd.Process.Kill()
				<-done
			}
		}

		p.state.Store(StateStopped)
		p.client = nil
		p.cmd = nil
	})
	return err
}

func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}

	err := p.cmd.Process.Kill()
	p.killProcess()
	p.state.Store(StateStopped)
	return err
}

func (p *Process) killProcess() {
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
		go p.cmd.Wait()
	}
	if p.client != nil {
		p.client.Close()
	}
	p.cmd = nil
	p.client = nil
}

func (p *Process) Client() *Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

// Alive reports whether the connection to the server is still up.
func (p *Process) Alive() bool {
	client := p.Client()
	if client == nil {
		return false
	}
	select {
	case <-client.DisconnectNotify():
		return false
	default:
		return true
	}
}

func (p *Process) State() LSPState {
	return p.getState()
}

func (p *Process) getState() LSPState {
	return p.state.Load().(LSPState)
}

func (p *Process) RootPath() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rootPath
}

func (p *Process) Stats() LSPStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := LSPStats{
		Language: p.config.Language,
		State:    p.getState(),
	}

	if p.client != nil {
		cs := p.client.Stats()
		stats.RequestCount = cs.RequestCount
		stats.ErrorCount = cs.ErrorCount
		stats.LastRequest = cs.LastRequest
		stats.OpenDocs = cs.OpenDocs
	}

	if !p.startedAt.IsZero() {
		stats.StartedAt = p.startedAt
		if p.getState() == StateReady {
			stats.Uptime = time.Since(p.startedAt)
		}
	}

	if p.lastError != nil {
		stats.LastErrorMsg = p.lastError.Error()
		stats.LastError = p.lastErrorAt
	}

	return stats
}

func (p *Process) IsInstalled() bool {
	_, err := exec.LookPath(p.config.Command)
	return err == nil
}
