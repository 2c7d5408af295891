package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// process abstracts the external engine binary so the supervisor can be
// exercised against an in-memory fake in tests.
type process interface {
	// Start launches the process and begins streaming stdout lines.
	Start() error
	// Send writes one protocol line to the process's stdin.
	Send(line string) error
	// Lines streams stdout line by line; the channel closes when the
	// process exits for any reason.
	Lines() <-chan string
	// Kill force-terminates the process. Safe to call more than once.
	Kill()
}

// execProcess runs the engine binary via os/exec.
type execProcess struct {
	path  string
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string

	killOnce sync.Once
	mu       sync.Mutex
}

func newExecProcess(path string) *execProcess {
	return &execProcess{path: path, lines: make(chan string, 64)}
}

func (p *execProcess) Start() error {
	p.cmd = exec.Command(p.path)
	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	p.stdin = stdin
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.path, err)
	}

	go func() {
		defer close(p.lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			p.lines <- strings.TrimRight(scanner.Text(), "\r")
		}
		// Reap the child so it never lingers as a zombie.
		_ = p.cmd.Wait()
	}()
	return nil
}

func (p *execProcess) Send(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return fmt.Errorf("process not started")
	}
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return fmt.Errorf("write %q: %w", line, err)
	}
	return nil
}

func (p *execProcess) Lines() <-chan string { return p.lines }

func (p *execProcess) Kill() {
	p.killOnce.Do(func() {
		p.mu.Lock()
		if p.stdin != nil {
			_ = p.stdin.Close()
		}
		p.mu.Unlock()
		if p.cmd != nil && p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}

// ResolveBinary finds a usable engine binary: the configured path, a
// sibling ./stockfish, then a PATH lookup.
func ResolveBinary(configured string) (string, error) {
	candidates := []string{configured, "./stockfish", "stockfish"}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		if resolved, err := exec.LookPath(candidate); err == nil {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("engine binary not found (tried %q, ./stockfish, $PATH)", configured)
}
