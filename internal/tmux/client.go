package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// CommandRunner executes an external program and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string) ([]byte, error)
}

// Client drives a tmux server through its command line.
type Client struct {
	runner CommandRunner
	binary string
	shell  string
}

func NewClient() *Client {
	return NewClientWithRunner(execRunner{})
}

func NewClientWithRunner(runner CommandRunner) *Client {
	return &Client{runner: runner, binary: "tmux", shell: "sh"}
}

// CapturePane returns the visible text of target plus up to lines of
// scrollback. Zero lines captures only the visible pane.
func (c *Client) CapturePane(ctx context.Context, target string, lines int) ([]byte, error) {
	args := []string{"capture-pane", "-p", "-t", target}
	if lines > 0 {
		args = append(args, "-S", "-"+strconv.Itoa(lines))
	}
	return c.runWithOutput(ctx, args)
}

// SendLiteral types text into target without interpreting key names. The
// command goes through sh with target and text single-quoted.
func (c *Client) SendLiteral(ctx context.Context, target, text string) error {
	if c == nil || c.runner == nil {
		return errors.New("tmux runner unavailable")
	}
	script := fmt.Sprintf("%s send-keys -t %s -l %s", c.binary, ShellQuote(target), ShellQuote(text))
	output, err := c.runner.Run(ctx, c.shell, []string{"-c", script})
	if err != nil {
		return commandError("send-keys", output, err)
	}
	return nil
}

// SendKeys sends named keys (for example Enter) to target.
func (c *Client) SendKeys(ctx context.Context, target string, keys ...string) error {
	args := append([]string{"send-keys", "-t", target}, keys...)
	_, err := c.runWithOutput(ctx, args)
	return err
}

// HasSession reports whether the named session exists.
func (c *Client) HasSession(ctx context.Context, name string) (bool, error) {
	if c == nil || c.runner == nil {
		return false, errors.New("tmux runner unavailable")
	}
	output, err := c.runner.Run(ctx, c.binary, []string{"has-session", "-t", name})
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, commandError("has-session", output, err)
	}
	return true, nil
}

func (c *Client) runWithOutput(ctx context.Context, args []string) ([]byte, error) {
	if c == nil || c.runner == nil {
		return nil, errors.New("tmux runner unavailable")
	}
	output, err := c.runner.Run(ctx, c.binary, args)
	if err != nil {
		return nil, commandError(args[0], output, err)
	}
	return output, nil
}

func commandError(command string, output []byte, err error) error {
	if trimmed := bytes.TrimSpace(output); len(trimmed) > 0 {
		return fmt.Errorf("tmux %s failed: %s: %w", command, trimmed, err)
	}
	return fmt.Errorf("tmux %s failed: %w", command, err)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ExecRunner returns the runner that spawns real processes.
func ExecRunner() CommandRunner {
	return execRunner{}
}
