package inject

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"worldbridge/internal/logging"
	"worldbridge/internal/metrics"
)

const DefaultEnterDelay = 100 * time.Millisecond

var (
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrUnavailable covers both a missing tmux binary and a missing session.
	ErrUnavailable = errors.New("tmux not available or session not found")
)

// Terminal is the subset of the tmux client the injector drives.
type Terminal interface {
	SendLiteral(ctx context.Context, target, text string) error
	SendKeys(ctx context.Context, target string, keys ...string) error
}

type Options struct {
	Terminal   Terminal
	Session    string
	EnterDelay time.Duration
	Logger     *logging.Logger
	Metrics    *metrics.Registry
}

// Injector types prompts into the assistant's terminal session.
type Injector struct {
	terminal   Terminal
	session    string
	enterDelay time.Duration
	logger     *logging.Logger
	metrics    *metrics.Registry
}

func New(options Options) *Injector {
	delay := options.EnterDelay
	if delay <= 0 {
		delay = DefaultEnterDelay
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	return &Injector{
		terminal:   options.Terminal,
		session:    options.Session,
		enterDelay: delay,
		logger:     logger.Component("inject"),
		metrics:    registry,
	}
}

// Target returns the session a request for session is delivered to.
func (i *Injector) Target(session string) string {
	if strings.TrimSpace(session) == "" {
		return i.session
	}
	return session
}

// Send types prompt into session and presses Enter after a short delay.
// An empty session means the configured one.
func (i *Injector) Send(ctx context.Context, prompt, session string) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}
	session = i.Target(session)
	err := i.deliver(ctx, prompt, session)
	i.metrics.RecordInjection(err)
	if err != nil {
		i.logger.Warn("prompt injection failed", map[string]string{
			"session": session,
			"error":   err.Error(),
		})
		return err
	}
	i.logger.Info("prompt sent", map[string]string{
		"session": session,
		"prompt":  preview(prompt),
	})
	return nil
}

func (i *Injector) deliver(ctx context.Context, prompt, session string) error {
	if i.terminal == nil {
		return fmt.Errorf("%w: no terminal configured", ErrUnavailable)
	}
	if err := i.terminal.SendLiteral(ctx, session, prompt); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	timer := time.NewTimer(i.enterDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	case <-timer.C:
	}

	if err := i.terminal.SendKeys(ctx, session, "Enter"); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func preview(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= 50 {
		return prompt
	}
	return string(runes[:50]) + "..."
}
