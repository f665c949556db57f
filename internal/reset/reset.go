// Package reset drives the chip's active-low reset line. It is the fallback
// when the chip no longer answers a soft reset.
package reset

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"lr1110-host/internal/logging"
)

const consumer = "lr1110-host-reset"

type Config struct {
	// Chip is a gpiochip name or path, e.g. "gpiochip0".
	Chip string
	Line int
	// Pulse is how long the line is held low.
	Pulse time.Duration
	// Boot is how long the chip is given to restart after release.
	Boot time.Duration

	Logger *zap.SugaredLogger
	Clock  clock.Clock
}

// outputLine is the part of a requested GPIO line the pulse uses.
type outputLine interface {
	SetValue(v int) error
	Close() error
}

type Line struct {
	cfg  Config
	line outputLine
	log  *zap.SugaredLogger
	clk  clock.Clock
}

// Open requests the reset line as an output driven high (chip running).
func Open(cfg Config) (*Line, error) {
	if cfg.Chip == "" {
		return nil, fmt.Errorf("reset: chip is required")
	}
	if cfg.Line < 0 {
		return nil, fmt.Errorf("reset: invalid line %d", cfg.Line)
	}
	if cfg.Pulse <= 0 {
		cfg.Pulse = 100 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	l, err := openLineFn(cfg.Chip, cfg.Line)
	if err != nil {
		return nil, err
	}
	return &Line{cfg: cfg, line: l, log: logging.OrNop(cfg.Logger), clk: cfg.Clock}, nil
}

// Pulse holds the line low for the pulse duration, releases it and waits
// for the chip to boot.
func (l *Line) Pulse(ctx context.Context) error {
	if l == nil || l.line == nil {
		return fmt.Errorf("reset: line not open")
	}
	l.log.Infof("pulsing reset line %s/%d for %s", l.cfg.Chip, l.cfg.Line, l.cfg.Pulse)
	if err := l.line.SetValue(0); err != nil {
		return fmt.Errorf("reset: assert: %w", err)
	}
	waitErr := l.wait(ctx, l.cfg.Pulse)
	// Always release, even when cancelled.
	if err := l.line.SetValue(1); err != nil {
		return fmt.Errorf("reset: release: %w", err)
	}
	if waitErr != nil {
		return waitErr
	}
	return l.wait(ctx, l.cfg.Boot)
}

func (l *Line) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := l.clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close releases the line, leaving the chip running.
func (l *Line) Close() error {
	if l == nil || l.line == nil {
		return nil
	}
	err := multierr.Append(l.line.SetValue(1), l.line.Close())
	l.line = nil
	return err
}
