// Package engine provides the round-based simulation loop and the fixed
// per-round schedule of the economy.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Engine drives the simulation forward one round at a time.
type Engine struct {
	MaxRounds uint64        // 0 runs until stopped
	Interval  time.Duration // round interval at speed 1; 0 runs flat out

	// OnRound runs round r. An error stops the loop and is returned by Run.
	OnRound func(r uint64) error

	mu    sync.Mutex
	round uint64 // rounds completed
	speed float64

	stop     chan struct{}
	stopOnce sync.Once
}

// NewEngine creates an engine at speed 1.
func NewEngine() *Engine {
	return &Engine{speed: 1, stop: make(chan struct{})}
}

// Round returns the number of completed rounds.
func (e *Engine) Round() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round
}

// Speed returns the multiplier applied to Interval. 0 means paused.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the multiplier; 0 pauses. Negative values are clamped.
func (e *Engine) SetSpeed(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = max(v, 0)
}

// Run steps rounds until MaxRounds is reached, Stop is called, ctx is done or
// a round fails.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("simulation engine started", "round", e.Round(), "speed", e.Speed(), "max_rounds", e.MaxRounds)

	for e.MaxRounds == 0 || e.Round() < e.MaxRounds {
		if e.stopped(ctx) {
			break
		}
		speed := e.Speed()
		if speed <= 0 {
			// Paused: check again shortly.
			e.sleep(ctx, 100*time.Millisecond)
			continue
		}

		start := time.Now()
		if err := e.step(); err != nil {
			slog.Error("round failed", "round", e.Round(), "error", err)
			return err
		}

		target := time.Duration(float64(e.Interval) / speed)
		if elapsed := time.Since(start); elapsed < target {
			e.sleep(ctx, target-elapsed)
		}
	}

	slog.Info("simulation engine stopped", "round", e.Round())
	return nil
}

// Stop ends Run after the current round. It is safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *Engine) step() error {
	r := e.Round()
	if e.OnRound != nil {
		if err := e.OnRound(r); err != nil {
			return fmt.Errorf("round %d: %w", r, err)
		}
	}
	e.mu.Lock()
	e.round++
	e.mu.Unlock()
	return nil
}

func (e *Engine) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-e.stop:
		return true
	default:
		return false
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-e.stop:
	}
}
