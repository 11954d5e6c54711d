package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Ticker drives RunTick on a fixed wall-clock interval. The tick itself
// lives in RunTick so tests and the admin endpoint can advance time
// without waiting.
type Ticker struct {
	Engine   *Engine
	Interval time.Duration // default 5 minutes

	// speed is read by Run and written by the admin endpoint.
	mu    sync.Mutex
	speed float64 // multiplier: 1.0 = real-time, 0 = paused

	stop chan struct{}
}

// NewTicker creates a scheduler around an engine.
func NewTicker(e *Engine, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Ticker{
		Engine:   e,
		Interval: interval,
		speed:    1.0,
		stop:     make(chan struct{}),
	}
}

// Speed returns the current speed multiplier.
func (t *Ticker) Speed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speed
}

// SetSpeed changes the multiplier; it takes effect on the next cycle.
func (t *Ticker) SetSpeed(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.speed = v
}

// Run blocks, executing one tick per interval until Stop is called or
// the context is cancelled. A failed cycle is logged as a hard error and
// the next scheduled tick still attempts to run; missed ticks are never
// retried.
func (t *Ticker) Run(ctx context.Context) {
	slog.Info("tick scheduler started", "interval", t.Interval, "speed", t.Speed())

	for {
		speed := t.Speed()
		if speed <= 0 {
			// Paused: sleep briefly and check again.
			select {
			case <-time.After(100 * time.Millisecond):
				continue
			case <-t.stop:
				slog.Info("tick scheduler stopped")
				return
			case <-ctx.Done():
				slog.Info("tick scheduler stopped", "reason", ctx.Err())
				return
			}
		}

		start := time.Now()
		if _, err := t.Engine.RunTick(ctx); err != nil {
			slog.Error("tick cycle failed", "error", err)
		}

		target := time.Duration(float64(t.Interval) / speed)
		wait := target - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-time.After(wait):
		case <-t.stop:
			slog.Info("tick scheduler stopped")
			return
		case <-ctx.Done():
			slog.Info("tick scheduler stopped", "reason", ctx.Err())
			return
		}
	}
}

// Stop halts the scheduler.
func (t *Ticker) Stop() {
	close(t.stop)
}
