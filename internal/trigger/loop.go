// Package trigger re-runs a job on a schedule and keeps the process alive across failed runs.
package trigger

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"gigwatch/pkg/logx"

	"github.com/robfig/cron/v3"
)

const DefaultCooldown = time.Minute

// Loop runs Job on Schedule. A failed or panicking run is retried after Cooldown
// instead of waiting for the next scheduled time.
type Loop struct {
	Schedule   cron.Schedule
	Cooldown   time.Duration
	RunOnStart bool
	Job        func(ctx context.Context) error
	Log        logx.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Run blocks until ctx is done and returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	if l.Job == nil || l.Schedule == nil {
		return fmt.Errorf("trigger: job and schedule are required")
	}
	log := l.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := l.Now
	if now == nil {
		now = time.Now
	}
	cooldown := l.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	var lastErr error
	if l.RunOnStart {
		lastErr = l.runOnce(ctx, log)
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var wait time.Duration
		if lastErr != nil {
			wait = cooldown
			log.Error("check run failed, process continues; retrying after cooldown",
				logx.Err(lastErr), logx.Duration("cooldown", cooldown))
		} else {
			t := now()
			wait = l.Schedule.Next(t).Sub(t)
			log.Debug("next check scheduled", logx.Duration("in", wait))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		lastErr = l.runOnce(ctx, log)
	}
}

func (l *Loop) runOnce(ctx context.Context, log logx.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("check run panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	err = l.Job(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
