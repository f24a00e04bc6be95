package catalog

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source of a QuotaWindow.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Usage is a snapshot of a QuotaWindow.
type Usage struct {
	PeriodCount int
	PeriodLimit int
	PeriodStart time.Time
	SecondCount int
}

// QuotaWindow gates catalog calls by a per-second slot count and a per-period success count.
//
// Second slots are reserved when a call is admitted, so failed calls still occupy them.
// The period count only moves on success (or is pinned on 429).
type QuotaWindow struct {
	clock     Clock
	limit     int
	perSecond int
	period    time.Duration

	mu          sync.Mutex
	periodStart time.Time
	periodCount int
	secondStart time.Time
	secondCount int
}

func NewQuotaWindow(clock Clock, limit, perSecond int, period time.Duration) *QuotaWindow {
	if clock == nil {
		clock = realClock{}
	}
	now := clock.Now()
	return &QuotaWindow{
		clock:       clock,
		limit:       limit,
		perSecond:   perSecond,
		period:      period,
		periodStart: now,
		secondStart: now,
	}
}

// Acquire admits one call. It returns ErrQuotaExhausted without waiting when the period
// is used up, and otherwise blocks until a second slot is free.
func (q *QuotaWindow) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.mu.Lock()
		now := q.clock.Now()
		if now.Sub(q.periodStart) > q.period {
			q.periodStart = now
			q.periodCount = 0
		}
		if q.periodCount >= q.limit {
			q.mu.Unlock()
			return ErrQuotaExhausted
		}
		if now.Sub(q.secondStart) >= time.Second {
			q.secondStart = now
			q.secondCount = 0
		}
		if q.secondCount < q.perSecond {
			q.secondCount++
			q.mu.Unlock()
			return nil
		}
		wait := q.secondStart.Add(time.Second).Sub(now)
		q.mu.Unlock()

		if err := q.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (q *QuotaWindow) recordSuccess() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.periodCount++
	return q.periodCount
}

// pin marks the period as used up until it rolls over.
func (q *QuotaWindow) pin() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.periodCount = q.limit
	return q.periodCount
}

func (q *QuotaWindow) Usage() Usage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Usage{
		PeriodCount: q.periodCount,
		PeriodLimit: q.limit,
		PeriodStart: q.periodStart,
		SecondCount: q.secondCount,
	}
}
