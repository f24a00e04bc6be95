package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"gigwatch/pkg/logx"

	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in    string
		kind  SpecKind
		every time.Duration
		cron  string
	}{
		{"", SpecInterval, time.Hour, ""},
		{"1h", SpecInterval, time.Hour, ""},
		{"01:30", SpecInterval, 90 * time.Minute, ""},
		{"interval: 45m", SpecInterval, 45 * time.Minute, ""},
		{"every:00:05", SpecInterval, 5 * time.Minute, ""},
		{"@hourly", SpecCron, 0, "@hourly"},
		{"0 * * * *", SpecCron, 0, "0 * * * *"},
		{"cron: 30 9 * * 1-5", SpecCron, 0, "30 9 * * 1-5"},
	}
	for _, tc := range cases {
		p, err := ParseSchedule(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.kind, p.Kind, tc.in)
		require.Equal(t, tc.every, p.Every, tc.in)
		require.Equal(t, tc.cron, p.Cron, tc.in)

		s, err := p.Schedule()
		require.NoError(t, err, tc.in)
		require.NotNil(t, s)
	}
}

func TestParseScheduleRejects(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"soon", "-5m", "0s", "00:00", "cron:", "61 * * * * * *", "12:75"} {
		_, err := ParseSchedule(in)
		require.Error(t, err, in)
	}
}

func TestIntervalScheduleNext(t *testing.T) {
	p, err := ParseSchedule("1500ms")
	require.NoError(t, err)
	s, err := p.Schedule()
	require.NoError(t, err)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, base.Add(1500*time.Millisecond), s.Next(base))
}

func TestLoopRetriesAfterCooldown(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := &Loop{
		Schedule:   intervalSchedule(time.Hour),
		Cooldown:   10 * time.Millisecond,
		RunOnStart: true,
		Log:        logx.Nop(),
		Job: func(context.Context) error {
			switch calls.Add(1) {
			case 1:
				return errors.New("ledger corrupt")
			case 2:
				panic("unexpected nil")
			default:
				return nil
			}
		},
	}

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 3, calls.Load(), "success waits for the schedule, not the cooldown")

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on cancel")
	}
}

func TestLoopWaitsForScheduleWithoutRunOnStart(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	var firstAt atomic.Int64
	l := &Loop{
		Schedule: intervalSchedule(40 * time.Millisecond),
		Job: func(context.Context) error {
			if calls.Add(1) == 1 {
				firstAt.Store(int64(time.Since(start)))
			}
			return nil
		},
	}
	go func() { _ = l.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, time.Duration(firstAt.Load()), 40*time.Millisecond)
}
