// Package dispatcher serializes outbound messages through a single rate-limited worker.
package dispatcher

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"gigwatch/internal/metrics"
	rtsup "gigwatch/internal/runtime/supervisor"
	kit "gigwatch/internal/transport"
	"gigwatch/pkg/logx"

	"golang.org/x/time/rate"
)

// Dispatcher is an unbounded FIFO drained by one worker.
//
// It is safe for concurrent use. Enqueue never blocks.
type Dispatcher struct {
	log     logx.Logger
	sender  kit.Sender
	metrics *metrics.Metrics

	cfg     Config
	limiter *rate.Limiter

	mu        sync.Mutex
	queue     []Message
	accepting bool
	stopping  bool
	sup       *rtsup.Supervisor
	stopDone  chan struct{}

	signal chan struct{}
	stopCh chan struct{}
}

func New(cfg Config, sender kit.Sender, log logx.Logger, m *metrics.Metrics) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Dispatcher{
		log:       log,
		sender:    sender,
		metrics:   m,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.GlobalPerSec), 1),
		accepting: true,
		signal:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Enqueue appends m to the queue. Messages enqueued before Start are kept until the worker runs.
func (d *Dispatcher) Enqueue(m Message) error {
	if strings.TrimSpace(m.Text) == "" {
		return ErrEmptyMessage
	}
	d.mu.Lock()
	if !d.accepting {
		d.mu.Unlock()
		return ErrStopped
	}
	d.queue = append(d.queue, m)
	depth := len(d.queue)
	d.mu.Unlock()

	d.metrics.Queued(depth)
	select {
	case d.signal <- struct{}{}:
	default:
	}
	return nil
}

// Len reports the number of messages waiting.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Start launches the worker. It is idempotent.
func (d *Dispatcher) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	if d.sup != nil || d.stopping {
		d.mu.Unlock()
		return
	}
	d.sup = rtsup.New(ctx,
		rtsup.WithLogger(d.log),
		rtsup.WithCancelOnError(false),
	)
	sup := d.sup
	d.mu.Unlock()

	sup.GoRestart("worker", d.workerLoop,
		rtsup.WithRestartBackoff(d.cfg.ErrorPause, 30*time.Second),
		rtsup.WithPublishFirstError(true),
	)
}

// Stop rejects new messages and lets the worker drain the queue until ctx is done,
// then cancels it. Messages still queued at that point are lost.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	if d.stopping {
		done := d.stopDone
		d.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.accepting = false
	d.stopping = true
	close(d.stopCh)
	sup := d.sup
	if sup == nil {
		d.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	d.stopDone = done
	d.mu.Unlock()

	go func() {
		defer close(done)
		_ = sup.Wait(context.Background())
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		sup.Cancel()
		if left := d.Len(); left > 0 {
			d.log.Warn("dispatcher stopped with undelivered messages", logx.Int("dropped", left))
		}
		return ctx.Err()
	}
}

func (d *Dispatcher) next() (Message, bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return Message{}, false, d.stopping
	}
	m := d.queue[0]
	d.queue[0] = Message{}
	d.queue = d.queue[1:]
	if len(d.queue) == 0 {
		d.queue = nil
	}
	return m, true, d.stopping
}

func (d *Dispatcher) workerLoop(ctx context.Context) error {
	for {
		m, ok, stopping := d.next()
		if !ok {
			if stopping {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.signal:
			case <-d.stopCh:
			}
			continue
		}
		if err := d.deliver(ctx, m); err != nil {
			return err
		}
	}
}

// deliver makes exactly one send attempt. It only returns an error when ctx ends.
func (d *Dispatcher) deliver(ctx context.Context, m Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatcher send panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())),
				logx.Int64("chat_id", m.Recipient.ChatID))
			err = sleepCtx(ctx, d.cfg.ErrorPause)
		}
	}()

	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	opts := m.Options
	if opts == nil {
		opts = &kit.SendOptions{ParseMode: kit.ParseMarkdown}
	}
	// A send in flight is bounded by the transport's own HTTP timeout, not by ctx.
	_, sendErr := d.sender.SendText(ctx, m.Recipient, m.Text, opts)

	if sendErr != nil {
		derr := &DeliveryError{Recipient: m.Recipient, Err: sendErr}
		var se *kit.SendError
		if errors.As(sendErr, &se) {
			derr.Code = se.Code
		}
		d.metrics.SendFailed(strconv.Itoa(derr.Code), d.Len())
		d.log.Warn("message dropped", logx.Int64("chat_id", m.Recipient.ChatID), logx.Int("code", derr.Code), logx.Err(derr))
	} else {
		d.metrics.Sent(d.Len())
	}

	return sleepCtx(ctx, d.cfg.SendInterval)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
