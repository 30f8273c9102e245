package notify

import (
	"context"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"repbot/internal/eventbus"
	"repbot/internal/transport"
)

// Service is the async dispatch pipeline between trigger firings and the
// messaging platform: bounded queue, worker pool, send rate limit, bounded
// retry with backoff. A failed dispatch is logged and reported on the bus;
// it never propagates back into scheduling.
type Service struct {
	mu sync.Mutex

	log     zerolog.Logger
	adapter transport.Adapter
	bus     eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	enqueueWG sync.WaitGroup

	queue    chan Notification
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, adapter transport.Adapter, bus eventbus.Bus, log zerolog.Logger) *Service {
	s := &Service{adapter: adapter, bus: bus, log: log}
	s.applyLocked(cfg)
	return s
}

// Apply updates tuning knobs live. Queue size and worker count take effect
// on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	// Burst equals the per-second rate so short spikes don't stall workers.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan Notification, s.cfg.QueueSize)
	s.accepting = true
	s.stopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	queue := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		idx := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().Int("worker", idx).Any("panic", r).Str("stack", string(debug.Stack())).Msg("panic in notify worker")
				}
			}()
			for n := range queue {
				select {
				case <-runCtx.Done():
					return
				default:
				}
				s.sendWithRetry(runCtx, n)
			}
		}()
	}
	s.log.Info().Int("workers", workers).Int("queue", cap(queue)).Msg("notifier started")
}

// Stop blocks new intake and drains the queue best-effort until ctx
// expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	done := s.stopDone
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	// Let in-flight enqueues finish before closing the channel.
	enqDone := make(chan struct{})
	go func() {
		s.enqueueWG.Wait()
		close(enqDone)
	}()
	select {
	case <-ctx.Done():
		cancel()
		return
	case <-enqDone:
	}
	close(q)

	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
	cancel()

	s.mu.Lock()
	s.queue = nil
	s.stopDone = nil
	s.runCtx = nil
	s.runCancel = nil
	s.mu.Unlock()
	s.log.Info().Msg("notifier stopped")
}

// Enqueue queues a notification without blocking. A full queue is an
// error; the caller decides whether that matters.
func (s *Service) Enqueue(n Notification) error {
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.enqueueWG.Add(1)
	s.mu.Unlock()
	defer s.enqueueWG.Done()

	select {
	case q <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) sendWithRetry(runCtx context.Context, n Notification) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(runCtx); err != nil {
			return
		}

		callCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
		var err error
		if n.Options != nil {
			_, err = s.adapter.SendPrompt(callCtx, n.UserID, n.Text, n.Options)
		} else {
			_, err = s.adapter.SendText(callCtx, n.UserID, n.Text)
		}
		cancel()

		if err == nil {
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{
					Type: eventbus.TypeReminderSent,
					Data: eventbus.UserEvent{UserID: n.UserID, Slot: n.Slot},
				})
			}
			return
		}
		lastErr = err
		s.log.Debug().Err(err).Int64("user_id", n.UserID).Int("attempt", attempt).Int("max", maxAttempts).Msg("send failed")

		if attempt < maxAttempts {
			delay := retryDelay(cfg, attempt)
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-runCtx.Done():
				t.Stop()
				return
			}
		}
	}

	// Swallowed by design: the trigger's next occurrence stays active.
	s.log.Warn().Err(lastErr).Int64("user_id", n.UserID).Str("slot", n.Slot).Msg("dispatch failed; will retry at next occurrence")
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeReminderFailed,
			Data: eventbus.UserEvent{UserID: n.UserID, Slot: n.Slot, Error: lastErr.Error()},
		})
	}
}

// retryDelay is exponential backoff with jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}
