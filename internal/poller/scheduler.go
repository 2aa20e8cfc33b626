package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// OverlapPolicy decides what the scheduler does when a tick fires while the
// previous poll is still in flight.
type OverlapPolicy int

const (
	// OverlapSkip drops the tick; at most one poll runs at a time.
	OverlapSkip OverlapPolicy = iota

	// OverlapCancel cancels the in-flight poll's context and starts a new one.
	OverlapCancel

	// OverlapAllow starts a new poll regardless. Responses are applied in the
	// order they arrive, which is not necessarily send order.
	OverlapAllow
)

// String returns the policy name as used in configuration files.
func (p OverlapPolicy) String() string {
	switch p {
	case OverlapSkip:
		return "skip"
	case OverlapCancel:
		return "cancel"
	case OverlapAllow:
		return "allow"
	default:
		return "unknown"
	}
}

// PollFunc performs one poll cycle. The context is cancelled when the
// scheduler halts or, under [OverlapCancel], when the poll is superseded.
type PollFunc func(ctx context.Context)

// Scheduler fires a [PollFunc] immediately on start and then on every tick.
//
// Each poll runs in its own goroutine so a slow request never delays the
// ticker; the [OverlapPolicy] decides what happens on overlap.
//
// All lifecycle methods (Start, Halt, Stop, Reset) are safe for concurrent use.
type Scheduler struct {
	poll   PollFunc
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	mu             sync.Mutex
	interval       time.Duration
	policy         OverlapPolicy
	ticker         *time.Ticker
	started        bool
	stopped        bool
	inFlight       int
	cancelInFlight context.CancelFunc
	doneOnce       sync.Once
}

// NewScheduler creates a new polling [Scheduler].
//
// The scheduler must be started with [Scheduler.Start] and stopped with
// [Scheduler.Stop] or [Scheduler.Halt].
func NewScheduler(interval time.Duration, policy OverlapPolicy, poll PollFunc, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		poll:     poll,
		logger:   logger,
		interval: interval,
		policy:   policy,
		done:     make(chan struct{}),
	}
}

// Done returns a channel that is closed once the tick loop has exited and
// every in-flight poll has returned.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Start begins the polling loop in a background goroutine.
//
// Start is non-blocking. The scheduler polls once immediately, then on every
// tick until [Scheduler.Halt] or [Scheduler.Stop] is called or ctx is
// cancelled. Start is idempotent; if Stop was called before Start, Start is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	loopCtx := s.ctx // capture under lock to avoid race
	s.ticker = time.NewTicker(s.interval)
	ticker := s.ticker
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		s.wg.Wait()
		s.closeDone()
	}()

	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		s.dispatch(loopCtx)

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.dispatch(loopCtx)
			}
		}
	}()
}

// Halt cancels the loop and any in-flight poll without waiting.
//
// Halt is safe to call from inside a PollFunc. Use [Scheduler.Done] to wait
// for the loop to exit.
func (s *Scheduler) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	if !s.started {
		s.closeDone()
	}
}

// Stop halts the scheduler and waits for the loop and all in-flight polls to
// return.
//
// Stop is idempotent. It must not be called from inside a PollFunc, since it
// waits for that poll to finish.
func (s *Scheduler) Stop() {
	s.Halt()
	<-s.done
}

// Reset changes the tick interval. The next tick fires one full interval
// after the call.
func (s *Scheduler) Reset(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = interval
	if s.ticker != nil {
		s.ticker.Reset(interval)
	}
}

// SetPolicy changes the overlap policy for subsequent ticks.
func (s *Scheduler) SetPolicy(policy OverlapPolicy) {
	s.mu.Lock()
	s.policy = policy
	s.mu.Unlock()
}

// InFlight reports how many polls are currently running.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *Scheduler) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// dispatch applies the overlap policy and starts a poll goroutine.
func (s *Scheduler) dispatch(ctx context.Context) {
	s.mu.Lock()
	if s.stopped || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}

	if s.inFlight > 0 {
		switch s.policy {
		case OverlapSkip:
			s.mu.Unlock()
			s.logger.Debug("poll still in flight, skipping tick")
			return
		case OverlapCancel:
			if s.cancelInFlight != nil {
				s.cancelInFlight()
			}
			s.logger.Debug("poll still in flight, cancelling it")
		}
	}

	pollCtx, cancel := context.WithCancel(ctx)
	s.cancelInFlight = cancel
	s.inFlight++
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			s.inFlight--
			s.mu.Unlock()
		}()
		s.poll(pollCtx)
	}()
}
