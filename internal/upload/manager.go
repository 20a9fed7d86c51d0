// Package upload implements the ping upload manager: a single-in-flight
// worker loop that drains the pings database against a platform
// Uploader, governed by a retry policy and a sliding-window rate
// limiter (§4.7). Grounded directly on the teacher's network/loop.go
// (trySend/send/sendingCleanup/retryAfterDuration) — reused as the one
// in-flight send loop rather than the teacher's N-parallel
// writeBuffers; manager.go's multi-connection fan-out and
// parallelism.go's auto-scaling are not reused (§5 fixes a single
// in-flight ceiling as an invariant of this SDK).
package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.design/x/chann"

	"github.com/glean-go/telemetry/internal/pingsdb"
	"github.com/glean-go/telemetry/internal/platform"
)

// Default policy knobs (§4.7).
const (
	DefaultMaxRecoverableFailures = 3
	DefaultMaxWaitAttempts        = 3
	DefaultBackoffBase            = 15 * time.Second
	DefaultBackoffCap             = 4 * time.Minute
)

// HeadersFunc builds the request headers for one upload attempt.
type HeadersFunc func(entry pingsdb.Entry) map[string]string

// ResultHook is notified of the terminal outcome of each ping's
// processing, for self-observability wiring (§4.10) — never consulted
// for control flow.
type ResultHook func(pingName, outcome string)

// Manager drains Pings against Uploader with at most one HTTP request
// in flight (§4.7/§5).
type Manager struct {
	Log                    log.Logger
	Pings                  *pingsdb.Store
	Uploader               platform.Uploader
	Clock                  platform.Clock
	Limiter                *RateLimiter
	Headers                HeadersFunc
	MaxRecoverableFailures int
	MaxWaitAttempts        int
	BackoffBase            time.Duration
	BackoffCap             time.Duration
	OnDrop                 func(pingName, reason string)
	OnResult               ResultHook
	// OnThrottled, if set, is called each time the rate limiter forces the
	// worker loop to wait before a send (self-observability hook).
	OnThrottled func()

	wake       *chann.Chann[struct{}]
	stopCalled bool
	done       chan struct{}

	mu         sync.Mutex
	attempts   map[int64]int
	inFlight   bool
	inFlightID string
	settled    *sync.Cond
}

// NewManager constructs a Manager with default policy knobs where the
// corresponding field is left zero.
func NewManager(logger log.Logger, pings *pingsdb.Store, uploader platform.Uploader, clock platform.Clock, limiter *RateLimiter, headers HeadersFunc) *Manager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m := &Manager{
		Log:                    logger,
		Pings:                  pings,
		Uploader:               uploader,
		Clock:                  clock,
		Limiter:                limiter,
		Headers:                headers,
		MaxRecoverableFailures: DefaultMaxRecoverableFailures,
		MaxWaitAttempts:        DefaultMaxWaitAttempts,
		BackoffBase:            DefaultBackoffBase,
		BackoffCap:             DefaultBackoffCap,
		wake:                   chann.New[struct{}](chann.Cap(1)),
		done:                   make(chan struct{}),
		attempts:               make(map[int64]int),
	}
	m.settled = sync.NewCond(&m.mu)
	return m
}

// Notify wakes the worker loop after a new ping has been enqueued.
func (m *Manager) Notify() {
	select {
	case m.wake.In() <- struct{}{}:
	default:
	}
}

// Start runs the worker loop in its own goroutine until ctx is done or
// Stop is called.
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop halts the worker loop after the current attempt settles.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopCalled = true
	m.mu.Unlock()
	m.wake.Close()
	<-m.done
}

// BlockOnOngoingUploads resolves once no request is currently in
// flight (§4.7 Lifecycle).
func (m *Manager) BlockOnOngoingUploads() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.inFlight {
		m.settled.Wait()
	}
}

// ClearPendingPingsQueue drops every queued ping except one currently
// in flight whose document id is keepDocumentID (used when submitting
// a deletion-request ping while an ordinary upload is mid-flight;
// §4.7 Lifecycle).
func (m *Manager) ClearPendingPingsQueue(keepDocumentID string) error {
	m.mu.Lock()
	inFlight := m.inFlightID
	m.mu.Unlock()

	if keepDocumentID == "" || inFlight != keepDocumentID {
		return m.Pings.Clear()
	}
	entry, ok := m.Pings.Peek()
	if !ok || entry.DocumentID != keepDocumentID {
		return m.Pings.Clear()
	}
	return nil
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	for {
		if m.stoppedLocked() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		entry, ok := m.Pings.Peek()
		if !ok {
			poll := m.Clock.NewTimer(time.Second)
			select {
			case <-ctx.Done():
				poll.Stop()
				return
			case _, chOk := <-m.wake.Out():
				poll.Stop()
				if !chOk {
					return
				}
				continue
			case <-poll.Chan():
				continue
			}
		}

		if wait := m.Limiter.Wait(); wait > 0 {
			if m.OnThrottled != nil {
				m.OnThrottled()
			}
			waitTimer := m.Clock.NewTimer(wait)
			select {
			case <-ctx.Done():
				waitTimer.Stop()
				return
			case <-waitTimer.Chan():
			}
			continue
		}

		m.process(ctx, entry)
	}
}

func (m *Manager) stoppedLocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalled
}

func (m *Manager) process(ctx context.Context, entry pingsdb.Entry) {
	m.mu.Lock()
	m.inFlight = true
	m.inFlightID = entry.DocumentID
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.inFlightID = ""
		m.settled.Broadcast()
		m.mu.Unlock()
	}()

	if !m.Limiter.Allow() {
		return
	}

	headers := map[string]string{}
	if m.Headers != nil {
		headers = m.Headers(entry)
	}
	result := m.Uploader.Post(entry.Path, entry.Body, headers)

	switch result.Status {
	case platform.StatusSuccess:
		m.finish(entry, "success")
	case platform.StatusDone:
		level.Debug(m.Log).Log("msg", "upload policy returned Done", "ping", entry.PingName)
	case platform.StatusHTTPStatus:
		if result.Code/100 == 4 {
			m.drop(entry, fmt.Sprintf("http_%d", result.Code))
			return
		}
		m.retry(ctx, entry, result.RetryAfter)
	default: // StatusRecoverableFailure
		m.retry(ctx, entry, result.RetryAfter)
	}
}

func (m *Manager) finish(entry pingsdb.Entry, outcome string) {
	m.mu.Lock()
	delete(m.attempts, entry.ID)
	m.mu.Unlock()
	if err := m.Pings.Dequeue(entry.ID); err != nil {
		level.Error(m.Log).Log("msg", "failed to dequeue uploaded ping", "ping", entry.PingName, "err", err)
	}
	m.report(entry.PingName, outcome)
}

func (m *Manager) drop(entry pingsdb.Entry, reason string) {
	m.mu.Lock()
	delete(m.attempts, entry.ID)
	m.mu.Unlock()
	if err := m.Pings.Dequeue(entry.ID); err != nil {
		level.Error(m.Log).Log("msg", "failed to dequeue rejected ping", "ping", entry.PingName, "err", err)
	}
	if m.OnDrop != nil {
		m.OnDrop(entry.PingName, reason)
	}
	m.report(entry.PingName, reason)
}

func (m *Manager) retry(ctx context.Context, entry pingsdb.Entry, serverWait time.Duration) {
	m.mu.Lock()
	m.attempts[entry.ID]++
	attempt := m.attempts[entry.ID]
	m.mu.Unlock()

	maxFailures := m.MaxRecoverableFailures
	if maxFailures <= 0 {
		maxFailures = DefaultMaxRecoverableFailures
	}
	if attempt >= maxFailures {
		m.drop(entry, "recoverable_failures_exhausted")
		return
	}

	wait := serverWait
	if wait <= 0 {
		wait = m.backoff(attempt)
	}
	timer := m.Clock.NewTimer(wait)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.Chan():
	}
}

// backoff computes the exponential wait for a given attempt number
// (1-indexed): BackoffBase (15s by default), doubled once per attempt
// after the first for at most MaxWaitAttempts doublings, and never more
// than BackoffCap (§4.7).
func (m *Manager) backoff(attempt int) time.Duration {
	base := m.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}
	ceiling := m.BackoffCap
	if ceiling <= 0 {
		ceiling = DefaultBackoffCap
	}
	maxDoublings := m.MaxWaitAttempts
	if maxDoublings <= 0 {
		maxDoublings = DefaultMaxWaitAttempts
	}
	doublings := attempt - 1
	if doublings > maxDoublings {
		doublings = maxDoublings
	}
	d := base
	for i := 0; i < doublings; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}

func (m *Manager) report(pingName, outcome string) {
	if m.OnResult != nil {
		m.OnResult(pingName, outcome)
	}
}
