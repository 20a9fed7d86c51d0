// Package dispatch serializes mutating work into a single logical execution
// order, buffering calls made before the orchestrator has finished
// initializing.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"
)

// Mode selects how the dispatcher schedules tasks it has accepted.
type Mode int

const (
	// ModeAsync runs one task at a time on a dedicated worker goroutine.
	// Suspension points are exactly the boundaries between dispatched tasks.
	ModeAsync Mode = iota
	// ModeSync drains the queue inline, on the caller's goroutine, every
	// time a task is dispatched while the dispatcher is Idle.
	ModeSync
)

// State is one node of the dispatcher's lifecycle FSM.
type State int32

const (
	Uninitialized State = iota
	Idle
	Processing
	Stopped
	Shutdown
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Idle:
		return "idle"
	case Processing:
		return "processing"
	case Stopped:
		return "stopped"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// DefaultMaxPreInitQueueSize bounds how many calls made before FlushInit
// are buffered. Overflow is dropped with a logged warning.
const DefaultMaxPreInitQueueSize = 100

// Task is a unit of serialized, mutating work. It is an alias, not a
// defined type, so a *Dispatcher satisfies consumer-side interfaces
// (e.g. metric.Dispatcher) that spell the same signature out literally.
type Task = func(ctx context.Context) error

type kind int

const (
	kindTask kind = iota
	kindPersistent
	kindInit
	kindTest
)

type command struct {
	kind     kind
	fn       Task
	testDone chan struct{}
}

// Dispatcher serializes Task execution. All mutating work in the SDK is
// expected to flow through a single Dispatcher instance.
//
// Commands submitted before FlushInit accumulate in a bounded pre-init
// queue (matching the teacher's pattern of buffering work until the
// process's init phase completes) and are drained, in order, the moment
// FlushInit runs. The queue itself stays a mutex-guarded slice, since
// Clear must drop arbitrary queued entries and ModeSync must drain it
// inline on the caller's goroutine with no scheduling gap — properties a
// channel-backed queue can't give us. State/stop signaling, and the
// worker's wake-up, are what actually flow through go.uber.org/atomic and
// the chann-backed mailbox below (§4.1).
type Dispatcher struct {
	mu                  sync.Mutex
	state               State
	mode                Mode
	log                 log.Logger
	queue               []command
	preInit             []command
	maxPreInitQueueSize int
	preInitDropped      int
	onInitTaskFailure   func()

	// stopRequested is set by Stop and consumed by the worker loop right
	// after the in-flight task settles (or immediately, if nothing is
	// in flight) — a lock-free idempotency flag in the same style as the
	// teacher's stopCalled fields (network/loop.go, network/write.go).
	stopRequested atomic.Bool
	// shuttingDown lets submit reject new work without taking mu, once
	// Shutdown has been called.
	shuttingDown atomic.Bool

	// ctrl wakes the ModeAsync worker goroutine whenever a state
	// transition (new task, Resume, FlushInit, Shutdown) needs it to
	// re-evaluate the FSM; it carries no queue data of its own.
	ctrl         *mailbox[struct{}]
	workerLaunch bool

	// OnPreInitDrop, if set, is called whenever a pre-init task is
	// dropped for exceeding maxPreInitQueueSize (self-observability hook).
	OnPreInitDrop func()
	// OnQueueDepthChanged, if set, is called with the current main-queue
	// length after every enqueue or dequeue (self-observability hook).
	OnQueueDepthChanged func(depth int)
}

// New creates a Dispatcher in the Uninitialized state. onInitTaskFailure,
// if non-nil, is invoked (after Clear+Shutdown) when an InitTask returns an
// error — this is the orchestrator's hook to tear the rest of the SDK down.
func New(mode Mode, logger log.Logger, onInitTaskFailure func()) *Dispatcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	d := &Dispatcher{
		state:               Uninitialized,
		mode:                mode,
		log:                 logger,
		maxPreInitQueueSize: DefaultMaxPreInitQueueSize,
		ctrl:                newMailbox[struct{}](),
		onInitTaskFailure:   onInitTaskFailure,
	}
	return d
}

// SetMaxPreInitQueueSize overrides the default pre-init buffering limit.
// Must be called before any task is dispatched.
func (d *Dispatcher) SetMaxPreInitQueueSize(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxPreInitQueueSize = n
}

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// PreInitDropped reports how many commands submitted before FlushInit
// were dropped for exceeding the pre-init queue limit.
func (d *Dispatcher) PreInitDropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.preInitDropped
}

// Task enqueues fn for serialized execution. It never blocks waiting for
// fn to run.
func (d *Dispatcher) Task(fn Task) {
	d.submit(command{kind: kindTask, fn: fn})
}

// PersistentTask enqueues fn the same way Task does, except a subsequent
// Clear will not drop it.
func (d *Dispatcher) PersistentTask(fn Task) {
	d.submit(command{kind: kindPersistent, fn: fn})
}

// InitTask enqueues fn as the one kind of task allowed to shut the whole
// dispatcher down on failure.
func (d *Dispatcher) InitTask(fn Task) {
	d.submit(command{kind: kindInit, fn: fn})
}

// TestTask enqueues fn and returns a channel that is closed once fn has
// run, or immediately if a Clear/Shutdown drops it first — tests can
// select on it without risking a deadlock.
func (d *Dispatcher) TestTask(fn Task) <-chan struct{} {
	done := make(chan struct{})
	d.submit(command{kind: kindTest, fn: fn, testDone: done})
	return done
}

func (d *Dispatcher) submit(c command) {
	if d.shuttingDown.Load() {
		if c.testDone != nil {
			close(c.testDone)
		}
		return
	}
	d.mu.Lock()
	if d.state == Shutdown {
		d.mu.Unlock()
		if c.testDone != nil {
			close(c.testDone)
		}
		return
	}
	if d.state == Uninitialized {
		if len(d.preInit) >= d.maxPreInitQueueSize {
			d.preInitDropped++
			d.mu.Unlock()
			level.Warn(d.log).Log("msg", "pre-init queue full, dropping task", "max", d.maxPreInitQueueSize)
			if d.OnPreInitDrop != nil {
				d.OnPreInitDrop()
			}
			if c.testDone != nil {
				close(c.testDone)
			}
			return
		}
		d.preInit = append(d.preInit, c)
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, c)
	depth := len(d.queue)
	d.mu.Unlock()
	d.reportDepth(depth)
	d.triggerExecution()
}

func (d *Dispatcher) reportDepth(depth int) {
	if d.OnQueueDepthChanged != nil {
		d.OnQueueDepthChanged(depth)
	}
}

// FlushInit transitions Uninitialized -> Idle, moves every buffered
// pre-init command to the front of the main queue in order, and starts
// processing.
func (d *Dispatcher) FlushInit() {
	d.mu.Lock()
	if d.state != Uninitialized {
		d.mu.Unlock()
		return
	}
	d.state = Idle
	d.queue = append(d.preInit, d.queue...)
	d.preInit = nil
	depth := len(d.queue)
	d.mu.Unlock()
	d.reportDepth(depth)
	d.triggerExecution()
}

// Stop pauses processing after the in-flight task (if any) settles.
// Queued commands are preserved.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	switch d.state {
	case Shutdown, Stopped:
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	d.stopRequested.Store(true)
	d.triggerExecution()
}

// Resume transitions Stopped -> Idle and resumes processing.
func (d *Dispatcher) Resume() {
	d.mu.Lock()
	if d.state != Stopped {
		d.mu.Unlock()
		return
	}
	d.state = Idle
	d.mu.Unlock()
	d.triggerExecution()
}

// Clear drops every queued command except PersistentTask and Shutdown,
// and resolves the test-done channel of every dropped TestTask so callers
// never deadlock on it.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	kept := d.queue[:0]
	for _, c := range d.queue {
		if c.kind == kindPersistent {
			kept = append(kept, c)
			continue
		}
		if c.testDone != nil {
			close(c.testDone)
		}
	}
	d.queue = kept
	depth := len(d.queue)
	d.mu.Unlock()
	d.reportDepth(depth)
}

// Shutdown clears the queue and irreversibly transitions to Shutdown.
// Any in-flight task is allowed to settle first.
func (d *Dispatcher) Shutdown() {
	d.Clear()
	d.mu.Lock()
	if d.state == Shutdown {
		d.mu.Unlock()
		return
	}
	d.state = Shutdown
	d.mu.Unlock()
	d.shuttingDown.Store(true)
	if d.mode == ModeAsync {
		d.ctrl.TrySend(struct{}{})
	}
}

// triggerExecution schedules processing of the queue. In ModeSync it runs
// inline on the caller's goroutine; in ModeAsync it wakes (or starts) the
// worker goroutine.
func (d *Dispatcher) triggerExecution() {
	if d.mode == ModeSync {
		d.drainSync()
		return
	}
	d.ctrl.TrySend(struct{}{})
	d.mu.Lock()
	started := d.workerLaunch
	d.workerLaunch = true
	d.mu.Unlock()
	if !started {
		go d.runAsync()
	}
}

// applyStopRequestLocked consumes a pending Stop request, transitioning
// Idle/Processing -> Stopped. Must be called with mu held.
func (d *Dispatcher) applyStopRequestLocked() {
	if d.stopRequested.Swap(false) && d.state != Shutdown {
		d.state = Stopped
	}
}

func (d *Dispatcher) drainSync() {
	for {
		d.mu.Lock()
		d.applyStopRequestLocked()
		if d.state != Idle || len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		c := d.queue[0]
		d.queue = d.queue[1:]
		depth := len(d.queue)
		d.state = Processing
		d.mu.Unlock()
		d.reportDepth(depth)

		d.run(context.Background(), c)

		d.mu.Lock()
		d.applyStopRequestLocked()
		if d.state == Processing {
			d.state = Idle
		}
		d.mu.Unlock()
	}
}

func (d *Dispatcher) runAsync() {
	ctx := context.Background()
	for {
		d.mu.Lock()
		d.applyStopRequestLocked()
		if d.state == Shutdown {
			d.mu.Unlock()
			d.ctrl.Close()
			return
		}
		if d.state != Idle || len(d.queue) == 0 {
			d.mu.Unlock()
			<-d.ctrl.Receive()
			continue
		}
		c := d.queue[0]
		d.queue = d.queue[1:]
		depth := len(d.queue)
		d.state = Processing
		d.mu.Unlock()
		d.reportDepth(depth)

		d.run(ctx, c)

		d.mu.Lock()
		d.applyStopRequestLocked()
		if d.state == Processing {
			d.state = Idle
		}
		d.mu.Unlock()
	}
}

// run executes a single command, applying InitTask escalation and TestTask
// resolution. A task that returns an error is logged and skipped — no
// panic or error ever propagates out of the dispatcher.
func (d *Dispatcher) run(ctx context.Context, c command) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		if c.fn != nil {
			err = c.fn(ctx)
		}
	}()

	if c.testDone != nil {
		close(c.testDone)
	}
	if err == nil {
		return
	}
	level.Error(d.log).Log("msg", "task failed", "err", err)
	if c.kind == kindInit {
		d.Clear()
		d.Shutdown()
		if d.onInitTaskFailure != nil {
			d.onInitTaskFailure()
		}
	}
}
