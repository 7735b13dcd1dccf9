package hid

import (
	"context"
	"sync"
	"time"

	"github.com/onekvm-go/core/internal/health"
	"github.com/onekvm-go/core/internal/logging"
	"github.com/onekvm-go/core/internal/workerpool"
)

var log = logging.L("hid")

const (
	queueCapacity    = 64
	nonMoveSendDelay = 30 * time.Millisecond
)

// EventKind discriminates the four operations the controller queues.
type EventKind int

const (
	EventKeyboardKind EventKind = iota
	EventMouseKind
	EventConsumerKind
	EventResetKind
)

// HidEvent is one queued unit of work dispatched to the active backend.
type HidEvent struct {
	Kind      EventKind
	Keyboard  KeyboardEvent
	Mouse     MouseEvent
	Consumer  uint16
}

// Controller owns exactly one active backend and a bounded queue of
// HidEvents. A single worker goroutine dequeues, dispatches to
// the backend through a worker pool (the Go stand-in for spawn_blocking,
// since the device write is a blocking syscall), waits for that write to
// finish before taking the next event, and updates the health
// monitor on success/failure. Pure mouse-move events whose queue
// submission would block are coalesced into a single pending-move slot
// instead of being dropped.
type Controller struct {
	mu      sync.RWMutex
	backend Backend
	monitor *health.Monitor

	queue chan HidEvent

	pendingMu   sync.Mutex
	pendingMove *MouseEvent

	pool *workerpool.Pool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController creates a Controller with no backend attached. Call
// Reload to install one.
func NewController(monitor *health.Monitor) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		monitor: monitor,
		queue:   make(chan HidEvent, queueCapacity),
		pool:    workerpool.New(1, queueCapacity),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

// Reload shuts down the current backend (if any), initializes new, resets
// the health monitor, and reports readiness via the event publisher. The
// publisher call itself happens through the monitor's EventPublisher, so
// this package never needs to know about AudioXxx/HidXxx event structs.
func (c *Controller) Reload(ctx context.Context, newBackend Backend, publishState func(initialized bool, errorCode string)) error {
	c.mu.Lock()
	old := c.backend
	c.mu.Unlock()

	if old != nil {
		_ = old.Shutdown(ctx)
	}

	err := newBackend.Init(ctx)

	c.mu.Lock()
	c.backend = newBackend
	c.mu.Unlock()

	if c.monitor != nil {
		c.monitor.ReportRecovered(newBackend.Name())
	}

	errCode := ""
	if err != nil {
		errCode = "init_failed"
	}
	if publishState != nil {
		publishState(err == nil, errCode)
	}
	return err
}

// SendKeyboard enqueues a keyboard event, blocking up to 30ms if the
// queue is momentarily full.
func (c *Controller) SendKeyboard(ev KeyboardEvent) {
	c.enqueueBounded(HidEvent{Kind: EventKeyboardKind, Keyboard: ev})
}

// SendMouse enqueues a mouse event. Pure moves coalesce into the pending
// slot instead of blocking or dropping when the queue is full; all other
// mouse actions go through the bounded send/drop path.
func (c *Controller) SendMouse(ev MouseEvent) {
	if ev.Action == MouseMove || ev.Action == MouseMoveAbs {
		select {
		case c.queue <- HidEvent{Kind: EventMouseKind, Mouse: ev}:
			return
		default:
		}

		c.pendingMu.Lock()
		v := ev
		c.pendingMove = &v
		c.pendingMu.Unlock()
		return
	}

	c.enqueueBounded(HidEvent{Kind: EventMouseKind, Mouse: ev})
}

// SendConsumer enqueues a consumer-control usage code.
func (c *Controller) SendConsumer(usage uint16) {
	c.enqueueBounded(HidEvent{Kind: EventConsumerKind, Consumer: usage})
}

// SendReset enqueues a reset event; reset events are always enqueued
// normally, never dropped.
func (c *Controller) SendReset() {
	c.queue <- HidEvent{Kind: EventResetKind}
}

// enqueueBounded attempts an immediate send, then a 30ms bounded send,
// then drops with a warning (throttling for non-move events).
func (c *Controller) enqueueBounded(ev HidEvent) {
	select {
	case c.queue <- ev:
		return
	default:
	}

	timer := time.NewTimer(nonMoveSendDelay)
	defer timer.Stop()

	select {
	case c.queue <- ev:
	case <-timer.C:
		log.Warn("hid queue full, dropping non-move event", "kind", ev.Kind)
	}
}

func (c *Controller) run() {
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.queue:
			c.dispatch(ev)
			isMove := ev.Kind == EventMouseKind && (ev.Mouse.Action == MouseMove || ev.Mouse.Action == MouseMoveAbs)
			if !isMove || len(c.queue) == 0 {
				c.flushPendingMove()
			}
		}
	}
}

// flushPendingMove writes the most recently coalesced move, if any. The
// worker calls it after every non-move event — never coalescing a move
// across a button edge — and whenever the queue has drained, so the
// latest cursor target is written after the older queued moves.
func (c *Controller) flushPendingMove() {
	c.pendingMu.Lock()
	move := c.pendingMove
	c.pendingMove = nil
	c.pendingMu.Unlock()

	if move != nil {
		c.dispatch(HidEvent{Kind: EventMouseKind, Mouse: *move})
	}
}

func (c *Controller) dispatch(ev HidEvent) {
	c.mu.RLock()
	backend := c.backend
	c.mu.RUnlock()

	if backend == nil {
		return
	}

	done := make(chan struct{})
	if !c.pool.Submit(func() {
		defer close(done)
		var err error
		switch ev.Kind {
		case EventKeyboardKind:
			err = backend.SendKeyboard(c.ctx, ev.Keyboard)
		case EventMouseKind:
			err = backend.SendMouse(c.ctx, ev.Mouse)
		case EventConsumerKind:
			err = backend.SendConsumer(c.ctx, ev.Consumer)
		case EventResetKind:
			err = backend.Reset(c.ctx)
		}

		if c.monitor == nil {
			return
		}

		if err == nil {
			c.monitor.ReportRecovered(backend.Name())
			return
		}

		if hidErr, ok := err.(*Error); ok {
			if hidErr.Code == CodeEAGAINRTY {
				return
			}
			c.monitor.ReportError(backend.Name(), hidErr.Reason, hidErr.Code)
			return
		}
		c.monitor.ReportError(backend.Name(), err.Error(), CodeIOError)
	}) {
		return
	}
	<-done
}

// Close stops the controller's worker and drains the backend dispatch
// pool.
func (c *Controller) Close() {
	c.cancel()
	<-c.done
	c.pool.Shutdown(context.Background())
}
