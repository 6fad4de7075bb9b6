package sim

import (
	"log"
	"reflect"
	"sync"
	"sync/atomic"
)

// A SerialEngine runs events one at a time in time order. Events may be
// scheduled from other goroutines while it runs.
type SerialEngine struct {
	HookableBase

	timeLock sync.RWMutex
	now      VTimeInSec
	queue    EventQueue
	handled  atomic.Uint64

	// gate is held while an event runs and for as long as the engine is
	// paused.
	gate     sync.Mutex
	pauseMu  sync.Mutex
	paused   bool
	runMutex sync.Mutex
}

// NewSerialEngine creates a SerialEngine with an empty queue.
func NewSerialEngine() *SerialEngine {
	return &SerialEngine{queue: NewEventQueue()}
}

// Schedule queues evt. Scheduling an event earlier than the current time is
// a programming error.
func (e *SerialEngine) Schedule(evt Event) {
	if now := e.CurrentTime(); evt.Time() < now {
		log.Panicf("event %s scheduled at %.10f, now %.10f",
			reflect.TypeOf(evt), evt.Time(), now)
	}

	e.queue.Push(evt)
}

// Run handles events until the queue drains or a handler fails. Events
// scheduled after it returns are handled by the next call.
func (e *SerialEngine) Run() error {
	e.runMutex.Lock()
	defer e.runMutex.Unlock()

	for e.queue.Len() > 0 {
		if err := e.step(); err != nil {
			return err
		}
	}

	return nil
}

func (e *SerialEngine) step() error {
	e.gate.Lock()
	defer e.gate.Unlock()

	evt := e.queue.Pop()

	e.timeLock.Lock()
	if evt.Time() < e.now {
		e.timeLock.Unlock()
		log.Panicf("event %s at %.10f is in the past, now %.10f",
			reflect.TypeOf(evt), evt.Time(), e.now)
	}
	e.now = evt.Time()
	e.timeLock.Unlock()

	ctx := HookCtx{Domain: e, Pos: HookPosBeforeEvent, Item: evt}
	e.InvokeHook(ctx)

	err := evt.Handler().Handle(evt)
	e.handled.Add(1)

	ctx.Pos = HookPosAfterEvent
	e.InvokeHook(ctx)

	return err
}

// Pause waits for the event in progress and holds back the rest until
// Continue is called.
func (e *SerialEngine) Pause() {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()

	if e.paused {
		return
	}

	e.gate.Lock()
	e.paused = true
}

// Continue lets a paused engine handle events again.
func (e *SerialEngine) Continue() {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()

	if !e.paused {
		return
	}

	e.paused = false
	e.gate.Unlock()
}

// CurrentTime returns the time of the event being handled, or of the last
// one handled.
func (e *SerialEngine) CurrentTime() VTimeInSec {
	e.timeLock.RLock()
	defer e.timeLock.RUnlock()

	return e.now
}

// EventsHandled returns the number of events handled so far.
func (e *SerialEngine) EventsHandled() uint64 {
	return e.handled.Load()
}
