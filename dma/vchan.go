package dma

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Status is the state of a virtual channel or of one of its requests.
type Status int

// Possible statuses.
const (
	StatusIdle Status = iota
	StatusPending
	StatusActive
	StatusPaused
	StatusComplete
	StatusError
)

var statusNames = [...]string{
	"idle", "pending", "active", "paused", "complete", "error",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}

	return statusNames[s]
}

// TxState is the answer to a status query.
type TxState struct {
	Status  Status
	Residue uint64
}

// A VirtualChannel is the handle one peripheral driver uses to move data.
// Requests submitted on one channel run in submission order.
type VirtualChannel struct {
	engine *Engine
	id     int

	mu       sync.Mutex
	acquired bool
	port     uint8
	cfg      SlaveConfig
	callback Callback

	queue   []*Request
	current *Request
	irqType uint32
	status  Status
	periods uint64
	epoch   uint64

	lastCookie Cookie
	outcomes   map[Cookie]Status

	// Guarded by Engine.lock.
	pchan   *PhysicalChannel
	waiting bool
}

func newVirtualChannel(e *Engine, id int) *VirtualChannel {
	return &VirtualChannel{engine: e, id: id}
}

// reset prepares a free slot for a new owner. c.mu must be held.
func (c *VirtualChannel) reset(port uint8) {
	c.acquired = true
	c.port = port
	c.cfg = SlaveConfig{}
	c.callback = nil
	c.queue = nil
	c.current = nil
	c.status = StatusIdle
	c.periods = 0
	c.lastCookie = 0
	c.outcomes = make(map[Cookie]Status)
}

// ID returns the slot index of the channel.
func (c *VirtualChannel) ID() int {
	return c.id
}

// Port returns the request port the channel serves.
func (c *VirtualChannel) Port() uint8 {
	return c.port
}

// Status returns the logical status of the channel.
func (c *VirtualChannel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status
}

func (c *VirtualChannel) logger() *logrus.Entry {
	return c.engine.log.WithFields(logrus.Fields{
		"vchan": c.id,
		"port":  c.port,
	})
}

// Release terminates everything on the channel and returns the slot.
func (c *VirtualChannel) Release() {
	c.TerminateAll()

	c.engine.slotLock.Lock()
	defer c.engine.slotLock.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.acquired = false
	c.callback = nil
	c.outcomes = nil
	c.logger().Debug("virtual channel released")
}

// Configure sets the bus configuration used by later builds on the channel.
func (c *VirtualChannel) Configure(cfg SlaveConfig) error {
	if err := c.engine.caps.checkSlaveConfig(cfg); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg = cfg

	return nil
}

// Config returns the current bus configuration.
func (c *VirtualChannel) Config() SlaveConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cfg
}

// RegisterCallback sets the callback used for requests that carry none.
func (c *VirtualChannel) RegisterCallback(cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.callback = cb
}

// UnregisterCallback removes the channel callback.
func (c *VirtualChannel) UnregisterCallback() {
	c.RegisterCallback(nil)
}

// PrepCopy builds a memory to memory copy.
func (c *VirtualChannel) PrepCopy(src, dst, length uint32) (*Request, error) {
	return c.engine.builder.BuildCopy(src, dst, length)
}

// PrepScatterGather builds a peripheral transfer with the channel's port and
// configuration.
func (c *VirtualChannel) PrepScatterGather(
	dir Direction,
	segments []Segment,
) (*Request, error) {
	port, cfg := c.portAndConfig()
	return c.engine.builder.BuildScatterGather(dir, segments, port, cfg)
}

// PrepCyclic builds a cyclic ring with the channel's port and configuration.
func (c *VirtualChannel) PrepCyclic(
	buf, bufLen, periodLen uint32,
	dir Direction,
) (*Request, error) {
	port, cfg := c.portAndConfig()
	return c.engine.builder.BuildCyclic(buf, bufLen, periodLen, dir, port, cfg)
}

func (c *VirtualChannel) portAndConfig() (uint8, SlaveConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.port, c.cfg
}

// Submit queues req on the channel. The hardware is not touched.
func (c *VirtualChannel) Submit(req *Request) (Cookie, error) {
	if req == nil || req.head == noTask || req.pool != c.engine.pool {
		return 0, fmt.Errorf("%w: not a request of this engine", ErrInvalidArgument)
	}

	var d deferred

	c.mu.Lock()
	if !c.acquired {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: channel %d is released", ErrInvalidArgument, c.id)
	}

	if req.cookie != 0 {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: request already submitted as %d",
			ErrInvalidArgument, req.cookie)
	}

	c.lastCookie++
	cookie := c.lastCookie
	req.cookie = cookie
	c.queue = append(c.queue, req)

	if c.current == nil && c.status != StatusPaused {
		c.status = StatusPending
	}

	c.engine.hook(&d, HookPosSubmit, c.info(req, nil))
	c.mu.Unlock()

	c.engine.metrics.Submitted.Inc()
	d.run()

	return cookie, nil
}

// IssuePending starts the head of the queue if the channel is idle. It
// returns ErrBusy when the chosen physical channel had to be reset; the
// request stays queued.
func (c *VirtualChannel) IssuePending() error {
	var d deferred

	c.mu.Lock()
	err := c.engine.xfer(c, nil, &d)
	c.mu.Unlock()

	d.run()

	return err
}

// Pause freezes the transfer in flight. Queued requests of a paused channel
// are not started until Resume.
func (c *VirtualChannel) Pause() {
	e := c.engine

	c.mu.Lock()
	defer c.mu.Unlock()

	e.lock.Lock()
	if p := c.pchan; p != nil {
		e.regs.Write32(p.base+RegChPause, 1)
	}
	e.removeWaitingLocked(c)
	e.lock.Unlock()

	c.status = StatusPaused
}

// Resume continues a paused transfer, or starts the head of the queue when
// nothing was in flight.
func (c *VirtualChannel) Resume() error {
	var d deferred
	e := c.engine

	c.mu.Lock()

	e.lock.Lock()
	bound := c.pchan != nil
	if bound {
		e.regs.Write32(c.pchan.base+RegChPause, 0)
	}
	e.lock.Unlock()

	var err error
	switch {
	case bound && c.current != nil:
		c.status = StatusActive
	case len(c.queue) > 0:
		c.status = StatusPending
		err = e.xfer(c, nil, &d)
	default:
		c.status = StatusIdle
	}

	c.mu.Unlock()
	d.run()

	return err
}

// TerminateAll stops the channel and discards every request on it. A cyclic
// request in flight counts as complete; everything else reports idle. No
// callback of the channel fires after it returns, including those of
// requests that completed just before.
func (c *VirtualChannel) TerminateAll() {
	var d deferred
	e := c.engine

	c.mu.Lock()

	e.lock.Lock()
	p := c.pchan
	if p != nil {
		e.stopChannelLocked(p)
		e.unbindLocked(p)
	}
	e.removeWaitingLocked(c)
	e.lock.Unlock()

	var dropped []*Request
	if req := c.current; req != nil {
		if !req.cyclic {
			c.outcomes[req.cookie] = StatusIdle
		}

		e.hook(&d, HookPosTerminate, c.info(req, p))
		dropped = append(dropped, req)
		c.current = nil
	}

	for _, req := range c.queue {
		c.outcomes[req.cookie] = StatusIdle
		e.hook(&d, HookPosTerminate, c.info(req, nil))
		dropped = append(dropped, req)
	}

	c.queue = nil
	c.status = StatusIdle
	c.periods = 0
	c.epoch++

	if len(dropped) > 0 {
		c.logger().WithField("requests", len(dropped)).Debug("terminated")
	}

	c.mu.Unlock()

	for _, req := range dropped {
		req.release()
	}
	e.metrics.Terminated.Add(float64(len(dropped)))

	d.run()

	if p != nil {
		e.refill(nil, p)
	}
}

// TxStatus reports the status and residue of a submitted request.
func (c *VirtualChannel) TxStatus(cookie Cookie) (TxState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cookie <= 0 || cookie > c.lastCookie {
		return TxState{}, fmt.Errorf("%w: unknown cookie %d", ErrInvalidArgument, cookie)
	}

	if st, ok := c.outcomes[cookie]; ok {
		return TxState{Status: st}, nil
	}

	if cur := c.current; cur != nil && cur.cookie == cookie {
		e := c.engine
		e.lock.Lock()
		residue := e.residueLocked(c.pchan, cur)
		e.lock.Unlock()

		return TxState{Status: c.status, Residue: residue}, nil
	}

	for _, req := range c.queue {
		if req.cookie == cookie {
			return TxState{Status: StatusPending, Residue: req.length}, nil
		}
	}

	return TxState{Status: StatusComplete}, nil
}

func (c *VirtualChannel) callbackFor(req *Request) Callback {
	if req.callback != nil {
		return req.callback
	}

	return c.callback
}

// guard wraps a callback so it is dropped once the channel has been
// terminated. c.mu must be held.
func (c *VirtualChannel) guard(cb Callback) Callback {
	epoch := c.epoch

	return func(r Result) {
		c.mu.Lock()
		live := c.epoch == epoch
		c.mu.Unlock()

		if live {
			cb(r)
		}
	}
}

// deliver returns the deferred tail of a finished request: the guarded
// callback, then the release of its tasks. c.mu must be held.
func (c *VirtualChannel) deliver(cb Callback, res Result, req *Request) func() {
	if cb != nil {
		cb = c.guard(cb)
	}

	return func() {
		if cb != nil {
			cb(res)
		}
		req.release()
	}
}
