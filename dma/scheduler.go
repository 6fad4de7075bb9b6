package dma

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// A PhysicalChannel is one hardware lane of the controller.
type PhysicalChannel struct {
	index     int
	base      uint32
	dedicated bool

	// Guarded by Engine.lock. gen changes every time the channel is
	// started or stopped.
	vchan *VirtualChannel
	gen   uint64
}

// Index returns the hardware index of the channel.
func (p *PhysicalChannel) Index() int {
	return p.index
}

// xfer starts the head of c's queue if c has nothing in flight and is not
// paused. A free channel is taken first-fit unless prefer is free. c.mu must
// be held.
func (e *Engine) xfer(
	c *VirtualChannel,
	prefer *PhysicalChannel,
	d *deferred,
) error {
	if c.current != nil || len(c.queue) == 0 {
		return nil
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	if c.status == StatusPaused {
		e.removeWaitingLocked(c)
		return nil
	}

	if c.pchan == nil {
		p := prefer
		if p == nil || p.vchan != nil || p.dedicated {
			p = e.firstFreeChannelLocked()
		}

		if p == nil {
			e.addWaitingLocked(c)
			c.status = StatusPending
			c.logger().Debug("no free physical channel, request stays queued")

			return nil
		}

		e.bindLocked(p, c)
	}

	return e.startLocked(c, d)
}

func (e *Engine) firstFreeChannelLocked() *PhysicalChannel {
	for _, p := range e.pchans[:e.caps.SchedulableChannels()] {
		if p.vchan == nil {
			return p
		}
	}

	return nil
}

func (e *Engine) bindLocked(p *PhysicalChannel, c *VirtualChannel) {
	if p.vchan != nil {
		e.log.Panicf("channel %d bound to vchan %d and %d",
			p.index, p.vchan.id, c.id)
	}

	e.removeWaitingLocked(c)
	p.vchan = c
	c.pchan = p
	e.metrics.BoundChannels.Inc()
}

func (e *Engine) unbindLocked(p *PhysicalChannel) {
	if p.vchan == nil {
		return
	}

	p.vchan.pchan = nil
	p.vchan = nil
	e.metrics.BoundChannels.Dec()
}

func (e *Engine) addWaitingLocked(c *VirtualChannel) {
	if c.waiting {
		return
	}

	c.waiting = true
	e.waiting = append(e.waiting, c)
}

func (e *Engine) removeWaitingLocked(c *VirtualChannel) {
	if !c.waiting {
		return
	}

	c.waiting = false
	for i, w := range e.waiting {
		if w == c {
			e.waiting = append(e.waiting[:i], e.waiting[i+1:]...)
			return
		}
	}
}

func (e *Engine) popWaitingLocked() *VirtualChannel {
	if len(e.waiting) == 0 {
		return nil
	}

	c := e.waiting[0]
	e.waiting = e.waiting[1:]
	c.waiting = false

	return c
}

// startLocked programs the bound channel of c with the head of its queue.
func (e *Engine) startLocked(c *VirtualChannel, d *deferred) error {
	p := c.pchan

	if e.regs.Read32(p.base+RegChEnable)&1 != 0 {
		c.logger().WithField("channel", p.index).
			Error("physical channel enabled while unbound, resetting it")

		e.resetChannelLocked(p)
		e.unbindLocked(p)
		e.metrics.BusyResets.Inc()
		c.status = StatusPending

		return fmt.Errorf("%w: channel %d", ErrBusy, p.index)
	}

	req := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]

	c.current = req
	c.periods = 0
	c.status = StatusActive
	c.irqType = IRQAllTask
	if req.cyclic {
		c.irqType = IRQOneTask
	}

	head := e.pool.get(req.head)

	p.gen++
	e.setIRQEnableLocked(p, c.irqType|IRQError)
	e.regs.Write32(p.base+RegChTask, head.phys)
	e.regs.Write32(p.base+RegChMode, head.Mode)
	e.regs.Write32(p.base+RegChPause, 0)
	e.regs.Write32(p.base+RegChEnable, 1)

	c.logger().WithFields(logrus.Fields{
		"channel": p.index,
		"cookie":  req.cookie,
	}).Debug("request started")

	e.metrics.Started.Inc()
	e.hook(d, HookPosStart, c.info(req, p))

	return nil
}

func (e *Engine) setIRQEnableLocked(p *PhysicalChannel, bits uint32) {
	if p.dedicated {
		return
	}

	shift := IRQShift(p.index)
	v := e.regs.Read32(RegIRQEnable)
	v &^= irqGroupMask << shift
	v |= (bits & irqGroupMask) << shift
	e.regs.Write32(RegIRQEnable, v)
}

// stopChannelLocked disables the channel and drops its pending interrupts.
func (e *Engine) stopChannelLocked(p *PhysicalChannel) {
	p.gen++
	e.regs.Write32(p.base+RegChPause, 0)
	e.regs.Write32(p.base+RegChEnable, 0)
	e.setIRQEnableLocked(p, 0)
	e.regs.Write32(RegIRQStatus, irqGroupMask<<IRQShift(p.index))
}

// resetChannelLocked brings a wedged channel back to its reset state.
func (e *Engine) resetChannelLocked(p *PhysicalChannel) {
	p.gen++
	e.regs.Write32(p.base+RegChPause, 1)
	e.regs.Write32(p.base+RegChEnable, 0)
	e.regs.Write32(p.base+RegChPause, 0)
	e.regs.Write32(p.base+RegChTask, LinkEnd)
	e.setIRQEnableLocked(p, 0)
	e.regs.Write32(RegIRQStatus, irqGroupMask<<IRQShift(p.index))
}

// residueLocked returns the bytes req has not delivered yet.
func (e *Engine) residueLocked(p *PhysicalChannel, req *Request) uint64 {
	if p == nil {
		return req.length
	}

	pos := e.regs.Read32(p.base + RegChTask)
	left := e.regs.Read32(p.base + RegChLeft)

	return req.residueFrom(pos, left)
}

// refill hands a freed physical channel to c first and then to the channels
// that found no free channel when they issued. No lock may be held.
func (e *Engine) refill(c *VirtualChannel, p *PhysicalChannel) {
	var d deferred
	defer d.run()

	if c != nil {
		c.mu.Lock()
		err := e.xfer(c, p, &d)
		c.mu.Unlock()

		if err != nil {
			c.logger().WithError(err).Warn("cannot start next request")
		}
	}

	for {
		e.lock.Lock()
		if p.vchan != nil {
			e.lock.Unlock()
			return
		}

		w := e.popWaitingLocked()
		e.lock.Unlock()

		if w == nil {
			return
		}

		w.mu.Lock()
		err := e.xfer(w, p, &d)
		w.mu.Unlock()

		if err != nil {
			w.logger().WithError(err).Warn("cannot start waiting request")
			return
		}
	}
}
