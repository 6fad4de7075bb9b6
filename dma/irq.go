package dma

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

type freedChannel struct {
	vchan *VirtualChannel
	pchan *PhysicalChannel
}

// latchedIRQ is the interrupt group of one channel together with the start
// generation of the channel at the time the status was read.
type latchedIRQ struct {
	pchan *PhysicalChannel
	bits  uint32
	gen   uint64
}

// HandleInterrupt services the controller interrupt. It returns false when
// no interrupt of a scheduled channel was pending. Callbacks run before the
// freed channels are handed to queued requests.
func (e *Engine) HandleInterrupt() bool {
	latched, ok := e.latchInterrupts()
	if !ok {
		return false
	}

	e.dispatchInterrupts(latched)

	return true
}

// latchInterrupts reads and clears the interrupt status. The generations are
// taken under the scheduling lock so bits raised by a run that has since been
// stopped or replaced can be told apart.
func (e *Engine) latchInterrupts() ([]latchedIRQ, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	status := e.regs.Read32(RegIRQStatus) & e.irqOwned
	if status == 0 {
		return nil, false
	}

	e.regs.Write32(RegIRQStatus, status)

	var latched []latchedIRQ
	for i, p := range e.pchans {
		if p.dedicated {
			continue
		}

		bits := IRQGroup(status, i)
		if bits == 0 {
			continue
		}

		latched = append(latched, latchedIRQ{pchan: p, bits: bits, gen: p.gen})
	}

	return latched, true
}

func (e *Engine) dispatchInterrupts(latched []latchedIRQ) {
	var d deferred
	var freed []freedChannel

	for _, l := range latched {
		if c := e.serviceChannel(l, &d); c != nil {
			freed = append(freed, freedChannel{vchan: c, pchan: l.pchan})
		}
	}

	d.run()

	for _, f := range freed {
		e.refill(f.vchan, f.pchan)
	}
}

// serviceChannel handles the interrupt group of one channel and returns the
// virtual channel it freed the physical channel of, if any.
func (e *Engine) serviceChannel(l latchedIRQ, d *deferred) *VirtualChannel {
	p, bits := l.pchan, l.bits

	e.lock.Lock()
	c := p.vchan
	e.lock.Unlock()

	if c == nil {
		e.log.WithFields(logrus.Fields{"channel": p.index, "irq": bits}).
			Warn("interrupt on a channel with no task")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e.lock.Lock()
	defer e.lock.Unlock()

	req := c.current
	if c.pchan != p || req == nil {
		e.log.WithFields(logrus.Fields{"channel": p.index, "irq": bits}).
			Warn("interrupt on a channel with no task")
		return nil
	}

	if p.gen != l.gen {
		e.log.WithFields(logrus.Fields{"channel": p.index, "irq": bits}).
			Debug("dropping interrupt of a stopped run")
		return nil
	}

	if bits&IRQError != 0 {
		e.faultLocked(c, p, req, d)
		return c
	}

	if bits&c.irqType == 0 {
		return nil
	}

	cb := c.callbackFor(req)

	if req.cyclic {
		c.periods++
		res := Result{
			Cookie:  req.cookie,
			Residue: e.residueLocked(p, req),
			Period:  c.periods,
			Cyclic:  true,
		}

		e.metrics.Periods.Inc()
		e.hook(d, HookPosPeriod, c.info(req, p))

		if cb != nil {
			guarded := c.guard(cb)
			d.add(func() { guarded(res) })
		}

		return nil
	}

	c.current = nil
	c.status = StatusComplete
	e.hook(d, HookPosComplete, c.info(req, p))
	e.unbindLocked(p)
	e.metrics.Completed.Inc()

	res := Result{Cookie: req.cookie}
	d.add(c.deliver(cb, res, req))

	return c
}

func (e *Engine) faultLocked(
	c *VirtualChannel,
	p *PhysicalChannel,
	req *Request,
	d *deferred,
) {
	res := Result{
		Cookie:  req.cookie,
		Err:     fmt.Errorf("%w: channel %d", ErrHardwareFault, p.index),
		Residue: e.residueLocked(p, req),
		Period:  c.periods,
		Cyclic:  req.cyclic,
	}

	c.logger().WithFields(logrus.Fields{
		"channel": p.index,
		"cookie":  req.cookie,
	}).Warn("controller reported a transfer error")

	e.stopChannelLocked(p)

	info := c.info(req, p)
	info.Err = res.Err
	e.hook(d, HookPosFault, info)

	e.unbindLocked(p)
	c.current = nil
	c.status = StatusError
	c.outcomes[req.cookie] = StatusError
	e.metrics.Faults.Inc()

	d.add(c.deliver(c.callbackFor(req), res, req))
}
