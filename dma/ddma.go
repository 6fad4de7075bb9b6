package dma

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// A DedicatedChannel is a physical channel reserved for synchronous
// transfers. It bypasses the queue and the interrupt path.
type DedicatedChannel struct {
	engine *Engine
	pchan  *PhysicalChannel

	mu         sync.Mutex
	acquired   bool
	port       uint8
	cfg        SlaveConfig
	lastCookie Cookie
}

// AcquireDedicated reserves a fast-path channel.
func (e *Engine) AcquireDedicated(port uint8) (*DedicatedChannel, error) {
	if int(port) >= e.caps.NumPorts {
		return nil, portError(port)
	}

	e.slotLock.Lock()
	defer e.slotLock.Unlock()

	for _, dc := range e.dedicated {
		dc.mu.Lock()
		if !dc.acquired {
			dc.acquired = true
			dc.port = port
			dc.cfg = SlaveConfig{}
			dc.mu.Unlock()

			return dc, nil
		}
		dc.mu.Unlock()
	}

	return nil, exhausted("no free dedicated channel")
}

// Channel returns the hardware index of the reserved channel.
func (dc *DedicatedChannel) Channel() int {
	return dc.pchan.index
}

// Release returns the channel to the engine.
func (dc *DedicatedChannel) Release() {
	dc.engine.slotLock.Lock()
	defer dc.engine.slotLock.Unlock()

	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.acquired = false
}

// Configure sets the bus configuration for later builds.
func (dc *DedicatedChannel) Configure(cfg SlaveConfig) error {
	if err := dc.engine.caps.checkSlaveConfig(cfg); err != nil {
		return err
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.cfg = cfg

	return nil
}

// PrepCopy builds a memory to memory copy.
func (dc *DedicatedChannel) PrepCopy(src, dst, length uint32) (*Request, error) {
	return dc.engine.builder.BuildCopy(src, dst, length)
}

// PrepScatterGather builds a peripheral transfer for the channel's port.
func (dc *DedicatedChannel) PrepScatterGather(
	dir Direction,
	segments []Segment,
) (*Request, error) {
	dc.mu.Lock()
	port, cfg := dc.port, dc.cfg
	dc.mu.Unlock()

	return dc.engine.builder.BuildScatterGather(dir, segments, port, cfg)
}

// TransferSync runs req to completion by polling the channel status. The
// request callback, if any, runs before TransferSync returns. The request
// is consumed whatever the outcome.
func (dc *DedicatedChannel) TransferSync(ctx context.Context, req *Request) error {
	e := dc.engine
	p := dc.pchan

	if req == nil || req.head == noTask || req.pool != e.pool {
		return fmt.Errorf("%w: not a request of this engine", ErrInvalidArgument)
	}

	if req.cyclic {
		req.release()
		return fmt.Errorf("%w: cyclic request on dedicated channel", ErrInvalidArgument)
	}

	dc.mu.Lock()
	if !dc.acquired {
		dc.mu.Unlock()
		req.release()
		return fmt.Errorf("%w: dedicated channel %d is released",
			ErrInvalidArgument, p.index)
	}

	dc.lastCookie++
	req.cookie = dc.lastCookie

	info := TransferInfo{
		Engine:    e.name,
		VChan:     -1,
		PChan:     p.index,
		Port:      dc.port,
		Cookie:    req.cookie,
		Bytes:     req.length,
		Tasks:     req.count,
		Dedicated: true,
	}

	err := dc.run(ctx, req)
	dc.mu.Unlock()

	var d deferred
	if err != nil {
		info.Err = err
		e.hook(&d, HookPosFault, info)
	} else {
		e.hook(&d, HookPosComplete, info)
		e.metrics.Completed.Inc()
	}
	d.run()

	delivered := err == nil || errors.Is(err, ErrHardwareFault)
	if cb := req.callback; cb != nil && delivered {
		cb(Result{Cookie: req.cookie, Err: err})
	}

	req.release()

	return err
}

func (dc *DedicatedChannel) run(ctx context.Context, req *Request) error {
	e := dc.engine
	p := dc.pchan
	head := e.pool.get(req.head)

	e.lock.Lock()
	if e.regs.Read32(p.base+RegChEnable)&1 != 0 {
		e.log.WithField("channel", p.index).
			Error("dedicated channel enabled while idle, resetting it")
		e.resetChannelLocked(p)
		e.lock.Unlock()
		e.metrics.BusyResets.Inc()

		return ErrBusy
	}

	e.regs.Write32(RegIRQStatus, irqGroupMask<<IRQShift(p.index))
	e.regs.Write32(p.base+RegChTask, head.phys)
	e.regs.Write32(p.base+RegChMode, head.Mode)
	e.regs.Write32(p.base+RegChPause, 0)
	e.regs.Write32(p.base+RegChEnable, 1)
	e.lock.Unlock()

	e.metrics.Started.Inc()

	mask := uint32(1) << uint32(p.index)
	for e.regs.Read32(RegChanStatus)&mask != 0 {
		select {
		case <-ctx.Done():
			e.lock.Lock()
			e.stopChannelLocked(p)
			e.lock.Unlock()

			return ctx.Err()
		default:
			runtime.Gosched()
		}
	}

	group := IRQGroup(e.regs.Read32(RegIRQStatus), p.index)
	e.regs.Write32(RegIRQStatus, group<<IRQShift(p.index))

	if group&IRQError != 0 {
		e.metrics.Faults.Inc()
		return fmt.Errorf("%w: channel %d", ErrHardwareFault, p.index)
	}

	return nil
}
