// Package dma implements the channel scheduler and descriptor engine of the
// ArtInChip DMA controller.
//
// A handful of physical channels are shared by many virtual channels. Callers
// build descriptor chains, submit them on a virtual channel, and issue them.
// The engine binds a free physical channel first-fit, programs the
// controller, and advances when HandleInterrupt is called from the
// interrupt path.
package dma

import (
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/aicdma/sim"
)

// Engine drives one controller instance.
type Engine struct {
	*sim.HookableBase

	name    string
	regs    RegisterBlock
	caps    Capabilities
	pool    *TaskPool
	builder ChainBuilder
	log     *logrus.Entry
	metrics *Metrics

	// lock guards the binding table and the waiting list.
	lock    sync.Mutex
	pchans  []*PhysicalChannel
	waiting []*VirtualChannel

	// irqOwned covers the interrupt groups of schedulable channels.
	irqOwned uint32

	slotLock  sync.Mutex
	vchans    []*VirtualChannel
	dedicated []*DedicatedChannel
}

// Builder can build engines.
type Builder struct {
	regs       RegisterBlock
	mem        Memory
	caps       Capabilities
	poolBase   uint32
	poolSize   int
	logger     *logrus.Logger
	registerer prometheus.Registerer
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		caps:     DefaultCapabilities(),
		poolBase: 0x1000,
		poolSize: 256,
		logger:   logrus.StandardLogger(),
	}
}

// WithRegisters sets the register window of the controller.
func (b Builder) WithRegisters(regs RegisterBlock) Builder {
	b.regs = regs
	return b
}

// WithMemory sets the memory the descriptors are written to.
func (b Builder) WithMemory(mem Memory) Builder {
	b.mem = mem
	return b
}

// WithCapabilities sets the controller profile.
func (b Builder) WithCapabilities(caps Capabilities) Builder {
	b.caps = caps
	return b
}

// WithDescriptorPool places count descriptors at base.
func (b Builder) WithDescriptorPool(base uint32, count int) Builder {
	b.poolBase = base
	b.poolSize = count
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *logrus.Logger) Builder {
	b.logger = logger
	return b
}

// WithMetricsRegisterer registers the engine metrics with reg.
func (b Builder) WithMetricsRegisterer(reg prometheus.Registerer) Builder {
	b.registerer = reg
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.regs == nil {
		log.Panic("dma engine needs a register block")
	}

	if b.mem == nil {
		log.Panic("dma engine needs descriptor memory")
	}

	if err := b.caps.Validate(); err != nil {
		log.Panicf("bad capabilities: %v", err)
	}
}

// Build creates an engine and resets the controller interrupt enables.
func (b Builder) Build(name string) *Engine {
	b.parametersMustBeValid()

	e := &Engine{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		regs:         b.regs,
		caps:         b.caps,
		pool:         NewTaskPool(b.poolBase, b.poolSize, b.mem),
		log:          b.logger.WithField("engine", name),
		metrics:      newMetrics(name),
	}
	e.builder = NewChainBuilder(e.pool, e.caps)

	if b.registerer != nil {
		b.registerer.MustRegister(e.metrics.collectors()...)
	}

	firstDedicated := e.caps.SchedulableChannels()
	for i := 0; i < e.caps.NumChannels; i++ {
		p := &PhysicalChannel{
			index:     i,
			base:      ChanBase(i),
			dedicated: i >= firstDedicated,
		}
		e.pchans = append(e.pchans, p)

		if p.dedicated {
			e.dedicated = append(e.dedicated, &DedicatedChannel{
				engine: e,
				pchan:  p,
			})
		} else {
			e.irqOwned |= irqGroupMask << IRQShift(i)
		}
	}

	for i := 0; i < e.caps.NumVirtualChannels-e.caps.NumDedicated; i++ {
		e.vchans = append(e.vchans, newVirtualChannel(e, i))
	}

	e.regs.Write32(RegIRQEnable, 0)

	return e
}

// Name returns the name of the engine.
func (e *Engine) Name() string {
	return e.name
}

// Capabilities returns the controller profile.
func (e *Engine) Capabilities() Capabilities {
	return e.caps
}

// Pool returns the descriptor pool.
func (e *Engine) Pool() *TaskPool {
	return e.pool
}

// ChainBuilder returns a builder that draws from the engine's pool.
func (e *Engine) ChainBuilder() ChainBuilder {
	return e.builder
}

// Metrics returns the engine metrics.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Acquire reserves a virtual channel for the given request port.
func (e *Engine) Acquire(port uint8) (*VirtualChannel, error) {
	if int(port) >= e.caps.NumPorts {
		return nil, portError(port)
	}

	e.slotLock.Lock()
	defer e.slotLock.Unlock()

	for _, c := range e.vchans {
		c.mu.Lock()
		if !c.acquired {
			c.reset(port)
			c.mu.Unlock()

			e.log.WithFields(logrus.Fields{"vchan": c.id, "port": port}).
				Debug("virtual channel acquired")

			return c, nil
		}
		c.mu.Unlock()
	}

	return nil, exhausted("no free virtual channel")
}

// deferred collects work that must run after every engine lock is released.
type deferred []func()

func (d *deferred) add(f func()) {
	*d = append(*d, f)
}

func (d deferred) run() {
	for _, f := range d {
		f()
	}
}

func (e *Engine) hook(d *deferred, pos *sim.HookPos, info TransferInfo) {
	if !e.Hooked() {
		return
	}

	d.add(func() {
		e.InvokeHook(sim.HookCtx{
			Domain: e,
			Pos:    pos,
			Item:   info,
		})
	})
}
