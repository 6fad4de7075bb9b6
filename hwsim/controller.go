// Package hwsim models the ArtInChip DMA controller at the register level so
// that the driver can run against it without hardware.
package hwsim

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/aicdma/dma"
	"github.com/sarchlab/aicdma/mem"
	"github.com/sarchlab/aicdma/sim"
)

type channel struct {
	enable uint32
	pause  uint32
	task   uint32
	cfg    uint32
	src    uint32
	dst    uint32
	left   uint32
	mode   uint32

	taskLen    uint32
	delay      uint32
	stall      uint32
	halfRaised bool
}

func (ch *channel) srcFixed() bool {
	return (ch.cfg>>dma.CfgSrcAddrShift)&1 == dma.AddrFixed
}

func (ch *channel) dstFixed() bool {
	return (ch.cfg>>dma.CfgDstAddrShift)&1 == dma.AddrFixed
}

// Controller is a cycle-driven model of the DMA controller. It walks the
// descriptors it finds in storage and moves bytes between storage
// addresses.
type Controller struct {
	*sim.TickingComponent

	mu            sync.Mutex
	log           *logrus.Entry
	storage       *mem.Storage
	bytesPerCycle uint32
	irqEnable     uint32
	irqStatus     uint32
	chans         []*channel
	irqLine       func()
	bytesMoved    uint64

	kick chan struct{}
}

// Builder can build controllers.
type Builder struct {
	engine        sim.Engine
	freq          sim.Freq
	storage       *mem.Storage
	numChannels   int
	bytesPerCycle uint32
	logger        *logrus.Logger
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		freq:          200 * sim.MHz,
		numChannels:   8,
		bytesPerCycle: 16,
		logger:        logrus.StandardLogger(),
	}
}

// WithEngine sets the event engine that clocks the controller.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the controller clock.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithStorage sets the memory the controller reads and writes.
func (b Builder) WithStorage(storage *mem.Storage) Builder {
	b.storage = storage
	return b
}

// WithNumChannels sets the number of physical channels.
func (b Builder) WithNumChannels(n int) Builder {
	b.numChannels = n
	return b
}

// WithBytesPerCycle sets how many bytes one channel moves per cycle.
func (b Builder) WithBytesPerCycle(n uint32) Builder {
	b.bytesPerCycle = n
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *logrus.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates the controller.
func (b Builder) Build(name string) *Controller {
	if b.engine == nil || b.storage == nil {
		panic("controller needs an engine and a storage")
	}

	if b.numChannels <= 0 || b.numChannels > 8 || b.bytesPerCycle == 0 {
		panic("controller needs 1 to 8 channels and a non-zero bandwidth")
	}

	c := &Controller{
		log:           b.logger.WithField("controller", name),
		storage:       b.storage,
		bytesPerCycle: b.bytesPerCycle,
		kick:          make(chan struct{}, 1),
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)

	for i := 0; i < b.numChannels; i++ {
		c.chans = append(c.chans, &channel{task: dma.LinkEnd})
	}

	return c
}

// ConnectInterrupt sets the function called while the interrupt line is
// asserted. It is called without any controller lock held.
func (c *Controller) ConnectInterrupt(line func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.irqLine = line
}

// Storage returns the memory behind the controller.
func (c *Controller) Storage() *mem.Storage {
	return c.storage
}

// BytesMoved returns the number of payload bytes copied so far.
func (c *Controller) BytesMoved() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.bytesMoved
}

// Serve runs the event engine whenever the driver starts a channel, until
// ctx is done. It is needed when the driver polls from another goroutine.
func (c *Controller) Serve(ctx context.Context) error {
	for {
		if err := c.Engine.Run(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.kick:
		}
	}
}

func (c *Controller) wake() {
	c.TickLater()

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// InjectFault makes channel ch fail its current transfer.
func (c *Controller) InjectFault(ch int) {
	c.mu.Lock()
	c.fault(ch, c.chans[ch], "injected fault")
	c.mu.Unlock()

	c.wake()
}
