package hwsim

import (
	"github.com/sarchlab/aicdma/dma"
)

func (c *Controller) decode(offset uint32) (*channel, uint32, bool) {
	if offset < dma.ChanRegBase {
		return nil, 0, false
	}

	idx := int((offset - dma.ChanRegBase) / dma.ChanRegStride)
	if idx >= len(c.chans) {
		return nil, 0, false
	}

	return c.chans[idx], (offset - dma.ChanRegBase) % dma.ChanRegStride, true
}

// Read32 reads a register.
func (c *Controller) Read32(offset uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case dma.RegIRQEnable:
		return c.irqEnable
	case dma.RegIRQStatus:
		return c.irqStatus
	case dma.RegChanStatus:
		var v uint32
		for i, ch := range c.chans {
			if ch.enable != 0 {
				v |= 1 << uint32(i)
			}
		}
		return v
	}

	ch, reg, ok := c.decode(offset)
	if !ok {
		return 0
	}

	switch reg {
	case dma.RegChEnable:
		return ch.enable
	case dma.RegChPause:
		return ch.pause
	case dma.RegChTask:
		return ch.task
	case dma.RegChConfig:
		return ch.cfg
	case dma.RegChSrc:
		return ch.src
	case dma.RegChDst:
		return ch.dst
	case dma.RegChLeft:
		return ch.left
	case dma.RegChMode:
		return ch.mode
	}

	return 0
}

// Write32 writes a register. The interrupt status register is
// write-one-to-clear.
func (c *Controller) Write32(offset uint32, value uint32) {
	wake := false

	c.mu.Lock()
	switch offset {
	case dma.RegIRQEnable:
		c.irqEnable = value
	case dma.RegIRQStatus:
		c.irqStatus &^= value
	default:
		wake = c.writeChannel(offset, value)
	}
	c.mu.Unlock()

	if wake {
		c.wake()
	}
}

func (c *Controller) writeChannel(offset, value uint32) bool {
	ch, reg, ok := c.decode(offset)
	if !ok {
		return false
	}

	idx := int((offset - dma.ChanRegBase) / dma.ChanRegStride)

	switch reg {
	case dma.RegChEnable:
		if value&1 == 0 {
			ch.enable = 0
			return false
		}

		if ch.enable != 0 {
			return false
		}

		ch.enable = 1
		ch.stall = 0
		c.load(idx, ch, ch.task)

		return true
	case dma.RegChPause:
		ch.pause = value & 1
		return ch.pause == 0 && ch.enable != 0
	case dma.RegChTask:
		ch.task = value
	case dma.RegChMode:
		ch.mode = value
	}

	return false
}
