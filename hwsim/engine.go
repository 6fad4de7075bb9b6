package hwsim

import (
	"github.com/sarchlab/aicdma/dma"
)

// Tick advances every enabled, unpaused channel by one cycle.
func (c *Controller) Tick() bool {
	progress := false

	c.mu.Lock()
	for i, ch := range c.chans {
		if ch.enable == 0 || ch.pause != 0 {
			continue
		}

		progress = true
		c.step(i, ch)
	}

	raise := c.irqStatus&c.irqEnable != 0
	line := c.irqLine
	c.mu.Unlock()

	if raise && line != nil {
		line()
	}

	return progress
}

func (c *Controller) step(idx int, ch *channel) {
	if ch.stall > 0 {
		ch.stall--
		return
	}

	if ch.left > 0 {
		n := min(c.bytesPerCycle, ch.left)

		data, err := c.storage.Read(uint64(ch.src), uint64(n))
		if err == nil {
			err = c.storage.Write(uint64(ch.dst), data)
		}

		if err != nil {
			c.fault(idx, ch, err.Error())
			return
		}

		if !ch.srcFixed() {
			ch.src += n
		}

		if !ch.dstFixed() {
			ch.dst += n
		}

		ch.left -= n
		c.bytesMoved += uint64(n)

		if !ch.halfRaised && ch.left <= ch.taskLen/2 {
			c.raise(idx, dma.IRQHalfTask)
			ch.halfRaised = true
		}

		if ch.left > 0 {
			return
		}
	}

	c.raise(idx, dma.IRQOneTask)

	if ch.task == dma.LinkEnd {
		c.raise(idx, dma.IRQAllTask)
		ch.enable = 0
		return
	}

	delay := ch.delay
	c.load(idx, ch, ch.task)
	ch.stall = delay
}

// load fetches the descriptor at addr into the channel. The task register
// then points at the descriptor that follows.
func (c *Controller) load(idx int, ch *channel, addr uint32) {
	if addr == dma.LinkEnd {
		c.fault(idx, ch, "enabled with an empty task list")
		return
	}

	buf, err := c.storage.Read(uint64(addr), dma.TaskSize)
	if err != nil {
		c.fault(idx, ch, err.Error())
		return
	}

	t := dma.DecodeTask(buf)
	ch.cfg = t.Config
	ch.src = t.Src
	ch.dst = t.Dst
	ch.left = t.Len
	ch.taskLen = t.Len
	ch.delay = t.Delay
	ch.mode = t.Mode
	ch.task = t.HWNext
	ch.halfRaised = false
}

func (c *Controller) raise(idx int, bits uint32) {
	c.irqStatus |= bits << dma.IRQShift(idx)
}

func (c *Controller) fault(idx int, ch *channel, reason string) {
	c.log.WithField("channel", idx).Warnf("transfer error: %s", reason)
	c.raise(idx, dma.IRQError)
	ch.enable = 0
}
