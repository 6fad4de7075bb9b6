package dma

import (
	"fmt"
	"math/bits"
)

// Capabilities describes what one controller instance supports.
type Capabilities struct {
	NumChannels        int
	NumPorts           int
	NumVirtualChannels int

	// NumDedicated channels are taken from the tail of the physical channels
	// and serve the synchronous fast path only.
	NumDedicated int

	// BurstMask has bit n set when a burst of n beats is supported.
	BurstMask uint32

	// WidthMask has bit n set when a bus width of n bytes is supported.
	WidthMask uint32

	// CopyAlign is the log2 of the address alignment memory copies need.
	CopyAlign uint
}

// DefaultCapabilities returns the profile of the controller found on the D21x
// family of SoCs.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		NumChannels:        8,
		NumPorts:           24,
		NumVirtualChannels: 24,
		NumDedicated:       0,
		BurstMask:          1<<1 | 1<<4 | 1<<8 | 1<<16,
		WidthMask:          1<<1 | 1<<2 | 1<<4 | 1<<8,
		CopyAlign:          3,
	}
}

// WithDedicated returns a copy of c that reserves n tail channels for the
// fast path.
func (c Capabilities) WithDedicated(n int) Capabilities {
	c.NumDedicated = n
	return c
}

// Validate checks that the profile can describe real hardware.
func (c Capabilities) Validate() error {
	switch {
	case c.NumChannels <= 0 || c.NumChannels > 8:
		return fmt.Errorf("%w: %d physical channels", ErrInvalidConfig, c.NumChannels)
	case c.NumPorts <= 0 || c.NumPorts > CfgPortMask+1:
		return fmt.Errorf("%w: %d ports", ErrInvalidConfig, c.NumPorts)
	case c.NumDedicated < 0 || c.NumDedicated >= c.NumChannels:
		return fmt.Errorf("%w: %d dedicated of %d channels",
			ErrInvalidConfig, c.NumDedicated, c.NumChannels)
	case c.NumVirtualChannels <= c.NumDedicated:
		return fmt.Errorf("%w: %d virtual channels", ErrInvalidConfig, c.NumVirtualChannels)
	case c.BurstMask == 0 || c.WidthMask == 0:
		return fmt.Errorf("%w: empty burst or width mask", ErrInvalidConfig)
	}

	return nil
}

// SchedulableChannels is the number of physical channels the scheduler may
// hand out.
func (c Capabilities) SchedulableChannels() int {
	return c.NumChannels - c.NumDedicated
}

func (c Capabilities) widthSupported(w BusWidth) bool {
	return w < 32 && c.WidthMask&(1<<uint32(w)) != 0
}

func (c Capabilities) burstSupported(burst uint32) bool {
	return burst < 32 && c.BurstMask&(1<<burst) != 0
}

// BusWidth is a bus width in bytes.
type BusWidth uint32

// Bus widths.
const (
	BusWidthUndefined BusWidth = 0
	BusWidth1Byte     BusWidth = 1
	BusWidth2Bytes    BusWidth = 2
	BusWidth4Bytes    BusWidth = 4
	BusWidth8Bytes    BusWidth = 8
)

func (w BusWidth) code() (uint32, bool) {
	if w == 0 || w > BusWidth8Bytes || bits.OnesCount32(uint32(w)) != 1 {
		return 0, false
	}

	return uint32(bits.TrailingZeros32(uint32(w))), true
}

func burstCode(burst uint32) (uint32, bool) {
	switch burst {
	case 1:
		return 0, true
	case 4:
		return 1, true
	case 8:
		return 2, true
	case 16:
		return 3, true
	}

	return 0, false
}

// checkSlaveConfig validates the widths and bursts a channel asks for. Zero
// values are left to the builder defaults.
func (c Capabilities) checkSlaveConfig(cfg SlaveConfig) error {
	for _, w := range []BusWidth{cfg.SrcWidth, cfg.DstWidth} {
		if w == BusWidthUndefined {
			continue
		}

		if _, ok := w.code(); !ok || !c.widthSupported(w) {
			return fmt.Errorf("%w: bus width %d", ErrInvalidConfig, w)
		}
	}

	for _, burst := range []uint32{cfg.SrcMaxBurst, cfg.DstMaxBurst} {
		if burst == 0 {
			continue
		}

		if _, ok := burstCode(burst); !ok || !c.burstSupported(burst) {
			return fmt.Errorf("%w: burst %d", ErrInvalidConfig, burst)
		}
	}

	return nil
}
