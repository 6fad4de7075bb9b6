package dma

// Controller-wide registers.
const (
	RegIRQEnable  uint32 = 0x00
	RegIRQStatus  uint32 = 0x10
	RegChanStatus uint32 = 0x30
)

// Per-channel registers, relative to the channel base.
const (
	RegChEnable uint32 = 0x00
	RegChPause  uint32 = 0x04
	RegChTask   uint32 = 0x08
	RegChConfig uint32 = 0x0C
	RegChSrc    uint32 = 0x10
	RegChDst    uint32 = 0x14
	RegChLeft   uint32 = 0x18
	RegChMode   uint32 = 0x28
)

// ChanRegBase is the offset of channel 0's register window and
// ChanRegStride the distance between two channel windows.
const (
	ChanRegBase   uint32 = 0x100
	ChanRegStride uint32 = 0x40
)

// ChanBase returns the register window base of physical channel ch.
func ChanBase(ch int) uint32 {
	return ChanRegBase + uint32(ch)*ChanRegStride
}

// Interrupt bits inside one channel's group.
const (
	IRQHalfTask uint32 = 1 << 0
	IRQOneTask  uint32 = 1 << 1
	IRQAllTask  uint32 = 1 << 2
	IRQError    uint32 = 1 << 3

	irqTypeMask  = IRQHalfTask | IRQOneTask | IRQAllTask
	irqGroupMask = irqTypeMask | IRQError
	irqChanWidth = 4
)

// IRQShift returns the bit position of channel ch's interrupt group.
func IRQShift(ch int) uint32 {
	return uint32(ch) * irqChanWidth
}

// IRQGroup extracts channel ch's 4-bit group from an interrupt register value.
func IRQGroup(reg uint32, ch int) uint32 {
	return (reg >> IRQShift(ch)) & irqGroupMask
}

// Config word layout.
const (
	CfgSrcPortShift  = 0
	CfgSrcBurstShift = 6
	CfgSrcAddrShift  = 8
	CfgSrcWidthShift = 9
	CfgDstPortShift  = 16
	CfgDstBurstShift = 22
	CfgDstAddrShift  = 24
	CfgDstWidthShift = 25

	CfgPortMask  = 0x1F
	CfgBurstMask = 0x3
	CfgWidthMask = 0x3
)

// Addressing modes.
const (
	AddrLinear uint32 = 0
	AddrFixed  uint32 = 1
)

// Handshake mode bits. A cleared bit means the side proceeds freely.
const (
	ModeSrcHandshake uint32 = 1 << 2
	ModeDstHandshake uint32 = 1 << 3

	ModeWaitWait      = 0
	ModeWaitHandshake = ModeDstHandshake
	ModeHandshakeWait = ModeSrcHandshake
)

// DRAMPort is the request port of system memory.
const DRAMPort uint8 = 1

// LinkEnd is the hardware end-of-list marker carried by the last task.
const LinkEnd uint32 = 0xFFFFF800

// SGDelay is the inter-task delay used for peripheral transfers.
const SGDelay uint32 = 0x40

// A RegisterBlock is the memory-mapped register window of one controller.
type RegisterBlock interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, value uint32)
}

// Memory is the physically addressed memory the descriptor pool lives in.
type Memory interface {
	Write(addr uint64, data []byte) error
}
