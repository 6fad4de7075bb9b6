package dma

import (
	"errors"
	"fmt"
)

// Direction is the direction of a peripheral transfer.
type Direction int

// Supported directions.
const (
	MemToDev Direction = iota + 1
	DevToMem
)

func (d Direction) String() string {
	switch d {
	case MemToDev:
		return "mem-to-dev"
	case DevToMem:
		return "dev-to-mem"
	}

	return fmt.Sprintf("direction(%d)", int(d))
}

// SlaveConfig is the bus configuration of a peripheral transfer. The device
// side address is the peripheral FIFO. Zero widths and bursts on the memory
// side take the controller defaults.
type SlaveConfig struct {
	SrcAddr     uint32
	DstAddr     uint32
	SrcWidth    BusWidth
	DstWidth    BusWidth
	SrcMaxBurst uint32
	DstMaxBurst uint32
}

// A Segment is one contiguous piece of a scatter/gather list.
type Segment struct {
	Addr uint32
	Len  uint32
}

const (
	memDefaultWidth = BusWidth4Bytes
	memDefaultBurst = 8

	copyWidth = BusWidth4Bytes
	copyBurst = 16
)

// ChainBuilder turns transfer requests into task chains.
type ChainBuilder struct {
	pool *TaskPool
	caps Capabilities
}

// NewChainBuilder creates a builder drawing tasks from pool.
func NewChainBuilder(pool *TaskPool, caps Capabilities) ChainBuilder {
	return ChainBuilder{pool: pool, caps: caps}
}

// BuildCopy creates a single-task memory to memory copy.
func (b ChainBuilder) BuildCopy(src, dst, length uint32) (*Request, error) {
	if length == 0 {
		return nil, fmt.Errorf("%w: zero length copy", ErrInvalidArgument)
	}

	width, _ := copyWidth.code()
	burst, _ := burstCode(copyBurst)
	cfg := width<<CfgDstWidthShift |
		AddrLinear<<CfgDstAddrShift |
		burst<<CfgDstBurstShift |
		uint32(DRAMPort)<<CfgDstPortShift |
		width<<CfgSrcWidthShift |
		AddrLinear<<CfgSrcAddrShift |
		burst<<CfgSrcBurstShift |
		uint32(DRAMPort)<<CfgSrcPortShift

	req := newRequest(b.pool)
	err := b.appendTask(req, TransferTask{
		Config: cfg,
		Src:    src,
		Dst:    dst,
		Len:    length,
		Mode:   ModeWaitWait,
	})
	if err != nil {
		return nil, err
	}

	return b.commit(req)
}

// BuildScatterGather creates one task per segment. Segments are memory
// buffers; the device side is taken from cfg.
func (b ChainBuilder) BuildScatterGather(
	dir Direction,
	segments []Segment,
	port uint8,
	cfg SlaveConfig,
) (*Request, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: empty segment list", ErrInvalidArgument)
	}

	for i, s := range segments {
		if s.Len == 0 {
			return nil, fmt.Errorf("%w: segment %d has zero length",
				ErrInvalidArgument, i)
		}
	}

	tmpl, err := b.slaveTemplate(dir, port, cfg)
	if err != nil {
		return nil, err
	}

	req := newRequest(b.pool)
	for _, s := range segments {
		if err := b.appendTask(req, tmpl.forSegment(dir, cfg, s)); err != nil {
			return nil, err
		}
	}

	return b.commit(req)
}

// BuildCyclic creates a ring of bufLen/periodLen tasks over one buffer.
func (b ChainBuilder) BuildCyclic(
	buf, bufLen, periodLen uint32,
	dir Direction,
	port uint8,
	cfg SlaveConfig,
) (*Request, error) {
	if periodLen == 0 || bufLen == 0 || bufLen%periodLen != 0 {
		return nil, fmt.Errorf("%w: buffer %d is not a multiple of period %d",
			ErrInvalidArgument, bufLen, periodLen)
	}

	tmpl, err := b.slaveTemplate(dir, port, cfg)
	if err != nil {
		return nil, err
	}

	req := newRequest(b.pool)
	for off := uint32(0); off < bufLen; off += periodLen {
		seg := Segment{Addr: buf + off, Len: periodLen}
		if err := b.appendTask(req, tmpl.forSegment(dir, cfg, seg)); err != nil {
			return nil, err
		}
	}

	req.closeRing()

	return b.commit(req)
}

func (b ChainBuilder) appendTask(req *Request, fields TransferTask) error {
	t, err := b.pool.Alloc()
	if err != nil {
		req.release()
		return err
	}

	t.Config = fields.Config
	t.Src = fields.Src
	t.Dst = fields.Dst
	t.Len = fields.Len
	t.Delay = fields.Delay
	t.Mode = fields.Mode
	req.link(t)

	return nil
}

// commit materializes every task into descriptor memory.
func (b ChainBuilder) commit(req *Request) (*Request, error) {
	var err error
	req.forEach(func(t *TransferTask) {
		if err == nil {
			err = b.pool.commit(t)
		}
	})

	if err != nil {
		req.release()
		return nil, err
	}

	return req, nil
}

type slaveTemplate struct {
	config uint32
	mode   uint32
}

func (t slaveTemplate) forSegment(
	dir Direction,
	cfg SlaveConfig,
	s Segment,
) TransferTask {
	task := TransferTask{
		Config: t.config,
		Len:    s.Len,
		Delay:  SGDelay,
		Mode:   t.mode,
	}

	if dir == MemToDev {
		task.Src = s.Addr
		task.Dst = cfg.DstAddr
	} else {
		task.Src = cfg.SrcAddr
		task.Dst = s.Addr
	}

	return task
}

func (b ChainBuilder) slaveTemplate(
	dir Direction,
	port uint8,
	cfg SlaveConfig,
) (slaveTemplate, error) {
	if int(port) >= b.caps.NumPorts {
		return slaveTemplate{}, portError(port)
	}

	word, err := b.burstWord(dir, cfg)
	if err != nil {
		return slaveTemplate{}, err
	}

	switch dir {
	case MemToDev:
		word |= uint32(DRAMPort)<<CfgSrcPortShift |
			uint32(port)<<CfgDstPortShift |
			AddrLinear<<CfgSrcAddrShift |
			AddrFixed<<CfgDstAddrShift
		return slaveTemplate{config: word, mode: ModeWaitHandshake}, nil
	case DevToMem:
		word |= uint32(port)<<CfgSrcPortShift |
			uint32(DRAMPort)<<CfgDstPortShift |
			AddrFixed<<CfgSrcAddrShift |
			AddrLinear<<CfgDstAddrShift
		return slaveTemplate{config: word, mode: ModeHandshakeWait}, nil
	}

	return slaveTemplate{}, fmt.Errorf("%w: %s", ErrInvalidArgument, dir)
}

var errBadBus = errors.New("unsupported width or burst")

// burstWord returns the width and burst fields of the config word after
// applying the memory side defaults.
func (b ChainBuilder) burstWord(dir Direction, cfg SlaveConfig) (uint32, error) {
	switch dir {
	case MemToDev:
		if cfg.SrcWidth == BusWidthUndefined {
			cfg.SrcWidth = memDefaultWidth
		}
		if cfg.SrcMaxBurst == 0 {
			cfg.SrcMaxBurst = memDefaultBurst
		}
	case DevToMem:
		if cfg.DstWidth == BusWidthUndefined {
			cfg.DstWidth = memDefaultWidth
		}
		if cfg.DstMaxBurst == 0 {
			cfg.DstMaxBurst = memDefaultBurst
		}
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidArgument, dir)
	}

	if !b.caps.widthSupported(cfg.SrcWidth) ||
		!b.caps.widthSupported(cfg.DstWidth) ||
		!b.caps.burstSupported(cfg.SrcMaxBurst) ||
		!b.caps.burstSupported(cfg.DstMaxBurst) {
		return 0, fmt.Errorf("%w: %w", ErrInvalidConfig, errBadBus)
	}

	srcWidth, ok1 := cfg.SrcWidth.code()
	dstWidth, ok2 := cfg.DstWidth.code()
	srcBurst, ok3 := burstCode(cfg.SrcMaxBurst)
	dstBurst, ok4 := burstCode(cfg.DstMaxBurst)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return 0, fmt.Errorf("%w: %w", ErrInvalidConfig, errBadBus)
	}

	return srcWidth<<CfgSrcWidthShift |
		srcBurst<<CfgSrcBurstShift |
		dstWidth<<CfgDstWidthShift |
		dstBurst<<CfgDstBurstShift, nil
}
