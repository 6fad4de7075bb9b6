package dma

import "encoding/binary"

// TaskSize is the number of bytes the controller reads for one task.
const TaskSize = 28

// taskStride keeps every task on its own 32-byte line.
const taskStride = 32

const noTask int32 = -1

// A TransferTask is one hardware descriptor. The exported fields are the
// words the controller walks, in hardware order.
type TransferTask struct {
	Config uint32
	Src    uint32
	Dst    uint32
	Len    uint32
	Delay  uint32
	HWNext uint32
	Mode   uint32

	index int32
	next  int32
	phys  uint32
}

// PhysAddr returns the address the controller reads this task from.
func (t *TransferTask) PhysAddr() uint32 {
	return t.phys
}

// Encode returns the little-endian hardware image of the task.
func (t *TransferTask) Encode() []byte {
	buf := make([]byte, TaskSize)
	for i, w := range t.Words() {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}

	return buf
}

// DecodeTask parses a hardware image produced by Encode. Only the hardware
// words are recovered.
func DecodeTask(buf []byte) TransferTask {
	if len(buf) < TaskSize {
		return TransferTask{HWNext: LinkEnd}
	}

	word := func(i int) uint32 {
		return binary.LittleEndian.Uint32(buf[i*4:])
	}

	return TransferTask{
		Config: word(0),
		Src:    word(1),
		Dst:    word(2),
		Len:    word(3),
		Delay:  word(4),
		HWNext: word(5),
		Mode:   word(6),
		index:  noTask,
		next:   noTask,
	}
}

func (t *TransferTask) reset() {
	t.Config = 0
	t.Src = 0
	t.Dst = 0
	t.Len = 0
	t.Delay = 0
	t.HWNext = LinkEnd
	t.Mode = 0
	t.next = noTask
}

// Words returns the hardware words of the task in layout order.
func (t *TransferTask) Words() [7]uint32 {
	return [7]uint32{t.Config, t.Src, t.Dst, t.Len, t.Delay, t.HWNext, t.Mode}
}
