package dma

import (
	"fmt"
	"log"
	"sync/atomic"
)

// A TaskPool is a fixed arena of descriptors backed by physical memory.
// Alloc and Free never block.
type TaskPool struct {
	base  uint32
	mem   Memory
	tasks []TransferTask
	inUse []atomic.Bool
	free  chan int32
}

// NewTaskPool creates a pool of count descriptors laid out from base.
func NewTaskPool(base uint32, count int, mem Memory) *TaskPool {
	if count <= 0 {
		log.Panicf("task pool needs at least one task, got %d", count)
	}

	if uint64(base)+uint64(count)*taskStride > uint64(LinkEnd) {
		log.Panicf("task pool [0x%x, +%d tasks) overlaps the end-of-list marker",
			base, count)
	}

	p := &TaskPool{
		base:  base,
		mem:   mem,
		tasks: make([]TransferTask, count),
		inUse: make([]atomic.Bool, count),
		free:  make(chan int32, count),
	}

	for i := range p.tasks {
		p.tasks[i].index = int32(i)
		p.tasks[i].phys = base + uint32(i)*taskStride
		p.tasks[i].reset()
		p.free <- int32(i)
	}

	return p
}

// Alloc takes a task from the pool.
func (p *TaskPool) Alloc() (*TransferTask, error) {
	select {
	case idx := <-p.free:
		p.inUse[idx].Store(true)
		t := &p.tasks[idx]
		t.reset()
		return t, nil
	default:
		return nil, exhausted("descriptor pool empty")
	}
}

// Free returns a task to the pool.
func (p *TaskPool) Free(t *TransferTask) {
	if t == nil {
		return
	}

	p.mustOwn(t)

	if !p.inUse[t.index].CompareAndSwap(true, false) {
		log.Panicf("task %d freed twice", t.index)
	}

	t.next = noTask
	p.free <- t.index
}

// Available returns the number of free tasks.
func (p *TaskPool) Available() int {
	return len(p.free)
}

// Size returns the number of tasks in the pool.
func (p *TaskPool) Size() int {
	return len(p.tasks)
}

func (p *TaskPool) mustOwn(t *TransferTask) {
	if t.index < 0 || int(t.index) >= len(p.tasks) || &p.tasks[t.index] != t {
		log.Panicf("task at 0x%x does not belong to this pool", t.phys)
	}
}

func (p *TaskPool) get(idx int32) *TransferTask {
	if idx == noTask {
		return nil
	}

	return &p.tasks[idx]
}

// commit writes the hardware image of t to memory.
func (p *TaskPool) commit(t *TransferTask) error {
	err := p.mem.Write(uint64(t.phys), t.Encode())
	if err != nil {
		return fmt.Errorf("dma: writing task at 0x%x: %w", t.phys, err)
	}

	return nil
}
