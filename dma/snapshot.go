package dma

import "fmt"

// PhysicalSnapshot is the binding of one physical channel.
type PhysicalSnapshot struct {
	Index     int  `json:"index"`
	Dedicated bool `json:"dedicated"`
	VChan     int  `json:"vchan"`
}

// VirtualSnapshot is the state of one acquired virtual channel.
type VirtualSnapshot struct {
	ID      int    `json:"id"`
	Port    uint8  `json:"port"`
	Status  string `json:"status"`
	Queued  int    `json:"queued"`
	Current Cookie `json:"current"`
	Last    Cookie `json:"last"`
	PChan   int    `json:"pchan"`
	Periods uint64 `json:"periods"`
}

// Snapshot is a point-in-time view of an engine.
type Snapshot struct {
	Name      string             `json:"name"`
	Physical  []PhysicalSnapshot `json:"physical"`
	Virtual   []VirtualSnapshot  `json:"virtual"`
	FreeTasks int                `json:"free_tasks"`
	Waiting   int                `json:"waiting"`
}

// Snapshot captures the binding table and the acquired virtual channels.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		Name:      e.name,
		FreeTasks: e.pool.Available(),
	}

	for _, c := range e.vchans {
		if vs, ok := c.snapshot(); ok {
			s.Virtual = append(s.Virtual, vs)
		}
	}

	e.lock.Lock()
	for _, p := range e.pchans {
		ps := PhysicalSnapshot{Index: p.index, Dedicated: p.dedicated, VChan: -1}
		if p.vchan != nil {
			ps.VChan = p.vchan.id
		}
		s.Physical = append(s.Physical, ps)
	}
	s.Waiting = len(e.waiting)
	e.lock.Unlock()

	return s
}

// VirtualChannel returns the virtual channel in slot id, or nil.
func (e *Engine) VirtualChannel(id int) *VirtualChannel {
	if id < 0 || id >= len(e.vchans) {
		return nil
	}

	return e.vchans[id]
}

// VirtualChannelSnapshot returns the state of virtual channel id. It reports
// false when the slot is not acquired.
func (e *Engine) VirtualChannelSnapshot(id int) (VirtualSnapshot, bool) {
	c := e.VirtualChannel(id)
	if c == nil {
		return VirtualSnapshot{}, false
	}

	return c.snapshot()
}

func (c *VirtualChannel) snapshot() (VirtualSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.acquired {
		return VirtualSnapshot{}, false
	}

	vs := VirtualSnapshot{
		ID:      c.id,
		Port:    c.port,
		Status:  c.status.String(),
		Queued:  len(c.queue),
		Last:    c.lastCookie,
		PChan:   -1,
		Periods: c.periods,
	}

	if c.current != nil {
		vs.Current = c.current.cookie
	}

	c.engine.lock.Lock()
	if c.pchan != nil {
		vs.PChan = c.pchan.index
	}
	c.engine.lock.Unlock()

	return vs, true
}

// RegisterValue is one register in a dump.
type RegisterValue struct {
	Name   string `json:"name"`
	Offset uint32 `json:"offset"`
	Value  uint32 `json:"value"`
}

var chanRegs = []struct {
	name   string
	offset uint32
}{
	{"EN", RegChEnable},
	{"PAUSE", RegChPause},
	{"TASK", RegChTask},
	{"CFG", RegChConfig},
	{"SRC", RegChSrc},
	{"DST", RegChDst},
	{"LEFT", RegChLeft},
	{"MODE", RegChMode},
}

// DumpRegisters reads every controller and channel register.
func (e *Engine) DumpRegisters() []RegisterValue {
	regs := []RegisterValue{
		{Name: "IRQ_EN", Offset: RegIRQEnable},
		{Name: "IRQ_STA", Offset: RegIRQStatus},
		{Name: "CH_STA", Offset: RegChanStatus},
	}

	for _, p := range e.pchans {
		for _, r := range chanRegs {
			regs = append(regs, RegisterValue{
				Name:   fmt.Sprintf("CH%d_%s", p.index, r.name),
				Offset: p.base + r.offset,
			})
		}
	}

	for i := range regs {
		regs[i].Value = e.regs.Read32(regs[i].Offset)
	}

	return regs
}
