package dma

import "github.com/sarchlab/aicdma/sim"

// Hook positions the engine triggers. The hook item is a TransferInfo.
var (
	HookPosSubmit    = &sim.HookPos{Name: "DMASubmit"}
	HookPosStart     = &sim.HookPos{Name: "DMAStart"}
	HookPosPeriod    = &sim.HookPos{Name: "DMAPeriod"}
	HookPosComplete  = &sim.HookPos{Name: "DMAComplete"}
	HookPosFault     = &sim.HookPos{Name: "DMAFault"}
	HookPosTerminate = &sim.HookPos{Name: "DMATerminate"}
)

// TransferInfo describes the request a hook is triggered for.
type TransferInfo struct {
	Engine    string
	VChan     int
	PChan     int
	Port      uint8
	Cookie    Cookie
	Bytes     uint64
	Tasks     int
	Cyclic    bool
	Dedicated bool
	Err       error
}

func (c *VirtualChannel) info(req *Request, p *PhysicalChannel) TransferInfo {
	info := TransferInfo{
		Engine: c.engine.name,
		VChan:  c.id,
		PChan:  -1,
		Port:   c.port,
	}

	if p != nil {
		info.PChan = p.index
	}

	if req != nil {
		info.Cookie = req.cookie
		info.Bytes = req.length
		info.Tasks = req.count
		info.Cyclic = req.cyclic
	}

	return info
}
