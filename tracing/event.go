// Package tracing records the life of DMA transfers.
package tracing

import (
	"time"

	"github.com/sarchlab/aicdma/sim"
)

// A TransferEvent is one step in the life of a transfer.
type TransferEvent struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Engine    string         `json:"engine"`
	VChan     int            `json:"vchan"`
	PChan     int            `json:"pchan"`
	Port      uint8          `json:"port"`
	Cookie    int32          `json:"cookie"`
	Bytes     uint64         `json:"bytes"`
	Tasks     int            `json:"tasks"`
	Cyclic    bool           `json:"cyclic"`
	Dedicated bool           `json:"dedicated"`
	Error     string         `json:"error,omitempty"`
	SimTime   sim.VTimeInSec `json:"sim_time"`
	WallTime  time.Time      `json:"wall_time"`
}

// Event kinds.
const (
	KindSubmit    = "submit"
	KindStart     = "start"
	KindPeriod    = "period"
	KindComplete  = "complete"
	KindFault     = "fault"
	KindTerminate = "terminate"
)

// EventFilter decides if an event is worth recording.
type EventFilter func(e TransferEvent) bool

// A Tracer consumes transfer events.
type Tracer interface {
	Record(e TransferEvent)
}
