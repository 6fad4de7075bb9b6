package tracing

import (
	"sync"

	"github.com/sarchlab/aicdma/sim"
)

type transferKey struct {
	engine string
	vchan  int
	cookie int32
}

// CountTracer counts events per kind and the average time from start to
// completion.
type CountTracer struct {
	lock         sync.Mutex
	counts       map[string]uint64
	bytes        uint64
	inflight     map[transferKey]sim.VTimeInSec
	totalLatency sim.VTimeInSec
	finished     uint64
}

// NewCountTracer creates a new CountTracer.
func NewCountTracer() *CountTracer {
	return &CountTracer{
		counts:   make(map[string]uint64),
		inflight: make(map[transferKey]sim.VTimeInSec),
	}
}

// Record counts the event.
func (t *CountTracer) Record(e TransferEvent) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.counts[e.Kind]++

	key := transferKey{engine: e.Engine, vchan: e.VChan, cookie: e.Cookie}

	switch e.Kind {
	case KindStart:
		t.inflight[key] = e.SimTime
	case KindComplete:
		t.bytes += e.Bytes
		t.finish(key, e.SimTime)
	case KindFault, KindTerminate:
		t.finish(key, e.SimTime)
	}
}

func (t *CountTracer) finish(key transferKey, now sim.VTimeInSec) {
	start, ok := t.inflight[key]
	if !ok {
		return
	}

	delete(t.inflight, key)
	t.totalLatency += now - start
	t.finished++
}

// Count returns the number of events of a kind.
func (t *CountTracer) Count(kind string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.counts[kind]
}

// BytesCompleted returns the bytes of all completed one-shot transfers.
func (t *CountTracer) BytesCompleted() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.bytes
}

// AverageLatency returns the mean time between start and the end of a
// transfer, over the transfers that have ended.
func (t *CountTracer) AverageLatency() sim.VTimeInSec {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.finished == 0 {
		return 0
	}

	return t.totalLatency / sim.VTimeInSec(t.finished)
}
