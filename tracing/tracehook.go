package tracing

import (
	"time"

	"github.com/rs/xid"

	"github.com/sarchlab/aicdma/dma"
	"github.com/sarchlab/aicdma/sim"
)

var kinds = map[*sim.HookPos]string{
	dma.HookPosSubmit:    KindSubmit,
	dma.HookPosStart:     KindStart,
	dma.HookPosPeriod:    KindPeriod,
	dma.HookPosComplete:  KindComplete,
	dma.HookPosFault:     KindFault,
	dma.HookPosTerminate: KindTerminate,
}

// CollectTrace lets the tracer collect the transfer events of a domain.
// timeTeller may be nil when no simulation clock is available.
func CollectTrace(
	domain sim.Hookable,
	timeTeller sim.TimeTeller,
	tracer Tracer,
) {
	CollectFilteredTrace(domain, timeTeller, tracer, nil)
}

// CollectFilteredTrace is CollectTrace with only the events that pass the
// filter recorded.
func CollectFilteredTrace(
	domain sim.Hookable,
	timeTeller sim.TimeTeller,
	tracer Tracer,
	filter EventFilter,
) {
	domain.AcceptHook(&traceHook{
		t:          tracer,
		timeTeller: timeTeller,
		filter:     filter,
	})
}

// A traceHook turns engine hooks into transfer events.
type traceHook struct {
	t          Tracer
	timeTeller sim.TimeTeller
	filter     EventFilter
}

// Func records the transfer the hook is triggered for.
func (h *traceHook) Func(ctx sim.HookCtx) {
	kind, ok := kinds[ctx.Pos]
	if !ok {
		return
	}

	info, ok := ctx.Item.(dma.TransferInfo)
	if !ok {
		return
	}

	e := TransferEvent{
		ID:        xid.New().String(),
		Kind:      kind,
		Engine:    info.Engine,
		VChan:     info.VChan,
		PChan:     info.PChan,
		Port:      info.Port,
		Cookie:    int32(info.Cookie),
		Bytes:     info.Bytes,
		Tasks:     info.Tasks,
		Cyclic:    info.Cyclic,
		Dedicated: info.Dedicated,
		WallTime:  time.Now(),
	}

	if info.Err != nil {
		e.Error = info.Err.Error()
	}

	if h.timeTeller != nil {
		e.SimTime = h.timeTeller.CurrentTime()
	}

	if h.filter != nil && !h.filter(e) {
		return
	}

	h.t.Record(e)
}
