package dma_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sarchlab/aicdma/dma"
	"github.com/sarchlab/aicdma/hwsim"
	"github.com/sarchlab/aicdma/mem"
	"github.com/sarchlab/aicdma/sim"
)

const (
	srcBase  = 0x10000
	dstBase  = 0x80000
	fifoAddr = 0xF000
)

type rig struct {
	simEngine *sim.SerialEngine
	storage   *mem.Storage
	ctrl      *hwsim.Controller
	engine    *dma.Engine
	registry  *prometheus.Registry
}

func newRig(caps dma.Capabilities) *rig {
	r := &rig{
		simEngine: sim.NewSerialEngine(),
		storage:   mem.NewStorage(1 << 22),
		registry:  prometheus.NewRegistry(),
	}

	r.ctrl = hwsim.MakeBuilder().
		WithEngine(r.simEngine).
		WithStorage(r.storage).
		WithNumChannels(caps.NumChannels).
		WithBytesPerCycle(32).
		Build("Ctrl")

	r.engine = dma.MakeBuilder().
		WithRegisters(r.ctrl).
		WithMemory(r.storage).
		WithCapabilities(caps).
		WithDescriptorPool(0x1000, 128).
		WithMetricsRegisterer(r.registry).
		Build("DMA")

	r.ctrl.ConnectInterrupt(func() { r.engine.HandleInterrupt() })

	return r
}

func (r *rig) fill(addr uint32, n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)*3 + seed
	}
	Expect(r.storage.Write(uint64(addr), data)).To(Succeed())

	return data
}

func (r *rig) read(addr uint32, n int) []byte {
	data, err := r.storage.Read(uint64(addr), uint64(n))
	Expect(err).NotTo(HaveOccurred())

	return data
}

func (r *rig) serve() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.ctrl.Serve(ctx)
	}()

	DeferCleanup(func() {
		cancel()
		<-done
	})
}

type hookFunc func(ctx sim.HookCtx)

func (f hookFunc) Func(ctx sim.HookCtx) {
	f(ctx)
}

func boundTo(e *dma.Engine, ch int) int {
	return e.Snapshot().Physical[ch].VChan
}

var _ = Describe("Engine", func() {
	var r *rig

	BeforeEach(func() {
		r = newRig(dma.DefaultCapabilities())
	})

	It("should run a one-shot copy to completion", func() {
		data := r.fill(srcBase, 4096, 1)

		vc, err := r.engine.Acquire(0)
		Expect(err).NotTo(HaveOccurred())

		req, err := vc.PrepCopy(srcBase, dstBase, 4096)
		Expect(err).NotTo(HaveOccurred())

		var results []dma.Result
		req.OnComplete(func(res dma.Result) { results = append(results, res) })

		cookie, err := vc.Submit(req)
		Expect(err).NotTo(HaveOccurred())

		st, _ := vc.TxStatus(cookie)
		Expect(st).To(Equal(dma.TxState{Status: dma.StatusPending, Residue: 4096}))

		Expect(vc.IssuePending()).To(Succeed())
		Expect(boundTo(r.engine, 0)).To(Equal(vc.ID()))

		Expect(r.simEngine.Run()).To(Succeed())

		Expect(results).To(HaveLen(1))
		Expect(results[0].Cookie).To(Equal(cookie))
		Expect(results[0].Err).NotTo(HaveOccurred())
		Expect(r.read(dstBase, 4096)).To(Equal(data))
		Expect(boundTo(r.engine, 0)).To(Equal(-1))
		Expect(r.engine.Pool().Available()).To(Equal(128))

		st, _ = vc.TxStatus(cookie)
		Expect(st).To(Equal(dma.TxState{Status: dma.StatusComplete}))
	})

	It("should deliver every period of a cyclic ring until terminated", func() {
		vc, _ := r.engine.Acquire(3)
		Expect(vc.Configure(dma.SlaveConfig{
			SrcAddr:     fifoAddr,
			SrcWidth:    dma.BusWidth4Bytes,
			SrcMaxBurst: 8,
		})).To(Succeed())

		req, err := vc.PrepCyclic(dstBase, 4096, 1024, dma.DevToMem)
		Expect(err).NotTo(HaveOccurred())
		Expect(req.NumTasks()).To(Equal(4))

		var periods []uint64
		stillBound := true
		req.OnComplete(func(res dma.Result) {
			Expect(res.Cyclic).To(BeTrue())
			Expect(res.Err).NotTo(HaveOccurred())
			periods = append(periods, res.Period)
			stillBound = stillBound && boundTo(r.engine, 0) == vc.ID()

			if len(periods) == 6 {
				vc.TerminateAll()
			}
		})

		cookie, _ := vc.Submit(req)
		Expect(vc.IssuePending()).To(Succeed())

		enabled := r.ctrl.Read32(dma.RegIRQEnable) & 0xF
		Expect(enabled).To(Equal(dma.IRQOneTask | dma.IRQError))

		Expect(r.simEngine.Run()).To(Succeed())

		Expect(periods).To(Equal([]uint64{1, 2, 3, 4, 5, 6}))
		Expect(stillBound).To(BeTrue())
		Expect(boundTo(r.engine, 0)).To(Equal(-1))
		Expect(r.engine.Pool().Available()).To(Equal(128))

		st, _ := vc.TxStatus(cookie)
		Expect(st.Status).To(Equal(dma.StatusComplete))
		Expect(vc.Status()).To(Equal(dma.StatusIdle))

		Expect(r.simEngine.Run()).To(Succeed())
		Expect(periods).To(HaveLen(6))
	})

	It("should start a waiting request when a channel frees up", func() {
		caps := dma.DefaultCapabilities()
		caps.NumChannels = 2
		r = newRig(caps)

		var order []int
		var cookies []dma.Cookie
		var vcs []*dma.VirtualChannel
		for i := 0; i < 3; i++ {
			vc, err := r.engine.Acquire(uint8(i))
			Expect(err).NotTo(HaveOccurred())

			r.fill(uint32(srcBase+i*0x4000), 2048, byte(i))
			req, _ := vc.PrepCopy(uint32(srcBase+i*0x4000), uint32(dstBase+i*0x4000), 2048)
			id := i
			req.OnComplete(func(dma.Result) { order = append(order, id) })

			cookie, _ := vc.Submit(req)
			Expect(vc.IssuePending()).To(Succeed())

			vcs = append(vcs, vc)
			cookies = append(cookies, cookie)
		}

		Expect(vcs[2].Status()).To(Equal(dma.StatusPending))
		st, _ := vcs[2].TxStatus(cookies[2])
		Expect(st).To(Equal(dma.TxState{Status: dma.StatusPending, Residue: 2048}))
		Expect(r.engine.Snapshot().Waiting).To(Equal(1))

		Expect(r.simEngine.Run()).To(Succeed())

		Expect(order).To(HaveLen(3))
		Expect(order[2]).To(Equal(2))
		for i, vc := range vcs {
			st, _ := vc.TxStatus(cookies[i])
			Expect(st.Status).To(Equal(dma.StatusComplete))
		}
		Expect(r.engine.Snapshot().Waiting).To(BeZero())
	})

	It("should run requests of one channel in submission order", func() {
		vc, _ := r.engine.Acquire(0)

		var got []dma.Cookie
		vc.RegisterCallback(func(res dma.Result) { got = append(got, res.Cookie) })

		for i := 0; i < 3; i++ {
			r.fill(uint32(srcBase+i*0x1000), 512, byte(i))
			req, _ := vc.PrepCopy(uint32(srcBase+i*0x1000), uint32(dstBase+i*0x1000), 512)
			_, err := vc.Submit(req)
			Expect(err).NotTo(HaveOccurred())
		}

		Expect(vc.IssuePending()).To(Succeed())
		Expect(r.simEngine.Run()).To(Succeed())

		Expect(got).To(Equal([]dma.Cookie{1, 2, 3}))
		Expect(testutil.ToFloat64(r.engine.Metrics().Completed)).To(Equal(3.0))
	})

	It("should report a non-increasing residue", func() {
		vc, _ := r.engine.Acquire(2)
		Expect(vc.Configure(dma.SlaveConfig{
			DstAddr:     fifoAddr,
			DstWidth:    dma.BusWidth4Bytes,
			DstMaxBurst: 4,
		})).To(Succeed())

		req, err := vc.PrepScatterGather(dma.MemToDev, []dma.Segment{
			{Addr: srcBase, Len: 512},
			{Addr: srcBase + 0x1000, Len: 256},
			{Addr: srcBase + 0x2000, Len: 1024},
		})
		Expect(err).NotTo(HaveOccurred())

		cookie, _ := vc.Submit(req)
		st, _ := vc.TxStatus(cookie)
		Expect(st.Residue).To(Equal(uint64(1792)))

		var residues []uint64
		r.simEngine.AcceptHook(hookFunc(func(ctx sim.HookCtx) {
			if ctx.Pos != sim.HookPosAfterEvent {
				return
			}
			st, err := vc.TxStatus(cookie)
			Expect(err).NotTo(HaveOccurred())
			residues = append(residues, st.Residue)
		}))

		Expect(vc.IssuePending()).To(Succeed())
		Expect(r.simEngine.Run()).To(Succeed())

		Expect(residues).NotTo(BeEmpty())
		Expect(residues[0]).To(BeNumerically("<=", 1792))
		for i := 1; i < len(residues); i++ {
			Expect(residues[i]).To(BeNumerically("<=", residues[i-1]))
		}
		Expect(residues[len(residues)-1]).To(BeZero())
	})

	It("should discard everything on terminate", func() {
		vc, _ := r.engine.Acquire(0)
		calls := 0
		vc.RegisterCallback(func(dma.Result) { calls++ })

		req1, _ := vc.PrepCopy(srcBase, dstBase, 4096)
		req2, _ := vc.PrepCopy(srcBase, dstBase+0x2000, 4096)
		c1, _ := vc.Submit(req1)
		c2, _ := vc.Submit(req2)
		Expect(vc.IssuePending()).To(Succeed())

		vc.TerminateAll()
		vc.TerminateAll()

		Expect(r.simEngine.Run()).To(Succeed())
		Expect(calls).To(BeZero())
		Expect(boundTo(r.engine, 0)).To(Equal(-1))
		Expect(r.engine.Pool().Available()).To(Equal(128))

		for _, c := range []dma.Cookie{c1, c2} {
			st, err := vc.TxStatus(c)
			Expect(err).NotTo(HaveOccurred())
			Expect(st).To(Equal(dma.TxState{Status: dma.StatusIdle}))
		}

		req3, _ := vc.PrepCopy(srcBase, dstBase, 64)
		c3, _ := vc.Submit(req3)
		Expect(vc.IssuePending()).To(Succeed())
		Expect(r.simEngine.Run()).To(Succeed())

		Expect(calls).To(Equal(1))
		st, _ := vc.TxStatus(c3)
		Expect(st.Status).To(Equal(dma.StatusComplete))
	})

	It("should hold the transfer while paused", func() {
		data := r.fill(srcBase, 1024, 9)
		vc, _ := r.engine.Acquire(0)
		req, _ := vc.PrepCopy(srcBase, dstBase, 1024)
		cookie, _ := vc.Submit(req)
		Expect(vc.IssuePending()).To(Succeed())

		vc.Pause()
		Expect(r.simEngine.Run()).To(Succeed())
		Expect(r.ctrl.BytesMoved()).To(BeZero())

		st, _ := vc.TxStatus(cookie)
		Expect(st).To(Equal(dma.TxState{Status: dma.StatusPaused, Residue: 1024}))

		Expect(vc.Resume()).To(Succeed())
		Expect(r.simEngine.Run()).To(Succeed())
		Expect(r.read(dstBase, 1024)).To(Equal(data))

		st, _ = vc.TxStatus(cookie)
		Expect(st.Status).To(Equal(dma.StatusComplete))
	})

	It("should report a hardware fault and keep going", func() {
		vc, _ := r.engine.Acquire(0)
		var results []dma.Result
		vc.RegisterCallback(func(res dma.Result) { results = append(results, res) })

		req1, _ := vc.PrepCopy(srcBase, dstBase, 4096)
		req2, _ := vc.PrepCopy(srcBase, dstBase+0x2000, 256)
		c1, _ := vc.Submit(req1)
		c2, _ := vc.Submit(req2)
		Expect(vc.IssuePending()).To(Succeed())

		r.ctrl.InjectFault(0)
		Expect(r.simEngine.Run()).To(Succeed())

		Expect(results).To(HaveLen(2))
		Expect(results[0].Cookie).To(Equal(c1))
		Expect(results[0].Err).To(MatchError(dma.ErrHardwareFault))
		Expect(results[1].Cookie).To(Equal(c2))
		Expect(results[1].Err).NotTo(HaveOccurred())

		st, _ := vc.TxStatus(c1)
		Expect(st.Status).To(Equal(dma.StatusError))
		Expect(testutil.ToFloat64(r.engine.Metrics().Faults)).To(Equal(1.0))
	})

	It("should stop a cyclic ring on a hardware fault", func() {
		vc, _ := r.engine.Acquire(1)
		Expect(vc.Configure(dma.SlaveConfig{DstAddr: fifoAddr, DstWidth: dma.BusWidth2Bytes, DstMaxBurst: 1})).
			To(Succeed())

		req, _ := vc.PrepCyclic(srcBase, 2048, 512, dma.MemToDev)
		var errs []error
		req.OnComplete(func(res dma.Result) {
			errs = append(errs, res.Err)
			if len(errs) == 2 {
				r.ctrl.InjectFault(0)
			}
		})

		cookie, _ := vc.Submit(req)
		Expect(vc.IssuePending()).To(Succeed())
		Expect(r.simEngine.Run()).To(Succeed())

		Expect(errs).To(HaveLen(3))
		Expect(errs[2]).To(MatchError(dma.ErrHardwareFault))
		Expect(boundTo(r.engine, 0)).To(Equal(-1))

		st, _ := vc.TxStatus(cookie)
		Expect(st.Status).To(Equal(dma.StatusError))
	})

	It("should trigger hooks through the life of a request", func() {
		var positions []string
		r.engine.AcceptHook(hookFunc(func(ctx sim.HookCtx) {
			info := ctx.Item.(dma.TransferInfo)
			Expect(info.Engine).To(Equal("DMA"))
			positions = append(positions, ctx.Pos.Name)
		}))

		vc, _ := r.engine.Acquire(0)
		req, _ := vc.PrepCopy(srcBase, dstBase, 128)
		_, _ = vc.Submit(req)
		Expect(vc.IssuePending()).To(Succeed())
		Expect(r.simEngine.Run()).To(Succeed())

		Expect(positions).To(Equal([]string{
			dma.HookPosSubmit.Name,
			dma.HookPosStart.Name,
			dma.HookPosComplete.Name,
		}))
	})

	Context("acquire and configure", func() {
		It("should validate the port", func() {
			_, err := r.engine.Acquire(24)
			Expect(err).To(MatchError(dma.ErrInvalidConfig))
		})

		It("should run out of virtual channels", func() {
			var first *dma.VirtualChannel
			for i := 0; i < 24; i++ {
				vc, err := r.engine.Acquire(uint8(i))
				Expect(err).NotTo(HaveOccurred())
				if first == nil {
					first = vc
				}
			}

			_, err := r.engine.Acquire(0)
			Expect(err).To(MatchError(dma.ErrResourceExhausted))

			first.Release()
			_, err = r.engine.Acquire(0)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should reject unsupported bursts and widths", func() {
			vc, _ := r.engine.Acquire(0)

			Expect(vc.Configure(dma.SlaveConfig{SrcMaxBurst: 2})).
				To(MatchError(dma.ErrInvalidConfig))
			Expect(vc.Configure(dma.SlaveConfig{DstWidth: 3})).
				To(MatchError(dma.ErrInvalidConfig))
			Expect(vc.Configure(dma.SlaveConfig{DstWidth: dma.BusWidth8Bytes, DstMaxBurst: 16})).
				To(Succeed())
		})

		It("should refuse requests on a released channel", func() {
			vc, _ := r.engine.Acquire(0)
			req, _ := vc.PrepCopy(srcBase, dstBase, 64)
			vc.Release()

			_, err := vc.Submit(req)
			Expect(err).To(MatchError(dma.ErrInvalidArgument))
			req.Release()
		})

		It("should use the channel callback only while registered", func() {
			vc, _ := r.engine.Acquire(0)
			calls := 0
			vc.RegisterCallback(func(dma.Result) { calls++ })
			vc.UnregisterCallback()

			req, _ := vc.PrepCopy(srcBase, dstBase, 64)
			_, _ = vc.Submit(req)
			Expect(vc.IssuePending()).To(Succeed())
			Expect(r.simEngine.Run()).To(Succeed())

			Expect(calls).To(BeZero())
		})
	})

	It("should dump every register", func() {
		regs := r.engine.DumpRegisters()
		Expect(regs).To(HaveLen(3 + 8*8))
		Expect(regs[3].Name).To(Equal("CH0_EN"))
		Expect(regs[3].Offset).To(Equal(uint32(0x100)))
		Expect(regs[len(regs)-1].Name).To(Equal("CH7_MODE"))
		Expect(regs[len(regs)-1].Offset).To(Equal(uint32(0x100 + 7*0x40 + 0x28)))
	})

	It("should expose its metrics through the registry", func() {
		families, err := r.registry.Gather()
		Expect(err).NotTo(HaveOccurred())
		Expect(families).To(HaveLen(8))
	})

	It("should never bind one channel twice under contention", func() {
		caps := dma.DefaultCapabilities()
		caps.NumChannels = 3
		r = newRig(caps)
		r.serve()

		var done atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()

				vc, err := r.engine.Acquire(uint8(i))
				Expect(err).NotTo(HaveOccurred())
				vc.RegisterCallback(func(dma.Result) { done.Add(1) })

				for j := 0; j < 5; j++ {
					addr := uint32(dstBase + (i*5+j)*0x400)
					req, err := vc.PrepCopy(srcBase, addr, 256)
					Expect(err).NotTo(HaveOccurred())
					_, err = vc.Submit(req)
					Expect(err).NotTo(HaveOccurred())
					Expect(vc.IssuePending()).To(Succeed())
				}
			}(i)
		}
		wg.Wait()

		Eventually(done.Load, 10*time.Second).Should(Equal(int32(40)))
		Eventually(func() int { return r.engine.Pool().Available() }).Should(Equal(128))
		Expect(testutil.ToFloat64(r.engine.Metrics().Started)).To(Equal(40.0))

		for _, p := range r.engine.Snapshot().Physical {
			Expect(p.VChan).To(Equal(-1))
		}
	})

	It("should not start a paused channel that waits for a physical channel", func() {
		caps := dma.DefaultCapabilities()
		caps.NumChannels = 1
		r = newRig(caps)

		a, _ := r.engine.Acquire(0)
		b, _ := r.engine.Acquire(1)

		reqA, _ := a.PrepCopy(srcBase, dstBase, 1024)
		_, _ = a.Submit(reqA)
		Expect(a.IssuePending()).To(Succeed())

		data := r.fill(srcBase+0x4000, 1024, 5)
		reqB, _ := b.PrepCopy(srcBase+0x4000, dstBase+0x4000, 1024)
		bDone := false
		reqB.OnComplete(func(dma.Result) { bDone = true })
		cookie, _ := b.Submit(reqB)
		Expect(b.IssuePending()).To(Succeed())
		Expect(r.engine.Snapshot().Waiting).To(Equal(1))

		b.Pause()
		Expect(r.engine.Snapshot().Waiting).To(BeZero())

		Expect(r.simEngine.Run()).To(Succeed())
		Expect(r.ctrl.BytesMoved()).To(Equal(uint64(1024)))
		Expect(bDone).To(BeFalse())
		Expect(b.Status()).To(Equal(dma.StatusPaused))
		Expect(boundTo(r.engine, 0)).To(Equal(-1))

		st, _ := b.TxStatus(cookie)
		Expect(st).To(Equal(dma.TxState{Status: dma.StatusPending, Residue: 1024}))

		Expect(b.Resume()).To(Succeed())
		Expect(boundTo(r.engine, 0)).To(Equal(b.ID()))
		Expect(r.simEngine.Run()).To(Succeed())

		Expect(bDone).To(BeTrue())
		Expect(r.read(dstBase+0x4000, 1024)).To(Equal(data))
		st, _ = b.TxStatus(cookie)
		Expect(st.Status).To(Equal(dma.StatusComplete))
	})

	It("should survive terminate and resubmit racing the dispatcher", func() {
		caps := dma.DefaultCapabilities()
		caps.NumChannels = 3
		r = newRig(caps)
		r.serve()

		type channelRun struct {
			vc   *dma.VirtualChannel
			last dma.Cookie

			mu    sync.Mutex
			fired map[dma.Cookie]int
		}

		runs := make([]*channelRun, 6)
		var wg sync.WaitGroup
		for i := range runs {
			run := &channelRun{fired: make(map[dma.Cookie]int)}
			runs[i] = run

			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()

				vc, err := r.engine.Acquire(uint8(i))
				Expect(err).NotTo(HaveOccurred())
				run.vc = vc
				vc.RegisterCallback(func(res dma.Result) {
					run.mu.Lock()
					run.fired[res.Cookie]++
					run.mu.Unlock()
				})

				for j := 0; j < 10; j++ {
					addr := uint32(dstBase + (i*10+j)*0x400)
					req, err := vc.PrepCopy(srcBase, addr, 512)
					Expect(err).NotTo(HaveOccurred())
					cookie, err := vc.Submit(req)
					Expect(err).NotTo(HaveOccurred())
					Expect(vc.IssuePending()).To(Succeed())

					if j%3 == 1 {
						vc.TerminateAll()
						continue
					}
					run.last = cookie
				}
			}(i)
		}
		wg.Wait()

		for _, run := range runs {
			Eventually(func() dma.Status {
				st, err := run.vc.TxStatus(run.last)
				Expect(err).NotTo(HaveOccurred())
				return st.Status
			}, 10*time.Second).Should(Equal(dma.StatusComplete))
		}

		Eventually(func() int { return r.engine.Pool().Available() }).Should(Equal(128))
		Eventually(func() []int {
			var bound []int
			for _, p := range r.engine.Snapshot().Physical {
				bound = append(bound, p.VChan)
			}
			return bound
		}).Should(HaveEach(-1))

		for _, run := range runs {
			run.mu.Lock()
			for cookie, n := range run.fired {
				Expect(n).To(Equal(1))

				st, err := run.vc.TxStatus(cookie)
				Expect(err).NotTo(HaveOccurred())
				Expect(st.Status).To(Equal(dma.StatusComplete))
			}
			run.mu.Unlock()
		}
	})
})

var _ = Describe("DedicatedChannel", func() {
	var r *rig

	BeforeEach(func() {
		r = newRig(dma.DefaultCapabilities().WithDedicated(2))
	})

	It("should hand out the tail channels only", func() {
		dc1, err := r.engine.AcquireDedicated(0)
		Expect(err).NotTo(HaveOccurred())
		dc2, err := r.engine.AcquireDedicated(1)
		Expect(err).NotTo(HaveOccurred())

		Expect(dc1.Channel()).To(Equal(6))
		Expect(dc2.Channel()).To(Equal(7))

		_, err = r.engine.AcquireDedicated(2)
		Expect(err).To(MatchError(dma.ErrResourceExhausted))

		dc1.Release()
		_, err = r.engine.AcquireDedicated(2)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should transfer synchronously", func() {
		r.serve()
		data := r.fill(srcBase, 2048, 5)

		dc, _ := r.engine.AcquireDedicated(0)
		req, err := dc.PrepCopy(srcBase, dstBase, 2048)
		Expect(err).NotTo(HaveOccurred())

		calls := 0
		req.OnComplete(func(res dma.Result) {
			calls++
			Expect(res.Err).NotTo(HaveOccurred())
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Expect(dc.TransferSync(ctx, req)).To(Succeed())
		Expect(calls).To(Equal(1))
		Expect(r.read(dstBase, 2048)).To(Equal(data))
		Expect(r.engine.Pool().Available()).To(Equal(128))
		Expect(r.ctrl.Read32(dma.RegIRQEnable)).To(BeZero())
	})

	It("should give up when the context is done", func() {
		dc, _ := r.engine.AcquireDedicated(0)
		req, _ := dc.PrepCopy(srcBase, dstBase, 2048)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Expect(dc.TransferSync(ctx, req)).To(MatchError(context.Canceled))
		Expect(r.engine.Pool().Available()).To(Equal(128))
		Expect(r.ctrl.Read32(dma.ChanBase(6) + dma.RegChEnable)).To(BeZero())
	})

	It("should keep the scheduler off the dedicated channels", func() {
		for i := 0; i < 6; i++ {
			vc, _ := r.engine.Acquire(uint8(i))
			req, _ := vc.PrepCopy(srcBase, dstBase, 64)
			_, _ = vc.Submit(req)
			Expect(vc.IssuePending()).To(Succeed())
		}

		vc, _ := r.engine.Acquire(7)
		req, _ := vc.PrepCopy(srcBase, dstBase, 64)
		_, _ = vc.Submit(req)
		Expect(vc.IssuePending()).To(Succeed())
		Expect(vc.Status()).To(Equal(dma.StatusPending))

		snap := r.engine.Snapshot()
		Expect(snap.Physical[6].VChan).To(Equal(-1))
		Expect(snap.Physical[7].VChan).To(Equal(-1))
	})
})
