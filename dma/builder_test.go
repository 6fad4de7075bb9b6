package dma

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/aicdma/mem"
)

var _ = Describe("ChainBuilder", func() {
	var (
		storage *mem.Storage
		pool    *TaskPool
		builder ChainBuilder
		cfg     SlaveConfig
	)

	BeforeEach(func() {
		storage = mem.NewStorage(1 << 20)
		pool = NewTaskPool(0x1000, 64, storage)
		builder = NewChainBuilder(pool, DefaultCapabilities())
		cfg = SlaveConfig{
			SrcAddr:     0x8000,
			DstAddr:     0x8800,
			SrcWidth:    BusWidth4Bytes,
			DstWidth:    BusWidth4Bytes,
			SrcMaxBurst: 1,
			DstMaxBurst: 1,
		}
	})

	Context("copy", func() {
		It("should build one linear task with the memory defaults", func() {
			req, err := builder.BuildCopy(0x10000, 0x20000, 4096)
			Expect(err).NotTo(HaveOccurred())

			tasks := req.Tasks()
			Expect(tasks).To(HaveLen(1))
			Expect(tasks[0].Config).To(Equal(uint32(
				2<<25 | 0<<24 | 3<<22 | 1<<16 | 2<<9 | 0<<8 | 3<<6 | 1)))
			Expect(tasks[0].Src).To(Equal(uint32(0x10000)))
			Expect(tasks[0].Dst).To(Equal(uint32(0x20000)))
			Expect(tasks[0].Len).To(Equal(uint32(4096)))
			Expect(tasks[0].Mode).To(Equal(uint32(ModeWaitWait)))
			Expect(tasks[0].HWNext).To(Equal(LinkEnd))
			Expect(req.IsCyclic()).To(BeFalse())
			Expect(req.HeadPhys()).To(Equal(tasks[0].PhysAddr()))
		})

		It("should reject a zero length", func() {
			_, err := builder.BuildCopy(0, 0, 0)
			Expect(err).To(MatchError(ErrInvalidArgument))
		})

		It("should write the descriptor to memory", func() {
			req, _ := builder.BuildCopy(0x10000, 0x20000, 64)

			buf, err := storage.Read(uint64(req.HeadPhys()), TaskSize)
			Expect(err).NotTo(HaveOccurred())
			Expect(buf).To(Equal(req.Tasks()[0].Encode()))
		})
	})

	Context("scatter/gather", func() {
		It("should build one task per segment", func() {
			for n := 1; n <= 8; n++ {
				var segs []Segment
				total := uint64(0)
				for i := 0; i < n; i++ {
					l := uint32(64 * (i + 1))
					segs = append(segs, Segment{Addr: uint32(0x10000 + i*0x1000), Len: l})
					total += uint64(l)
				}

				req, err := builder.BuildScatterGather(MemToDev, segs, 5, cfg)
				Expect(err).NotTo(HaveOccurred())

				tasks := req.Tasks()
				Expect(tasks).To(HaveLen(n))
				Expect(req.NumTasks()).To(Equal(n))
				Expect(req.Bytes()).To(Equal(total))

				sum := uint64(0)
				for i, t := range tasks {
					sum += uint64(t.Len)
					if i < n-1 {
						Expect(t.HWNext).To(Equal(tasks[i+1].PhysAddr()))
					}
				}
				Expect(sum).To(Equal(total))
				Expect(tasks[n-1].HWNext).To(Equal(LinkEnd))

				req.Release()
				Expect(req.HeadPhys()).To(Equal(LinkEnd))
				Expect(req.Tasks()).To(BeEmpty())
			}

			Expect(pool.Available()).To(Equal(64))
		})

		It("should make memory to device tasks", func() {
			req, err := builder.BuildScatterGather(MemToDev,
				[]Segment{{Addr: 0x10000, Len: 128}}, 5, cfg)
			Expect(err).NotTo(HaveOccurred())

			t := req.Tasks()[0]
			Expect(t.Src).To(Equal(uint32(0x10000)))
			Expect(t.Dst).To(Equal(cfg.DstAddr))
			Expect(t.Mode).To(Equal(uint32(ModeWaitHandshake)))
			Expect(t.Delay).To(Equal(SGDelay))
			Expect((t.Config >> CfgSrcPortShift) & CfgPortMask).To(Equal(uint32(DRAMPort)))
			Expect((t.Config >> CfgDstPortShift) & CfgPortMask).To(Equal(uint32(5)))
			Expect((t.Config >> CfgSrcAddrShift) & 1).To(Equal(AddrLinear))
			Expect((t.Config >> CfgDstAddrShift) & 1).To(Equal(AddrFixed))
			Expect((t.Config >> CfgDstBurstShift) & CfgBurstMask).To(Equal(uint32(0)))
			Expect((t.Config >> CfgSrcBurstShift) & CfgBurstMask).To(Equal(uint32(0)))
		})

		It("should make device to memory tasks", func() {
			req, err := builder.BuildScatterGather(DevToMem,
				[]Segment{{Addr: 0x20000, Len: 128}}, 7, cfg)
			Expect(err).NotTo(HaveOccurred())

			t := req.Tasks()[0]
			Expect(t.Src).To(Equal(cfg.SrcAddr))
			Expect(t.Dst).To(Equal(uint32(0x20000)))
			Expect(t.Mode).To(Equal(uint32(ModeHandshakeWait)))
			Expect((t.Config >> CfgSrcPortShift) & CfgPortMask).To(Equal(uint32(7)))
			Expect((t.Config >> CfgDstPortShift) & CfgPortMask).To(Equal(uint32(DRAMPort)))
			Expect((t.Config >> CfgSrcAddrShift) & 1).To(Equal(AddrFixed))
			Expect((t.Config >> CfgDstAddrShift) & 1).To(Equal(AddrLinear))
		})

		It("should default the memory side width and burst", func() {
			cfg.SrcWidth = BusWidthUndefined
			cfg.SrcMaxBurst = 0

			req, err := builder.BuildScatterGather(MemToDev,
				[]Segment{{Addr: 0x10000, Len: 128}}, 5, cfg)
			Expect(err).NotTo(HaveOccurred())

			t := req.Tasks()[0]
			Expect((t.Config >> CfgSrcWidthShift) & CfgWidthMask).To(Equal(uint32(2)))
			Expect((t.Config >> CfgSrcBurstShift) & CfgBurstMask).To(Equal(uint32(2)))
		})

		It("should reject an undefined device side width", func() {
			cfg.DstWidth = BusWidthUndefined

			_, err := builder.BuildScatterGather(MemToDev,
				[]Segment{{Addr: 0x10000, Len: 128}}, 5, cfg)
			Expect(err).To(MatchError(ErrInvalidConfig))
		})

		It("should reject bad arguments", func() {
			_, err := builder.BuildScatterGather(MemToDev, nil, 5, cfg)
			Expect(err).To(MatchError(ErrInvalidArgument))

			_, err = builder.BuildScatterGather(MemToDev,
				[]Segment{{Addr: 0x10000, Len: 0}}, 5, cfg)
			Expect(err).To(MatchError(ErrInvalidArgument))

			_, err = builder.BuildScatterGather(Direction(9),
				[]Segment{{Addr: 0x10000, Len: 4}}, 5, cfg)
			Expect(err).To(MatchError(ErrInvalidArgument))

			_, err = builder.BuildScatterGather(MemToDev,
				[]Segment{{Addr: 0x10000, Len: 4}}, 24, cfg)
			Expect(err).To(MatchError(ErrInvalidConfig))
		})

		It("should give back every task when the pool runs dry", func() {
			small := NewTaskPool(0x1000, 3, storage)
			b := NewChainBuilder(small, DefaultCapabilities())

			segs := make([]Segment, 4)
			for i := range segs {
				segs[i] = Segment{Addr: uint32(0x10000 + i*64), Len: 64}
			}

			_, err := b.BuildScatterGather(MemToDev, segs, 5, cfg)
			Expect(err).To(MatchError(ErrResourceExhausted))
			Expect(small.Available()).To(Equal(3))
		})
	})

	Context("cyclic", func() {
		It("should close the ring", func() {
			for k := 1; k <= 8; k++ {
				req, err := builder.BuildCyclic(0x30000, uint32(k)*256, 256,
					DevToMem, 3, cfg)
				Expect(err).NotTo(HaveOccurred())

				tasks := req.Tasks()
				Expect(tasks).To(HaveLen(k))
				Expect(req.IsCyclic()).To(BeTrue())
				Expect(tasks[k-1].HWNext).To(Equal(tasks[0].PhysAddr()))

				for i, t := range tasks {
					Expect(t.Len).To(Equal(uint32(256)))
					Expect(t.Dst).To(Equal(uint32(0x30000 + i*256)))
				}

				req.Release()
			}
		})

		It("should reject a period that does not divide the buffer", func() {
			_, err := builder.BuildCyclic(0x30000, 1000, 300, DevToMem, 3, cfg)
			Expect(err).To(MatchError(ErrInvalidArgument))

			_, err = builder.BuildCyclic(0x30000, 1024, 0, DevToMem, 3, cfg)
			Expect(err).To(MatchError(ErrInvalidArgument))

			Expect(pool.Available()).To(Equal(64))
		})
	})

	It("should compute the residue from the hardware position", func() {
		req, _ := builder.BuildScatterGather(MemToDev, []Segment{
			{Addr: 0x10000, Len: 100},
			{Addr: 0x20000, Len: 200},
			{Addr: 0x30000, Len: 300},
		}, 5, cfg)
		tasks := req.Tasks()

		Expect(req.residueFrom(tasks[1].PhysAddr(), 40)).To(Equal(uint64(540)))
		Expect(req.residueFrom(tasks[2].PhysAddr(), 150)).To(Equal(uint64(450)))
		Expect(req.residueFrom(LinkEnd, 10)).To(Equal(uint64(10)))
	})
})
