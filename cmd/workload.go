package cmd

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sarchlab/aicdma/dma"
	"github.com/sarchlab/aicdma/monitoring"
	"github.com/sarchlab/aicdma/simulation"
)

const (
	srcRegion  = 0x100000
	dstRegion  = 0x800000
	fifoAddr   = 0x0F000
	regionSize = 0x100000
)

type workloadParams struct {
	count   int
	size    uint32
	periods int
}

type workload func(s *simulation.Simulation, p workloadParams) error

var workloads = map[string]workload{
	"copy":       runCopies,
	"sg":         runScatterGather,
	"cyclic":     runCyclic,
	"contention": runContention,
	"sync":       runSync,
}

func workloadNames() []string {
	names := make([]string, 0, len(workloads))
	for n := range workloads {
		names = append(names, n)
	}
	sort.Strings(names)

	return names
}

func progressBar(s *simulation.Simulation, name string, total int) *monitoring.ProgressBar {
	if s.Monitor() == nil {
		return &monitoring.ProgressBar{Name: name, Total: uint64(total)}
	}

	return s.Monitor().CreateProgressBar(name, uint64(total))
}

func pattern(n uint32, seed int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*13 + seed)
	}

	return data
}

func verify(s *simulation.Simulation, addr uint32, want []byte) error {
	got, err := s.Storage().Read(uint64(addr), uint64(len(want)))
	if err != nil {
		return err
	}

	if !bytes.Equal(got, want) {
		return fmt.Errorf("data mismatch at 0x%x", addr)
	}

	return nil
}

func runCopies(s *simulation.Simulation, p workloadParams) error {
	vc, err := s.DMA().Acquire(0)
	if err != nil {
		return err
	}
	defer vc.Release()

	bar := progressBar(s, "copy", p.count)
	var firstErr error

	vc.RegisterCallback(func(r dma.Result) {
		bar.Finish(uint64(p.size))
		if r.Err != nil && firstErr == nil {
			firstErr = r.Err
		}
	})

	var wants [][]byte
	for i := 0; i < p.count; i++ {
		src := uint32(srcRegion + i*int(p.size))
		data := pattern(p.size, i)
		if err := s.Storage().Write(uint64(src), data); err != nil {
			return err
		}
		wants = append(wants, data)

		req, err := vc.PrepCopy(src, uint32(dstRegion+i*int(p.size)), p.size)
		if err != nil {
			return err
		}

		if _, err := vc.Submit(req); err != nil {
			return err
		}
		bar.Start(1)
	}

	if err := vc.IssuePending(); err != nil {
		return err
	}

	if err := s.Run(); err != nil {
		return err
	}

	if firstErr != nil {
		return firstErr
	}

	for i, want := range wants {
		if err := verify(s, uint32(dstRegion+i*int(p.size)), want); err != nil {
			return err
		}
	}

	return nil
}

func runScatterGather(s *simulation.Simulation, p workloadParams) error {
	vc, err := s.DMA().Acquire(1)
	if err != nil {
		return err
	}
	defer vc.Release()

	err = vc.Configure(dma.SlaveConfig{
		DstAddr:     fifoAddr,
		DstWidth:    dma.BusWidth4Bytes,
		DstMaxBurst: 8,
	})
	if err != nil {
		return err
	}

	segments := make([]dma.Segment, 0, p.count)
	for i := 0; i < p.count; i++ {
		segments = append(segments, dma.Segment{
			Addr: uint32(srcRegion + i*2*int(p.size)),
			Len:  p.size,
		})
	}

	req, err := vc.PrepScatterGather(dma.MemToDev, segments)
	if err != nil {
		return err
	}

	var result *dma.Result
	req.OnComplete(func(r dma.Result) { result = &r })

	cookie, err := vc.Submit(req)
	if err != nil {
		return err
	}

	if err := vc.IssuePending(); err != nil {
		return err
	}

	if err := s.Run(); err != nil {
		return err
	}

	st, err := vc.TxStatus(cookie)
	if err != nil {
		return err
	}

	if result == nil || st.Status != dma.StatusComplete {
		return fmt.Errorf("scatter/gather ended as %s", st.Status)
	}

	return result.Err
}

func runCyclic(s *simulation.Simulation, p workloadParams) error {
	vc, err := s.DMA().Acquire(2)
	if err != nil {
		return err
	}
	defer vc.Release()

	err = vc.Configure(dma.SlaveConfig{
		SrcAddr:     fifoAddr,
		SrcWidth:    dma.BusWidth2Bytes,
		SrcMaxBurst: 4,
	})
	if err != nil {
		return err
	}

	bufLen := p.size * uint32(max(p.count, 1))
	req, err := vc.PrepCyclic(dstRegion, bufLen, p.size, dma.DevToMem)
	if err != nil {
		return err
	}

	periods := 0
	req.OnComplete(func(r dma.Result) {
		periods++
		if r.Err != nil || periods >= p.periods {
			vc.TerminateAll()
		}
	})

	if _, err := vc.Submit(req); err != nil {
		return err
	}

	if err := vc.IssuePending(); err != nil {
		return err
	}

	if err := s.Run(); err != nil {
		return err
	}

	if periods < p.periods {
		return fmt.Errorf("cyclic ring stopped after %d periods", periods)
	}

	return nil
}

func runContention(s *simulation.Simulation, p workloadParams) error {
	caps := s.DMA().Capabilities()
	users := caps.SchedulableChannels() + 2

	bar := progressBar(s, "contention", users*p.count)
	done := 0

	var vcs []*dma.VirtualChannel
	defer func() {
		for _, vc := range vcs {
			vc.Release()
		}
	}()

	for u := 0; u < users; u++ {
		vc, err := s.DMA().Acquire(uint8(u % caps.NumPorts))
		if err != nil {
			return err
		}
		vcs = append(vcs, vc)

		vc.RegisterCallback(func(dma.Result) {
			done++
			bar.Finish(uint64(p.size))
		})

		for i := 0; i < p.count; i++ {
			offset := uint32((u*p.count + i) * int(p.size) % regionSize)
			req, err := vc.PrepCopy(srcRegion+offset, dstRegion+offset, p.size)
			if err != nil {
				return err
			}

			if _, err := vc.Submit(req); err != nil {
				return err
			}
			bar.Start(1)
		}

		if err := vc.IssuePending(); err != nil {
			return err
		}
	}

	if err := s.Run(); err != nil {
		return err
	}

	if done != users*p.count {
		return fmt.Errorf("%d of %d requests completed", done, users*p.count)
	}

	return nil
}

func runSync(s *simulation.Simulation, p workloadParams) error {
	dc, err := s.DMA().AcquireDedicated(3)
	if err != nil {
		return err
	}
	defer dc.Release()

	s.StartServing()
	defer func() { _ = s.StopServing() }()

	for i := 0; i < p.count; i++ {
		data := pattern(p.size, i)
		if err := s.Storage().Write(srcRegion, data); err != nil {
			return err
		}

		req, err := dc.PrepCopy(srcRegion, dstRegion, p.size)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = dc.TransferSync(ctx, req)
		cancel()

		if err != nil {
			return err
		}

		if err := verify(s, dstRegion, data); err != nil {
			return err
		}
	}

	return nil
}
