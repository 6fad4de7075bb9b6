package simulation

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/aicdma/config"
	"github.com/sarchlab/aicdma/dma"
	"github.com/sarchlab/aicdma/hwsim"
	"github.com/sarchlab/aicdma/mem"
	"github.com/sarchlab/aicdma/monitoring"
	"github.com/sarchlab/aicdma/sim"
	"github.com/sarchlab/aicdma/tracing"
)

// Builder can be used to build a simulation.
type Builder struct {
	cfg      config.Config
	logger   *logrus.Logger
	registry *prometheus.Registry
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		cfg:    config.Default(),
		logger: logrus.StandardLogger(),
	}
}

// WithConfig sets the platform description.
func (b Builder) WithConfig(cfg config.Config) Builder {
	b.cfg = cfg
	return b
}

// WithLogger sets the logger of every component.
func (b Builder) WithLogger(logger *logrus.Logger) Builder {
	b.logger = logger
	return b
}

// WithRegistry sets the registry the metrics are registered to. A fresh
// registry is used if none is set.
func (b Builder) WithRegistry(reg *prometheus.Registry) Builder {
	b.registry = reg
	return b
}

// Build assembles the event engine, memory, simulated controller and DMA
// engine, plus the monitor and the tracer when the config asks for them.
func (b Builder) Build(name string) (*Simulation, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Simulation{
		id:       xid.New().String(),
		cfg:      b.cfg,
		registry: b.registry,
		counter:  tracing.NewCountTracer(),
	}

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}

	level, _ := b.cfg.LogrusLevel()
	b.logger.SetLevel(level)

	s.engine = sim.NewSerialEngine()
	s.storage = mem.NewStorage(b.cfg.Simulator.MemorySize)

	s.ctrl = hwsim.MakeBuilder().
		WithEngine(s.engine).
		WithFreq(b.cfg.Freq()).
		WithStorage(s.storage).
		WithNumChannels(b.cfg.Controller.Channels).
		WithBytesPerCycle(b.cfg.Simulator.BytesPerCycle).
		WithLogger(b.logger).
		Build(name + ".Controller")

	s.dma = dma.MakeBuilder().
		WithRegisters(s.ctrl).
		WithMemory(s.storage).
		WithCapabilities(b.cfg.Capabilities()).
		WithDescriptorPool(b.cfg.Simulator.PoolBase, b.cfg.Simulator.PoolSize).
		WithLogger(b.logger).
		WithMetricsRegisterer(s.registry).
		Build(name)

	s.ctrl.ConnectInterrupt(func() { s.dma.HandleInterrupt() })

	tracing.CollectTrace(s.dma, s.engine, s.counter)

	if b.cfg.Trace.Enabled {
		if err := s.startTrace(); err != nil {
			return nil, err
		}
	}

	if b.cfg.Monitor.Enabled {
		s.monitor = monitoring.NewMonitor().
			WithPortNumber(b.cfg.Monitor.Port).
			WithGatherer(s.registry).
			WithBrowser(b.cfg.Monitor.OpenBrowser)
		s.monitor.RegisterSimEngine(s.engine)
		s.monitor.RegisterDMA(s.dma)
		s.monitorURL = s.monitor.StartServer()
	}

	return s, nil
}

func (s *Simulation) startTrace() error {
	path := s.cfg.Trace.Path
	if path == "" {
		path = "aicdma_trace_" + s.id
	}

	s.recorder = tracing.NewSQLiteRecorder(path).
		WithBatchSize(s.cfg.Trace.BatchSize)
	if err := s.recorder.Init(); err != nil {
		return fmt.Errorf("starting trace: %w", err)
	}

	var filter tracing.EventFilter
	if !s.cfg.Trace.Periods {
		filter = func(e tracing.TransferEvent) bool {
			return e.Kind != tracing.KindPeriod
		}
	}

	tracing.CollectFilteredTrace(s.dma, s.engine, s.recorder, filter)

	return nil
}
