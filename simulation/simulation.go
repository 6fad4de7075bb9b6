// Package simulation assembles a simulated DMA platform.
package simulation

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sarchlab/aicdma/config"
	"github.com/sarchlab/aicdma/dma"
	"github.com/sarchlab/aicdma/hwsim"
	"github.com/sarchlab/aicdma/mem"
	"github.com/sarchlab/aicdma/monitoring"
	"github.com/sarchlab/aicdma/sim"
	"github.com/sarchlab/aicdma/tracing"
)

// A Simulation holds every part of a simulated DMA platform.
type Simulation struct {
	id  string
	cfg config.Config

	engine  *sim.SerialEngine
	storage *mem.Storage
	ctrl    *hwsim.Controller
	dma     *dma.Engine

	registry   *prometheus.Registry
	monitor    *monitoring.Monitor
	monitorURL string
	recorder   *tracing.SQLiteRecorder
	counter    *tracing.CountTracer

	cancelServe context.CancelFunc
	served      chan error
}

// ID returns the unique ID of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// Config returns the configuration the simulation was built from.
func (s *Simulation) Config() config.Config {
	return s.cfg
}

// Engine returns the event engine.
func (s *Simulation) Engine() *sim.SerialEngine {
	return s.engine
}

// Storage returns the simulated memory.
func (s *Simulation) Storage() *mem.Storage {
	return s.storage
}

// Controller returns the simulated DMA controller.
func (s *Simulation) Controller() *hwsim.Controller {
	return s.ctrl
}

// DMA returns the DMA engine.
func (s *Simulation) DMA() *dma.Engine {
	return s.dma
}

// Registry returns the metrics registry.
func (s *Simulation) Registry() *prometheus.Registry {
	return s.registry
}

// Monitor returns the monitor, or nil when monitoring is off.
func (s *Simulation) Monitor() *monitoring.Monitor {
	return s.monitor
}

// MonitorURL returns where the monitor listens, if it runs.
func (s *Simulation) MonitorURL() string {
	return s.monitorURL
}

// Recorder returns the trace recorder, or nil when tracing is off.
func (s *Simulation) Recorder() *tracing.SQLiteRecorder {
	return s.recorder
}

// Counter returns the tracer that counts transfer events.
func (s *Simulation) Counter() *tracing.CountTracer {
	return s.counter
}

// Run processes every pending event.
func (s *Simulation) Run() error {
	return s.engine.Run()
}

// StartServing runs the event engine in the background so that callers can
// wait on transfers from their own goroutine.
func (s *Simulation) StartServing() {
	if s.cancelServe != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelServe = cancel
	s.served = make(chan error, 1)

	go func() {
		s.served <- s.ctrl.Serve(ctx)
	}()
}

// StopServing stops the background engine started by StartServing.
func (s *Simulation) StopServing() error {
	if s.cancelServe == nil {
		return nil
	}

	s.cancelServe()
	err := <-s.served
	s.cancelServe = nil

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// Terminate stops the background services and flushes the trace.
func (s *Simulation) Terminate() error {
	var errs []error

	errs = append(errs, s.StopServing())

	if s.monitor != nil {
		errs = append(errs, s.monitor.StopServer())
	}

	if s.recorder != nil {
		errs = append(errs, s.recorder.Close())
	}

	return errors.Join(errs...)
}
