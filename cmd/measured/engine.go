package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/calibration"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/config"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/fusion"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/perfmon"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/recovery"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/validation"
)

// engine is the wired set of components behind one orchestrator.
type engine struct {
	orch        *fusion.Orchestrator
	validator   *validation.Validator
	calibration *calibration.Engine
	monitor     *perfmon.Monitor
	recovery    *recovery.Manager
}

// newEngine wires every component from cfg. A nil registry leaves metrics
// unexported.
func newEngine(cfg *config.EngineConfig, store calibration.Store, reg prometheus.Registerer) (*engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var (
		fm *fusion.Metrics
		vm *validation.Metrics
		rm *recovery.Metrics
		pe *perfmon.Exporter
	)
	if reg != nil {
		fm = fusion.NewMetrics(reg)
		vm = validation.NewMetrics(reg)
		rm = recovery.NewMetrics(reg)
		pe = perfmon.NewExporter(reg)
	}

	e := &engine{
		validator:   validation.New(validation.ConfigFromEngine(cfg), validation.WithMetrics(vm)),
		calibration: calibration.NewEngine(store, calibration.ConfigFromEngine(cfg)),
		monitor:     perfmon.New(perfmon.ConfigFromEngine(cfg), perfmon.WithProbe(perfmon.RuntimeProbe{}), perfmon.WithExporter(pe)),
		recovery:    recovery.NewManager(recovery.ConfigFromEngine(cfg), recovery.WithMetrics(rm)),
	}
	e.orch = fusion.New(fusion.ConfigFromEngine(cfg),
		fusion.WithRecovery(e.recovery),
		fusion.WithValidator(e.validator),
		fusion.WithCalibrator(e.calibration),
		fusion.WithMonitor(e.monitor),
		fusion.WithMetrics(fm),
	)
	return e, nil
}
