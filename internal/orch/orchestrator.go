// ABOUTME: Start/stop orchestration for the core and input-pipe units
// ABOUTME: Brings services up in order with compensating rollback on failure
package orch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/alphalpha/live-input-to-airplay/internal/defaults"
	"github.com/alphalpha/live-input-to-airplay/internal/systemd"
	"github.com/alphalpha/live-input-to-airplay/pkg/model"
)

// ErrServiceControlTimeout reports a unit that never reached the
// active state within its bound.
var ErrServiceControlTimeout = errors.New("service did not become active in time")

// ErrNoOutputsDiscovered reports that the core service came up but
// never exposed any outputs.
var ErrNoOutputsDiscovered = errors.New("no outputs discovered")

// OutputClient is the slice of the OwnTone client the orchestrator
// drives.
type OutputClient interface {
	ListOutputs(ctx context.Context) ([]model.Output, error)
	SetVolume(ctx context.Context, id, volume int) error
	SetSelected(ctx context.Context, id int, selected bool) error
}

// Broadcaster fans an event out to all subscribers.
type Broadcaster interface {
	Broadcast(msg any)
}

// Config bounds the orchestrator's waits.
type Config struct {
	CoreUnit string
	PipeUnit string

	ActivationTimeout time.Duration
	OutputsTimeout    time.Duration
	PollGranularity   time.Duration
	StopSettleDelay   time.Duration
}

// Orchestrator runs the start and stop pipelines. It holds no lock
// across operations: concurrent Start/Stop interleaving is unspecified,
// matching the behavior front ends already rely on.
type Orchestrator struct {
	cfg      Config
	services systemd.ServiceManager
	outputs  OutputClient
	defaults *defaults.Store
	hub      Broadcaster
	logger   *zap.Logger
}

// New creates an orchestrator.
func New(cfg Config, services systemd.ServiceManager, outputs OutputClient, defs *defaults.Store, hub Broadcaster, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		services: services,
		outputs:  outputs,
		defaults: defs,
		hub:      hub,
		logger:   logger,
	}
}

// Start brings up the core unit, then the pipe unit, waits for outputs
// to appear, and applies persisted defaults (volume before selection).
// Any failed stage stops the core unit as compensation, broadcasts an
// all-false status, and returns the failure. Calling Start on an
// already-running system re-validates and re-broadcasts current truth.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.services.Start(ctx, o.cfg.CoreUnit); err != nil {
		o.logger.Warn("start request for core unit failed", zap.Error(err))
	}
	if !o.waitActive(ctx, o.cfg.CoreUnit) {
		o.broadcastDown()
		return fmt.Errorf("%s: %w", o.cfg.CoreUnit, ErrServiceControlTimeout)
	}

	if err := o.services.Start(ctx, o.cfg.PipeUnit); err != nil {
		o.logger.Warn("start request for pipe unit failed", zap.Error(err))
	}
	if !o.waitActive(ctx, o.cfg.PipeUnit) {
		o.rollback(ctx)
		return fmt.Errorf("%s: %w", o.cfg.PipeUnit, ErrServiceControlTimeout)
	}

	outs, ok := o.waitOutputs(ctx)
	if !ok {
		o.rollback(ctx)
		return ErrNoOutputsDiscovered
	}

	defs := o.defaults.Read()
	if err := o.applyDefaults(ctx, outs, defs); err != nil {
		o.rollback(ctx)
		return fmt.Errorf("enable default outputs: %w", err)
	}

	outs = defaults.Annotate(outs, defs)
	o.hub.Broadcast(model.NewStatusEvent(model.NewStatus(true, true)))
	o.hub.Broadcast(model.NewOutputsEvent(outs))
	return nil
}

// Stop issues stop for the core unit, waits a short settle delay, then
// reports the actually observed unit states rather than assuming they
// stopped. Stopping an already-stopped system is a harmless re-poll.
func (o *Orchestrator) Stop(ctx context.Context) model.Status {
	if err := o.services.Stop(ctx, o.cfg.CoreUnit); err != nil {
		o.logger.Warn("stop request for core unit failed", zap.Error(err))
	}

	select {
	case <-time.After(o.cfg.StopSettleDelay):
	case <-ctx.Done():
	}

	status := model.NewStatus(
		o.services.IsActive(ctx, o.cfg.CoreUnit),
		o.services.IsActive(ctx, o.cfg.PipeUnit),
	)
	o.hub.Broadcast(model.NewStatusEvent(status))
	if !status.BothActive {
		o.hub.Broadcast(model.NewOutputsEvent(nil))
	}
	return status
}

// applyDefaults sets each stored default's volume first and only then
// selects the output, so selection never produces an audible jump to
// an unintended level.
func (o *Orchestrator) applyDefaults(ctx context.Context, outs []model.Output, defs defaults.Map) error {
	for _, out := range outs {
		vol, ok := defs[strconv.Itoa(out.ID)]
		if !ok {
			continue
		}
		if err := o.outputs.SetVolume(ctx, out.ID, vol); err != nil {
			return err
		}
		if err := o.outputs.SetSelected(ctx, out.ID, true); err != nil {
			return err
		}
	}
	return nil
}

// waitActive polls the unit until it is active or the activation
// timeout elapses.
func (o *Orchestrator) waitActive(ctx context.Context, unit string) bool {
	deadline := time.Now().Add(o.cfg.ActivationTimeout)
	for time.Now().Before(deadline) {
		if o.services.IsActive(ctx, unit) {
			return true
		}
		select {
		case <-time.After(o.cfg.PollGranularity):
		case <-ctx.Done():
			return false
		}
	}
	return false
}

// waitOutputs polls the output list until it is non-empty or the
// discovery timeout elapses. Poll errors are retried silently.
func (o *Orchestrator) waitOutputs(ctx context.Context) ([]model.Output, bool) {
	deadline := time.Now().Add(o.cfg.OutputsTimeout)
	for time.Now().Before(deadline) {
		outs, err := o.outputs.ListOutputs(ctx)
		if err == nil && len(outs) > 0 {
			return outs, true
		}
		if err != nil {
			o.logger.Debug("outputs not ready", zap.Error(err))
		}
		select {
		case <-time.After(o.cfg.PollGranularity):
		case <-ctx.Done():
			return nil, false
		}
	}
	return nil, false
}

// rollback compensates a partially completed start by stopping the
// core unit and reporting the system as down.
func (o *Orchestrator) rollback(ctx context.Context) {
	if err := o.services.Stop(ctx, o.cfg.CoreUnit); err != nil {
		o.logger.Warn("rollback stop failed", zap.Error(err))
	}
	o.broadcastDown()
}

func (o *Orchestrator) broadcastDown() {
	o.hub.Broadcast(model.NewStatusEvent(model.Status{}))
}
