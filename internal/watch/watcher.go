// ABOUTME: Reconciliation watcher that polls service and output state
// ABOUTME: Broadcasts status and output diffs to the hub, keyed by content fingerprint
package watch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/alphalpha/live-input-to-airplay/internal/defaults"
	"github.com/alphalpha/live-input-to-airplay/internal/systemd"
	"github.com/alphalpha/live-input-to-airplay/pkg/model"
)

// OutputSource lists the outputs currently known upstream.
type OutputSource interface {
	ListOutputs(ctx context.Context) ([]model.Output, error)
}

// DefaultsReader loads the persisted defaults map.
type DefaultsReader interface {
	Read() defaults.Map
}

// Broadcaster fans an event out to all subscribers.
type Broadcaster interface {
	Broadcast(msg any)
}

// state is the watcher's memory between ticks: the last broadcast
// status and the fingerprint of the last broadcast output list. An
// empty fingerprint means outputs are currently hidden.
type state struct {
	lastStatus *model.Status
	lastFP     string
}

// Watcher reconciles externally observable state with subscribers. It
// runs for the process lifetime; per-tick failures are swallowed so a
// transient upstream hiccup never kills the loop.
type Watcher struct {
	services systemd.ServiceManager
	outputs  OutputSource
	defaults DefaultsReader
	hub      Broadcaster

	coreUnit string
	pipeUnit string
	interval time.Duration
	logger   *zap.Logger
}

// New creates a watcher over the given collaborators.
func New(services systemd.ServiceManager, outputs OutputSource, defs DefaultsReader, hub Broadcaster, coreUnit, pipeUnit string, interval time.Duration, logger *zap.Logger) *Watcher {
	return &Watcher{
		services: services,
		outputs:  outputs,
		defaults: defs,
		hub:      hub,
		coreUnit: coreUnit,
		pipeUnit: pipeUnit,
		interval: interval,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var st state
	for {
		st = w.tick(ctx, st)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick performs one reconciliation pass: broadcast a status frame when
// the unit states changed, broadcast an outputs frame when the
// fingerprint changed, and hide outputs the moment the pair of
// services is no longer fully up.
func (w *Watcher) tick(ctx context.Context, prev state) state {
	next := prev

	status := model.NewStatus(
		w.services.IsActive(ctx, w.coreUnit),
		w.services.IsActive(ctx, w.pipeUnit),
	)
	if prev.lastStatus == nil || *prev.lastStatus != status {
		next.lastStatus = &status
		w.hub.Broadcast(model.NewStatusEvent(status))
	}

	if status.BothActive {
		outs, err := w.outputs.ListOutputs(ctx)
		if err != nil {
			// Transient upstream failure: keep previous state, retry next tick.
			w.logger.Debug("outputs poll failed", zap.Error(err))
			return next
		}
		outs = defaults.Annotate(outs, w.defaults.Read())
		fp := model.Fingerprint(outs)
		if fp != prev.lastFP {
			next.lastFP = fp
			w.hub.Broadcast(model.NewOutputsEvent(outs))
		}
		return next
	}

	if prev.lastFP != "" {
		// Services dropped; upstream may still answer with stale data.
		next.lastFP = ""
		w.hub.Broadcast(model.NewOutputsEvent(nil))
	}
	return next
}
