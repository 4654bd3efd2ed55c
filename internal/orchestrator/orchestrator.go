// Package orchestrator drives the single cooperative main loop: one
// ticker runs the reconnection scheduler, polls input devices, feeds
// nudges into the sync engine, advances the engine, and redraws the
// renderer — the literal structure of pansyncer's main loop, carried
// into a select-driven Go goroutine the way the teacher runs its own
// background tickers.
package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/makrohard/pansyncer/internal/band"
	"github.com/makrohard/pansyncer/internal/inputdevice"
	"github.com/makrohard/pansyncer/internal/registry"
	"github.com/makrohard/pansyncer/internal/scheduler"
	"github.com/makrohard/pansyncer/internal/step"
	"github.com/makrohard/pansyncer/internal/syncengine"
)

// BandRenderer receives band-name updates. syncengine.Renderer
// implementations (renderer.Log, renderer.WebSocket) satisfy it
// structurally; the engine itself never classifies bands, since band
// tables are independent of the CAT protocol.
type BandRenderer interface {
	SetBandName(name string)
}

// TickInterval is the default main-loop period (spec §5: 0.1s).
const TickInterval = 100 * time.Millisecond

// Orchestrator wires the engine, scheduler, registry, band classifier,
// step cycler and input dispatcher into one cooperative loop.
type Orchestrator struct {
	Engine     *syncengine.Engine
	Scheduler  *scheduler.Scheduler
	Registry   *registry.Registry
	Bands      *band.Classifier
	Steps      *step.Cycler
	Dispatcher *inputdevice.Dispatcher
	Renderer   BandRenderer

	TickInterval time.Duration

	lastBandName string
}

// New builds an Orchestrator and wires the registry's add/remove
// callbacks straight into the engine's per-role enable/disable, and
// the input dispatcher's gestures into the engine/step-cycler/registry.
// renderer may be nil, in which case band names are computed but never
// displayed.
func New(engine *syncengine.Engine, sched *scheduler.Scheduler, reg *registry.Registry, bands *band.Classifier, steps *step.Cycler, dispatcher *inputdevice.Dispatcher, renderer BandRenderer) *Orchestrator {
	o := &Orchestrator{
		Engine:       engine,
		Scheduler:    sched,
		Registry:     reg,
		Bands:        bands,
		Steps:        steps,
		Dispatcher:   dispatcher,
		Renderer:     renderer,
		TickInterval: TickInterval,
	}

	reg.OnAdd(func(tag string) { o.onRegistryChange(tag, true) })
	reg.OnRemove(func(tag string) { o.onRegistryChange(tag, false) })

	if dispatcher != nil {
		dispatcher.OnNudge = engine.Nudge
		dispatcher.OnStepNext = func() {
			steps.Next()
			engine.SetStep(steps.Get())
		}
		dispatcher.OnToggleSync = func() {
			engine.SetSyncMode(!engine.WantsSync())
		}
		dispatcher.OnToggleDevice = func(tag string) {
			if err := reg.Toggle(tag); err != nil {
				log.Printf("orchestrator: toggle %s refused: %v", tag, err)
			}
		}
	}

	engine.SetStep(steps.Get())
	return o
}

func (o *Orchestrator) onRegistryChange(tag string, enabled bool) {
	switch tag {
	case registry.Rig:
		o.Engine.SetEnabled(syncengine.RoleRig, enabled)
	case registry.SDR:
		o.Engine.SetEnabled(syncengine.RoleSDR, enabled)
	}
}

// Run blocks, driving the loop on TickInterval until ctx is canceled.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.tick(now)
		}
	}
}

func (o *Orchestrator) tick(now time.Time) {
	o.Scheduler.Tick(now)
	if o.Dispatcher != nil {
		o.Dispatcher.Poll()
	}
	o.Engine.Tick(now)
	o.updateBand()
}

// updateBand re-derives the band name from the rig's current frequency
// and pushes it to the renderer every tick, matching pansyncer's
// display.py redraw (the engine itself has no notion of bands). Like
// the engine's own renderTick, this calls the setter idempotently
// regardless of whether the value changed; the renderer decides for
// itself whether to redraw.
func (o *Orchestrator) updateBand() {
	if o.Bands == nil {
		return
	}
	freqHz := o.Engine.RigFrequency()
	if freqHz == nil {
		return
	}
	mhz := float64(*freqHz) / 1e6
	name := o.Bands.Name(mhz)
	o.lastBandName = name
	if o.Renderer != nil {
		o.Renderer.SetBandName(name)
	}
}

// LastBandName returns the most recently classified band, or "" if
// none has been computed yet.
func (o *Orchestrator) LastBandName() string {
	return o.lastBandName
}
