// Package registry tracks which device capability tags are enabled and
// notifies subscribers when that set changes.
package registry

import (
	"errors"
	"sync"
)

// Well-known capability tags.
const (
	Rig      = "rig"
	SDR      = "sdr"
	Keyboard = "keyboard"
	Knob     = "knob"
	Mouse    = "mouse"
)

// ErrBothRadiosDisabled is returned by Toggle when the requested change
// would leave neither Rig nor SDR enabled.
var ErrBothRadiosDisabled = errors.New("registry: cannot disable both rig and sdr")

// Registry is a set of enabled capability tags with add/remove
// subscriber notification.
type Registry struct {
	mu        sync.Mutex
	enabled   map[string]bool
	onAdd     []func(tag string)
	onRemove  []func(tag string)
	radioTags map[string]bool
}

// New constructs a Registry with the given initially-enabled tags. At
// least one of Rig or SDR must be present in initial.
func New(initial []string) *Registry {
	r := &Registry{
		enabled:   make(map[string]bool),
		radioTags: map[string]bool{Rig: true, SDR: true},
	}
	for _, tag := range initial {
		r.enabled[tag] = true
	}
	return r
}

// OnAdd registers a callback fired, synchronously and in registration
// order, whenever a tag transitions from disabled to enabled.
func (r *Registry) OnAdd(cb func(tag string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAdd = append(r.onAdd, cb)
}

// OnRemove registers a callback fired, synchronously and in
// registration order, whenever a tag transitions from enabled to
// disabled.
func (r *Registry) OnRemove(cb func(tag string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = append(r.onRemove, cb)
}

// Add enables tag. A no-op, without firing subscribers, if already
// enabled.
func (r *Registry) Add(tag string) {
	r.mu.Lock()
	if r.enabled[tag] {
		r.mu.Unlock()
		return
	}
	r.enabled[tag] = true
	callbacks := append([]func(string){}, r.onAdd...)
	r.mu.Unlock()

	for _, cb := range callbacks {
		cb(tag)
	}
}

// Remove disables tag. A no-op, without firing subscribers, if already
// disabled.
func (r *Registry) Remove(tag string) {
	r.mu.Lock()
	if !r.enabled[tag] {
		r.mu.Unlock()
		return
	}
	delete(r.enabled, tag)
	callbacks := append([]func(string){}, r.onRemove...)
	r.mu.Unlock()

	for _, cb := range callbacks {
		cb(tag)
	}
}

// Toggle flips tag's enabled state. It refuses to disable a radio tag
// (rig/sdr) if doing so would leave both radios disabled.
func (r *Registry) Toggle(tag string) error {
	r.mu.Lock()
	enabling := !r.enabled[tag]
	if !enabling && r.radioTags[tag] {
		otherDisabled := true
		for other := range r.radioTags {
			if other != tag && r.enabled[other] {
				otherDisabled = false
				break
			}
		}
		if otherDisabled {
			r.mu.Unlock()
			return ErrBothRadiosDisabled
		}
	}

	var callbacks []func(string)
	if enabling {
		r.enabled[tag] = true
		callbacks = append([]func(string){}, r.onAdd...)
	} else {
		delete(r.enabled, tag)
		callbacks = append([]func(string){}, r.onRemove...)
	}
	r.mu.Unlock()

	for _, cb := range callbacks {
		cb(tag)
	}
	return nil
}

// Enabled reports whether tag is currently enabled.
func (r *Registry) Enabled(tag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled[tag]
}

// List returns a snapshot of all enabled tags.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.enabled))
	for tag := range r.enabled {
		out = append(out, tag)
	}
	return out
}
