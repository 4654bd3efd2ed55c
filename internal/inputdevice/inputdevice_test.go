package inputdevice

import (
	"testing"
	"time"
)

type fakeSource struct {
	tag string
	ch  chan Event
}

func (f *fakeSource) Tag() string          { return f.tag }
func (f *fakeSource) Events() <-chan Event { return f.ch }
func (f *fakeSource) Close() error         { close(f.ch); return nil }

func TestDispatcherRoutesEventKinds(t *testing.T) {
	knob := &fakeSource{tag: "knob", ch: make(chan Event, 4)}
	knob.ch <- Event{Kind: Nudge, Delta: 100}
	knob.ch <- Event{Kind: StepNext}
	knob.ch <- Event{Kind: ToggleSync}
	knob.ch <- Event{Kind: ToggleDevice, Tag: "mouse"}

	var nudged int64
	var steppedNext, toggledSync bool
	var toggledTag string

	d := NewDispatcher(knob)
	d.OnNudge = func(delta int64) { nudged = delta }
	d.OnStepNext = func() { steppedNext = true }
	d.OnToggleSync = func() { toggledSync = true }
	d.OnToggleDevice = func(tag string) { toggledTag = tag }

	d.Poll()

	if nudged != 100 {
		t.Fatalf("nudged = %d, want 100", nudged)
	}
	if !steppedNext || !toggledSync {
		t.Fatalf("expected StepNext and ToggleSync to fire")
	}
	if toggledTag != "mouse" {
		t.Fatalf("toggledTag = %q, want mouse", toggledTag)
	}
}

func TestDispatcherPollIsNonBlockingWhenEmpty(t *testing.T) {
	knob := &fakeSource{tag: "knob", ch: make(chan Event)}
	d := NewDispatcher(knob)
	done := make(chan struct{})
	go func() {
		d.Poll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poll blocked on an empty source channel")
	}
}
