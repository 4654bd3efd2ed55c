package registry

import "testing"

func TestAddRemoveIdempotent(t *testing.T) {
	r := New([]string{Rig})
	var adds, removes int
	r.OnAdd(func(string) { adds++ })
	r.OnRemove(func(string) { removes++ })

	r.Add(Keyboard)
	r.Add(Keyboard) // no-op, already enabled
	if adds != 1 {
		t.Fatalf("adds = %d, want 1", adds)
	}
	if !r.Enabled(Keyboard) {
		t.Fatalf("expected keyboard enabled")
	}

	r.Remove(Keyboard)
	r.Remove(Keyboard) // no-op, already disabled
	if removes != 1 {
		t.Fatalf("removes = %d, want 1", removes)
	}
}

func TestCallbacksFireInRegistrationOrder(t *testing.T) {
	r := New([]string{Rig})
	var order []int
	r.OnAdd(func(string) { order = append(order, 1) })
	r.OnAdd(func(string) { order = append(order, 2) })
	r.Add(Mouse)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("callback order = %v, want [1 2]", order)
	}
}

func TestToggleRefusesToDisableBothRadios(t *testing.T) {
	r := New([]string{Rig})
	if err := r.Toggle(Rig); err != ErrBothRadiosDisabled {
		t.Fatalf("Toggle(Rig) = %v, want ErrBothRadiosDisabled", err)
	}
	if !r.Enabled(Rig) {
		t.Fatalf("rig should remain enabled after refused toggle")
	}
}

func TestToggleAllowsDisablingOneRadioWhenOtherEnabled(t *testing.T) {
	r := New([]string{Rig, SDR})
	if err := r.Toggle(Rig); err != nil {
		t.Fatalf("Toggle(Rig) = %v, want nil", err)
	}
	if r.Enabled(Rig) {
		t.Fatalf("rig should now be disabled")
	}
	if !r.Enabled(SDR) {
		t.Fatalf("sdr should remain enabled")
	}
}

func TestToggleNonRadioTag(t *testing.T) {
	r := New([]string{Rig})
	if err := r.Toggle(Knob); err != nil {
		t.Fatalf("Toggle(Knob) = %v, want nil", err)
	}
	if !r.Enabled(Knob) {
		t.Fatalf("knob should now be enabled")
	}
}

func TestList(t *testing.T) {
	r := New([]string{Rig, SDR})
	list := r.List()
	if len(list) != 2 {
		t.Fatalf("List() len = %d, want 2", len(list))
	}
}
