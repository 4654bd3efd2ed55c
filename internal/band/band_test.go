package band

import "testing"

type countBeeper struct{ n int }

func (b *countBeeper) Beep() bool { b.n++; return true }

func TestNameInsideBand(t *testing.T) {
	c := New(nil, nil)
	if got := c.Name(14.2); got != "20m" {
		t.Fatalf("Name(14.2) = %q, want 20m", got)
	}
}

func TestNameOutOfBand(t *testing.T) {
	c := New(nil, nil)
	if got := c.Name(13.0); got != OutOfBand {
		t.Fatalf("Name(13.0) = %q, want OOB", got)
	}
}

func TestStepBoundaryBeeps(t *testing.T) {
	beeper := &countBeeper{}
	c := New(nil, beeper)

	// 6m is the top band; stepping up inside it hits the boundary.
	if _, ok := c.Step(51.000, +1); ok {
		t.Fatalf("expected boundary at top of table")
	}
	if beeper.n != 1 {
		t.Fatalf("beep count = %d, want 1", beeper.n)
	}

	// Stepping down from 6m lands on 10m's preferred frequency.
	got, ok := c.Step(51.000, -1)
	if !ok {
		t.Fatalf("expected a valid step down from 6m")
	}
	if got != DefaultBands[9].Preferred {
		t.Fatalf("Step(-1) from 6m = %v, want %v", got, DefaultBands[9].Preferred)
	}
}

func TestStepBottomBoundaryBeeps(t *testing.T) {
	beeper := &countBeeper{}
	c := New(nil, beeper)
	if _, ok := c.Step(1.900, -1); ok {
		t.Fatalf("expected boundary at bottom of table")
	}
	if beeper.n != 1 {
		t.Fatalf("beep count = %d, want 1", beeper.n)
	}
}

func TestStepRemembersPreferred(t *testing.T) {
	c := New(nil, nil)
	c.Step(14.200, +1) // remember 14.200 as 20m's preferred slot
	got, ok := c.Step(18.100, -1)
	if !ok {
		t.Fatalf("expected a valid step down from 17m")
	}
	if got != 14.200 {
		t.Fatalf("20m preferred = %v, want 14.200 (should have been remembered)", got)
	}
}

func TestStepFromGapUsesNeighboringPreferred(t *testing.T) {
	c := New(nil, nil)
	// 4.5 MHz sits in the gap between 80m and 60m.
	got, ok := c.Step(4.5, +1)
	if !ok || got != DefaultBands[2].Preferred {
		t.Fatalf("Step(+1) from gap = (%v,%v), want (%v,true)", got, ok, DefaultBands[2].Preferred)
	}
	got, ok = c.Step(4.5, -1)
	if !ok || got != DefaultBands[1].Preferred {
		t.Fatalf("Step(-1) from gap = (%v,%v), want (%v,true)", got, ok, DefaultBands[1].Preferred)
	}
}
