// Package step holds the current nudge magnitude, cycling through a
// fixed ordered list of tuning increments.
package step

import "sync"

// DefaultSteps is the nudge magnitude table, in Hz.
var DefaultSteps = []int64{10, 100, 1000, 10000}

// Cycler cycles through a list of step sizes.
type Cycler struct {
	mu    sync.Mutex
	steps []int64
	index int
}

// New constructs a Cycler over steps (DefaultSteps if nil), starting
// at the second entry (100 Hz in the default table) to match the
// source application's default.
func New(steps []int64) *Cycler {
	if steps == nil {
		steps = append([]int64(nil), DefaultSteps...)
	}
	idx := 0
	if len(steps) > 1 {
		idx = 1
	}
	return &Cycler{steps: steps, index: idx}
}

// Next advances to the next step, wrapping around.
func (c *Cycler) Next() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = (c.index + 1) % len(c.steps)
}

// Get returns the current step size in Hz.
func (c *Cycler) Get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.steps[c.index]
}

// Set snaps the cycler to the given step value. A value not present in
// the table is a no-op.
func (c *Cycler) Set(value int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.steps {
		if s == value {
			c.index = i
			return
		}
	}
}
