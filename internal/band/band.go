// Package band classifies a frequency in MHz against a fixed, ordered
// table of amateur radio bands and implements band-to-band stepping.
package band

import (
	"sort"
	"sync"
)

// OutOfBand is returned by Name when a frequency falls between bands.
const OutOfBand = "OOB"

// Band is one entry in the classifier's table. Preferred is mutated by
// Step so a user returns to their last chosen slot in that band.
type Band struct {
	Name      string
	StartMHz  float64
	Preferred float64
	EndMHz    float64
}

// DefaultBands is the table used when a Classifier is constructed with
// no bands of its own: the HF amateur allocations from 160m through 6m.
var DefaultBands = []Band{
	{Name: "160m", StartMHz: 1.810, Preferred: 1.843, EndMHz: 2.000},
	{Name: "80m", StartMHz: 3.500, Preferred: 3.603, EndMHz: 3.800},
	{Name: "60m", StartMHz: 5.3515, Preferred: 5.354, EndMHz: 5.3665},
	{Name: "40m", StartMHz: 7.000, Preferred: 7.053, EndMHz: 7.200},
	{Name: "30m", StartMHz: 10.100, Preferred: 10.130, EndMHz: 10.150},
	{Name: "20m", StartMHz: 14.000, Preferred: 14.125, EndMHz: 14.350},
	{Name: "17m", StartMHz: 18.068, Preferred: 18.120, EndMHz: 18.168},
	{Name: "15m", StartMHz: 21.000, Preferred: 21.151, EndMHz: 21.450},
	{Name: "12m", StartMHz: 24.890, Preferred: 24.940, EndMHz: 24.990},
	{Name: "10m", StartMHz: 28.000, Preferred: 28.320, EndMHz: 29.700},
	{Name: "6m", StartMHz: 50.000, Preferred: 50.100, EndMHz: 52.000},
}

// Beeper is signalled when Step hits the top or bottom of the table.
// The terminal renderer owns the actual ANSI bell; the classifier only
// knows it needs to ask for one.
type Beeper interface {
	Beep() bool
}

// Classifier maps frequencies to bands and steps between them.
type Classifier struct {
	mu     sync.Mutex
	bands  []Band
	starts []float64
	beeper Beeper
}

// New constructs a Classifier. A nil bands slice uses DefaultBands; a
// nil beeper silently drops boundary beeps.
func New(bands []Band, beeper Beeper) *Classifier {
	if bands == nil {
		bands = append([]Band(nil), DefaultBands...)
	}
	c := &Classifier{bands: bands, beeper: beeper}
	c.starts = make([]float64, len(bands))
	for i, b := range bands {
		c.starts[i] = b.StartMHz
	}
	return c
}

// indexFor returns bisect_right(starts, freq) - 1: the index of the
// last band whose start is <= freq, or -1 if freq is below all starts.
func (c *Classifier) indexFor(freqMHz float64) int {
	i := sort.Search(len(c.starts), func(i int) bool { return c.starts[i] > freqMHz })
	return i - 1
}

// insideIndex returns the index of the band containing freqMHz, or -1
// if freqMHz falls in a gap between bands (or outside the table).
func (c *Classifier) insideIndex(freqMHz float64) int {
	i := c.indexFor(freqMHz)
	if i >= 0 && i < len(c.bands) && freqMHz <= c.bands[i].EndMHz {
		return i
	}
	return -1
}

// Name returns the band name containing freqMHz, or OutOfBand.
func (c *Classifier) Name(freqMHz float64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.insideIndex(freqMHz)
	if i < 0 {
		return OutOfBand
	}
	return c.bands[i].Name
}

// Step moves to the preferred frequency of the next (direction > 0) or
// previous (direction < 0) band. It remembers freqMHz as the new
// preferred slot of the band the cursor is currently inside. At a table
// boundary it beeps and returns (0, false).
func (c *Classifier) Step(freqMHz float64, direction int) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx := c.insideIndex(freqMHz); idx >= 0 {
		if direction > 0 {
			if idx == len(c.bands)-1 {
				c.beep()
				return 0, false
			}
			c.bands[idx].Preferred = freqMHz
			return c.bands[idx+1].Preferred, true
		}
		if idx == 0 {
			c.beep()
			return 0, false
		}
		c.bands[idx].Preferred = freqMHz
		return c.bands[idx-1].Preferred, true
	}

	i := c.indexFor(freqMHz)
	if direction > 0 {
		next := i + 1
		if next >= len(c.bands) {
			c.beep()
			return 0, false
		}
		return c.bands[next].Preferred, true
	}
	if i < 0 {
		c.beep()
		return 0, false
	}
	return c.bands[i].Preferred, true
}

func (c *Classifier) beep() {
	if c.beeper != nil {
		c.beeper.Beep()
	}
}
