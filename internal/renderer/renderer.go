// Package renderer provides concrete sinks for the sync engine's
// outbound Renderer interface: a plain logger and a websocket status
// feed. The terminal UI renderer itself stays an external collaborator
// per spec; these are the network-facing and log-facing siblings that
// exercise the same interface.
package renderer

import (
	"log"
	"strconv"
)

// Log implements syncengine.Renderer by writing one line per call to
// the standard library logger. It never redraws or dedupes: every
// setter call becomes a line, which is appropriate for a diagnostic
// sink rather than a display.
type Log struct {
	logf func(format string, args ...any)
}

// NewLog builds a Log renderer. A nil logf defaults to log.Printf.
func NewLog(logf func(format string, args ...any)) *Log {
	if logf == nil {
		logf = log.Printf
	}
	return &Log{logf: logf}
}

func (l *Log) SetSyncMode(on bool)     { l.logf("renderer: sync_on=%v", on) }
func (l *Log) SetStepValue(hz int64)   { l.logf("renderer: step=%d", hz) }
func (l *Log) SetMode(label string)    { l.logf("renderer: mode=%s", label) }
func (l *Log) SetIfreq(mhz float64)    { l.logf("renderer: ifreq=%.3fMHz", mhz) }
func (l *Log) SetBandName(name string) { l.logf("renderer: band=%s", name) }

func (l *Log) SetRig(freqHz *int64, connected bool) {
	l.logf("renderer: rig freq=%s connected=%v", formatFreq(freqHz), connected)
}

func (l *Log) SetSDR(freqHz *int64, connected bool) {
	l.logf("renderer: sdr freq=%s connected=%v", formatFreq(freqHz), connected)
}

func (l *Log) Log(line string) {
	l.logf("%s", line)
}

func formatFreq(hz *int64) string {
	if hz == nil {
		return "unknown"
	}
	return strconv.FormatInt(*hz, 10)
}
