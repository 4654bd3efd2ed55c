// Package syncengine implements the CAT protocol bridge between a Rig
// and an SDR receiver: per-peer non-blocking socket state machines, a
// last-writer-wins (Direct) or one-way-offset (IFreq) synchronization
// policy between them, nudge accumulation from input devices, and an
// optional quiet-period frequency log.
package syncengine

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

var errPeerHangup = errors.New("syncengine: peer hung up")

// Renderer receives idempotent per-tick state updates: the engine
// calls SetSyncMode, SetStepValue, SetMode, SetRig and SetSDR (and
// SetIfreq in IFreq mode) every tick regardless of whether the value
// changed, and a renderer decides for itself whether to redraw. The
// engine never calls SetBandName (the orchestrator does), and calls Log
// once per logged event.
type Renderer interface {
	SetSyncMode(on bool)
	SetStepValue(hz int64)
	SetMode(label string)
	SetIfreq(mhz float64)
	SetRig(freqHz *int64, connected bool)
	SetSDR(freqHz *int64, connected bool)
	SetBandName(name string)
	Log(line string)
}

// Metrics receives counters/observations the orchestrator may wire to
// a telemetry backend. A nil Metrics is valid; every call is a no-op
// guarded by the engine.
type Metrics interface {
	CommandSent(role string)
	ProtocolError(role string)
	ReplyTimeout(role string)
	SocketClosed(role string)
	SyncOn(on bool)
}

// Config collects every tunable named in the configuration table.
type Config struct {
	IfreqMHz *float64

	RigHost string
	RigPort uint16
	SDRHost string
	SDRPort uint16

	RigFreqQueryInterval   time.Duration
	SDRFreqQueryInterval   time.Duration
	RigSocketReconInterval time.Duration
	SDRSocketReconInterval time.Duration
	RigTimeout             time.Duration
	SDRTimeout             time.Duration

	SyncDebounceTime      time.Duration
	WaitBeforeLogRigFreq  time.Duration
	NudgeBuffer           int64
	ReadBufferSize        int
	MaxReadBufferBytes    int
	FreqLogPath           string
}

// DefaultConfig matches spec §6's default column.
func DefaultConfig() Config {
	return Config{
		RigHost:                "127.0.0.1",
		RigPort:                4532,
		SDRHost:                "127.0.0.1",
		SDRPort:                7356,
		RigFreqQueryInterval:   100 * time.Millisecond,
		SDRFreqQueryInterval:   100 * time.Millisecond,
		RigSocketReconInterval: 3 * time.Second,
		SDRSocketReconInterval: 3 * time.Second,
		RigTimeout:             2 * time.Second,
		SDRTimeout:             2 * time.Second,
		SyncDebounceTime:       3 * time.Second,
		WaitBeforeLogRigFreq:   5 * time.Second,
		NudgeBuffer:            10,
		ReadBufferSize:         1024,
		MaxReadBufferBytes:     64 * 1024,
	}
}

type leader int

const (
	leaderNone leader = iota
	leaderRig
	leaderSDR
)

// Engine owns both peer state machines and the synchronization policy
// between them. Every method is expected to be called from a single
// cooperative loop; Engine itself does no internal locking.
type Engine struct {
	cfg Config

	rig *peerState
	sdr *peerState

	wantedSync bool
	syncOn     bool

	leaderTag  leader
	leaderTime time.Time

	stepHz int64

	renderer Renderer
	metrics  Metrics
	logf     func(format string, args ...any)

	freqLogFile *os.File

	closed bool
}

// New constructs an Engine in the disconnected state. Sockets are
// opened lazily by ReconnectSocket/Tick.
func New(cfg Config, renderer Renderer, metrics Metrics) *Engine {
	e := &Engine{
		cfg:      cfg,
		rig:      newPeerState(RoleRig, cfg.RigHost, cfg.RigPort, cfg),
		sdr:      newPeerState(RoleSDR, cfg.SDRHost, cfg.SDRPort, cfg),
		renderer: renderer,
		metrics:  metrics,
		logf:     log.Printf,
	}
	e.rig.enabled = true
	e.sdr.enabled = true
	if cfg.FreqLogPath != "" {
		f, err := os.OpenFile(cfg.FreqLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			e.logf("syncengine: could not open frequency log %s: %v; logging disabled", cfg.FreqLogPath, err)
		} else {
			e.freqLogFile = f
			fmt.Fprintf(f, "# pansyncer frequency log opened %s\n", time.Now().UTC().Format("2006-01-02 15:04:05"))
		}
	}
	return e
}

// SetLogf overrides the destination for diagnostic lines (default
// log.Printf).
func (e *Engine) SetLogf(fn func(format string, args ...any)) {
	e.logf = fn
}

func (e *Engine) setEnabled(role Role, enabled bool) {
	p := e.peer(role)
	p.enabled = enabled
	if !enabled && p.hasSocket() {
		p.closeSocket()
		e.metric(func(m Metrics) { m.SocketClosed(string(role)) })
	}
}

func (e *Engine) peer(role Role) *peerState {
	if role == RoleRig {
		return e.rig
	}
	return e.sdr
}

func (e *Engine) metric(fn func(Metrics)) {
	if e.metrics != nil {
		fn(e.metrics)
	}
}

func (e *Engine) ifreqMode() bool {
	return e.cfg.IfreqMHz != nil && *e.cfg.IfreqMHz != 0
}

// ---- public contract (§4.5.1) ----

// Nudge routes a signed Hz delta to whichever peer currently has a
// live socket, preferring Rig. The accumulator saturates at
// step*nudge_buffer rather than overflow.
func (e *Engine) Nudge(deltaHz int64) {
	var p *peerState
	switch {
	case e.rig.connected():
		p = e.rig
	case e.sdr.connected():
		p = e.sdr
	default:
		return
	}
	cap := e.stepHz * e.cfg.NudgeBuffer
	if cap < 0 {
		cap = -cap
	}
	candidate := p.freqDelta + deltaHz
	if cap > 0 && (candidate > cap || candidate < -cap) {
		return // saturated: excess nudge refused, prior delta preserved
	}
	p.freqDelta = candidate
}

// SetStep updates the step magnitude used for nudge saturation and
// reported to the renderer.
func (e *Engine) SetStep(hz int64) {
	e.stepHz = hz
}

// SetSyncMode records the user's wish. The engine only actually
// enables sync_on when both sockets are live; see updateSyncAvailability.
func (e *Engine) SetSyncMode(on bool) {
	e.wantedSync = on
	if !on {
		e.syncOn = false
	}
}

// ReconnectSocket ensures role has a socket if enabled and lacking
// one (subject to its reconnect interval), or tears one down if role
// has been disabled but still holds a socket.
func (e *Engine) ReconnectSocket(now time.Time, role Role) {
	e.reconnectMaintenance(e.peer(role), now)
}

// Shutdown closes sockets for role, or for both peers and the
// frequency log when role is "". After a full shutdown, Tick refuses
// to run.
func (e *Engine) Shutdown(role Role) {
	if role == "" {
		e.rig.closeSocket()
		e.sdr.closeSocket()
		if e.freqLogFile != nil {
			e.freqLogFile.Close()
			e.freqLogFile = nil
		}
		e.closed = true
		return
	}
	e.peer(role).closeSocket()
}

// ---- tick ----

// Tick advances both per-peer state machines one step and applies the
// cross-peer synchronization policy. It never blocks.
func (e *Engine) Tick(now time.Time) {
	if e.closed {
		return
	}

	events := e.pollBoth()

	e.handlePollEvent(e.rig, events.rig, now)
	e.handlePollEvent(e.sdr, events.sdr, now)

	e.ensureInitialQuery(e.rig)
	e.ensureInitialQuery(e.sdr)

	e.runSyncPolicy(now)

	e.scheduleSet(e.rig, now)
	e.scheduleSet(e.sdr, now)

	e.scheduleQuery(e.rig, now)
	e.scheduleQuery(e.sdr, now)

	e.reconnectMaintenance(e.rig, now)
	e.reconnectMaintenance(e.sdr, now)

	e.checkTimeout(e.rig, now)
	e.checkTimeout(e.sdr, now)

	e.updateSyncAvailability()
	e.renderTick()
	e.maybeLogFreq(now)
}

type pollResult struct {
	readable, writable, errored bool
}

type pollEvents struct {
	rig, sdr pollResult
}

func (e *Engine) pollBoth() pollEvents {
	var fds []unix.PollFd
	var order []*peerState
	for _, p := range []*peerState{e.rig, e.sdr} {
		if !p.hasSocket() {
			continue
		}
		events := int16(unix.POLLIN)
		if p.connecting || len(p.pendingCommand) > 0 {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(p.fd), Events: events})
		order = append(order, p)
	}
	if len(fds) == 0 {
		return pollEvents{}
	}
	if _, err := unix.Poll(fds, 0); err != nil && err != unix.EINTR {
		return pollEvents{}
	}

	var out pollEvents
	for i, p := range order {
		res := pollResult{
			readable: fds[i].Revents&unix.POLLIN != 0,
			writable: fds[i].Revents&unix.POLLOUT != 0,
			errored:  fds[i].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0,
		}
		if p.role == RoleRig {
			out.rig = res
		} else {
			out.sdr = res
		}
	}
	return out
}

// handlePollEvent implements §4.5.3 steps 1-3: hangup/error, read,
// write.
func (e *Engine) handlePollEvent(p *peerState, ev pollResult, now time.Time) {
	if !p.hasSocket() {
		return
	}

	if p.connecting && (ev.writable || ev.errored) {
		if err := p.finishConnect(); err != nil {
			e.closePeer(p, fmt.Sprintf("connect failed: %v", err))
			return
		}
	}

	if ev.errored {
		e.closePeer(p, "socket error/hangup")
		return
	}

	if ev.readable {
		lines, err := p.drainSocket()
		for _, line := range lines {
			e.handleLine(p, line, now)
		}
		if err != nil {
			e.closePeer(p, fmt.Sprintf("read error: %v", err))
			return
		}
	}

	if ev.writable && len(p.pendingCommand) > 0 && p.enabled {
		if err := p.flushPending(now); err != nil {
			e.closePeer(p, fmt.Sprintf("write error: %v", err))
			return
		}
		if p.inFlightSince != nil {
			e.metric(func(m Metrics) { m.CommandSent(string(p.role)) })
		}
	}
}

func (e *Engine) closePeer(p *peerState, reason string) {
	p.closeSocket()
	e.syncOn = false
	e.metric(func(m Metrics) { m.SocketClosed(string(p.role)) })
	e.log("%s: %s", p.role, reason)
}

func (e *Engine) handleLine(p *peerState, line []byte, now time.Time) {
	r := parseLine(line)
	switch r.kind {
	case replyRPRTSuccess:
		if p.freqSent != nil {
			p.freqPrev = p.freqCur
			p.freqCur = p.freqSent
			p.freqSent = nil
			if p.role == RoleRig {
				p.rigChangedAt = now
			}
		}
		if p.freqDeltaSent != 0 {
			p.freqDelta -= p.freqDeltaSent
			p.freqDeltaSent = 0
		} else {
			p.freqDelta = 0
		}
		p.inFlightSince = nil
	case replyRPRTError:
		p.freqSent = nil
		p.freqDelta = 0
		p.freqDeltaSent = 0
		p.inFlightSince = nil
		e.metric(func(m Metrics) { m.ProtocolError(string(p.role)) })
		e.log("%s: command rejected, RPRT %d", p.role, r.code)
	case replyInteger:
		newVal := r.value
		if p.freqPrev == nil || *p.freqPrev != newVal {
			p.freqPrev = p.freqCur
			v := newVal
			p.freqCur = &v
			if p.role == RoleRig {
				p.rigChangedAt = now
			}
		}
		p.inFlightSince = nil
	default:
		p.freqSent = nil
		p.freqDelta = 0
		p.freqDeltaSent = 0
		p.inFlightSince = nil
		e.metric(func(m Metrics) { m.ProtocolError(string(p.role)) })
		e.log("%s: protocol error on line %q", p.role, string(line))
	}
}

// ensureInitialQuery implements §4.5.3 step 4.
func (e *Engine) ensureInitialQuery(p *peerState) {
	if p.freqCur != nil || len(p.pendingCommand) != 0 || !p.hasSocket() || p.connecting {
		return
	}
	if p.role == RoleSDR && e.ifreqMode() {
		p.pendingCommand = append([]byte(nil), cmdQueryLO...)
	} else {
		p.pendingCommand = append([]byte(nil), cmdQueryFreq...)
	}
}

// scheduleSet implements §4.5.3 step 5.
func (e *Engine) scheduleSet(p *peerState, now time.Time) {
	if !p.hasSocket() || p.connecting || !p.enabled || p.inFlightSince != nil || p.freqCur == nil {
		return
	}
	if p.freqDelta == 0 && p.freqSent == nil {
		return
	}
	var target int64
	if p.freqSent != nil {
		target = *p.freqSent // already chosen directly by the sync policy
	} else {
		target = *p.freqCur + p.freqDelta
		p.freqDeltaSent = p.freqDelta
		v := target
		p.freqSent = &v
	}
	p.pendingCommand = cmdSetFreq(target)
	if p.role == RoleSDR && e.ifreqMode() {
		p.pendingCommand = cmdSetLO(target)
	}
}

// scheduleQuery implements §4.5.3 step 6.
func (e *Engine) scheduleQuery(p *peerState, now time.Time) {
	if !p.hasSocket() || p.connecting || p.inFlightSince != nil {
		return
	}
	if p.role == RoleSDR && e.ifreqMode() {
		return
	}
	if now.Sub(p.sendTimestamp) < p.freqQueryInterval {
		return
	}
	if len(p.pendingCommand) != 0 {
		return
	}
	p.pendingCommand = append([]byte(nil), cmdQueryFreq...)
}

// reconnectMaintenance implements §4.5.3 step 7.
func (e *Engine) reconnectMaintenance(p *peerState, now time.Time) {
	if !p.enabled {
		if p.hasSocket() {
			p.closeSocket()
		}
		return
	}
	if p.hasSocket() {
		return
	}
	if now.Sub(p.reconTimestamp) < p.reconInterval {
		return
	}
	p.reconTimestamp = now
	if err := p.connect(); err != nil {
		e.log("%s: connect failed: %v", p.role, err)
	}
}

// checkTimeout implements §4.5.3 step 8.
func (e *Engine) checkTimeout(p *peerState, now time.Time) {
	if p.inFlightSince == nil {
		return
	}
	if now.Sub(*p.inFlightSince) <= p.timeout {
		return
	}
	p.inFlightSince = nil
	p.freqSent = nil
	p.freqDeltaSent = 0
	p.freqDelta = 0
	e.metric(func(m Metrics) { m.ReplyTimeout(string(p.role)) })
	e.log("%s: reply timeout", p.role)
}

// runSyncPolicy implements §4.5.4, run once per tick between the
// per-peer read/initial-query steps and the per-peer set-enqueue step
// so a leader-driven follower update takes effect the same tick.
func (e *Engine) runSyncPolicy(now time.Time) {
	if !e.canRunSyncPolicy() {
		return
	}

	rigChanged := e.rig.freqCur != nil && (e.rig.freqPrev == nil || *e.rig.freqPrev != *e.rig.freqCur)

	if e.ifreqMode() {
		if !rigChanged {
			return
		}
		offset := int64(*e.cfg.IfreqMHz * 1e6)
		if offset < 0 {
			offset = -offset
		}
		lo := *e.rig.freqCur - offset
		if e.sdr.freqCur == nil || *e.sdr.freqCur != lo {
			v := lo
			e.sdr.freqSent = &v
			e.sdr.pendingCommand = cmdSetLO(lo)
		}
		return
	}

	sdrChanged := e.sdr.freqCur != nil && (e.sdr.freqPrev == nil || *e.sdr.freqPrev != *e.sdr.freqCur)

	debounced := now.Sub(e.leaderTime) < e.cfg.SyncDebounceTime

	if rigChanged && !(debounced && e.leaderTag == leaderSDR) {
		e.leaderTag = leaderRig
		e.leaderTime = now
		v := *e.rig.freqCur
		e.sdr.freqSent = &v
		e.sdr.pendingCommand = cmdSetFreq(v)
		return
	}
	if sdrChanged && !(debounced && e.leaderTag == leaderRig) {
		e.leaderTag = leaderSDR
		e.leaderTime = now
		v := *e.sdr.freqCur
		e.rig.freqSent = &v
		e.rig.pendingCommand = cmdSetFreq(v)
	}
}

func (e *Engine) canRunSyncPolicy() bool {
	if !e.syncOn {
		return false
	}
	if !e.rig.enabled || !e.sdr.enabled || !e.rig.connected() || !e.sdr.connected() {
		return false
	}
	if e.rig.freqCur == nil {
		return false
	}
	if !e.ifreqMode() && e.sdr.freqCur == nil {
		return false
	}
	return true
}

// updateSyncAvailability implements the engine-wide invariant: losing
// either socket forces sync_on false; it is restored automatically
// once both sockets are back and the user still wants sync.
func (e *Engine) updateSyncAvailability() {
	bothUp := e.rig.connected() && e.sdr.connected()
	was := e.syncOn
	if !bothUp {
		e.syncOn = false
	} else if e.wantedSync {
		e.syncOn = true
	}
	if e.syncOn != was {
		e.metric(func(m Metrics) { m.SyncOn(e.syncOn) })
	}
}

func (e *Engine) renderTick() {
	if e.renderer == nil {
		return
	}
	e.renderer.SetSyncMode(e.syncOn)
	e.renderer.SetStepValue(e.stepHz)
	if e.ifreqMode() {
		e.renderer.SetMode("IFreq")
		e.renderer.SetIfreq(*e.cfg.IfreqMHz)
	} else {
		e.renderer.SetMode("Direct")
	}
	e.renderer.SetRig(e.rig.freqCur, e.rig.connected())
	e.renderer.SetSDR(e.sdr.freqCur, e.sdr.connected())
}

// maybeLogFreq implements §4.5.5: append the Rig frequency once it has
// been quiet for WaitBeforeLogRigFreq seconds.
func (e *Engine) maybeLogFreq(now time.Time) {
	if e.freqLogFile == nil || e.rig.freqCur == nil {
		return
	}
	if now.Sub(e.rig.rigChangedAt) < e.cfg.WaitBeforeLogRigFreq {
		return
	}
	if e.rig.rigChangedAt.IsZero() {
		return
	}
	line := fmt.Sprintf("%s %d\n", now.UTC().Format("2006-01-02 15:04:05"), *e.rig.freqCur)
	if _, err := e.freqLogFile.WriteString(line); err != nil {
		e.log("frequency log write failed: %v", err)
	}
	// Quiet period consumed: don't re-log the same value every tick.
	e.rig.rigChangedAt = time.Time{}
}

func (e *Engine) log(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	e.logf("syncengine: %s", line)
	if e.renderer != nil {
		e.renderer.Log(line)
	}
}

// RigFrequency returns the Rig's last known frequency in Hz, or nil if
// no reading has arrived yet.
func (e *Engine) RigFrequency() *int64 { return e.rig.freqCur }

// WantsSync reports the user's last requested sync_on wish, independent
// of whether the engine is currently able to honor it.
func (e *Engine) WantsSync() bool { return e.wantedSync }

// RigConnected reports whether the engine currently holds a live Rig
// socket (distinct from any independent health-check probe).
func (e *Engine) RigConnected() bool { return e.rig.connected() }

// SDRConnected reports whether the engine currently holds a live SDR
// socket.
func (e *Engine) SDRConnected() bool { return e.sdr.connected() }

// SetEnabled wires the engine to device-registry add/remove callbacks
// for the "rig"/"sdr" tags.
func (e *Engine) SetEnabled(role Role, enabled bool) {
	e.setEnabled(role, enabled)
}
