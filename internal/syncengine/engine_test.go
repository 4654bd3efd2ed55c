package syncengine

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"
)

// fakePeer is a loopback TCP listener standing in for a rigctld-style
// CAT endpoint. The engine's socket layer talks raw AF_INET sockets,
// so tests need a real listener rather than an in-memory pipe.
type fakePeer struct {
	ln   net.Listener
	conn net.Conn
	r    *bufio.Reader
}

func newFakePeer(t *testing.T) *fakePeer {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &fakePeer{ln: ln}
}

func (f *fakePeer) port(t *testing.T) uint16 {
	return uint16(f.ln.Addr().(*net.TCPAddr).Port)
}

func (f *fakePeer) accept(t *testing.T) {
	t.Helper()
	conn, err := f.ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	f.conn = conn
	f.r = bufio.NewReader(conn)
}

func (f *fakePeer) expectLine(t *testing.T, want string) {
	t.Helper()
	f.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := f.r.ReadString('\n')
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	if line != want {
		t.Fatalf("got line %q, want %q", line, want)
	}
}

func (f *fakePeer) send(t *testing.T, line string) {
	t.Helper()
	if _, err := f.conn.Write([]byte(line)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (f *fakePeer) close() {
	if f.conn != nil {
		f.conn.Close()
	}
	f.ln.Close()
}

func pumpUntilConnected(t *testing.T, e *Engine, p *peerState, now time.Time) time.Time {
	t.Helper()
	deadline := now.Add(2 * time.Second)
	for now.Before(deadline) {
		e.Tick(now)
		if p.connected() {
			// One more tick flushes the initial-state query that
			// ensureInitialQuery just queued: the poll snapshot taken
			// at the top of *this* tick predates that enqueue.
			now = now.Add(time.Millisecond)
			e.Tick(now)
			return now
		}
		now = now.Add(5 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("peer never reached connected state")
	return now
}

func baseConfig(rigPort, sdrPort uint16) Config {
	cfg := DefaultConfig()
	cfg.RigHost, cfg.RigPort = "127.0.0.1", rigPort
	cfg.SDRHost, cfg.SDRPort = "127.0.0.1", sdrPort
	cfg.RigSocketReconInterval = 0
	cfg.SDRSocketReconInterval = 0
	// Large enough that the periodic re-query (step 6) never fires
	// mid-test; only the one-shot initial-state query (step 4) does.
	cfg.RigFreqQueryInterval = time.Hour
	cfg.SDRFreqQueryInterval = time.Hour
	return cfg
}

func TestDirectSyncRigLeads(t *testing.T) {
	rig := newFakePeer(t)
	defer rig.close()
	sdr := newFakePeer(t)
	defer sdr.close()

	cfg := baseConfig(rig.port(t), sdr.port(t))
	e := New(cfg, nil, nil)
	defer e.Shutdown("")

	now := time.Now()
	now = pumpUntilConnected(t, e, e.rig, now)
	rig.accept(t)
	now = pumpUntilConnected(t, e, e.sdr, now)
	sdr.accept(t)

	// initial-state queries
	rig.expectLine(t, "f\n")
	sdr.expectLine(t, "f\n")
	rig.send(t, "14200000\n")
	sdr.send(t, "7000000\n")
	now = now.Add(time.Millisecond)
	e.Tick(now)
	e.Tick(now)

	e.SetSyncMode(true)
	now = now.Add(time.Millisecond)
	e.Tick(now)

	if !e.syncOn {
		t.Fatalf("sync_on should now be true with both sockets connected")
	}

	// Rig reports a fresh frequency.
	rig.send(t, "14200000\n") // unchanged, no-op
	now = now.Add(200 * time.Millisecond)
	e.Tick(now)
	rig.send(t, "14300000\n")
	now = now.Add(time.Millisecond)
	e.Tick(now) // read triggers sync policy
	e.Tick(now) // flush the enqueued SDR set

	sdr.expectLine(t, fmt.Sprintf("F %d\n", 14300000))
	sdr.send(t, "RPRT 0\n")
	now = now.Add(time.Millisecond)
	e.Tick(now)

	if e.sdr.freqCur == nil || *e.sdr.freqCur != 14300000 {
		t.Fatalf("sdr freq_cur = %v, want 14300000", e.sdr.freqCur)
	}
}

func TestIfreqLOMath(t *testing.T) {
	rig := newFakePeer(t)
	defer rig.close()
	sdr := newFakePeer(t)
	defer sdr.close()

	ifreq := 73.095
	cfg := baseConfig(rig.port(t), sdr.port(t))
	cfg.IfreqMHz = &ifreq
	e := New(cfg, nil, nil)
	defer e.Shutdown("")

	now := time.Now()
	now = pumpUntilConnected(t, e, e.rig, now)
	rig.accept(t)
	now = pumpUntilConnected(t, e, e.sdr, now)
	sdr.accept(t)

	rig.expectLine(t, "f\n")
	sdr.expectLine(t, "LNB_LO\n")
	sdr.send(t, "0\n")
	rig.send(t, "14000000\n")
	now = now.Add(time.Millisecond)
	e.Tick(now)
	e.Tick(now)

	e.SetSyncMode(true)
	now = now.Add(time.Millisecond)
	e.Tick(now) // updateSyncAvailability flips sync_on true
	e.Tick(now) // sync policy computes and enqueues LNB_LO
	e.Tick(now) // flush

	sdr.expectLine(t, "LNB_LO -59095000\n")
	sdr.send(t, "RPRT 0\n")
	now = now.Add(time.Millisecond)
	e.Tick(now)

	if e.sdr.freqCur == nil || *e.sdr.freqCur != -59095000 {
		t.Fatalf("sdr freq_cur = %v, want -59095000", e.sdr.freqCur)
	}
}

func TestNudgeAccumulationNoSocket(t *testing.T) {
	cfg := baseConfig(1, 1) // unreachable ports; peers stay disconnected
	cfg.RigSocketReconInterval = time.Hour
	cfg.SDRSocketReconInterval = time.Hour
	e := New(cfg, nil, nil)
	defer e.Shutdown("")
	e.SetStep(100)

	for i := 0; i < 11; i++ {
		e.Nudge(100)
	}
	if e.rig.freqDelta != 0 || e.sdr.freqDelta != 0 {
		t.Fatalf("freq_delta should stay zero with no connected peer, got rig=%d sdr=%d", e.rig.freqDelta, e.sdr.freqDelta)
	}
}

func TestTimeoutRecovery(t *testing.T) {
	rig := newFakePeer(t)
	defer rig.close()
	sdr := newFakePeer(t)
	defer sdr.close()

	cfg := baseConfig(rig.port(t), sdr.port(t))
	cfg.RigTimeout = 20 * time.Millisecond
	cfg.RigFreqQueryInterval = time.Hour
	e := New(cfg, nil, nil)
	defer e.Shutdown("")

	now := time.Now()
	now = pumpUntilConnected(t, e, e.rig, now)
	rig.accept(t)
	rig.expectLine(t, "f\n")
	rig.send(t, "14200000\n")
	now = now.Add(time.Millisecond)
	e.Tick(now)

	e.rig.freqDelta = 100
	now = now.Add(time.Millisecond)
	e.Tick(now)
	e.Tick(now)
	rig.expectLine(t, "F 14200100\n")

	now = now.Add(30 * time.Millisecond)
	e.Tick(now)

	if e.rig.inFlightSince != nil {
		t.Fatalf("in_flight_since should have cleared on timeout")
	}
	if e.rig.freqSent != nil || e.rig.freqDeltaSent != 0 || e.rig.freqDelta != 0 {
		t.Fatalf("freq_sent/freq_delta_sent/freq_delta should all reset on timeout")
	}
	if !e.rig.connected() {
		t.Fatalf("socket should remain open after a bare timeout")
	}
}

func TestProtocolErrorOnSet(t *testing.T) {
	rig := newFakePeer(t)
	defer rig.close()

	cfg := baseConfig(rig.port(t), 1)
	cfg.SDRSocketReconInterval = time.Hour
	e := New(cfg, nil, nil)
	defer e.Shutdown("")

	now := time.Now()
	now = pumpUntilConnected(t, e, e.rig, now)
	rig.accept(t)
	rig.expectLine(t, "f\n")
	rig.send(t, "14200000\n")
	now = now.Add(time.Millisecond)
	e.Tick(now)

	e.rig.freqDelta = 100
	now = now.Add(time.Millisecond)
	e.Tick(now)
	e.Tick(now)
	rig.expectLine(t, "F 14200100\n")
	rig.send(t, "RPRT 5\n")
	now = now.Add(time.Millisecond)
	e.Tick(now)

	if e.rig.freqSent != nil {
		t.Fatalf("freq_sent should be nil after RPRT error")
	}
	if e.rig.freqDelta != 0 {
		t.Fatalf("freq_delta should be zero after RPRT error")
	}
	if *e.rig.freqCur != 14200000 {
		t.Fatalf("freq_cur should be unchanged after RPRT error, got %d", *e.rig.freqCur)
	}
}

func TestNudgeSaturates(t *testing.T) {
	rig := newFakePeer(t)
	defer rig.close()

	cfg := baseConfig(rig.port(t), 1)
	cfg.SDRSocketReconInterval = time.Hour
	e := New(cfg, nil, nil)
	defer e.Shutdown("")
	e.SetStep(100) // cap = 100*10 = 1000

	now := time.Now()
	now = pumpUntilConnected(t, e, e.rig, now)
	rig.accept(t)
	rig.expectLine(t, "f\n")
	rig.send(t, "14200000\n")
	now = now.Add(time.Millisecond)
	e.Tick(now)

	for i := 0; i < 20; i++ {
		e.Nudge(100)
	}
	if e.rig.freqDelta != 1000 {
		t.Fatalf("freq_delta = %d, want saturated at 1000", e.rig.freqDelta)
	}
}
