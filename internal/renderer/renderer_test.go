package renderer

import (
	"fmt"
	"testing"

	"github.com/makrohard/pansyncer/internal/syncengine"
)

var (
	_ syncengine.Renderer = (*Log)(nil)
	_ syncengine.Renderer = (*WebSocket)(nil)
)

func TestLogRendererFormatsUnknownFreq(t *testing.T) {
	var lines []string
	l := NewLog(func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	})
	l.SetRig(nil, false)
	if len(lines) != 1 {
		t.Fatalf("expected one log line, got %d", len(lines))
	}
	if want := "renderer: rig freq=unknown connected=false"; lines[0] != want {
		t.Fatalf("line = %q, want %q", lines[0], want)
	}
}

func TestWebSocketSetRigUpdatesSnapshot(t *testing.T) {
	w := NewWebSocket()
	freq := int64(14200000)
	w.SetRig(&freq, true)
	snap := w.snapshot().(status)
	if snap.RigHz == nil || *snap.RigHz != freq || !snap.RigUp {
		t.Fatalf("snapshot = %+v, want rig=14200000 connected", snap)
	}
}
