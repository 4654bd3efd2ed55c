package renderer

import (
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// status is the JSON frame broadcast to every connected client on
// every engine setter call.
type status struct {
	SyncOn   bool    `json:"sync_on"`
	StepHz   int64   `json:"step_hz"`
	Mode     string  `json:"mode"`
	IfreqMHz float64 `json:"ifreq_mhz,omitempty"`
	RigHz    *int64  `json:"rig_hz"`
	RigUp    bool    `json:"rig_connected"`
	SDRHz    *int64  `json:"sdr_hz"`
	SDRUp    bool    `json:"sdr_connected"`
	BandName string  `json:"band_name"`
}

type logFrame struct {
	Type string `json:"type"`
	Line string `json:"line"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocket broadcasts engine state to connected browser clients as
// JSON frames, mirroring the teacher's client-map-with-per-connection-
// mutex broadcast hub.
type WebSocket struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
	state   status
}

// NewWebSocket constructs an empty hub.
func NewWebSocket() *WebSocket {
	return &WebSocket{clients: make(map[*websocket.Conn]*sync.Mutex)}
}

// HandleWebSocket upgrades the request and registers the connection
// with a fresh client ID, the way the teacher's status handlers do.
func (w *WebSocket) HandleWebSocket(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.Printf("renderer: websocket upgrade failed: %v", err)
		return
	}
	clientID := uuid.New().String()

	w.mu.Lock()
	w.clients[conn] = &sync.Mutex{}
	w.mu.Unlock()

	log.Printf("renderer: websocket client %s connected (total: %d)", clientID, w.clientCount())
	w.sendTo(conn, w.snapshot())

	go w.readLoop(conn, clientID)
}

func (w *WebSocket) clientCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.clients)
}

func (w *WebSocket) readLoop(conn *websocket.Conn, clientID string) {
	defer func() {
		w.mu.Lock()
		delete(w.clients, conn)
		remaining := len(w.clients)
		w.mu.Unlock()
		conn.Close()
		log.Printf("renderer: websocket client %s disconnected (remaining: %d)", clientID, remaining)
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (w *WebSocket) snapshot() any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := w.state
	return s
}

func (w *WebSocket) sendTo(conn *websocket.Conn, payload any) {
	w.mu.RLock()
	mu := w.clients[conn]
	w.mu.RUnlock()
	if mu == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if err := conn.WriteJSON(payload); err != nil {
		log.Printf("renderer: websocket write failed: %v", err)
	}
}

func (w *WebSocket) broadcast(payload any) {
	w.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(w.clients))
	for c := range w.clients {
		conns = append(conns, c)
	}
	w.mu.RUnlock()
	for _, c := range conns {
		w.sendTo(c, payload)
	}
}

func (w *WebSocket) updateState(fn func(*status)) {
	w.mu.Lock()
	fn(&w.state)
	s := w.state
	w.mu.Unlock()
	w.broadcast(s)
}

func (w *WebSocket) SetSyncMode(on bool) {
	w.updateState(func(s *status) { s.SyncOn = on })
}

func (w *WebSocket) SetStepValue(hz int64) {
	w.updateState(func(s *status) { s.StepHz = hz })
}

func (w *WebSocket) SetMode(label string) {
	w.updateState(func(s *status) { s.Mode = label })
}

func (w *WebSocket) SetIfreq(mhz float64) {
	w.updateState(func(s *status) { s.IfreqMHz = mhz })
}

func (w *WebSocket) SetBandName(name string) {
	w.updateState(func(s *status) { s.BandName = name })
}

func (w *WebSocket) SetRig(freqHz *int64, connected bool) {
	w.updateState(func(s *status) { s.RigHz, s.RigUp = freqHz, connected })
}

func (w *WebSocket) SetSDR(freqHz *int64, connected bool) {
	w.updateState(func(s *status) { s.SDRHz, s.SDRUp = freqHz, connected })
}

func (w *WebSocket) Log(line string) {
	w.broadcast(logFrame{Type: "log", Line: line})
}
