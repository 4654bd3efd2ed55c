package syncengine

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Role identifies which endpoint a peerState speaks for.
type Role string

const (
	RoleRig Role = "rig"
	RoleSDR Role = "sdr"
)

// peerState is the concrete record backing one CAT endpoint. It is a
// plain struct keyed by role through the Engine's rig/sdr fields, never
// through a map keyed by field name.
type peerState struct {
	role Role
	host string
	port uint16

	fd         int // -1 when not connected
	connecting bool

	enabled bool

	freqCur  *int64
	freqPrev *int64

	freqSent      *int64
	freqDelta     int64
	freqDeltaSent int64

	freqQueryInterval time.Duration
	reconInterval     time.Duration
	timeout           time.Duration

	pendingCommand []byte
	inFlightSince  *time.Time
	sendTimestamp  time.Time
	reconTimestamp time.Time

	recvBuf       []byte
	readChunk     int
	maxRecvBuffer int

	rigChangedAt time.Time // rig-only: last observed frequency change, for the quiet-log policy
}

func newPeerState(role Role, host string, port uint16, cfg Config) *peerState {
	var queryInterval, reconInterval, timeout time.Duration
	switch role {
	case RoleRig:
		queryInterval, reconInterval, timeout = cfg.RigFreqQueryInterval, cfg.RigSocketReconInterval, cfg.RigTimeout
	default:
		queryInterval, reconInterval, timeout = cfg.SDRFreqQueryInterval, cfg.SDRSocketReconInterval, cfg.SDRTimeout
	}
	return &peerState{
		role:              role,
		host:              host,
		port:              port,
		fd:                -1,
		freqQueryInterval: queryInterval,
		reconInterval:     reconInterval,
		timeout:           timeout,
		readChunk:         cfg.ReadBufferSize,
		maxRecvBuffer:     cfg.MaxReadBufferBytes,
	}
}

func (p *peerState) connected() bool {
	return p.fd >= 0 && !p.connecting
}

func (p *peerState) hasSocket() bool {
	return p.fd >= 0
}

// connect opens a non-blocking TCP socket toward the peer. The socket
// may still be mid-handshake (EINPROGRESS) when this returns; the poll
// loop observes writability to learn when it completes.
func (p *peerState) connect() error {
	ip, err := resolveIPv4(p.host)
	if err != nil {
		return err
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("set nonblock: %w", err)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	sa := &unix.SockaddrInet4{Port: int(p.port)}
	copy(sa.Addr[:], ip.To4())

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return fmt.Errorf("connect: %w", err)
	}

	p.fd = fd
	p.connecting = true
	return nil
}

func resolveIPv4(host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("no A record for %s", host)
}

// closeSocket releases the fd and resets all per-connection state
// (frequencies, buffers, in-flight marker), per spec §4.5's lifecycle:
// the peerState itself survives, only its connection-scoped fields do
// not.
func (p *peerState) closeSocket() {
	if p.fd >= 0 {
		unix.Close(p.fd)
	}
	p.fd = -1
	p.connecting = false
	p.freqCur = nil
	p.freqPrev = nil
	p.freqSent = nil
	p.freqDelta = 0
	p.freqDeltaSent = 0
	p.pendingCommand = nil
	p.inFlightSince = nil
	p.recvBuf = nil
}

// finishConnect checks whether a completing non-blocking connect
// succeeded, using SO_ERROR as getsockopt-after-poll demands.
func (p *peerState) finishConnect() error {
	errno, err := unix.GetsockoptInt(p.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(uintptr(errno))
	}
	p.connecting = false
	return nil
}

func (p *peerState) drainSocket() ([][]byte, error) {
	var lines [][]byte
	buf := make([]byte, p.readChunk)
	for {
		n, err := unix.Read(p.fd, buf)
		if n > 0 {
			p.recvBuf = append(p.recvBuf, buf[:n]...)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			return lines, err
		}
		if n == 0 {
			return lines, errPeerHangup
		}
		if n < len(buf) {
			break // short read: socket drained for now
		}
	}

	complete, tail := splitLines(p.recvBuf)
	if len(complete) > 0 {
		lines = make([][]byte, len(complete))
		copy(lines, complete)
		tailCopy := append([]byte(nil), tail...)
		p.recvBuf = tailCopy
	}
	if p.maxRecvBuffer > 0 && len(p.recvBuf) > p.maxRecvBuffer {
		p.recvBuf = p.recvBuf[len(p.recvBuf)-p.maxRecvBuffer:]
	}
	return lines, nil
}

func (p *peerState) flushPending(now time.Time) error {
	if len(p.pendingCommand) == 0 {
		return nil
	}
	n, err := unix.Write(p.fd, p.pendingCommand)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil // leave pendingCommand intact, retry next tick
		}
		return err
	}
	if n < len(p.pendingCommand) {
		p.pendingCommand = p.pendingCommand[n:]
		return nil
	}
	p.pendingCommand = nil
	p.inFlightSince = &now
	p.sendTimestamp = now
	return nil
}
