package transport

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
)

// maxFrameSize bounds inbound frames. Chat packets are a few hundred bytes;
// anything larger is a broken or hostile peer.
const maxFrameSize = 4096

// TCPTransport implements Transport over raw TCP connections, emulating the
// shared broadcast channel: every frame is written to every connected peer.
// Framing: each payload is preceded by a 2-byte big-endian length.
//
// TCP carries no radio signal measurements, so frames are delivered with
// zero RSSI/SNR.
type TCPTransport struct {
	listenAddr string
	listener   net.Listener
	incoming   chan Frame

	mu    sync.RWMutex
	peers map[string]net.Conn // addr → conn
}

// NewTCP creates a TCPTransport listening on listenAddr.
func NewTCP(listenAddr string) *TCPTransport {
	return &TCPTransport{
		listenAddr: listenAddr,
		incoming:   make(chan Frame, 512),
		peers:      make(map[string]net.Conn),
	}
}

func (t *TCPTransport) Start() error {
	ln, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return err
	}
	t.listener = ln
	go t.acceptLoop()
	return nil
}

func (t *TCPTransport) Connect(addr string) error {
	t.mu.RLock()
	_, already := t.peers[addr]
	t.mu.RUnlock()
	if already {
		return nil
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	t.addPeer(addr, conn)
	return nil
}

func (t *TCPTransport) Broadcast(payload []byte) {
	if len(payload) > maxFrameSize {
		return
	}

	t.mu.RLock()
	conns := make([]net.Conn, 0, len(t.peers))
	for _, c := range t.peers {
		conns = append(conns, c)
	}
	t.mu.RUnlock()

	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(payload)))
	for _, c := range conns {
		c.Write(hdr[:])   //nolint:errcheck
		c.Write(payload)  //nolint:errcheck
	}
}

func (t *TCPTransport) Incoming() <-chan Frame {
	return t.incoming
}

func (t *TCPTransport) PeerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

func (t *TCPTransport) Close() error {
	if t.listener != nil {
		t.listener.Close()
	}
	t.mu.Lock()
	for _, c := range t.peers {
		c.Close()
	}
	t.mu.Unlock()
	return nil
}

func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		t.addPeer(conn.RemoteAddr().String(), conn)
	}
}

func (t *TCPTransport) addPeer(addr string, conn net.Conn) {
	t.mu.Lock()
	t.peers[addr] = conn
	t.mu.Unlock()
	go t.readLoop(addr, conn)
}

func (t *TCPTransport) readLoop(addr string, conn net.Conn) {
	defer func() {
		conn.Close()
		t.mu.Lock()
		delete(t.peers, addr)
		t.mu.Unlock()
	}()

	for {
		var hdr [2]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		sz := int(binary.BigEndian.Uint16(hdr[:]))
		if sz == 0 || sz > maxFrameSize {
			log.Warn().Str("peer", addr).Int("size", sz).Msg("transport: bad frame size")
			return
		}
		buf := make([]byte, sz)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		select {
		case t.incoming <- Frame{Payload: buf}:
		default:
			// Drop if the incoming buffer is full (backpressure).
		}
	}
}
