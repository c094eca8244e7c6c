// Package transport defines the broadcast channel interface and provides
// implementations for production (TCP) and testing (in-memory).
//
// The channel is lossy and fire-and-forget: Broadcast carries no
// acknowledgment and no retry, and a congested receiver drops frames. This
// mirrors the half-duplex radio link the protocol is designed for.
package transport

// Frame is one opaque payload received from the channel, together with
// signal-quality metadata. RSSI and SNR are operator-facing diagnostics
// only; no protocol decision may depend on them.
type Frame struct {
	Payload []byte
	RSSI    int     // received signal strength, dBm
	SNR     float64 // signal-to-noise ratio, dB
}

// Transport abstracts peer packet I/O.
// The node uses this interface exclusively so that tests can inject an
// in-memory transport without real network sockets.
type Transport interface {
	// Start begins listening for incoming peer connections.
	Start() error

	// Connect dials a peer by address. Idempotent if already connected.
	Connect(addr string) error

	// Broadcast sends the payload to all currently connected peers.
	// Best effort: no acknowledgment, no retry, no error.
	Broadcast(payload []byte)

	// Incoming returns a channel of frames received from any peer.
	Incoming() <-chan Frame

	// PeerCount returns the number of currently connected peers.
	PeerCount() int

	// Close shuts down the transport and all peer connections.
	Close() error
}
