// Package node implements the meshchat flood-relay engine.
//
// Design:
//   - One goroutine processes incoming frames from the transport.
//   - Each structurally valid reception is appended to the message log
//     unconditionally; only the rebroadcast decision is conditional. The log
//     is a raw record of what was heard, not a deduplicated history.
//   - A forward is delayed by a uniform random jitter before rebroadcast so
//     that neighbours which heard the same packet do not all key up at once.
//     The delay runs on a timer, not a blocking sleep, so reception and
//     client requests are never starved while a forward is pending.
package node

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Operative-001/meshchat/internal/metrics"
	"github.com/Operative-001/meshchat/internal/msglog"
	"github.com/Operative-001/meshchat/internal/protocol"
	"github.com/Operative-001/meshchat/internal/seen"
	"github.com/Operative-001/meshchat/internal/transport"
)

const (
	defaultJitterMin = 20 * time.Millisecond
	defaultJitterMax = 150 * time.Millisecond
)

// ErrEmptyMessage is returned by Originate for a name or text that trims to
// nothing.
var ErrEmptyMessage = errors.New("node: empty display name or text")

// SequenceStore persists the origin sequence counter across restarts.
// A node that reused sequence numbers after a reboot would have its fresh
// messages suppressed as duplicates by neighbours that remember them.
type SequenceStore interface {
	LastSequence() uint32
	StoreSequence(seq uint32) error
}

// Config configures a Node.
type Config struct {
	NodeID      uint8  // this node's origin identifier, 1..255
	DisplayName string // name stamped on originated messages
	MaxHop      uint8  // TTL budget for originated packets

	Transport transport.Transport
	Log       *msglog.Log   // defaults to msglog.New(msglog.DefaultCapacity)
	Seen      *seen.Cache   // defaults to seen.New(seen.DefaultCapacity)
	Sequences SequenceStore // optional; counter starts at 0 when nil

	Bootstrap []string // peer addresses to connect on start

	// Rebroadcast jitter window. Both zero selects the defaults; equal
	// non-zero values pin the delay, which tests use.
	JitterMin time.Duration
	JitterMax time.Duration

	Logger zerolog.Logger
}

// outcome is the terminal state of one received frame.
type outcome int

const (
	outcomeDropped outcome = iota
	outcomeSelf
	outcomeDuplicate
	outcomeTTLExceeded
	outcomeForwarded
)

func (o outcome) String() string {
	switch o {
	case outcomeDropped:
		return "dropped"
	case outcomeSelf:
		return "self"
	case outcomeDuplicate:
		return "duplicate"
	case outcomeTTLExceeded:
		return "ttl_exceeded"
	case outcomeForwarded:
		return "forwarded"
	}
	return "unknown"
}

// Node is the meshchat relay engine.
type Node struct {
	cfg  Config
	tr   transport.Transport
	log  *msglog.Log
	seen *seen.Cache

	seqMu   sync.Mutex
	nextSeq uint32 // last assigned origin sequence

	logger zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Node. The transport is mandatory; log and seen cache are
// created with default capacities when not supplied.
func New(cfg Config) (*Node, error) {
	if cfg.NodeID == 0 {
		return nil, errors.New("node: NodeID must be 1..255")
	}
	if cfg.Transport == nil {
		return nil, errors.New("node: transport is required")
	}
	if cfg.Log == nil {
		cfg.Log = msglog.New(msglog.DefaultCapacity)
	}
	if cfg.Seen == nil {
		cfg.Seen = seen.New(seen.DefaultCapacity)
	}
	if cfg.JitterMin == 0 && cfg.JitterMax == 0 {
		cfg.JitterMin = defaultJitterMin
		cfg.JitterMax = defaultJitterMax
	}
	if cfg.JitterMax < cfg.JitterMin {
		return nil, errors.New("node: jitter window inverted")
	}

	n := &Node{
		cfg:    cfg,
		tr:     cfg.Transport,
		log:    cfg.Log,
		seen:   cfg.Seen,
		logger: cfg.Logger,
		stopCh: make(chan struct{}),
	}
	if cfg.Sequences != nil {
		n.nextSeq = cfg.Sequences.LastSequence()
	}
	return n, nil
}

// Start begins the node: starts the transport, connects to bootstrap peers,
// and launches the receive goroutine. A transport start failure is fatal to
// the node — there is no chat function without the channel.
func (n *Node) Start() error {
	if err := n.tr.Start(); err != nil {
		return fmt.Errorf("node: transport start: %w", err)
	}
	for _, addr := range n.cfg.Bootstrap {
		if err := n.tr.Connect(addr); err != nil {
			n.logger.Warn().Str("peer", addr).Err(err).Msg("bootstrap connect failed")
		}
	}
	go n.receiveLoop()
	return nil
}

// Stop shuts down the node. Forwards already scheduled may still fire their
// timers but are discarded without transmitting.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		n.tr.Close() //nolint:errcheck
	})
}

// Log returns the message log backing client polls.
func (n *Node) Log() *msglog.Log {
	return n.log
}

// ID returns this node's origin identifier.
func (n *Node) ID() uint8 {
	return n.cfg.NodeID
}

// DisplayName returns the node's configured display name.
func (n *Node) DisplayName() string {
	return n.cfg.DisplayName
}

// PeerCount reports currently connected peers.
func (n *Node) PeerCount() int {
	return n.tr.PeerCount()
}

// LastOriginSequence returns the most recent mesh sequence this node stamped
// on an originated packet.
func (n *Node) LastOriginSequence() uint32 {
	n.seqMu.Lock()
	defer n.seqMu.Unlock()
	return n.nextSeq
}

// Originate creates a new chat message from this node: it is logged locally
// and broadcast with a fresh origin sequence, hop count 0 and the configured
// TTL budget. The packet is deliberately not marked in the seen cache — the
// self-origin check already keeps echoes of it from being re-forwarded.
func (n *Node) Originate(displayName, text string) (uint32, error) {
	displayName = strings.TrimSpace(protocol.Truncate(displayName, protocol.MaxNameLen))
	text = strings.TrimSpace(protocol.Truncate(text, protocol.MaxTextLen))
	if displayName == "" || text == "" {
		return 0, ErrEmptyMessage
	}

	n.seqMu.Lock()
	n.nextSeq++
	seq := n.nextSeq
	n.seqMu.Unlock()

	if n.cfg.Sequences != nil {
		if err := n.cfg.Sequences.StoreSequence(seq); err != nil {
			n.logger.Warn().Err(err).Msg("sequence persist failed")
		}
	}

	pkt := protocol.Packet{
		Version:     protocol.CurrentVersion,
		Kind:        protocol.KindChat,
		OriginID:    n.cfg.NodeID,
		DisplayName: displayName,
		Sequence:    seq,
		HopCount:    0,
		MaxHop:      n.cfg.MaxHop,
		Text:        text,
	}
	payload, err := protocol.Encode(pkt)
	if err != nil {
		return 0, err
	}

	local := n.log.Append(displayName, text)
	metrics.LogAppends.Inc()
	metrics.MessagesOriginated.Inc()
	n.tr.Broadcast(payload)

	n.logger.Debug().Uint32("seq", seq).Uint32("local_seq", local).Msg("originated message")
	return local, nil
}

// receiveLoop processes frames from the transport.
func (n *Node) receiveLoop() {
	for {
		select {
		case <-n.stopCh:
			return
		case f := <-n.tr.Incoming():
			n.handleFrame(f)
		}
	}
}

// handleFrame runs the relay decision pipeline for one received frame.
// It is terminal in a single pass; the returned outcome exists for tests
// and metrics.
func (n *Node) handleFrame(f transport.Frame) outcome {
	pkt, err := protocol.Decode(f.Payload, n.cfg.MaxHop)
	if err != nil {
		// Silent drop: no log entry, no forward, no cache mutation.
		n.logger.Debug().Err(err).Int("rssi", f.RSSI).Float64("snr", f.SNR).Msg("dropped undecodable frame")
		metrics.PacketsReceived.WithLabelValues(outcomeDropped.String()).Inc()
		return outcomeDropped
	}

	// Every structurally valid reception is logged, including packets that
	// turn out to be mesh duplicates or self-echoes below.
	n.log.Append(pkt.DisplayName, pkt.Text)
	metrics.LogAppends.Inc()

	out := n.relayDecision(pkt)
	metrics.PacketsReceived.WithLabelValues(out.String()).Inc()
	n.logger.Debug().
		Uint8("origin", pkt.OriginID).
		Uint32("seq", pkt.Sequence).
		Uint8("hop", pkt.HopCount).
		Uint8("max_hop", pkt.MaxHop).
		Int("rssi", f.RSSI).
		Float64("snr", f.SNR).
		Stringer("outcome", out).
		Msg("received packet")
	return out
}

// relayDecision decides whether a decoded packet is rebroadcast.
func (n *Node) relayDecision(pkt protocol.Packet) outcome {
	// The originator already holds the authoritative copy; an echo of our
	// own packet must never loop back into the mesh.
	if pkt.OriginID == n.cfg.NodeID {
		return outcomeSelf
	}

	if n.seen.Contains(pkt.OriginID, pkt.Sequence) {
		return outcomeDuplicate
	}

	// Mark before the hop check: a packet rejected for TTL must still be
	// remembered so a second copy is not re-evaluated.
	n.seen.Insert(pkt.OriginID, pkt.Sequence)

	if pkt.HopCount >= pkt.MaxHop {
		return outcomeTTLExceeded
	}

	pkt.HopCount++
	payload, err := protocol.Encode(pkt)
	if err != nil {
		// Encode of a decoded packet cannot fail in practice.
		return outcomeDropped
	}
	n.forwardAfterJitter(payload)
	return outcomeForwarded
}

// forwardAfterJitter schedules the rebroadcast after a uniform random delay
// in the configured window, decorrelating nodes that heard the same packet
// at the same instant.
func (n *Node) forwardAfterJitter(payload []byte) {
	delay := n.cfg.JitterMin
	if span := n.cfg.JitterMax - n.cfg.JitterMin; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}
	time.AfterFunc(delay, func() {
		select {
		case <-n.stopCh:
			return
		default:
		}
		n.tr.Broadcast(payload)
		metrics.PacketsForwarded.Inc()
	})
}
