// Package protocol defines the meshchat wire format.
//
// Packets are JSON objects so that heterogeneous nodes (and older firmware
// revisions) can interoperate without a schema registry. Three numeric fields
// are optional on the wire — version, hopCount and maxHop — and default when
// absent rather than failing decode. Older senders omit them; rejecting such
// packets would partition the mesh by firmware version.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// KindChat is the only packet kind this network carries.
	KindChat = "chat"

	// CurrentVersion is the protocol version stamped on originated packets
	// and assumed for packets that omit the version field.
	CurrentVersion = 1

	// MaxNameLen and MaxTextLen bound the two string fields. Longer values
	// are silently truncated before encoding, never rejected.
	MaxNameLen = 20
	MaxTextLen = 200

	// MaxOriginID is the highest assignable node identifier; 0 is reserved
	// and never valid on the wire.
	MaxOriginID = 255
)

// Decode failure classes. Every decode error wraps exactly one of these.
var (
	ErrMalformed       = errors.New("protocol: malformed packet")
	ErrUnsupportedKind = errors.New("protocol: unsupported kind")
	ErrInvalidIdentity = errors.New("protocol: invalid origin identity")
	ErrEmptyContent    = errors.New("protocol: empty content")
)

// Packet is one chat message in flight across the mesh.
//
// OriginID and Sequence together identify a packet instance for duplicate
// suppression: Sequence is assigned by the origin, monotonically increasing,
// and never 0. HopCount is the distance travelled so far; MaxHop is the TTL
// budget set by the originator, past which relays stop forwarding.
type Packet struct {
	Version     int    `json:"version"`
	Kind        string `json:"kind"`
	OriginID    uint8  `json:"originId"`
	DisplayName string `json:"displayName"`
	Sequence    uint32 `json:"sequenceNumber"`
	HopCount    uint8  `json:"hopCount"`
	MaxHop      uint8  `json:"maxHop"`
	Text        string `json:"text"`
}

// Encode serialises p, truncating DisplayName and Text to their wire limits.
func Encode(p Packet) ([]byte, error) {
	p.DisplayName = Truncate(p.DisplayName, MaxNameLen)
	p.Text = Truncate(p.Text, MaxTextLen)
	return json.Marshal(p)
}

// Decode parses a received frame into a Packet.
//
// defaultMaxHop fills the maxHop field when the sender omitted it. Absent
// version and hopCount default to CurrentVersion and 0. All other fields are
// mandatory: a missing, zero or non-numeric originId/sequenceNumber is
// ErrInvalidIdentity, and a name or text that trims to nothing is
// ErrEmptyContent.
func Decode(b []byte, defaultMaxHop uint8) (Packet, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	kind, err := stringField(raw, "kind")
	if err != nil {
		return Packet{}, err
	}
	if kind != KindChat {
		return Packet{}, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}

	// Missing, non-numeric and zero identity fields are all the same class
	// of failure: the packet cannot be attributed to an origin instance.
	origin, ok, err := numField(raw, "originId")
	if err != nil || !ok || origin < 1 || origin > MaxOriginID {
		return Packet{}, fmt.Errorf("%w: originId", ErrInvalidIdentity)
	}
	seq, ok, err := numField(raw, "sequenceNumber")
	if err != nil || !ok || seq < 1 || seq > 0xFFFFFFFF {
		return Packet{}, fmt.Errorf("%w: sequenceNumber", ErrInvalidIdentity)
	}

	name, err := stringField(raw, "displayName")
	if err != nil {
		return Packet{}, err
	}
	text, err := stringField(raw, "text")
	if err != nil {
		return Packet{}, err
	}
	name = strings.TrimSpace(Truncate(name, MaxNameLen))
	text = strings.TrimSpace(Truncate(text, MaxTextLen))
	if name == "" {
		return Packet{}, fmt.Errorf("%w: displayName", ErrEmptyContent)
	}
	if text == "" {
		return Packet{}, fmt.Errorf("%w: text", ErrEmptyContent)
	}

	p := Packet{
		Version:     CurrentVersion,
		Kind:        KindChat,
		OriginID:    uint8(origin),
		DisplayName: name,
		Sequence:    uint32(seq),
		MaxHop:      defaultMaxHop,
		Text:        text,
	}

	// Optional numeric fields: absent means default, not error.
	if v, ok, err := numField(raw, "version"); err != nil {
		return Packet{}, err
	} else if ok {
		p.Version = int(v)
	}
	if v, ok, err := numField(raw, "hopCount"); err != nil {
		return Packet{}, err
	} else if ok && v >= 0 && v <= 255 {
		p.HopCount = uint8(v)
	}
	if v, ok, err := numField(raw, "maxHop"); err != nil {
		return Packet{}, err
	} else if ok && v >= 0 && v <= 255 {
		p.MaxHop = uint8(v)
	}

	return p, nil
}

// Truncate clamps s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// stringField extracts a string value; a missing field yields "".
func stringField(raw map[string]json.RawMessage, key string) (string, error) {
	v, ok := raw[key]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%w: %s is not a string", ErrMalformed, key)
	}
	return s, nil
}

// numField extracts an integral numeric value. The second return reports
// presence; identity fields treat absence as invalid, optional fields treat
// it as "use the default".
func numField(raw map[string]json.RawMessage, key string) (int64, bool, error) {
	v, ok := raw[key]
	if !ok {
		return 0, false, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, true, fmt.Errorf("%w: %s is not numeric", ErrMalformed, key)
	}
	i, err := n.Int64()
	if err != nil {
		return 0, true, fmt.Errorf("%w: %s is not an integer", ErrMalformed, key)
	}
	return i, true, nil
}
