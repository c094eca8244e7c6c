package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	p := Packet{
		Version:     CurrentVersion,
		Kind:        KindChat,
		OriginID:    7,
		DisplayName: "alice",
		Sequence:    42,
		HopCount:    1,
		MaxHop:      3,
		Text:        "hello mesh",
	}
	b, err := Encode(p)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(b, 8)
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Fatalf("roundtrip mismatch:\n got %+v\nwant %+v", got, p)
	}
}

func TestDecodeDefaultsForOptionalFields(t *testing.T) {
	// Older senders omit version, hopCount and maxHop entirely. They must
	// decode with defaults, not fail.
	b := []byte(`{"kind":"chat","originId":3,"sequenceNumber":9,"displayName":"bob","text":"hi"}`)
	p, err := Decode(b, 5)
	if err != nil {
		t.Fatal(err)
	}
	if p.Version != CurrentVersion {
		t.Errorf("version = %d, want %d", p.Version, CurrentVersion)
	}
	if p.HopCount != 0 {
		t.Errorf("hopCount = %d, want 0", p.HopCount)
	}
	if p.MaxHop != 5 {
		t.Errorf("maxHop = %d, want caller default 5", p.MaxHop)
	}
}

func TestDecodeRejections(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"not json", `{{{`, ErrMalformed},
		{"json array", `[1,2,3]`, ErrMalformed},
		{"missing kind", `{"originId":1,"sequenceNumber":1,"displayName":"a","text":"b"}`, ErrUnsupportedKind},
		{"wrong kind", `{"kind":"telemetry","originId":1,"sequenceNumber":1,"displayName":"a","text":"b"}`, ErrUnsupportedKind},
		{"missing originId", `{"kind":"chat","sequenceNumber":1,"displayName":"a","text":"b"}`, ErrInvalidIdentity},
		{"zero originId", `{"kind":"chat","originId":0,"sequenceNumber":1,"displayName":"a","text":"b"}`, ErrInvalidIdentity},
		{"non-numeric originId", `{"kind":"chat","originId":"one","sequenceNumber":1,"displayName":"a","text":"b"}`, ErrInvalidIdentity},
		{"originId overflow", `{"kind":"chat","originId":300,"sequenceNumber":1,"displayName":"a","text":"b"}`, ErrInvalidIdentity},
		{"missing sequence", `{"kind":"chat","originId":1,"displayName":"a","text":"b"}`, ErrInvalidIdentity},
		{"zero sequence", `{"kind":"chat","originId":1,"sequenceNumber":0,"displayName":"a","text":"b"}`, ErrInvalidIdentity},
		{"missing name", `{"kind":"chat","originId":1,"sequenceNumber":1,"text":"b"}`, ErrEmptyContent},
		{"blank name", `{"kind":"chat","originId":1,"sequenceNumber":1,"displayName":"   ","text":"b"}`, ErrEmptyContent},
		{"missing text", `{"kind":"chat","originId":1,"sequenceNumber":1,"displayName":"a"}`, ErrEmptyContent},
		{"blank text", `{"kind":"chat","originId":1,"sequenceNumber":1,"displayName":"a","text":" \t"}`, ErrEmptyContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.in), 3)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEncodeTruncatesLongFields(t *testing.T) {
	p := Packet{
		Kind:        KindChat,
		OriginID:    1,
		Sequence:    1,
		DisplayName: strings.Repeat("n", MaxNameLen+10),
		Text:        strings.Repeat("t", MaxTextLen+50),
		MaxHop:      3,
	}
	b, err := Encode(p)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(b, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.DisplayName) != MaxNameLen {
		t.Errorf("displayName len = %d, want %d", len(got.DisplayName), MaxNameLen)
	}
	if len(got.Text) != MaxTextLen {
		t.Errorf("text len = %d, want %d", len(got.Text), MaxTextLen)
	}
}

func TestDecodeTruncatesBeforeTrimming(t *testing.T) {
	// A name that is non-empty only beyond the limit must be rejected:
	// truncation happens first, then the trim check.
	long := strings.Repeat(" ", MaxNameLen) + "x"
	b := []byte(`{"kind":"chat","originId":1,"sequenceNumber":1,"displayName":"` + long + `","text":"hi"}`)
	_, err := Decode(b, 3)
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("got %v, want ErrEmptyContent", err)
	}
}
