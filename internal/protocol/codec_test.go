package protocol

import (
	"bytes"
	"testing"

	"stockbit-capture/internal/models"
)

func TestEncodeSubscriptionFieldOrderAndTickerExpansion(t *testing.T) {
	sub := models.Subscription{
		UserID:     "42",
		Tickers:    []string{"BBCA", "TLKM"},
		TradingKey: "tk-123",
		Bearer:     "header.payload.sig",
	}
	encoded := EncodeSubscription(sub)

	fields, err := decodeFields(encoded)
	if err != nil {
		t.Fatalf("decodeFields failed: %v", err)
	}

	if len(fields) != 4 {
		t.Fatalf("expected 4 top-level fields (1,2,3,5), got %d", len(fields))
	}
	if fields[0].number != 1 || string(fields[0].bytes) != "42" {
		t.Fatalf("field 1 mismatch: %+v", fields[0])
	}
	if fields[1].number != 2 {
		t.Fatalf("expected field 2 second, got %+v", fields[1])
	}
	if fields[2].number != 3 || string(fields[2].bytes) != "tk-123" {
		t.Fatalf("field 3 mismatch: %+v", fields[2])
	}
	if fields[3].number != 5 || string(fields[3].bytes) != "header.payload.sig" {
		t.Fatalf("field 5 mismatch: %+v", fields[3])
	}

	// Field 2 is itself a nested container of 4*N inner field-2 strings, in
	// plain / "2"-prefixed / ":"-prefixed / "J"-prefixed order.
	inner, err := decodeFields(fields[1].bytes)
	if err != nil {
		t.Fatalf("decode nested field2: %v", err)
	}
	want := []string{"BBCA", "TLKM", "2BBCA", "2TLKM", ":BBCA", ":TLKM", "JBBCA", "JTLKM"}
	if len(inner) != len(want) {
		t.Fatalf("expected %d inner ticker entries, got %d", len(want), len(inner))
	}
	for i, w := range want {
		if string(inner[i].bytes) != w {
			t.Errorf("inner[%d] = %q, want %q", i, string(inner[i].bytes), w)
		}
	}
}

func TestEncodeSubscriptionIsDeterministic(t *testing.T) {
	sub := models.Subscription{UserID: "1", Tickers: []string{"BBRI"}, TradingKey: "k", Bearer: "b"}
	a := EncodeSubscription(sub)
	b := EncodeSubscription(sub)
	if !bytes.Equal(a, b) {
		t.Fatal("expected identical inputs to produce byte-identical frames")
	}
}

func buildField(fieldNumber int, payload []byte) []byte {
	tag := (fieldNumber << 3) | wireBytes
	out := encodeVarint(uint64(tag))
	out = append(out, encodeVarint(uint64(len(payload)))...)
	return append(out, payload...)
}

func TestDecodeInboundOrderbookBoundaryScenario(t *testing.T) {
	// Mirrors spec boundary scenario 6: nested field 10 with sub-field 1 =
	// "BBCA", sub-field 2 = "#O|BBCA|BID|8200;100;820000|8150;50;407500".
	nested := append(
		buildField(1, []byte("BBCA")),
		buildField(2, []byte("#O|BBCA|BID|8200;100;820000|8150;50;407500"))...,
	)
	top := buildField(10, nested)

	frame, err := DecodeInbound(top)
	if err != nil {
		t.Fatalf("DecodeInbound failed: %v", err)
	}
	if frame.Ticker != "BBCA" {
		t.Fatalf("expected ticker BBCA, got %s", frame.Ticker)
	}
	if frame.Side != models.SideBid {
		t.Fatalf("expected BID side, got %s", frame.Side)
	}
	if len(frame.Levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(frame.Levels))
	}
	if frame.Levels[0].Price.String() != "8200" || frame.Levels[0].Lots != 100 || frame.Levels[0].TotalValue.String() != "820000" {
		t.Errorf("unexpected first level: %+v", frame.Levels[0])
	}
	if frame.Levels[1].Price.String() != "8150" || frame.Levels[1].Lots != 50 || frame.Levels[1].TotalValue.String() != "407500" {
		t.Errorf("unexpected second level: %+v", frame.Levels[1])
	}
}

func TestDecodeInboundSkipsUnknownFieldsByWireType(t *testing.T) {
	nested := append(
		buildField(1, []byte("TLKM")),
		buildField(2, []byte("#O|TLKM|OFFER|3500;10;35000"))...,
	)
	// Unknown varint field 7 before the orderbook field, must be tolerated.
	tag := (7 << 3) | wireVarint
	unknown := append(encodeVarint(uint64(tag)), encodeVarint(123)...)
	top := append(unknown, buildField(10, nested)...)

	frame, err := DecodeInbound(top)
	if err != nil {
		t.Fatalf("expected unknown field to be skipped, got error: %v", err)
	}
	if frame.Ticker != "TLKM" {
		t.Fatalf("expected ticker TLKM, got %s", frame.Ticker)
	}
}

func TestDecodeInboundMalformedFrameReturnsError(t *testing.T) {
	_, err := DecodeInbound([]byte{0xFF, 0xFF, 0xFF})
	if err == nil {
		t.Fatal("expected error decoding malformed frame")
	}
}

func TestDecodeInboundMissingField10(t *testing.T) {
	frame := buildField(1, []byte("no orderbook here"))
	_, err := DecodeInbound(frame)
	if err == nil {
		t.Fatal("expected error when field 10 is absent")
	}
}

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 16384, 1<<35 + 7}
	for _, v := range values {
		encoded := encodeVarint(v)
		decoded, pos, err := decodeVarint(encoded, 0)
		if err != nil {
			t.Fatalf("decode error for %d: %v", v, err)
		}
		if decoded != v {
			t.Errorf("round-trip mismatch: got %d, want %d", decoded, v)
		}
		if pos != len(encoded) {
			t.Errorf("expected pos to consume full varint, got %d of %d", pos, len(encoded))
		}
	}
}
