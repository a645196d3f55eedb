// Package protocol implements the bespoke varint/length-delimited wire frame
// the vendor's WebSocket endpoint speaks. It is not a real protobuf schema
// (no .proto file exists for it) -- field numbers and wire types were
// reverse-engineered from captured traffic, so this codec hand-rolls exactly
// the subset described in the Python original, nothing more.
package protocol

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"stockbit-capture/internal/models"
	"stockbit-capture/internal/stockerr"
)

const (
	wireVarint = 0
	wireBytes  = 2
)

// EncodeSubscription builds the single client-to-server frame sent right
// after connect. The 4-way ticker expansion order (plain, "2"-prefixed,
// ":"-prefixed, "J"-prefixed) is load-bearing vendor behavior and must not
// be reordered.
func EncodeSubscription(sub models.Subscription) []byte {
	var field2 []byte
	for _, t := range sub.Tickers {
		field2 = append(field2, encodeFieldString(2, t)...)
	}
	for _, t := range sub.Tickers {
		field2 = append(field2, encodeFieldString(2, "2"+t)...)
	}
	for _, t := range sub.Tickers {
		field2 = append(field2, encodeFieldString(2, ":"+t)...)
	}
	for _, t := range sub.Tickers {
		field2 = append(field2, encodeFieldString(2, "J"+t)...)
	}

	var msg []byte
	msg = append(msg, encodeFieldString(1, sub.UserID)...)

	msg = append(msg, byte((2<<3)|wireBytes))
	msg = append(msg, encodeVarint(uint64(len(field2)))...)
	msg = append(msg, field2...)

	msg = append(msg, encodeFieldString(3, sub.TradingKey)...)
	msg = append(msg, encodeFieldString(5, sub.Bearer)...)

	return msg
}

func encodeFieldString(fieldNumber int, value string) []byte {
	tag := (fieldNumber << 3) | wireBytes
	out := encodeVarint(uint64(tag))
	out = append(out, encodeVarint(uint64(len(value)))...)
	out = append(out, []byte(value)...)
	return out
}

func encodeVarint(v uint64) []byte {
	var out []byte
	for v > 127 {
		out = append(out, byte(v&0x7F)|0x80)
		v >>= 7
	}
	out = append(out, byte(v&0x7F))
	return out
}

func decodeVarint(data []byte, pos int) (uint64, int, error) {
	var result uint64
	var shift uint
	for pos < len(data) {
		b := data[pos]
		pos++
		result |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, pos, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, stockerr.Wrap(stockerr.ErrProtocolMalformed, "varint too long")
		}
	}
	return 0, 0, stockerr.Wrap(stockerr.ErrProtocolMalformed, "truncated varint")
}

// rawField is one top-level decoded field, keyed by field number.
type rawField struct {
	number   int
	varint   uint64
	isVarint bool
	bytes    []byte
}

// decodeFields walks a buffer of tag/value pairs, tolerating and preserving
// unknown fields by wire type, exactly as the Python original does.
func decodeFields(data []byte) ([]rawField, error) {
	var out []rawField
	pos := 0
	for pos < len(data) {
		tag, next, err := decodeVarint(data, pos)
		if err != nil {
			return out, err
		}
		pos = next
		fieldNumber := int(tag >> 3)
		wireType := int(tag & 0x7)

		switch wireType {
		case wireVarint:
			val, next, err := decodeVarint(data, pos)
			if err != nil {
				return out, err
			}
			pos = next
			out = append(out, rawField{number: fieldNumber, varint: val, isVarint: true})
		case wireBytes:
			length, next, err := decodeVarint(data, pos)
			if err != nil {
				return out, err
			}
			pos = next
			end := pos + int(length)
			if end > len(data) {
				return out, stockerr.Wrap(stockerr.ErrProtocolMalformed, "length-delimited field %d overruns buffer", fieldNumber)
			}
			value := data[pos:end]
			pos = end
			out = append(out, rawField{number: fieldNumber, bytes: value})
		default:
			return out, stockerr.Wrap(stockerr.ErrProtocolMalformed, "unknown wire type %d for field %d", wireType, fieldNumber)
		}
	}
	return out, nil
}

// DecodeInbound parses a top-level inbound frame. Field 10, when present,
// carries the orderbook payload of interest and decoding returns as soon as
// it is found, matching the original's early-return behavior.
func DecodeInbound(data []byte) (*models.OrderbookFrame, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}

	var timestamp string
	for _, f := range fields {
		if (f.number == 5 || f.number == 9) && !f.isVarint {
			timestamp = string(f.bytes)
		}
	}

	for _, f := range fields {
		if f.number == 10 && !f.isVarint {
			frame, nestedErr := decodeNestedOrderbook(f.bytes)
			if nestedErr != nil {
				return nil, nestedErr
			}
			frame.ServerTimestamp = timestamp
			return frame, nil
		}
	}
	return nil, stockerr.Wrap(stockerr.ErrProtocolMalformed, "no field 10 orderbook payload present")
}

func decodeNestedOrderbook(data []byte) (*models.OrderbookFrame, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}

	var ticker, orderbookRaw string
	for _, f := range fields {
		if f.isVarint {
			continue
		}
		switch f.number {
		case 1:
			ticker = string(f.bytes)
		case 2:
			orderbookRaw = string(f.bytes)
		}
	}

	return parseOrderbookString(ticker, orderbookRaw)
}

// parseOrderbookString parses the pipe-delimited textual payload:
// "#O|TICKER|SIDE|PRICE;LOTS;VALUE|PRICE;LOTS;VALUE|..."
func parseOrderbookString(ticker, raw string) (*models.OrderbookFrame, error) {
	parts := strings.Split(raw, "|")
	if len(parts) < 3 {
		return nil, stockerr.Wrap(stockerr.ErrProtocolMalformed, "orderbook payload has too few parts: %q", raw)
	}

	sideStr := parts[2]
	var side models.Side
	switch sideStr {
	case "BID":
		side = models.SideBid
	case "OFFER":
		side = models.SideOffer
	default:
		return nil, stockerr.Wrap(stockerr.ErrProtocolMalformed, "unknown orderbook side %q", sideStr)
	}

	levels := make([]models.OrderbookLevel, 0, len(parts)-3)
	for _, levelStr := range parts[3:] {
		if levelStr == "" {
			continue
		}
		fields := strings.Split(levelStr, ";")
		if len(fields) != 3 {
			return nil, stockerr.Wrap(stockerr.ErrProtocolMalformed, "malformed orderbook level %q", levelStr)
		}
		price, err := decimal.NewFromString(fields[0])
		if err != nil {
			return nil, stockerr.Wrap(stockerr.ErrProtocolMalformed, "bad price %q: %v", fields[0], err)
		}
		lots, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, stockerr.Wrap(stockerr.ErrProtocolMalformed, "bad lots %q: %v", fields[1], err)
		}
		value, err := decimal.NewFromString(fields[2])
		if err != nil {
			return nil, stockerr.Wrap(stockerr.ErrProtocolMalformed, "bad total value %q: %v", fields[2], err)
		}
		levels = append(levels, models.OrderbookLevel{Price: price, Lots: lots, TotalValue: value})
	}

	if ticker == "" {
		return nil, stockerr.Wrap(stockerr.ErrProtocolMalformed, "orderbook frame missing ticker")
	}

	return &models.OrderbookFrame{
		Ticker: ticker,
		Side:   side,
		Levels: levels,
	}, nil
}
