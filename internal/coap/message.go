// Package coap implements the narrow CoAP wire format and GET/Observe/
// PUT/POST/DELETE mapping onto the broker's publish/retained surface
// (§4.6, §6 "CoAP wire format").
package coap

import (
	"encoding/binary"
	"fmt"
)

// Type is the CoAP message type (2-bit field).
type Type byte

const (
	Confirmable    Type = 0
	NonConfirmable Type = 1
	Acknowledgement Type = 2
	Reset          Type = 3
)

// Code is the CoAP method/response code, packed as (class<<5)|detail
// the way the wire format stores it.
type Code byte

const (
	CodeEmpty  Code = 0x00
	CodeGET    Code = 0x01
	CodePOST   Code = 0x02
	CodePUT    Code = 0x03
	CodeDELETE Code = 0x04

	Code205Content     Code = 0x45 // 2.05
	Code204Changed     Code = 0x44 // 2.04
	Code202Deleted     Code = 0x42 // 2.02
	Code404NotFound    Code = 0x84 // 4.04
	Code400BadRequest  Code = 0x80 // 4.00
	Code500Internal    Code = 0xA0 // 5.00
)

// Option numbers this package understands; everything else round-trips
// opaquely.
const (
	OptionURIPath Option = 11
	OptionObserve Option = 6
)

type Option uint16

type OptionValue struct {
	Number Option
	Value  []byte
}

// Message is one decoded CoAP packet: 4-byte header, optional token,
// sorted options, optional 0xFF-marked payload.
type Message struct {
	Version Version
	Type    Type
	Code    Code
	MID     uint16
	Token   []byte
	Options []OptionValue
	Payload []byte
}

type Version byte

const DefaultVersion Version = 1

// URIPath reassembles the Uri-Path options (one per segment) into a
// '/'-joined path, without a leading slash.
func (m *Message) URIPath() string {
	path := ""
	for _, o := range m.Options {
		if o.Number != OptionURIPath {
			continue
		}
		if path != "" {
			path += "/"
		}
		path += string(o.Value)
	}
	return path
}

// Observe returns the Observe option's integer value and whether it
// was present at all.
func (m *Message) Observe() (uint32, bool) {
	for _, o := range m.Options {
		if o.Number == OptionObserve {
			return decodeUint(o.Value), true
		}
	}
	return 0, false
}

func decodeUint(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

func encodeUint(v uint32) []byte {
	if v == 0 {
		return nil
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	i := 0
	for i < 3 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

// Decode parses raw into a Message. Options must arrive sorted by
// option delta per the wire format; Decode does not re-sort.
func Decode(raw []byte) (*Message, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("coap: short header (%d bytes)", len(raw))
	}
	ver := Version(raw[0] >> 6)
	typ := Type((raw[0] >> 4) & 0x3)
	tkl := int(raw[0] & 0xF)
	if tkl > 8 {
		return nil, fmt.Errorf("coap: invalid token length %d", tkl)
	}
	code := Code(raw[1])
	mid := binary.BigEndian.Uint16(raw[2:4])
	pos := 4

	if pos+tkl > len(raw) {
		return nil, fmt.Errorf("coap: truncated token")
	}
	token := append([]byte(nil), raw[pos:pos+tkl]...)
	pos += tkl

	var opts []OptionValue
	runningNumber := Option(0)
	for pos < len(raw) {
		if raw[pos] == 0xFF {
			pos++
			break
		}
		deltaNibble := int(raw[pos] >> 4)
		lengthNibble := int(raw[pos] & 0xF)
		pos++

		delta, np, err := extendedValue(raw, pos, deltaNibble)
		if err != nil {
			return nil, err
		}
		pos = np
		length, np2, err := extendedValue(raw, pos, lengthNibble)
		if err != nil {
			return nil, err
		}
		pos = np2

		runningNumber += Option(delta)
		if pos+length > len(raw) {
			return nil, fmt.Errorf("coap: truncated option value")
		}
		opts = append(opts, OptionValue{Number: runningNumber, Value: append([]byte(nil), raw[pos:pos+length]...)})
		pos += length
	}

	var payload []byte
	if pos < len(raw) {
		payload = append([]byte(nil), raw[pos:]...)
	}

	return &Message{Version: ver, Type: typ, Code: code, MID: mid, Token: token, Options: opts, Payload: payload}, nil
}

// extendedValue reads a 4-bit nibble's extended encoding: 13 means one
// extra byte (value-13), 14 means two extra bytes (value-269), 15 is
// reserved/illegal per the wire format.
func extendedValue(raw []byte, pos int, nibble int) (int, int, error) {
	switch {
	case nibble < 13:
		return nibble, pos, nil
	case nibble == 13:
		if pos >= len(raw) {
			return 0, 0, fmt.Errorf("coap: truncated extended option (13)")
		}
		return int(raw[pos]) + 13, pos + 1, nil
	case nibble == 14:
		if pos+1 >= len(raw) {
			return 0, 0, fmt.Errorf("coap: truncated extended option (14)")
		}
		return int(binary.BigEndian.Uint16(raw[pos:pos+2])) + 269, pos + 2, nil
	default:
		return 0, 0, fmt.Errorf("coap: illegal nibble value 15")
	}
}

// Encode serializes m back to wire bytes. Options must already be
// sorted by Number; Encode computes deltas in that order.
func Encode(m *Message) ([]byte, error) {
	if len(m.Token) > 8 {
		return nil, fmt.Errorf("coap: token too long")
	}
	out := make([]byte, 4)
	out[0] = byte(m.Version)<<6 | byte(m.Type)<<4 | byte(len(m.Token))
	out[1] = byte(m.Code)
	binary.BigEndian.PutUint16(out[2:4], m.MID)
	out = append(out, m.Token...)

	running := Option(0)
	for _, o := range m.Options {
		delta := int(o.Number - running)
		running = o.Number
		out = append(out, encodeOption(delta, o.Value)...)
	}

	if len(m.Payload) > 0 {
		out = append(out, 0xFF)
		out = append(out, m.Payload...)
	}
	return out, nil
}

func encodeOption(delta int, value []byte) []byte {
	dn, dext := nibbleFor(delta)
	ln, lext := nibbleFor(len(value))
	out := []byte{byte(dn<<4 | ln)}
	out = append(out, dext...)
	out = append(out, lext...)
	out = append(out, value...)
	return out
}

func nibbleFor(v int) (int, []byte) {
	switch {
	case v < 13:
		return v, nil
	case v < 269:
		return 13, []byte{byte(v - 13)}
	default:
		v -= 269
		return 14, []byte{byte(v >> 8), byte(v)}
	}
}

// NewURIPathOptions splits path on '/' into one Uri-Path option per
// segment, in filter-safe order.
func NewURIPathOptions(path string) []OptionValue {
	var opts []OptionValue
	seg := ""
	for _, r := range path {
		if r == '/' {
			opts = append(opts, OptionValue{Number: OptionURIPath, Value: []byte(seg)})
			seg = ""
			continue
		}
		seg += string(r)
	}
	opts = append(opts, OptionValue{Number: OptionURIPath, Value: []byte(seg)})
	return opts
}

// NewObserveOption encodes v as an Observe option value.
func NewObserveOption(v uint32) OptionValue {
	return OptionValue{Number: OptionObserve, Value: encodeUint(v)}
}
