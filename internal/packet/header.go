package packet

import (
	"github.com/goqttd/goqttd/internal/codec"
	"github.com/goqttd/goqttd/internal/errs"
)

// FixedHeader is the first byte (type:4|flags:4) plus the decoded
// remaining length common to every MQTT control packet.
type FixedHeader struct {
	Type            Type
	Flags           byte
	RemainingLength int
}

// ParseFixedHeader reads the fixed header from the start of a raw
// packet buffer, returning the header and the offset where the
// variable header begins.
func ParseFixedHeader(raw []byte) (FixedHeader, int, error) {
	if len(raw) < 2 {
		return FixedHeader{}, 0, errs.New("ParseFixedHeader", errs.MalformedPacket)
	}
	typ := Type(raw[0] >> 4)
	flags := raw[0] & 0x0F
	length, n, err := codec.DecodeVarInt(raw[1:])
	if err != nil {
		return FixedHeader{}, 0, err
	}
	offset := 1 + n
	if len(raw) != offset+length {
		return FixedHeader{}, 0, errs.New("ParseFixedHeader: length mismatch", errs.MalformedPacket)
	}
	return FixedHeader{Type: typ, Flags: flags, RemainingLength: length}, offset, nil
}

// WriteFixedHeader writes the fixed header byte and the variable-byte
// remaining length for a packet whose variable header + payload size
// is remainingLength.
func WriteFixedHeader(w *codec.Writer, typ Type, flags byte, remainingLength int) {
	w.U8(byte(typ)<<4 | flags&0x0F)
	w.VarInt(remainingLength)
}

// PublishFlags packs dup/qos/retain into the fixed header flags
// nibble for a PUBLISH packet.
func PublishFlags(dup bool, qos QoS, retain bool) byte {
	var f byte
	if dup {
		f |= 0x08
	}
	f |= byte(qos) << 1
	if retain {
		f |= 0x01
	}
	return f
}

// ParsePublishFlags unpacks a PUBLISH fixed header flags nibble.
func ParsePublishFlags(flags byte) (dup bool, qos QoS, retain bool) {
	dup = flags&0x08 != 0
	qos = QoS((flags & 0x06) >> 1)
	retain = flags&0x01 != 0
	return
}

// Fixed flags required on PUBREL/SUBSCRIBE/UNSUBSCRIBE per spec §6.
const ReservedFlags = 0b0010
