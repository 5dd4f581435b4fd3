package broker

import (
	"io"

	"github.com/goqttd/goqttd/internal/errs"
)

const maxRemainingLengthBytes = 4

// readPacket reads one full MQTT packet (fixed header byte +
// variable-byte remaining length + that many bytes of variable
// header/payload) from r, returning the raw bytes from the first
// byte on.
//
// Grounded on internal/transport/tcp.go's hand-rolled remaining-
// length loop, lifted out of the connection handler so it can be
// shared across listeners.
func readPacket(r io.Reader) ([]byte, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return nil, err
	}

	var lenBytes [maxRemainingLengthBytes]byte
	n := 0
	remaining := 0
	multiplier := 1
	for {
		if n >= maxRemainingLengthBytes {
			return nil, errs.New("readPacket: remaining length too large", errs.MalformedPacket)
		}
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		lenBytes[n] = b[0]
		n++
		remaining += int(b[0]&0x7F) * multiplier
		multiplier *= 128
		if b[0]&0x80 == 0 {
			break
		}
	}

	raw := make([]byte, 1+n+remaining)
	raw[0] = first[0]
	copy(raw[1:1+n], lenBytes[:n])
	if remaining > 0 {
		if _, err := io.ReadFull(r, raw[1+n:]); err != nil {
			return nil, err
		}
	}
	return raw, nil
}
