package packet

import (
	"github.com/goqttd/goqttd/internal/codec"
	"github.com/goqttd/goqttd/internal/errs"
)

func parseConnack(body []byte, withProps bool) (*Connack, error) {
	r := codec.NewReader(body)
	flags, err := r.U8()
	if err != nil {
		return nil, errs.New("Connack: flags", errs.MalformedPacket)
	}
	rc, err := r.U8()
	if err != nil {
		return nil, errs.New("Connack: reason code", errs.MalformedPacket)
	}
	c := &Connack{SessionPresent: flags&0x01 != 0, ReasonCode: ReasonCode(rc)}
	if withProps {
		props, err := DecodeProperties(r)
		if err != nil {
			return nil, err
		}
		c.Properties = props
	}
	return c, nil
}

func writeConnack(w *codec.Writer, c *Connack, withProps bool) []byte {
	body := codec.NewWriter(0)
	var flags byte
	if c.SessionPresent {
		flags |= 0x01
	}
	body.U8(flags)
	body.U8(byte(c.ReasonCode))
	if withProps {
		EncodeProperties(body, c.Properties)
	}
	WriteFixedHeader(w, CONNACK, 0, body.Len())
	w.Raw(body.Bytes())
	return w.Bytes()
}

// NewConnack builds a minimal CONNACK rejecting or accepting a
// connection, used by the broker before a session/handler version is
// fully established.
func NewConnack(sessionPresent bool, rc ReasonCode) *Connack {
	return &Connack{SessionPresent: sessionPresent, ReasonCode: rc}
}
