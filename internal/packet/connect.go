package packet

import (
	"github.com/goqttd/goqttd/internal/codec"
	"github.com/goqttd/goqttd/internal/errs"
)

func parseConnect(body []byte, withProps bool) (*Connect, error) {
	r := codec.NewReader(body)
	name, err := r.String()
	if err != nil {
		return nil, errs.New("Connect: protocol name", errs.MalformedPacket)
	}
	level, err := r.U8()
	if err != nil {
		return nil, errs.New("Connect: protocol level", errs.MalformedPacket)
	}
	flagsByte, err := r.U8()
	if err != nil {
		return nil, errs.New("Connect: connect flags", errs.MalformedPacket)
	}
	keepAlive, err := r.U16()
	if err != nil {
		return nil, errs.New("Connect: keep alive", errs.MalformedPacket)
	}

	c := &Connect{
		ProtocolName:  name,
		ProtocolLevel: level,
		UsernameFlag:  flagsByte&0x80 != 0,
		PasswordFlag:  flagsByte&0x40 != 0,
		WillRetain:    flagsByte&0x20 != 0,
		WillQoS:       QoS((flagsByte & 0x18) >> 3),
		WillFlag:      flagsByte&0x04 != 0,
		CleanStart:    flagsByte&0x02 != 0,
		KeepAlive:     keepAlive,
	}

	if flagsByte&0x01 != 0 {
		return nil, errs.New("Connect: reserved flag set", errs.MalformedPacket)
	}
	if c.WillFlag && c.WillQoS > QoS2 {
		return nil, errs.New("Connect: invalid will qos", errs.MalformedPacket)
	}
	if !c.UsernameFlag && c.PasswordFlag {
		return nil, errs.New("Connect: password without username", errs.MalformedPacket)
	}

	if withProps {
		props, err := DecodeProperties(r)
		if err != nil {
			return nil, err
		}
		c.Properties = props
	}

	clientID, err := r.String()
	if err != nil {
		return nil, errs.New("Connect: client id", errs.MalformedPacket)
	}
	c.ClientID = clientID

	if c.WillFlag {
		if withProps {
			wp, err := DecodeProperties(r)
			if err != nil {
				return nil, err
			}
			c.WillProperties = wp
		}
		topic, err := r.String()
		if err != nil {
			return nil, errs.New("Connect: will topic", errs.MalformedPacket)
		}
		payload, err := r.Binary()
		if err != nil {
			return nil, errs.New("Connect: will payload", errs.MalformedPacket)
		}
		c.WillTopic = topic
		c.WillPayload = payload
	}

	if c.UsernameFlag {
		u, err := r.String()
		if err != nil {
			return nil, errs.New("Connect: username", errs.MalformedPacket)
		}
		c.Username = u
	}
	if c.PasswordFlag {
		p, err := r.Binary()
		if err != nil {
			return nil, errs.New("Connect: password", errs.MalformedPacket)
		}
		c.Password = p
	}

	return c, nil
}

func writeConnect(w *codec.Writer, c *Connect, withProps bool) []byte {
	body := codec.NewWriter(0)
	body.String(c.ProtocolName)
	body.U8(c.ProtocolLevel)

	var flags byte
	if c.UsernameFlag {
		flags |= 0x80
	}
	if c.PasswordFlag {
		flags |= 0x40
	}
	if c.WillRetain {
		flags |= 0x20
	}
	flags |= byte(c.WillQoS) << 3
	if c.WillFlag {
		flags |= 0x04
	}
	if c.CleanStart {
		flags |= 0x02
	}
	body.U8(flags)
	body.U16(c.KeepAlive)

	if withProps {
		EncodeProperties(body, c.Properties)
	}
	body.String(c.ClientID)

	if c.WillFlag {
		if withProps {
			EncodeProperties(body, c.WillProperties)
		}
		body.String(c.WillTopic)
		body.Binary(c.WillPayload)
	}
	if c.UsernameFlag {
		body.String(c.Username)
	}
	if c.PasswordFlag {
		body.Binary(c.Password)
	}

	WriteFixedHeader(w, CONNECT, 0, body.Len())
	w.Raw(body.Bytes())
	return w.Bytes()
}
