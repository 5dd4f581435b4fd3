package packet

import (
	"github.com/goqttd/goqttd/internal/codec"
	"github.com/goqttd/goqttd/internal/errs"
)

// Property ids, per the MQTT 5.0 property table referenced in spec §6.
const (
	propPayloadFormatIndicator          = 0x01
	propMessageExpiryInterval           = 0x02
	propContentType                     = 0x03
	propResponseTopic                   = 0x08
	propCorrelationData                 = 0x09
	propSubscriptionIdentifier          = 0x0B
	propSessionExpiryInterval           = 0x11
	propAssignedClientIdentifier        = 0x12
	propServerKeepAlive                 = 0x13
	propAuthenticationMethod            = 0x15
	propAuthenticationData              = 0x16
	propRequestProblemInformation       = 0x17
	propWillDelayInterval                = 0x18
	propRequestResponseInformation      = 0x19
	propResponseInformation             = 0x1A
	propServerReference                 = 0x1C
	propReasonString                    = 0x1F
	propReceiveMaximum                  = 0x21
	propTopicAliasMaximum               = 0x22
	propTopicAlias                      = 0x23
	propMaximumQoS                      = 0x24
	propRetainAvailable                 = 0x25
	propUserProperty                    = 0x26
	propMaximumPacketSize                = 0x27
	propWildcardSubscriptionAvailable   = 0x28
	propSubscriptionIdentifierAvailable = 0x29
	propSharedSubscriptionAvailable     = 0x2A
)

// UserProperty is an MQTT 5 name/value pair; multiple may repeat.
type UserProperty struct {
	Key   string
	Value string
}

// Properties is the MQTT 5 property bag. Every field is optional;
// nil/zero means absent. An unknown property id encountered while
// parsing ends that property section: the unknown property and any
// bytes after it within the declared property length are skipped, and
// the properties decoded before it are kept.
type Properties struct {
	PayloadFormatIndicator     *byte
	MessageExpiryInterval      *uint32
	ContentType                *string
	ResponseTopic              *string
	CorrelationData            []byte
	SubscriptionIdentifier     *int
	SessionExpiryInterval      *uint32
	AssignedClientIdentifier   *string
	ServerKeepAlive            *uint16
	AuthenticationMethod       *string
	AuthenticationData         []byte
	RequestProblemInformation  *byte
	WillDelayInterval          *uint32
	RequestResponseInformation *byte
	ResponseInformation        *string
	ServerReference            *string
	ReasonString               *string
	ReceiveMaximum              *uint16
	TopicAliasMaximum          *uint16
	TopicAlias                 *uint16
	MaximumQoS                 *byte
	RetainAvailable             *byte
	UserProperties              []UserProperty
	MaximumPacketSize           *uint32
	WildcardSubscriptionAvail  *byte
	SubscriptionIdentifierAvail *byte
	SharedSubscriptionAvail    *byte
}

func u32p(v uint32) *uint32 { return &v }
func u16p(v uint16) *uint16 { return &v }
func bytep(v byte) *byte    { return &v }
func strp(v string) *string { return &v }
func intp(v int) *int       { return &v }

// DecodeProperties reads a variable-byte property length followed by
// that many bytes of (id, value) pairs from r.
func DecodeProperties(r *codec.Reader) (*Properties, error) {
	length, err := r.VarInt()
	if err != nil {
		return nil, errs.New("DecodeProperties: length", errs.MalformedPacket)
	}
	if length == 0 {
		return &Properties{}, nil
	}
	if r.Remaining() < length {
		return nil, errs.New("DecodeProperties: body shorter than declared length", errs.MalformedPacket)
	}
	body := r.Bytes()[:length]
	if err := r.Skip(length); err != nil {
		return nil, err
	}
	pr := codec.NewReader(body)
	props := &Properties{}
	for pr.Remaining() > 0 {
		id, err := pr.U8()
		if err != nil {
			return nil, errs.New("DecodeProperties: id", errs.MalformedPacket)
		}
		switch id {
		case propPayloadFormatIndicator:
			v, err := pr.U8()
			if err != nil {
				return nil, err
			}
			props.PayloadFormatIndicator = bytep(v)
		case propMessageExpiryInterval:
			v, err := pr.U32()
			if err != nil {
				return nil, err
			}
			props.MessageExpiryInterval = u32p(v)
		case propContentType:
			v, err := pr.String()
			if err != nil {
				return nil, err
			}
			props.ContentType = strp(v)
		case propResponseTopic:
			v, err := pr.String()
			if err != nil {
				return nil, err
			}
			props.ResponseTopic = strp(v)
		case propCorrelationData:
			v, err := pr.Binary()
			if err != nil {
				return nil, err
			}
			props.CorrelationData = v
		case propSubscriptionIdentifier:
			v, err := pr.VarInt()
			if err != nil {
				return nil, err
			}
			props.SubscriptionIdentifier = intp(v)
		case propSessionExpiryInterval:
			v, err := pr.U32()
			if err != nil {
				return nil, err
			}
			props.SessionExpiryInterval = u32p(v)
		case propAssignedClientIdentifier:
			v, err := pr.String()
			if err != nil {
				return nil, err
			}
			props.AssignedClientIdentifier = strp(v)
		case propServerKeepAlive:
			v, err := pr.U16()
			if err != nil {
				return nil, err
			}
			props.ServerKeepAlive = u16p(v)
		case propAuthenticationMethod:
			v, err := pr.String()
			if err != nil {
				return nil, err
			}
			props.AuthenticationMethod = strp(v)
		case propAuthenticationData:
			v, err := pr.Binary()
			if err != nil {
				return nil, err
			}
			props.AuthenticationData = v
		case propRequestProblemInformation:
			v, err := pr.U8()
			if err != nil {
				return nil, err
			}
			props.RequestProblemInformation = bytep(v)
		case propWillDelayInterval:
			v, err := pr.U32()
			if err != nil {
				return nil, err
			}
			props.WillDelayInterval = u32p(v)
		case propRequestResponseInformation:
			v, err := pr.U8()
			if err != nil {
				return nil, err
			}
			props.RequestResponseInformation = bytep(v)
		case propResponseInformation:
			v, err := pr.String()
			if err != nil {
				return nil, err
			}
			props.ResponseInformation = strp(v)
		case propServerReference:
			v, err := pr.String()
			if err != nil {
				return nil, err
			}
			props.ServerReference = strp(v)
		case propReasonString:
			v, err := pr.String()
			if err != nil {
				return nil, err
			}
			props.ReasonString = strp(v)
		case propReceiveMaximum:
			v, err := pr.U16()
			if err != nil {
				return nil, err
			}
			props.ReceiveMaximum = u16p(v)
		case propTopicAliasMaximum:
			v, err := pr.U16()
			if err != nil {
				return nil, err
			}
			props.TopicAliasMaximum = u16p(v)
		case propTopicAlias:
			v, err := pr.U16()
			if err != nil {
				return nil, err
			}
			props.TopicAlias = u16p(v)
		case propMaximumQoS:
			v, err := pr.U8()
			if err != nil {
				return nil, err
			}
			props.MaximumQoS = bytep(v)
		case propRetainAvailable:
			v, err := pr.U8()
			if err != nil {
				return nil, err
			}
			props.RetainAvailable = bytep(v)
		case propUserProperty:
			k, v, err := pr.StringPair()
			if err != nil {
				return nil, err
			}
			props.UserProperties = append(props.UserProperties, UserProperty{Key: k, Value: v})
		case propMaximumPacketSize:
			v, err := pr.U32()
			if err != nil {
				return nil, err
			}
			props.MaximumPacketSize = u32p(v)
		case propWildcardSubscriptionAvailable:
			v, err := pr.U8()
			if err != nil {
				return nil, err
			}
			props.WildcardSubscriptionAvail = bytep(v)
		case propSubscriptionIdentifierAvailable:
			v, err := pr.U8()
			if err != nil {
				return nil, err
			}
			props.SubscriptionIdentifierAvail = bytep(v)
		case propSharedSubscriptionAvailable:
			v, err := pr.U8()
			if err != nil {
				return nil, err
			}
			props.SharedSubscriptionAvail = bytep(v)
		default:
			// Unknown id: we have no length table for it, so the value's
			// shape is unknown. r is already past the whole declared
			// section, so skip the rest of it and keep what was decoded.
			return props, nil
		}
	}
	return props, nil
}

// EncodeProperties writes the property section (length-prefixed) to w.
func EncodeProperties(w *codec.Writer, p *Properties) {
	if p == nil {
		w.VarInt(0)
		return
	}
	body := codec.NewWriter(0)
	if p.PayloadFormatIndicator != nil {
		body.U8(propPayloadFormatIndicator)
		body.U8(*p.PayloadFormatIndicator)
	}
	if p.MessageExpiryInterval != nil {
		body.U8(propMessageExpiryInterval)
		body.U32(*p.MessageExpiryInterval)
	}
	if p.ContentType != nil {
		body.U8(propContentType)
		body.String(*p.ContentType)
	}
	if p.ResponseTopic != nil {
		body.U8(propResponseTopic)
		body.String(*p.ResponseTopic)
	}
	if p.CorrelationData != nil {
		body.U8(propCorrelationData)
		body.Binary(p.CorrelationData)
	}
	if p.SubscriptionIdentifier != nil {
		body.U8(propSubscriptionIdentifier)
		body.VarInt(*p.SubscriptionIdentifier)
	}
	if p.SessionExpiryInterval != nil {
		body.U8(propSessionExpiryInterval)
		body.U32(*p.SessionExpiryInterval)
	}
	if p.AssignedClientIdentifier != nil {
		body.U8(propAssignedClientIdentifier)
		body.String(*p.AssignedClientIdentifier)
	}
	if p.ServerKeepAlive != nil {
		body.U8(propServerKeepAlive)
		body.U16(*p.ServerKeepAlive)
	}
	if p.AuthenticationMethod != nil {
		body.U8(propAuthenticationMethod)
		body.String(*p.AuthenticationMethod)
	}
	if p.AuthenticationData != nil {
		body.U8(propAuthenticationData)
		body.Binary(p.AuthenticationData)
	}
	if p.RequestProblemInformation != nil {
		body.U8(propRequestProblemInformation)
		body.U8(*p.RequestProblemInformation)
	}
	if p.WillDelayInterval != nil {
		body.U8(propWillDelayInterval)
		body.U32(*p.WillDelayInterval)
	}
	if p.RequestResponseInformation != nil {
		body.U8(propRequestResponseInformation)
		body.U8(*p.RequestResponseInformation)
	}
	if p.ResponseInformation != nil {
		body.U8(propResponseInformation)
		body.String(*p.ResponseInformation)
	}
	if p.ServerReference != nil {
		body.U8(propServerReference)
		body.String(*p.ServerReference)
	}
	if p.ReasonString != nil {
		body.U8(propReasonString)
		body.String(*p.ReasonString)
	}
	if p.ReceiveMaximum != nil {
		body.U8(propReceiveMaximum)
		body.U16(*p.ReceiveMaximum)
	}
	if p.TopicAliasMaximum != nil {
		body.U8(propTopicAliasMaximum)
		body.U16(*p.TopicAliasMaximum)
	}
	if p.TopicAlias != nil {
		body.U8(propTopicAlias)
		body.U16(*p.TopicAlias)
	}
	if p.MaximumQoS != nil {
		body.U8(propMaximumQoS)
		body.U8(*p.MaximumQoS)
	}
	if p.RetainAvailable != nil {
		body.U8(propRetainAvailable)
		body.U8(*p.RetainAvailable)
	}
	for _, up := range p.UserProperties {
		body.U8(propUserProperty)
		body.StringPair(up.Key, up.Value)
	}
	if p.MaximumPacketSize != nil {
		body.U8(propMaximumPacketSize)
		body.U32(*p.MaximumPacketSize)
	}
	if p.WildcardSubscriptionAvail != nil {
		body.U8(propWildcardSubscriptionAvailable)
		body.U8(*p.WildcardSubscriptionAvail)
	}
	if p.SubscriptionIdentifierAvail != nil {
		body.U8(propSubscriptionIdentifierAvailable)
		body.U8(*p.SubscriptionIdentifierAvail)
	}
	if p.SharedSubscriptionAvail != nil {
		body.U8(propSharedSubscriptionAvailable)
		body.U8(*p.SharedSubscriptionAvail)
	}
	w.VarInt(body.Len())
	w.Raw(body.Bytes())
}

// SizeProperties returns the encoded size of the property section,
// including its own length prefix.
func SizeProperties(p *Properties) int {
	w := codec.NewWriter(0)
	EncodeProperties(w, p)
	return w.Len()
}
