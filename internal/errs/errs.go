// Package errs carries the broker's typed-error vocabulary.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a sentinel error value identifying one of the error kinds in
// the broker's error handling design. Compare with errors.Is.
type Kind = error

var (
	MalformedPacket          Kind = errors.New("malformed packet")
	ProtocolError            Kind = errors.New("protocol error")
	UnsupportedProtocolVer   Kind = errors.New("unsupported protocol version")
	NotAuthorized            Kind = errors.New("not authorized")
	KeepAliveTimeout         Kind = errors.New("keep alive timeout")
	PacketTooLarge           Kind = errors.New("packet too large")
	TopicFilterInvalid       Kind = errors.New("topic filter invalid")
	TopicNameInvalid         Kind = errors.New("topic name invalid")
	PacketIdentifierInUse    Kind = errors.New("packet identifier in use")
	PacketIdentifierNotFound Kind = errors.New("packet identifier not found")
	ReceiveMaximumExceeded   Kind = errors.New("receive maximum exceeded")
	QuotaExceeded            Kind = errors.New("quota exceeded")
	SessionTakenOver         Kind = errors.New("session taken over")
	ServerShuttingDown       Kind = errors.New("server shutting down")
	Timeout                  Kind = errors.New("timeout")
	Disconnected             Kind = errors.New("disconnected")
	TransportClosed          Kind = errors.New("transport closed")
	BridgeConnection         Kind = errors.New("bridge connection error")

	UserNotFound    Kind = errors.New("user not found")
	InvalidPassword Kind = errors.New("invalid password")
	HashFailed      Kind = errors.New("password hash failed")
)

// Err is the broker's typed error: a Kind sentinel plus the context it
// occurred in. Matches the teacher's er.Err shape.
type Err struct {
	Context string
	Message error
}

func (e *Err) Error() string {
	return fmt.Sprintf("context: %s, message: %v", e.Context, e.Message)
}

func (e *Err) Unwrap() error {
	return e.Message
}

// New builds an *Err for the given context and kind.
func New(context string, kind Kind) *Err {
	return &Err{Context: context, Message: kind}
}

// Is reports whether err (or anything it wraps) is the given Kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}
