package codec

import "encoding/binary"

// Writer accumulates an MQTT-encoded byte sequence. NewWriter's cap
// pre-sizes the buffer; writes beyond it grow the slice by append.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with cap pre-allocated.
func NewWriter(cap int) *Writer {
	return &Writer{buf: make([]byte, 0, cap)}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// U8 appends one byte.
func (w *Writer) U8(b byte) {
	w.buf = append(w.buf, b)
}

// U16 appends a big-endian 16-bit integer.
func (w *Writer) U16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// U32 appends a big-endian 32-bit integer.
func (w *Writer) U32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// VarInt appends a variable-byte integer.
func (w *Writer) VarInt(v int) {
	w.buf = append(w.buf, EncodeVarInt(v)...)
}

// String appends a 2-byte-length-prefixed UTF-8 string.
func (w *Writer) String(s string) {
	w.U16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// Binary appends a 2-byte-length-prefixed binary blob.
func (w *Writer) Binary(b []byte) {
	w.U16(uint16(len(b)))
	w.buf = append(w.buf, b...)
}

// StringPair appends a key/value pair of length-prefixed strings.
func (w *Writer) StringPair(k, v string) {
	w.String(k)
	w.String(v)
}

// Raw appends b verbatim.
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// SizeVarInt returns len(EncodeVarInt(v)) without allocating.
func SizeVarInt(v int) int {
	n := 1
	for v >= 128 {
		v /= 128
		n++
	}
	return n
}

// SizeString returns the encoded size of a length-prefixed string.
func SizeString(s string) int {
	return 2 + len(s)
}

// SizeBinary returns the encoded size of a length-prefixed blob.
func SizeBinary(b []byte) int {
	return 2 + len(b)
}
