// Package eshmdata layers a typed record exchange on top of the raw byte
// channels: items are encoded as a DER buffer of three sequences (type
// descriptors, key names, values) that must fit the fixed channel capacity.
// The wire format matches the reference implementation byte for byte.
package eshmdata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/valyala/bytebufferpool"
)

// ASN.1 universal tags used by the protocol.
const (
	tagBoolean     = 0x01
	tagInteger     = 0x02
	tagOctetString = 0x04
	tagNull        = 0x05
	tagReal        = 0x09
	tagUTF8String  = 0x0C
	tagSequence    = 0x10 | 0x20 // constructed
)

var (
	// ErrTruncated reports a buffer that ends inside a TLV.
	ErrTruncated = errors.New("eshmdata: truncated DER input")
	// ErrBadTag reports an element whose tag does not match the expected one.
	ErrBadTag = errors.New("eshmdata: unexpected DER tag")
)

// Encoder appends DER elements to a pooled scratch buffer. Bytes returns the
// finished encoding; Release returns the scratch space to the pool.
type Encoder struct {
	buf *bytebufferpool.ByteBuffer
}

// NewEncoder takes a scratch buffer from the shared pool.
func NewEncoder() *Encoder {
	return &Encoder{buf: bytebufferpool.Get()}
}

// Bytes copies the encoding out of the pooled buffer.
func (e *Encoder) Bytes() []byte {
	out := make([]byte, e.buf.Len())
	copy(out, e.buf.B)
	return out
}

// Release returns the scratch buffer to the pool. The encoder must not be
// used afterward.
func (e *Encoder) Release() {
	bytebufferpool.Put(e.buf)
	e.buf = nil
}

func (e *Encoder) writeByte(b byte) { _ = e.buf.WriteByte(b) }

func (e *Encoder) writeLength(n int) {
	if n < 128 {
		e.writeByte(byte(n))
		return
	}
	var width int
	for t := n; t > 0; t >>= 8 {
		width++
	}
	e.writeByte(0x80 | byte(width))
	for i := width - 1; i >= 0; i-- {
		e.writeByte(byte(n >> (8 * i)))
	}
}

// Boolean encodes a BOOLEAN (DER canonical 0xFF / 0x00).
func (e *Encoder) Boolean(v bool) {
	e.writeByte(tagBoolean)
	e.writeLength(1)
	if v {
		e.writeByte(0xFF)
	} else {
		e.writeByte(0x00)
	}
}

// Integer encodes an INTEGER in minimal two's complement form.
func (e *Encoder) Integer(v int64) {
	e.writeByte(tagInteger)
	// Shrink to the minimal representation that preserves the sign bit.
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	i := 0
	for i < 7 {
		if b[i] == 0x00 && b[i+1]&0x80 == 0 {
			i++
			continue
		}
		if b[i] == 0xFF && b[i+1]&0x80 != 0 {
			i++
			continue
		}
		break
	}
	b = b[i:]
	e.writeLength(len(b))
	_, _ = e.buf.Write(b)
}

// Real encodes a REAL as the reference does: empty for zero, otherwise a
// marker byte followed by the IEEE 754 binary64 image in big-endian order.
func (e *Encoder) Real(v float64) {
	e.writeByte(tagReal)
	if v == 0 {
		e.writeLength(0)
		return
	}
	e.writeLength(9)
	e.writeByte(0x03)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	_, _ = e.buf.Write(b[:])
}

// UTF8String encodes a UTF8String.
func (e *Encoder) UTF8String(s string) {
	e.writeByte(tagUTF8String)
	e.writeLength(len(s))
	_, _ = e.buf.WriteString(s)
}

// OctetString encodes an OCTET STRING.
func (e *Encoder) OctetString(p []byte) {
	e.writeByte(tagOctetString)
	e.writeLength(len(p))
	_, _ = e.buf.Write(p)
}

// Null encodes a NULL.
func (e *Encoder) Null() {
	e.writeByte(tagNull)
	e.writeLength(0)
}

// BeginSequence opens a constructed SEQUENCE and returns a position token for
// EndSequence. The length is reserved in four-byte long form, matching the
// reference encoder.
func (e *Encoder) BeginSequence() int {
	e.writeByte(tagSequence)
	pos := e.buf.Len()
	_, _ = e.buf.Write([]byte{0x84, 0x00, 0x00, 0x00, 0x00})
	return pos
}

// EndSequence patches the reserved length of the sequence opened at pos.
func (e *Encoder) EndSequence(pos int) {
	n := e.buf.Len() - pos - 5
	binary.BigEndian.PutUint32(e.buf.B[pos+1:pos+5], uint32(n))
}

// Decoder walks a DER buffer.
type Decoder struct {
	b   []byte
	pos int
}

// NewDecoder wraps p without copying it.
func NewDecoder(p []byte) *Decoder {
	return &Decoder{b: p}
}

// Remaining reports how many bytes are left.
func (d *Decoder) Remaining() int { return len(d.b) - d.pos }

func (d *Decoder) readByte() (byte, error) {
	if d.pos >= len(d.b) {
		return 0, ErrTruncated
	}
	b := d.b[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) readLength() (int, error) {
	first, err := d.readByte()
	if err != nil {
		return 0, err
	}
	if first < 0x80 {
		return int(first), nil
	}
	width := int(first & 0x7F)
	if width == 0 || width > 4 {
		return 0, fmt.Errorf("%w: length width %d", ErrTruncated, width)
	}
	var n int
	for i := 0; i < width; i++ {
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		n = n<<8 | int(b)
	}
	return n, nil
}

func (d *Decoder) expect(tag byte) (int, error) {
	got, err := d.readByte()
	if err != nil {
		return 0, err
	}
	if got != tag {
		return 0, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrBadTag, got, tag)
	}
	n, err := d.readLength()
	if err != nil {
		return 0, err
	}
	if d.pos+n > len(d.b) {
		return 0, ErrTruncated
	}
	return n, nil
}

func (d *Decoder) take(n int) []byte {
	p := d.b[d.pos : d.pos+n]
	d.pos += n
	return p
}

// Boolean decodes a BOOLEAN.
func (d *Decoder) Boolean() (bool, error) {
	n, err := d.expect(tagBoolean)
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, fmt.Errorf("%w: boolean length %d", ErrTruncated, n)
	}
	return d.take(1)[0] != 0, nil
}

// Integer decodes an INTEGER.
func (d *Decoder) Integer() (int64, error) {
	n, err := d.expect(tagInteger)
	if err != nil {
		return 0, err
	}
	if n == 0 || n > 8 {
		return 0, fmt.Errorf("%w: integer length %d", ErrTruncated, n)
	}
	p := d.take(n)
	v := int64(0)
	if p[0]&0x80 != 0 {
		v = -1
	}
	for _, b := range p {
		v = v<<8 | int64(b)
	}
	return v, nil
}

// Real decodes a REAL in the reference encoding.
func (d *Decoder) Real() (float64, error) {
	n, err := d.expect(tagReal)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if n != 9 {
		return 0, fmt.Errorf("%w: real length %d", ErrTruncated, n)
	}
	p := d.take(n)
	return math.Float64frombits(binary.BigEndian.Uint64(p[1:])), nil
}

// UTF8String decodes a UTF8String.
func (d *Decoder) UTF8String() (string, error) {
	n, err := d.expect(tagUTF8String)
	if err != nil {
		return "", err
	}
	return string(d.take(n)), nil
}

// OctetString decodes an OCTET STRING. The returned slice is a copy.
func (d *Decoder) OctetString() ([]byte, error) {
	n, err := d.expect(tagOctetString)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, d.take(n))
	return out, nil
}

// Sequence decodes a constructed SEQUENCE header and returns a sub-decoder
// over its contents.
func (d *Decoder) Sequence() (*Decoder, error) {
	n, err := d.expect(tagSequence)
	if err != nil {
		return nil, err
	}
	return NewDecoder(d.take(n)), nil
}

// PeekTag returns the next tag without consuming it.
func (d *Decoder) PeekTag() (byte, error) {
	if d.pos >= len(d.b) {
		return 0, ErrTruncated
	}
	return d.b[d.pos], nil
}
