package eshmdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeOne(f func(*Encoder)) []byte {
	enc := NewEncoder()
	defer enc.Release()
	f(enc)
	return enc.Bytes()
}

func TestEncodeBoolean(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x01, 0xFF}, encodeOne(func(e *Encoder) { e.Boolean(true) }))
	assert.Equal(t, []byte{0x01, 0x01, 0x00}, encodeOne(func(e *Encoder) { e.Boolean(false) }))
}

func TestEncodeIntegerMinimalForm(t *testing.T) {
	assert.Equal(t, []byte{0x02, 0x01, 0x00}, encodeOne(func(e *Encoder) { e.Integer(0) }))
	assert.Equal(t, []byte{0x02, 0x01, 0x7F}, encodeOne(func(e *Encoder) { e.Integer(127) }))
	assert.Equal(t, []byte{0x02, 0x02, 0x00, 0x80}, encodeOne(func(e *Encoder) { e.Integer(128) }))
	assert.Equal(t, []byte{0x02, 0x01, 0xFF}, encodeOne(func(e *Encoder) { e.Integer(-1) }))
	assert.Equal(t, []byte{0x02, 0x02, 0xFF, 0x7F}, encodeOne(func(e *Encoder) { e.Integer(-129) }))
}

func TestEncodeRealZeroIsEmpty(t *testing.T) {
	assert.Equal(t, []byte{0x09, 0x00}, encodeOne(func(e *Encoder) { e.Real(0) }))
}

func TestEncodeNull(t *testing.T) {
	assert.Equal(t, []byte{0x05, 0x00}, encodeOne(func(e *Encoder) { e.Null() }))
}

func TestScalarRoundTrips(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 127, 128, -128, -129, 1 << 40, -(1 << 40), 1<<63 - 1, -(1 << 62)} {
		d := NewDecoder(encodeOne(func(e *Encoder) { e.Integer(v) }))
		got, err := d.Integer()
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	for _, v := range []float64{0, 1.5, -273.15, 6.022e23} {
		d := NewDecoder(encodeOne(func(e *Encoder) { e.Real(v) }))
		got, err := d.Real()
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	d := NewDecoder(encodeOne(func(e *Encoder) { e.UTF8String("héllo") }))
	s, err := d.UTF8String()
	require.NoError(t, err)
	assert.Equal(t, "héllo", s)

	d = NewDecoder(encodeOne(func(e *Encoder) { e.OctetString([]byte{0, 1, 2, 255}) }))
	p, err := d.OctetString()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 255}, p)

	d = NewDecoder(encodeOne(func(e *Encoder) { e.Boolean(true) }))
	b, err := d.Boolean()
	require.NoError(t, err)
	assert.True(t, b)
}

func TestLongFormLength(t *testing.T) {
	big := make([]byte, 300)
	raw := encodeOne(func(e *Encoder) { e.OctetString(big) })
	// 0x04, 0x82, 0x01, 0x2C, payload...
	assert.Equal(t, byte(0x04), raw[0])
	assert.Equal(t, byte(0x82), raw[1])
	assert.Equal(t, byte(0x01), raw[2])
	assert.Equal(t, byte(0x2C), raw[3])

	got, err := NewDecoder(raw).OctetString()
	require.NoError(t, err)
	assert.Len(t, got, 300)
}

func TestSequenceNesting(t *testing.T) {
	raw := encodeOne(func(e *Encoder) {
		outer := e.BeginSequence()
		e.Integer(7)
		inner := e.BeginSequence()
		e.UTF8String("nested")
		e.EndSequence(inner)
		e.EndSequence(outer)
	})

	outer, err := NewDecoder(raw).Sequence()
	require.NoError(t, err)
	v, err := outer.Integer()
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	inner, err := outer.Sequence()
	require.NoError(t, err)
	s, err := inner.UTF8String()
	require.NoError(t, err)
	assert.Equal(t, "nested", s)
	assert.Zero(t, outer.Remaining())
}

func TestDecodeErrors(t *testing.T) {
	_, err := NewDecoder(nil).Integer()
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = NewDecoder([]byte{0x02}).Integer()
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = NewDecoder([]byte{0x02, 0x05, 0x01}).Integer()
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = NewDecoder([]byte{0x04, 0x01, 0xAA}).Integer()
	assert.ErrorIs(t, err, ErrBadTag)
}

func TestPeekTag(t *testing.T) {
	d := NewDecoder(encodeOne(func(e *Encoder) { e.Boolean(true) }))
	tag, err := d.PeekTag()
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), tag)

	// Peek does not consume.
	b, err := d.Boolean()
	require.NoError(t, err)
	assert.True(t, b)
}
