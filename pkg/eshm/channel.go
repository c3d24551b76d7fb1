package eshm

import "sync/atomic"

// publish copies the payload into the channel under the sequence lock and
// advances the write counter. A zero-length payload is a valid trigger write.
func (c *channel) publish(p []byte) error {
	if len(p) > MaxDataSize {
		return ErrBufferTooSmall
	}
	seqlockWriteBegin(&c.seq)
	copy(c.data[:len(p)], p)
	atomic.StoreUint32(&c.dataSize, uint32(len(p)))
	seqlockWriteEnd(&c.seq)
	atomic.AddUint64(&c.writeCount, 1)
	return nil
}

// snapshot copies the current payload into dst under the sequence lock.
// It returns ErrBufferTooSmall without advancing any state when dst cannot
// hold the payload.
func (c *channel) snapshot(dst []byte) (int, error) {
	for {
		s := seqlockReadBegin(&c.seq)
		n := int(atomic.LoadUint32(&c.dataSize))
		if n > len(dst) {
			return 0, ErrBufferTooSmall
		}
		copy(dst, c.data[:n])
		if !seqlockReadRetry(&c.seq, s) {
			atomic.AddUint64(&c.readCount, 1)
			return n, nil
		}
	}
}

func (c *channel) writes() uint64 {
	return atomic.LoadUint64(&c.writeCount)
}

func (c *channel) reads() uint64 {
	return atomic.LoadUint64(&c.readCount)
}

// reset zeroes the channel. Only the creator of a fresh region calls this;
// a takeover master leaves channels untouched so in-flight slave reads never
// tear.
func (c *channel) reset() {
	c.seq = 0
	c.dataSize = 0
	c.writeCount = 0
	c.readCount = 0
	for i := range c.data {
		c.data[i] = 0
	}
}
