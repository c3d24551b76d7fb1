package eshmdata

import (
	"fmt"
	"time"

	"github.com/eshm-project/eshm-go/pkg/eshm"
)

// Exchange pairs a handle with the item codec, so two processes trade typed
// records instead of raw bytes. Encoded buffers must fit the channel
// capacity; Send rejects anything larger before touching the channel.
type Exchange struct {
	h *eshm.Handle
}

// NewExchange wraps an initialized handle.
func NewExchange(h *eshm.Handle) *Exchange {
	return &Exchange{h: h}
}

// Send encodes items and publishes them on the outgoing channel.
func (x *Exchange) Send(items []Item) error {
	p, err := Encode(items)
	if err != nil {
		return err
	}
	if len(p) > eshm.MaxDataSize {
		return fmt.Errorf("eshmdata: encoded buffer is %d bytes, channel capacity is %d: %w",
			len(p), eshm.MaxDataSize, eshm.ErrBufferTooSmall)
	}
	return x.h.Write(p)
}

// Receive waits for the next incoming buffer and decodes it.
func (x *Exchange) Receive(timeout time.Duration) ([]Item, error) {
	buf := make([]byte, eshm.MaxDataSize)
	n, err := x.h.ReadTimeout(buf, timeout)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return Decode(buf[:n])
}
