package eshm

import "sync/atomic"

// The sequence lock publishes a payload to lock-free readers. The writer
// moves the counter odd, mutates, then moves it even; a reader snapshots only
// between two identical even observations. sync/atomic gives sequentially
// consistent ordering, which subsumes the acquire/release fences the protocol
// needs, and both processes see the same physical cell.

func seqlockWriteBegin(seq *uint32) {
	s := atomic.LoadUint32(seq)
	atomic.StoreUint32(seq, s+1)
}

func seqlockWriteEnd(seq *uint32) {
	atomic.AddUint32(seq, 1)
}

// seqlockReadBegin spins until no publish is in flight and returns the even
// counter value the snapshot must be validated against.
func seqlockReadBegin(seq *uint32) uint32 {
	for {
		s := atomic.LoadUint32(seq)
		if s&1 == 0 {
			return s
		}
	}
}

// seqlockReadRetry reports whether the counter moved since readBegin, in
// which case the snapshot is torn and must be discarded.
func seqlockReadRetry(seq *uint32, s uint32) bool {
	return atomic.LoadUint32(seq) != s
}
