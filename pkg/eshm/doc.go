// Package eshm is an intra-host IPC substrate for a pair of cooperating
// processes exchanging messages through a named shared memory region.
//
// One side (the master) owns the region; the other (the slave) attaches to
// it. Each direction of traffic has a fixed-capacity channel published under
// a sequence lock, so readers never take a lock and never observe a torn
// payload. Liveness is announced through per-side heartbeat counters; a slave
// that loses its master survives the crash and reattaches to the next master
// incarnation of the same region.
//
// Typical use:
//
//	h, err := eshm.Init(eshm.DefaultConfig("demo"))
//	if err != nil {
//		// ...
//	}
//	defer h.Destroy()
//
//	_ = h.Write([]byte("hello"))
//	buf := make([]byte, eshm.MaxDataSize)
//	n, err := h.ReadTimeout(buf, time.Second)
//
// Message semantics are last-writer-wins: a new write overwrites the previous
// payload whether or not it was read. Producers that must not lose messages
// pace themselves above this layer.
package eshm

import "github.com/eshm-project/eshm-go/internal/logging"

var log = logging.New("eshm", nil)

// SetLogLevel adjusts the package logger; the default level is Warn and the
// ESHM_LOG_LEVEL env var is honored at startup.
func SetLogLevel(level int) { logging.SetLevel(level) }
