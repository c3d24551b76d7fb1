package eshm

import (
	"sync/atomic"
	"time"
)

// heartbeatLoop advances this side's heartbeat cell once per tick for as long
// as the handle is running. While the mapping pointer is transiently nil
// during a slave reattach, ticks are skipped rather than blocked.
func (h *Handle) heartbeatLoop() {
	defer h.tasks.Done()
	log.Debugf("heartbeat task started (role %s)", h.role)

	for h.running.Load() {
		if att := h.mapping.Load(); att != nil {
			if h.role == RoleMaster {
				atomic.AddUint64(&att.reg.hdr.masterHeartbeat, 1)
			} else {
				atomic.AddUint64(&att.reg.hdr.slaveHeartbeat, 1)
			}
		}
		time.Sleep(heartbeatInterval)
	}

	log.Debugf("heartbeat task stopped (role %s)", h.role)
}
