package eshm

import "sync/atomic"

// Stats is a copy-out snapshot of the region's liveness and traffic state.
// The heartbeat deltas are measured against the previous snapshot taken
// through the same handle.
type Stats struct {
	MasterHeartbeat uint64
	SlaveHeartbeat  uint64
	MasterPID       int32
	SlavePID        int32
	MasterAlive     bool
	SlaveAlive      bool
	// StaleThresholdMs is the threshold recorded in the region header, in
	// milliseconds.
	StaleThresholdMs uint32
	// MasterGeneration increments on every master start; a slave compares
	// it across snapshots to observe takeovers.
	MasterGeneration uint32

	MasterHeartbeatDelta uint64
	SlaveHeartbeatDelta  uint64

	M2SWriteCount uint64
	M2SReadCount  uint64
	S2MWriteCount uint64
	S2MReadCount  uint64
}

// GetStats copies out the current snapshot and updates the handle-local
// delta baselines.
func (h *Handle) GetStats() (Stats, error) {
	if h == nil || h.destroyed.Load() {
		return Stats{}, ErrInvalidParam
	}
	att := h.mapping.Load()
	if att == nil {
		return Stats{}, ErrNotInitialized
	}
	r := att.reg

	masterHB := atomic.LoadUint64(&r.hdr.masterHeartbeat)
	slaveHB := atomic.LoadUint64(&r.hdr.slaveHeartbeat)

	h.statsMu.Lock()
	masterDelta := masterHB - h.lastMasterHB
	slaveDelta := slaveHB - h.lastSlaveHB
	h.lastMasterHB = masterHB
	h.lastSlaveHB = slaveHB
	h.statsMu.Unlock()

	s := Stats{
		MasterHeartbeat:      masterHB,
		SlaveHeartbeat:       slaveHB,
		MasterPID:            atomic.LoadInt32(&r.hdr.masterPID),
		SlavePID:             atomic.LoadInt32(&r.hdr.slavePID),
		MasterAlive:          atomic.LoadUint32(&r.hdr.masterAlive) != 0,
		SlaveAlive:           atomic.LoadUint32(&r.hdr.slaveAlive) != 0,
		StaleThresholdMs:     atomic.LoadUint32(&r.hdr.staleThresholdMs),
		MasterGeneration:     atomic.LoadUint32(&r.hdr.masterGeneration),
		MasterHeartbeatDelta: masterDelta,
		SlaveHeartbeatDelta:  slaveDelta,
		M2SWriteCount:        r.masterToSlave.writes(),
		M2SReadCount:         r.masterToSlave.reads(),
		S2MWriteCount:        r.slaveToMaster.writes(),
		S2MReadCount:         r.slaveToMaster.reads(),
	}

	heartbeatGauge.WithLabelValues(h.shmName, "master").Set(float64(masterHB))
	heartbeatGauge.WithLabelValues(h.shmName, "slave").Set(float64(slaveHB))
	return s, nil
}
