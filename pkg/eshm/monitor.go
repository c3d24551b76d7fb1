package eshm

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// monitorLoop samples the remote heartbeat every tick and accrues staleness
// whenever it sits still. A stale master drives a slave into reattach mode;
// a stale slave is only logged, the master keeps serving.
func (h *Handle) monitorLoop() {
	defer h.tasks.Done()
	log.Debugf("monitor task started (role %s)", h.role)

	var (
		staleFor    time.Duration
		inReconnect bool

		totalWait    time.Duration
		sinceAttempt time.Duration
		attempts     uint32

		retry         backoff.BackOff = backoff.NewConstantBackOff(h.cfg.ReconnectRetryInterval)
		nextAttemptIn time.Duration
	)

	for h.running.Load() {
		if h.role == RoleSlave && inReconnect {
			totalWait += monitorInterval
			sinceAttempt += monitorInterval

			if sinceAttempt >= nextAttemptIn {
				sinceAttempt = 0
				attempts++
				log.Infof("slave reattach attempt %d on %s", attempts, h.shmName)
				reattachAttemptsTotal.WithLabelValues(h.shmName).Inc()

				if h.attemptReattach() {
					log.Infof("slave reattached to %s after %v", h.shmName, totalWait)
					inReconnect = false
					staleFor = 0
					totalWait = 0
					attempts = 0
					retry.Reset()
					nextAttemptIn = 0
					h.setState(StateMapped)
					continue
				}

				nextAttemptIn = retry.NextBackOff()
				if h.cfg.MaxReconnectAttempts > 0 && attempts >= h.cfg.MaxReconnectAttempts {
					log.Warnf("giving up on %s after %d reattach attempts", h.shmName, attempts)
					h.running.Store(false)
					h.setState(StateStopped)
					break
				}
			}

			if h.cfg.DisconnectBehavior != DisconnectNever &&
				h.cfg.ReconnectWait > 0 && totalWait >= h.cfg.ReconnectWait {
				log.Warnf("giving up on %s after waiting %v for a new master", h.shmName, totalWait)
				h.running.Store(false)
				h.setState(StateStopped)
				break
			}

			time.Sleep(monitorInterval)
			continue
		}

		if att := h.mapping.Load(); att != nil {
			var remote uint64
			if h.role == RoleMaster {
				remote = atomic.LoadUint64(&att.reg.hdr.slaveHeartbeat)
			} else {
				remote = atomic.LoadUint64(&att.reg.hdr.masterHeartbeat)
			}
			threshold := time.Duration(atomic.LoadUint32(&att.reg.hdr.staleThresholdMs)) * time.Millisecond

			if remote == h.lastRemoteHeartbeat.Load() {
				staleFor += monitorInterval
				if staleFor >= threshold && !h.remoteStale.Load() {
					log.Warnf("remote endpoint on %s stale for %v", h.shmName, staleFor)
					h.remoteStale.Store(true)
					staleEventsTotal.WithLabelValues(h.shmName, h.role.String()).Inc()

					if h.role == RoleSlave {
						if h.cfg.DisconnectBehavior == DisconnectImmediately {
							log.Warnf("slave on %s disconnecting immediately", h.shmName)
							h.running.Store(false)
							h.setState(StateStopped)
							break
						}
						log.Infof("slave on %s entering reattach mode", h.shmName)
						inReconnect = true
						totalWait = 0
						sinceAttempt = 0
						attempts = 0
						retry.Reset()
						nextAttemptIn = 0
						h.setState(StateReconnecting)
					}
				}
			} else {
				if h.remoteStale.Load() {
					log.Infof("remote endpoint on %s recovered", h.shmName)
				}
				staleFor = 0
				h.remoteStale.Store(false)
				h.lastRemoteHeartbeat.Store(remote)
			}
		}

		time.Sleep(monitorInterval)
	}

	log.Debugf("monitor task stopped (role %s)", h.role)
}

// attemptReattach releases the current mapping and opens a fresh one. The nil
// mapping pointer is published first and the old memory is unmapped only
// after a quiesce period, so the heartbeat task and in-flight entry points
// never touch memory that is being torn down. A mapping whose master
// heartbeat equals the last observed value is the old dead incarnation and is
// rejected.
func (h *Handle) attemptReattach() bool {
	if h.tracer != nil {
		_, span := h.tracer.Start(context.Background(), "eshm.reattach")
		defer span.End()
	}

	if old := h.mapping.Swap(nil); old != nil {
		time.Sleep(quiescePeriod)
		old.unmap()
	}

	att, err := mapExisting(h.shmName)
	if err != nil {
		log.Debugf("reattach open failed: %v", err)
		return false
	}
	if !att.validMagic() {
		att.unmap()
		return false
	}

	hb := atomic.LoadUint64(&att.reg.hdr.masterHeartbeat)
	if hb == h.lastRemoteHeartbeat.Load() {
		// The name still resolves to the dead master's region.
		att.unmap()
		return false
	}

	att.adoptSlave(int32(os.Getpid()))
	h.lastRemoteHeartbeat.Store(hb)
	h.remoteStale.Store(false)
	h.staleReported.Store(false)
	h.mapping.Store(att)
	return true
}
