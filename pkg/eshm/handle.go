package eshm

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/shirou/gopsutil/v3/process"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle state of a handle.
type State int32

const (
	// StateCreated is the transient state inside Init.
	StateCreated State = iota
	// StateMapped is the normal operating state.
	StateMapped
	// StateReconnecting is a slave whose master went stale and whose
	// monitor is reattaching.
	StateReconnecting
	// StateStopped is terminal: destroy ran, or the monitor forced a stop.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateMapped:
		return "mapped"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Handle is one process's attachment to a region, together with its
// background machinery. All methods are safe for concurrent use.
type Handle struct {
	cfg     Config
	role    Role
	shmName string
	creator bool

	// mapping is the only reference to the shared region. The monitor's
	// reattach path publishes nil here, quiesces, and unmaps; every other
	// access loads it to a local first and treats nil as retry-later.
	mapping atomic.Pointer[attachment]

	running atomic.Bool
	tasks   sync.WaitGroup

	lastRemoteHeartbeat atomic.Uint64
	remoteStale         atomic.Bool
	staleReported       atomic.Bool

	state     atomic.Int32
	destroyed atomic.Bool

	events *eventLog

	statsMu      sync.Mutex
	lastMasterHB uint64
	lastSlaveHB  uint64

	tracer     trace.Tracer
	otelWrites metric.Int64Counter
	otelReads  metric.Int64Counter
	otelAttrs  []attribute.KeyValue
}

// Init validates the configuration, resolves the role, creates or attaches
// the region, and starts the background tasks.
func Init(cfg Config) (*Handle, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	h := &Handle{
		cfg:     cfg,
		shmName: regionName(cfg.Name),
		events:  newEventLog(),
		tracer:  cfg.Tracer,
	}
	h.state.Store(int32(StateCreated))

	if h.tracer != nil {
		_, span := h.tracer.Start(context.Background(), "eshm.Init")
		defer span.End()
	}

	pid := int32(os.Getpid())
	staleMs := uint32(cfg.StaleThreshold / time.Millisecond)

	var (
		att     *attachment
		creator bool
		err     error
	)
	switch cfg.Role {
	case RoleMaster:
		att, creator, err = openAsMaster(h.shmName, staleMs)
		h.role = RoleMaster
	case RoleSlave:
		att, err = openAsSlave(h.shmName)
		h.role = RoleSlave
	case RoleAuto:
		att, h.role, creator, err = openAuto(h.shmName, staleMs)
	}
	if err != nil {
		return nil, err
	}
	h.creator = creator

	if h.role == RoleMaster {
		gen := att.adoptMaster(pid)
		log.Infof("master starting on %s with generation %d", h.shmName, gen)
	} else {
		att.adoptSlave(pid)
		log.Infof("slave attached to %s (master generation %d)",
			h.shmName, atomic.LoadUint32(&att.reg.hdr.masterGeneration))
	}
	h.mapping.Store(att)
	h.initInstruments()

	if cfg.UseBackgroundTasks {
		h.running.Store(true)
		if err := h.startTask(h.heartbeatLoop); err != nil {
			h.teardown(att)
			return nil, err
		}
		if err := h.startTask(h.monitorLoop); err != nil {
			h.running.Store(false)
			h.tasks.Wait()
			h.teardown(att)
			return nil, err
		}
	}

	h.setState(StateMapped)
	registerHandle(h)
	return h, nil
}

// startTask hands a background loop to the shared worker pool.
func (h *Handle) startTask(loop func()) error {
	h.tasks.Add(1)
	if err := ants.Submit(loop); err != nil {
		h.tasks.Done()
		log.Errorf("failed to start background task: %v", err)
		return ErrTaskStart
	}
	return nil
}

// teardown reverses a partially completed Init. No orphan regions survive a
// failed init path.
func (h *Handle) teardown(att *attachment) {
	h.mapping.Store(nil)
	h.clearAliveFlag(att)
	att.unmap()
	if h.creator {
		_ = unlinkRegion(h.shmName)
	}
}

func (h *Handle) clearAliveFlag(att *attachment) {
	if att == nil {
		return
	}
	if h.role == RoleMaster {
		atomic.StoreUint32(&att.reg.hdr.masterAlive, 0)
	} else {
		atomic.StoreUint32(&att.reg.hdr.slaveAlive, 0)
	}
}

// Destroy stops the background tasks, clears this side's alive flag, unmaps,
// and unlinks the name when this handle created the region and auto-cleanup
// is enabled. The second call on the same handle reports ErrInvalidParam.
func (h *Handle) Destroy() error {
	if h == nil || h.destroyed.Swap(true) {
		return ErrInvalidParam
	}

	h.running.Store(false)
	h.tasks.Wait()

	if att := h.mapping.Swap(nil); att != nil {
		h.clearAliveFlag(att)
		att.unmap()
	}

	if h.creator && h.cfg.AutoCleanup {
		if err := unlinkRegion(h.shmName); err != nil {
			log.Warnf("cleanup of %s failed: %v", h.shmName, err)
		}
	}

	h.setState(StateStopped)
	unregisterHandle(h)
	return nil
}

// txChannel is the channel this side writes.
func (h *Handle) txChannel(att *attachment) *channel {
	if h.role == RoleMaster {
		return &att.reg.masterToSlave
	}
	return &att.reg.slaveToMaster
}

// rxChannel is the channel this side reads.
func (h *Handle) rxChannel(att *attachment) *channel {
	if h.role == RoleMaster {
		return &att.reg.slaveToMaster
	}
	return &att.reg.masterToSlave
}

// Write publishes p on this side's outgoing channel. A zero-length p is a
// valid trigger write. Writes larger than MaxDataSize are rejected with
// ErrBufferTooSmall. While the mapping is transiently gone during a
// reattach, Write reports ErrTimeout so the caller can retry.
func (h *Handle) Write(p []byte) error {
	if h == nil || h.destroyed.Load() {
		return ErrInvalidParam
	}
	att := h.mapping.Load()
	if att == nil {
		if h.remoteStale.Load() {
			return ErrTimeout
		}
		return ErrNotInitialized
	}
	if err := h.txChannel(att).publish(p); err != nil {
		return err
	}
	writesTotal.WithLabelValues(h.shmName, h.role.String()).Inc()
	if h.otelWrites != nil {
		h.otelWrites.Add(context.Background(), 1, metric.WithAttributes(h.otelAttrs...))
	}
	return nil
}

// ReadTimeout polls the incoming channel until a write lands past the
// per-call baseline or the timeout elapses. A zero timeout is a non-blocking
// probe that reports ErrNoData when nothing new is available.
func (h *Handle) ReadTimeout(dst []byte, timeout time.Duration) (int, error) {
	if h == nil || h.destroyed.Load() {
		return 0, ErrInvalidParam
	}
	att := h.mapping.Load()
	if att == nil {
		if h.remoteStale.Load() {
			return 0, ErrTimeout
		}
		return 0, ErrNotInitialized
	}

	ch := h.rxChannel(att)
	baseline := ch.writes()
	start := time.Now()

	for {
		if h.destroyed.Load() {
			return 0, ErrNotInitialized
		}
		if h.remoteStale.Load() && h.cfg.DisconnectBehavior == DisconnectImmediately {
			if h.staleReported.CompareAndSwap(false, true) {
				return 0, ErrMasterStale
			}
			return 0, ErrNotInitialized
		}

		cur := h.mapping.Load()
		if cur == nil {
			if h.remoteStale.Load() {
				return 0, ErrTimeout
			}
			return 0, ErrNotInitialized
		}
		if cur != att {
			// Reattached mid-poll. The new incarnation's counters are the
			// fresh baseline; a takeover preserves them, a recreated
			// region restarts them.
			att = cur
			ch = h.rxChannel(att)
			if ch.writes() < baseline {
				baseline = 0
			}
		}

		if ch.writes() > baseline {
			n, err := ch.snapshot(dst)
			if err != nil {
				return 0, err
			}
			readsTotal.WithLabelValues(h.shmName, h.role.String()).Inc()
			if h.otelReads != nil {
				h.otelReads.Add(context.Background(), 1, metric.WithAttributes(h.otelAttrs...))
			}
			return n, nil
		}

		if timeout == 0 {
			return 0, ErrNoData
		}
		if time.Since(start) >= timeout {
			return 0, ErrTimeout
		}
		time.Sleep(readPollInterval)
	}
}

// Read polls with the default timeout and folds the result into one integer:
// bytes read when non-negative, a Code otherwise. It mirrors the C binding
// surface; ReadTimeout is the richer form.
func (h *Handle) Read(dst []byte) int {
	n, err := h.ReadTimeout(dst, DefaultReadTimeout)
	if err != nil {
		if e, ok := err.(*Error); ok {
			return int(e.Code())
		}
		return int(CodeNotInitialized)
	}
	return n
}

// CheckRemoteAlive reports whether the peer's heartbeat has advanced within
// the staleness threshold. A handle whose mapping is transiently gone
// reports not alive.
func (h *Handle) CheckRemoteAlive() (bool, error) {
	if h == nil || h.destroyed.Load() {
		return false, ErrInvalidParam
	}
	if h.mapping.Load() == nil {
		return false, nil
	}
	return !h.remoteStale.Load(), nil
}

// Role returns the resolved role: RoleAuto collapses at Init and is never
// returned here.
func (h *Handle) Role() (Role, error) {
	if h == nil {
		return RoleAuto, ErrInvalidParam
	}
	return h.role, nil
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// UpdateHeartbeat advances this side's heartbeat cell once. With background
// tasks enabled the heartbeat source owns the counter and this is a no-op.
func (h *Handle) UpdateHeartbeat() error {
	if h == nil || h.destroyed.Load() {
		return ErrNotInitialized
	}
	att := h.mapping.Load()
	if att == nil {
		return ErrNotInitialized
	}
	if h.cfg.UseBackgroundTasks {
		return nil
	}
	if h.role == RoleMaster {
		atomic.AddUint64(&att.reg.hdr.masterHeartbeat, 1)
	} else {
		atomic.AddUint64(&att.reg.hdr.slaveHeartbeat, 1)
	}
	return nil
}

// RemoteProcessRunning is an advisory probe of the peer's recorded PID. The
// staleness detector never consults it; liveness is measured by heartbeat
// movement alone.
func (h *Handle) RemoteProcessRunning() (bool, error) {
	if h == nil || h.destroyed.Load() {
		return false, ErrInvalidParam
	}
	att := h.mapping.Load()
	if att == nil {
		return false, ErrNotInitialized
	}
	var pid int32
	if h.role == RoleMaster {
		pid = atomic.LoadInt32(&att.reg.hdr.slavePID)
	} else {
		pid = atomic.LoadInt32(&att.reg.hdr.masterPID)
	}
	if pid == 0 {
		return false, nil
	}
	return process.PidExists(pid)
}

func (h *Handle) setState(s State) {
	old := State(h.state.Swap(int32(s)))
	if old != s {
		h.events.record(old, s)
	}
}

func (h *Handle) initInstruments() {
	h.otelAttrs = []attribute.KeyValue{
		attribute.String("region", h.shmName),
		attribute.String("role", h.role.String()),
	}
	if h.cfg.Meter == nil {
		return
	}
	var err error
	h.otelWrites, err = h.cfg.Meter.Int64Counter("eshm.writes")
	if err != nil {
		log.Warnf("otel write counter: %v", err)
	}
	h.otelReads, err = h.cfg.Meter.Int64Counter("eshm.reads")
	if err != nil {
		log.Warnf("otel read counter: %v", err)
	}
}

// ErrTaskStart reports a background task that could not be scheduled. It
// reuses a reserved code so the numeric taxonomy stays frozen.
var ErrTaskStart = &Error{CodeMutexInit, "failed to start background task"}
