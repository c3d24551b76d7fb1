//go:build linux

package eshm

import (
	"os"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshm-project/eshm-go/internal/shm"
)

// testConfig builds a config with short liveness timings so the scenarios
// stay fast; the per-test region name keeps runs independent.
func testConfig(t *testing.T, name string, role Role) Config {
	t.Helper()
	cfg := DefaultConfig(name)
	cfg.Role = role
	cfg.StaleThreshold = 60 * time.Millisecond
	cfg.ReconnectRetryInterval = 30 * time.Millisecond
	t.Cleanup(func() { _ = shm.Unlink(regionName(name)) })
	return cfg
}

func mustInit(t *testing.T, cfg Config) *Handle {
	t.Helper()
	h, err := Init(cfg)
	require.NoError(t, err)
	return h
}

func TestInitMasterCreatesRegion(t *testing.T) {
	name := "gotest_create"
	h := mustInit(t, testConfig(t, name, RoleMaster))

	st, err := os.Stat(shm.ObjectPath(regionName(name)))
	require.NoError(t, err)
	assert.Equal(t, int64(RegionSize), st.Size())

	role, err := h.Role()
	require.NoError(t, err)
	assert.Equal(t, RoleMaster, role)
	assert.Equal(t, StateMapped, h.State())

	s, err := h.GetStats()
	require.NoError(t, err)
	assert.True(t, s.MasterAlive)
	assert.False(t, s.SlaveAlive)
	assert.Equal(t, uint32(1), s.MasterGeneration)
	assert.Equal(t, int32(os.Getpid()), s.MasterPID)

	require.NoError(t, h.Destroy())
	_, err = os.Stat(shm.ObjectPath(regionName(name)))
	assert.True(t, os.IsNotExist(err), "auto-cleanup unlinks the region")
}

func TestRoundTrip(t *testing.T) {
	name := "gotest_roundtrip"
	master := mustInit(t, testConfig(t, name, RoleMaster))
	defer func() { _ = master.Destroy() }()
	slave := mustInit(t, testConfig(t, name, RoleSlave))
	defer func() { _ = slave.Destroy() }()

	msg := []byte("Hello, World!")

	done := make(chan struct{})
	var n int
	var readErr error
	buf := make([]byte, MaxDataSize)
	go func() {
		defer close(done)
		n, readErr = slave.ReadTimeout(buf, time.Second)
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, master.Write(msg))
	<-done

	require.NoError(t, readErr)
	assert.Equal(t, 13, n)
	assert.Equal(t, msg, buf[:n])

	// And the reverse direction.
	done = make(chan struct{})
	go func() {
		defer close(done)
		n, readErr = master.ReadTimeout(buf, time.Second)
	}()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, slave.Write([]byte("pong")))
	<-done
	require.NoError(t, readErr)
	assert.Equal(t, []byte("pong"), buf[:n])
}

func TestZeroLengthTrigger(t *testing.T) {
	name := "gotest_trigger"
	master := mustInit(t, testConfig(t, name, RoleMaster))
	defer func() { _ = master.Destroy() }()
	slave := mustInit(t, testConfig(t, name, RoleSlave))
	defer func() { _ = slave.Destroy() }()

	before, err := slave.GetStats()
	require.NoError(t, err)

	done := make(chan struct{})
	var n int
	var readErr error
	go func() {
		defer close(done)
		n, readErr = slave.ReadTimeout(make([]byte, MaxDataSize), time.Second)
	}()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, master.Write(nil))
	<-done

	require.NoError(t, readErr)
	assert.Zero(t, n)

	after, err := slave.GetStats()
	require.NoError(t, err)
	assert.Equal(t, before.M2SWriteCount+1, after.M2SWriteCount)
}

func TestOversizeWriteRejected(t *testing.T) {
	name := "gotest_oversize"
	master := mustInit(t, testConfig(t, name, RoleMaster))
	defer func() { _ = master.Destroy() }()
	slave := mustInit(t, testConfig(t, name, RoleSlave))
	defer func() { _ = slave.Destroy() }()

	before, err := slave.GetStats()
	require.NoError(t, err)

	err = master.Write(make([]byte, MaxDataSize+1))
	assert.ErrorIs(t, err, ErrBufferTooSmall)

	after, err := slave.GetStats()
	require.NoError(t, err)
	assert.Equal(t, before.M2SWriteCount, after.M2SWriteCount)
}

func TestNonBlockingProbe(t *testing.T) {
	name := "gotest_probe"
	master := mustInit(t, testConfig(t, name, RoleMaster))
	defer func() { _ = master.Destroy() }()

	_, err := master.ReadTimeout(make([]byte, MaxDataSize), 0)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestReadTimeoutExpires(t *testing.T) {
	name := "gotest_timeout"
	master := mustInit(t, testConfig(t, name, RoleMaster))
	defer func() { _ = master.Destroy() }()

	start := time.Now()
	_, err := master.ReadTimeout(make([]byte, MaxDataSize), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestAutoRoleResolution(t *testing.T) {
	name := "gotest_auto"
	first := mustInit(t, testConfig(t, name, RoleAuto))
	defer func() { _ = first.Destroy() }()
	second := mustInit(t, testConfig(t, name, RoleAuto))
	defer func() { _ = second.Destroy() }()

	r1, _ := first.Role()
	r2, _ := second.Role()
	assert.Equal(t, RoleMaster, r1, "first entrant creates as master")
	assert.Equal(t, RoleSlave, r2, "second entrant attaches as slave")
}

func TestSlaveAttachMissingRegion(t *testing.T) {
	cfg := testConfig(t, "gotest_missing", RoleSlave)
	_, err := Init(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShmAttach)
}

func TestSlaveRejectsInvalidMagic(t *testing.T) {
	name := "gotest_badmagic"
	objName := regionName(name)
	// A zeroed object of the right size: present, but never initialized.
	mr, err := shm.MapRegion(shm.MapOptions{Name: objName, Size: RegionSize, Create: true})
	require.NoError(t, err)
	require.NoError(t, shm.UnmapRegion(mr))
	t.Cleanup(func() { _ = shm.Unlink(objName) })

	cfg := testConfig(t, name, RoleSlave)
	_, err = Init(cfg)
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestDestroyIdempotence(t *testing.T) {
	var nilHandle *Handle
	assert.ErrorIs(t, nilHandle.Destroy(), ErrInvalidParam)

	name := "gotest_destroy"
	h := mustInit(t, testConfig(t, name, RoleMaster))
	require.NoError(t, h.Destroy())
	assert.ErrorIs(t, h.Destroy(), ErrInvalidParam)
	assert.Equal(t, StateStopped, h.State())

	assert.ErrorIs(t, h.Write([]byte("x")), ErrInvalidParam)
	_, err := h.ReadTimeout(make([]byte, 16), 0)
	assert.ErrorIs(t, err, ErrInvalidParam)
	_, err = h.GetStats()
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestMasterTakeoverBumpsGeneration(t *testing.T) {
	name := "gotest_takeover"

	cfgM1 := testConfig(t, name, RoleMaster)
	cfgM1.UseBackgroundTasks = false
	cfgM1.AutoCleanup = false
	master1 := mustInit(t, cfgM1)
	_ = master1 // abandoned below, simulating a crash

	cfgS := testConfig(t, name, RoleSlave)
	cfgS.UseBackgroundTasks = false
	slave := mustInit(t, cfgS)
	defer func() { _ = slave.Destroy() }()

	s, err := slave.GetStats()
	require.NoError(t, err)
	require.Equal(t, uint32(1), s.MasterGeneration)
	require.True(t, s.SlaveAlive)

	// The next master finds an alive slave and takes over in place.
	cfgM2 := testConfig(t, name, RoleMaster)
	cfgM2.UseBackgroundTasks = false
	cfgM2.AutoCleanup = false
	master2 := mustInit(t, cfgM2)
	defer func() { _ = master2.Destroy() }()

	s, err = slave.GetStats()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), s.MasterGeneration)

	// The surviving slave's mapping still carries traffic.
	done := make(chan struct{})
	var n int
	var readErr error
	buf := make([]byte, MaxDataSize)
	go func() {
		defer close(done)
		n, readErr = slave.ReadTimeout(buf, time.Second)
	}()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, master2.Write([]byte("after takeover")))
	<-done
	require.NoError(t, readErr)
	assert.Equal(t, []byte("after takeover"), buf[:n])
}

func TestStalenessDetection(t *testing.T) {
	name := "gotest_stale"

	cfgM := testConfig(t, name, RoleMaster)
	cfgM.UseBackgroundTasks = false // heartbeat never advances: a dead master
	cfgM.AutoCleanup = false
	_ = mustInit(t, cfgM)

	cfgS := testConfig(t, name, RoleSlave)
	cfgS.MaxReconnectAttempts = 0
	cfgS.ReconnectWait = 0 // retry indefinitely while the test observes
	slave := mustInit(t, cfgS)
	defer func() { _ = slave.Destroy() }()

	require.Eventually(t, func() bool {
		alive, err := slave.CheckRemoteAlive()
		return err == nil && !alive
	}, 2*time.Second, 10*time.Millisecond, "staleness must be declared")

	// With the on-timeout policy reads surface timeouts, never master-stale.
	_, err := slave.ReadTimeout(make([]byte, MaxDataSize), 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSlaveReattachesToNewMaster(t *testing.T) {
	name := "gotest_reattach"

	cfgM1 := testConfig(t, name, RoleMaster)
	cfgM1.UseBackgroundTasks = false
	cfgM1.AutoCleanup = false
	_ = mustInit(t, cfgM1) // crashes: never destroyed, heartbeat frozen

	cfgS := testConfig(t, name, RoleSlave)
	cfgS.MaxReconnectAttempts = 0
	cfgS.ReconnectWait = 0
	slave := mustInit(t, cfgS)
	defer func() { _ = slave.Destroy() }()

	require.Eventually(t, func() bool {
		return slave.State() == StateReconnecting
	}, 2*time.Second, 10*time.Millisecond, "slave must enter reattach mode")

	// A new master incarnation appears on the same region name.
	cfgM2 := testConfig(t, name, RoleMaster)
	cfgM2.AutoCleanup = false
	master2 := mustInit(t, cfgM2)
	defer func() { _ = master2.Destroy() }()

	require.Eventually(t, func() bool {
		return slave.State() == StateMapped
	}, 3*time.Second, 10*time.Millisecond, "slave must reattach")

	done := make(chan struct{})
	var n int
	var readErr error
	buf := make([]byte, MaxDataSize)
	go func() {
		defer close(done)
		n, readErr = slave.ReadTimeout(buf, 2*time.Second)
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, master2.Write([]byte("M2-#1")))
	<-done
	require.NoError(t, readErr)
	assert.Equal(t, []byte("M2-#1"), buf[:n])

	s, err := slave.GetStats()
	require.NoError(t, err)
	assert.Greater(t, s.MasterGeneration, uint32(1), "reattach lands on a newer generation")
}

func TestImmediateDisconnect(t *testing.T) {
	name := "gotest_immediate"

	cfgM := testConfig(t, name, RoleMaster)
	cfgM.UseBackgroundTasks = false
	cfgM.AutoCleanup = false
	_ = mustInit(t, cfgM)

	cfgS := testConfig(t, name, RoleSlave)
	cfgS.DisconnectBehavior = DisconnectImmediately
	slave := mustInit(t, cfgS)
	defer func() { _ = slave.Destroy() }()

	require.Eventually(t, func() bool {
		return slave.State() == StateStopped
	}, 2*time.Second, 10*time.Millisecond, "immediate policy stops the handle")

	_, err := slave.ReadTimeout(make([]byte, MaxDataSize), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrMasterStale, "first read reports the stale master")

	_, err = slave.ReadTimeout(make([]byte, MaxDataSize), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotInitialized, "later reads see the stopped handle")
}

func TestBoundedReconnectAttempts(t *testing.T) {
	name := "gotest_bounded"

	cfgM := testConfig(t, name, RoleMaster)
	cfgM.UseBackgroundTasks = false
	cfgM.AutoCleanup = false
	_ = mustInit(t, cfgM)

	cfgS := testConfig(t, name, RoleSlave)
	cfgS.MaxReconnectAttempts = 3
	cfgS.ReconnectWait = 10 * time.Second
	slave := mustInit(t, cfgS)
	defer func() { _ = slave.Destroy() }()

	require.Eventually(t, func() bool {
		return slave.State() == StateStopped
	}, 5*time.Second, 10*time.Millisecond, "attempt bound stops the handle")

	var m dto.Metric
	require.NoError(t, reattachAttemptsTotal.WithLabelValues(regionName(name)).Write(&m))
	assert.Equal(t, float64(3), m.GetCounter().GetValue(), "exactly the configured number of attempts")
}

func TestStatsDeltas(t *testing.T) {
	name := "gotest_stats"
	master := mustInit(t, testConfig(t, name, RoleMaster))
	defer func() { _ = master.Destroy() }()
	slave := mustInit(t, testConfig(t, name, RoleSlave))
	defer func() { _ = slave.Destroy() }()

	_, err := master.GetStats()
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	s, err := master.GetStats()
	require.NoError(t, err)
	assert.Positive(t, s.MasterHeartbeatDelta, "own heartbeat advances")
	assert.Positive(t, s.SlaveHeartbeatDelta, "peer heartbeat advances")
	assert.True(t, s.MasterAlive)
	assert.True(t, s.SlaveAlive)
	assert.Equal(t, int32(os.Getpid()), s.SlavePID)
	assert.Equal(t, uint32(60), s.StaleThresholdMs)
}

func TestHeartbeatMonotonic(t *testing.T) {
	name := "gotest_monotonic"
	master := mustInit(t, testConfig(t, name, RoleMaster))
	defer func() { _ = master.Destroy() }()

	var prev uint64
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		s, err := master.GetStats()
		require.NoError(t, err)
		require.GreaterOrEqual(t, s.MasterHeartbeat, prev)
		require.Greater(t, s.MasterHeartbeat, uint64(0))
		prev = s.MasterHeartbeat
	}
}

func TestManualHeartbeat(t *testing.T) {
	name := "gotest_manual_hb"
	cfg := testConfig(t, name, RoleMaster)
	cfg.UseBackgroundTasks = false
	h := mustInit(t, cfg)
	defer func() { _ = h.Destroy() }()

	require.NoError(t, h.UpdateHeartbeat())
	require.NoError(t, h.UpdateHeartbeat())

	s, err := h.GetStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.MasterHeartbeat)
}

func TestManualHeartbeatNoopWithTasks(t *testing.T) {
	name := "gotest_manual_noop"
	h := mustInit(t, testConfig(t, name, RoleMaster))
	defer func() { _ = h.Destroy() }()
	assert.NoError(t, h.UpdateHeartbeat(), "the heartbeat task owns the counter")
}

func TestRegistry(t *testing.T) {
	name := "gotest_registry"
	h := mustInit(t, testConfig(t, name, RoleMaster))

	got, ok := LookupHandle(name, RoleMaster)
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.Contains(t, ActiveRegions(), regionName(name)+"|master")

	require.NoError(t, h.Destroy())
	_, ok = LookupHandle(name, RoleMaster)
	assert.False(t, ok)
}

func TestEventsRecordTransitions(t *testing.T) {
	name := "gotest_events"
	h := mustInit(t, testConfig(t, name, RoleMaster))

	events := h.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, StateCreated, events[0].From)
	assert.Equal(t, StateMapped, events[0].To)

	require.NoError(t, h.Destroy())
	events = h.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, StateStopped, events[len(events)-1].To)
}

func TestLivenessCheck(t *testing.T) {
	name := "gotest_liveness"
	master := mustInit(t, testConfig(t, name, RoleMaster))
	defer func() { _ = master.Destroy() }()
	slave := mustInit(t, testConfig(t, name, RoleSlave))
	defer func() { _ = slave.Destroy() }()

	check := slave.LivenessCheck()
	require.Eventually(t, func() bool {
		return check() == nil
	}, time.Second, 10*time.Millisecond, "live peer passes the check")
}

func TestRemoteProcessRunning(t *testing.T) {
	name := "gotest_pid"
	master := mustInit(t, testConfig(t, name, RoleMaster))
	defer func() { _ = master.Destroy() }()

	// No slave has attached yet: no pid recorded.
	running, err := master.RemoteProcessRunning()
	require.NoError(t, err)
	assert.False(t, running)

	slave := mustInit(t, testConfig(t, name, RoleSlave))
	defer func() { _ = slave.Destroy() }()

	running, err = master.RemoteProcessRunning()
	require.NoError(t, err)
	assert.True(t, running, "the recorded slave pid is this process")
}
