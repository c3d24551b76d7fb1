package eshm

import (
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Role selects which end of the region a handle drives.
type Role int

const (
	// RoleMaster owns the region: it creates or takes it over, bumps the
	// generation, and writes the master-to-slave channel.
	RoleMaster Role = 0
	// RoleSlave attaches to an existing region and writes the
	// slave-to-master channel.
	RoleSlave Role = 1
	// RoleAuto attaches as slave when the region exists, otherwise creates
	// it as master.
	RoleAuto Role = 2
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleSlave:
		return "slave"
	case RoleAuto:
		return "auto"
	}
	return "unknown"
}

// DisconnectBehavior controls what a slave does once the master goes stale.
type DisconnectBehavior int

const (
	// DisconnectImmediately stops the handle as soon as staleness is
	// declared; reads surface ErrMasterStale.
	DisconnectImmediately DisconnectBehavior = 0
	// DisconnectOnTimeout reattaches until the reconnect bounds are
	// exhausted; reads surface ErrTimeout meanwhile.
	DisconnectOnTimeout DisconnectBehavior = 1
	// DisconnectNever reattaches with the total-wait bound treated as
	// unbounded.
	DisconnectNever DisconnectBehavior = 2
)

func (d DisconnectBehavior) String() string {
	switch d {
	case DisconnectImmediately:
		return "immediately"
	case DisconnectOnTimeout:
		return "on-timeout"
	case DisconnectNever:
		return "never"
	}
	return "unknown"
}

// Cadences of the background tasks and the read poll loop.
const (
	heartbeatInterval = time.Millisecond
	monitorInterval   = 10 * time.Millisecond
	readPollInterval  = 100 * time.Microsecond

	// quiescePeriod is how long the monitor waits between publishing a nil
	// mapping and unmapping the memory behind it: two monitor ticks, which
	// is twenty heartbeat ticks.
	quiescePeriod = 20 * time.Millisecond

	// DefaultReadTimeout is the bounded wait used by Read.
	DefaultReadTimeout = 1000 * time.Millisecond
)

// Config is the flat option record a handle is built from.
type Config struct {
	// Name identifies the region. It is mapped to an on-disk object name;
	// path separators are rewritten, so distinct names stay distinct only
	// if they differ after that rewrite.
	Name string
	// Role requested by the caller. RoleAuto collapses to master or slave
	// during Init.
	Role Role
	// DisconnectBehavior on stale master detection.
	DisconnectBehavior DisconnectBehavior
	// StaleThreshold is how long the remote heartbeat may sit still before
	// the peer is declared stale.
	StaleThreshold time.Duration
	// ReconnectWait bounds the total time a slave spends reattaching.
	// Zero waits indefinitely.
	ReconnectWait time.Duration
	// ReconnectRetryInterval is the spacing between reattach attempts.
	ReconnectRetryInterval time.Duration
	// MaxReconnectAttempts bounds the number of reattach attempts. Zero is
	// unlimited.
	MaxReconnectAttempts uint32
	// AutoCleanup unlinks the region on destroy when this handle created it.
	AutoCleanup bool
	// UseBackgroundTasks runs the heartbeat source and liveness monitor.
	// Without them the caller drives the heartbeat via UpdateHeartbeat and
	// staleness is never declared.
	UseBackgroundTasks bool

	// Meter, when set, instruments the handle with OpenTelemetry counters
	// alongside the built-in Prometheus collectors.
	Meter metric.Meter
	// Tracer, when set, records spans around Init and each reattach attempt.
	Tracer trace.Tracer
}

// DefaultConfig materializes the canonical defaults for a region name.
func DefaultConfig(name string) Config {
	return Config{
		Name:                   name,
		Role:                   RoleAuto,
		DisconnectBehavior:     DisconnectOnTimeout,
		StaleThreshold:         100 * time.Millisecond,
		ReconnectWait:          5000 * time.Millisecond,
		ReconnectRetryInterval: 100 * time.Millisecond,
		MaxReconnectAttempts:   50,
		AutoCleanup:            true,
		UseBackgroundTasks:     true,
	}
}

func (c *Config) validate() error {
	if c.Name == "" {
		return ErrInvalidParam
	}
	switch c.Role {
	case RoleMaster, RoleSlave, RoleAuto:
	default:
		return ErrInvalidParam
	}
	switch c.DisconnectBehavior {
	case DisconnectImmediately, DisconnectOnTimeout, DisconnectNever:
	default:
		return ErrInvalidParam
	}
	if c.StaleThreshold <= 0 {
		return ErrInvalidParam
	}
	if c.ReconnectRetryInterval <= 0 {
		return ErrInvalidParam
	}
	return nil
}
