package eshm

import (
	"errors"
	"fmt"
	"io/fs"
	"sync/atomic"

	"github.com/eshm-project/eshm-go/internal/shm"
)

// attachment pairs one live mapping with its overlaid region view. The
// handle's mapping pointer holds at most one of these; the monitor swaps it
// for a fresh one during reattach.
type attachment struct {
	mr  *shm.MappedRegion
	reg *region
}

func mapExisting(name string) (*attachment, error) {
	mr, err := shm.MapRegion(shm.MapOptions{Name: name, Size: RegionSize})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShmAttach, err)
	}
	return &attachment{mr: mr, reg: regionAt(mr.Addr)}, nil
}

func createRegion(name string) (*attachment, error) {
	mr, err := shm.MapRegion(shm.MapOptions{Name: name, Size: RegionSize, Create: true})
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %v", errRegionExists, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrShmCreate, err)
	}
	return &attachment{mr: mr, reg: regionAt(mr.Addr)}, nil
}

// errRegionExists marks the create/attach race in AUTO mode; it never leaves
// the package.
var errRegionExists = errors.New("region already exists")

func unlinkRegion(name string) error {
	if err := shm.Unlink(name); err != nil {
		return fmt.Errorf("%w: %v", ErrShmDelete, err)
	}
	return nil
}

func (a *attachment) unmap() {
	if err := shm.UnmapRegion(a.mr); err != nil {
		log.Warnf("unmap %s: %v", a.mr.Name, err)
	}
}

func (a *attachment) validMagic() bool {
	return atomic.LoadUint32(&a.reg.hdr.magic) == Magic
}

// initHeader writes the initial region state. Only the creator of a fresh
// region runs this.
func (a *attachment) initHeader(staleThresholdMs uint32) {
	r := a.reg
	r.hdr.version = Version
	atomic.StoreUint64(&r.hdr.masterHeartbeat, 0)
	atomic.StoreUint64(&r.hdr.slaveHeartbeat, 0)
	atomic.StoreInt32(&r.hdr.masterPID, 0)
	atomic.StoreInt32(&r.hdr.slavePID, 0)
	atomic.StoreUint32(&r.hdr.masterAlive, 0)
	atomic.StoreUint32(&r.hdr.slaveAlive, 0)
	atomic.StoreUint32(&r.hdr.staleThresholdMs, staleThresholdMs)
	atomic.StoreUint32(&r.hdr.masterGeneration, 0)
	r.masterToSlave.reset()
	r.slaveToMaster.reset()
	// Magic goes last: a concurrent attacher that observes it sees a fully
	// initialized region.
	atomic.StoreUint32(&r.hdr.magic, Magic)
}

// adoptMaster publishes this process as the region's master: bumped
// generation, pid, alive flag, heartbeat back to zero. Channels are left
// alone so a surviving slave's reads never tear.
func (a *attachment) adoptMaster(pid int32) uint32 {
	gen := atomic.AddUint32(&a.reg.hdr.masterGeneration, 1)
	atomic.StoreInt32(&a.reg.hdr.masterPID, pid)
	atomic.StoreUint64(&a.reg.hdr.masterHeartbeat, 0)
	atomic.StoreUint32(&a.reg.hdr.masterAlive, 1)
	return gen
}

// adoptSlave publishes this process as the region's slave.
func (a *attachment) adoptSlave(pid int32) {
	atomic.StoreInt32(&a.reg.hdr.slavePID, pid)
	atomic.StoreUint64(&a.reg.hdr.slaveHeartbeat, 0)
	atomic.StoreUint32(&a.reg.hdr.slaveAlive, 1)
}

// openAsMaster creates the region, or takes over an existing one. The
// takeover keeps the mapping and the name when the slave is still alive;
// a region with a dead slave or a broken header is recreated from scratch.
func openAsMaster(name string, staleThresholdMs uint32) (att *attachment, creator bool, err error) {
	if shm.Exists(name) {
		existing, mapErr := mapExisting(name)
		if mapErr == nil {
			if existing.validMagic() && atomic.LoadUint32(&existing.reg.hdr.slaveAlive) != 0 {
				log.Infof("master taking over region %s with alive slave (generation %d)",
					name, atomic.LoadUint32(&existing.reg.hdr.masterGeneration))
				return existing, false, nil
			}
			existing.unmap()
		}
		log.Infof("master found stale region %s, recreating", name)
		if err := shm.Unlink(name); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrShmDelete, err)
		}
	}
	att, err = createRegion(name)
	if err != nil {
		if errors.Is(err, errRegionExists) {
			// Lost a create race; the winner is master now.
			return nil, false, fmt.Errorf("%w: region appeared concurrently", ErrShmCreate)
		}
		return nil, false, err
	}
	att.initHeader(staleThresholdMs)
	return att, true, nil
}

// openAsSlave attaches to an existing region. There is nothing to create:
// a missing region is an attach failure.
func openAsSlave(name string) (*attachment, error) {
	att, err := mapExisting(name)
	if err != nil {
		return nil, err
	}
	if !att.validMagic() {
		att.unmap()
		return nil, ErrInvalidMagic
	}
	return att, nil
}

// openAuto attaches as slave when the region exists and creates as master
// otherwise. When existence flips between the check and the open, one retry
// as the other role resolves the race.
func openAuto(name string, staleThresholdMs uint32) (att *attachment, role Role, creator bool, err error) {
	if shm.Exists(name) {
		att, err = openAsSlave(name)
		if err == nil {
			log.Infof("auto role: attached to %s as slave", name)
			return att, RoleSlave, false, nil
		}
	}
	att, err = createRegion(name)
	if err == nil {
		att.initHeader(staleThresholdMs)
		log.Infof("auto role: created %s as master", name)
		return att, RoleMaster, true, nil
	}
	if errors.Is(err, errRegionExists) {
		att, err = openAsSlave(name)
		if err == nil {
			log.Infof("auto role: lost create race on %s, attached as slave", name)
			return att, RoleSlave, false, nil
		}
	}
	return nil, RoleAuto, false, err
}
