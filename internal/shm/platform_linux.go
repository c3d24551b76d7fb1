//go:build linux

package shm

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// objectMode matches the POSIX shm permissions the peers agree on. Both
// processes may run as different users on the same host.
const objectMode = 0o666

// ObjectPath returns the backing path of a named region under /dev/shm.
func ObjectPath(name string) string {
	return filepath.Join("/dev/shm", name)
}

// Exists reports whether the named region is currently linked.
func Exists(name string) bool {
	var st unix.Stat_t
	return unix.Stat(ObjectPath(name), &st) == nil
}

// MapRegion opens or creates a named shared memory object and maps it
// read/write.
func MapRegion(opts MapOptions) (*MappedRegion, error) {
	flags := unix.O_RDWR
	if opts.Create {
		flags |= unix.O_CREAT | unix.O_EXCL
	}
	path := ObjectPath(opts.Name)
	fd, err := unix.Open(path, flags, objectMode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if opts.Create {
		if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
			_ = unix.Close(fd)
			_ = unix.Unlink(path)
			return nil, fmt.Errorf("ftruncate: %w", err)
		}
	}
	addr, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		if opts.Create {
			_ = unix.Unlink(path)
		}
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{
		Addr: addr,
		Fd:   fd,
		Size: opts.Size,
		Name: opts.Name,
		Path: path,
	}, nil
}

// UnmapRegion unmaps the region and closes its descriptor. The name stays
// linked; see Unlink.
func UnmapRegion(region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	if err := unix.Munmap(region.Addr); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	region.Addr = nil
	if err := unix.Close(region.Fd); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	region.Fd = -1
	return nil
}

// Unlink removes the name from the filesystem. Peers holding a mapping keep
// it until they unmap. A missing name is not an error.
func Unlink(name string) error {
	if err := unix.Unlink(ObjectPath(name)); err != nil && err != unix.ENOENT {
		return fmt.Errorf("unlink: %w", err)
	}
	return nil
}
