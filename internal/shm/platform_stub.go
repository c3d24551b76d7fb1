//go:build !linux

package shm

import "errors"

var errUnsupported = errors.New("shm: named shared memory requires linux")

// ObjectPath returns the backing path of a named region.
func ObjectPath(name string) string { return name }

// Exists reports whether the named region is currently linked.
func Exists(name string) bool { return false }

// MapRegion is unsupported on this platform.
func MapRegion(opts MapOptions) (*MappedRegion, error) { return nil, errUnsupported }

// UnmapRegion is unsupported on this platform.
func UnmapRegion(region *MappedRegion) error { return errUnsupported }

// Unlink is unsupported on this platform.
func Unlink(name string) error { return errUnsupported }
