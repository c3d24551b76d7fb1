package eshm

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

// handleRegistry tracks the live handles of this process, keyed by region
// name and role. It exists for introspection; nothing on the data path
// consults it.
var handleRegistry = cmap.New[*Handle]()

func registryKey(h *Handle) string {
	return h.shmName + "|" + h.role.String()
}

func registerHandle(h *Handle) {
	handleRegistry.Set(registryKey(h), h)
}

func unregisterHandle(h *Handle) {
	handleRegistry.Remove(registryKey(h))
}

// ActiveRegions lists the region attachments currently open in this process,
// as "name|role" keys.
func ActiveRegions() []string {
	return handleRegistry.Keys()
}

// LookupHandle returns the live handle for a region name and role, if this
// process holds one.
func LookupHandle(name string, role Role) (*Handle, bool) {
	return handleRegistry.Get(regionName(name) + "|" + role.String())
}
