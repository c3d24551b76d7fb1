package eshm

import "strings"

// namePrefix distinguishes eshm regions from other objects under /dev/shm.
const namePrefix = "eshm_"

// regionName derives the on-disk object name from a caller identifier.
// Path separators are rewritten to underscores, so the result is always a
// single path component. The mapping is deterministic; identifiers that
// collide after rewriting share a region.
func regionName(id string) string {
	return namePrefix + strings.ReplaceAll(id, "/", "_")
}
