package eshm

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestLayoutSizes(t *testing.T) {
	assert.Equal(t, uintptr(64), unsafe.Sizeof(header{}))
	assert.Zero(t, unsafe.Sizeof(channel{})%64)
	assert.Equal(t, int(unsafe.Sizeof(header{})+2*unsafe.Sizeof(channel{})), RegionSize)
}

func TestLayoutOffsets(t *testing.T) {
	var r region
	assert.Equal(t, uintptr(0), unsafe.Offsetof(r.hdr))
	assert.Equal(t, unsafe.Sizeof(header{}), unsafe.Offsetof(r.masterToSlave))
	assert.Zero(t, unsafe.Offsetof(r.slaveToMaster)%64)

	var c channel
	assert.Equal(t, uintptr(0), unsafe.Offsetof(c.seq))
	assert.Equal(t, uintptr(4), unsafe.Offsetof(c.dataSize))
	assert.Equal(t, uintptr(8), unsafe.Offsetof(c.data))
	assert.Equal(t, uintptr(8+MaxDataSize), unsafe.Offsetof(c.writeCount))
}

func TestLayoutConstants(t *testing.T) {
	assert.Equal(t, uint32(0x4553484D), Magic)
	assert.Equal(t, uint32(2), Version)
	assert.Equal(t, 4096, MaxDataSize)
}
