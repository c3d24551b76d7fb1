package eshm

import (
	"fmt"
	"unsafe"
)

// Build-time protocol constants. Both processes must be built from the same
// definition; the magic is the only cross-build validation. The version is
// written into the header but not checked on attach.
const (
	// Magic spells "ESHM".
	Magic uint32 = 0x4553484D
	// Version of the region layout.
	Version uint32 = 2
	// MaxDataSize is the fixed payload capacity of each channel.
	MaxDataSize = 4096

	cacheLine = 64
)

// header is the first cache line of the region. Each side is the sole writer
// of its own heartbeat, pid, and alive cells; the master additionally owns
// magic, version, staleThreshold, and generation.
type header struct {
	magic            uint32
	version          uint32
	masterHeartbeat  uint64
	slaveHeartbeat   uint64
	masterPID        int32
	slavePID         int32
	masterAlive      uint32
	slaveAlive       uint32
	staleThresholdMs uint32
	masterGeneration uint32
	_                [16]byte
}

// channel is one unidirectional payload slot. The sequence counter is even at
// quiescence and odd while a publish is in flight.
type channel struct {
	seq        uint32
	dataSize   uint32
	data       [MaxDataSize]byte
	writeCount uint64
	readCount  uint64
	_          [40]byte
}

// region is the complete shared mapping: header, master-to-slave channel,
// slave-to-master channel, each aligned to a cache line.
type region struct {
	hdr           header
	masterToSlave channel
	slaveToMaster channel
}

// RegionSize is the exact byte size of the shared mapping.
const RegionSize = int(unsafe.Sizeof(region{}))

func init() {
	// The layout is part of the wire protocol. Any drift here breaks the
	// peer, so fail loudly at startup.
	if s := unsafe.Sizeof(header{}); s != cacheLine {
		panic(fmt.Sprintf("eshm: header size is %d, expected %d", s, cacheLine))
	}
	if s := unsafe.Sizeof(channel{}); s%cacheLine != 0 {
		panic(fmt.Sprintf("eshm: channel size %d is not cache-line aligned", s))
	}
	if o := unsafe.Offsetof(region{}.masterToSlave); o%cacheLine != 0 {
		panic(fmt.Sprintf("eshm: master channel offset %d is not cache-line aligned", o))
	}
	if o := unsafe.Offsetof(region{}.slaveToMaster); o%cacheLine != 0 {
		panic(fmt.Sprintf("eshm: slave channel offset %d is not cache-line aligned", o))
	}
	if o := unsafe.Offsetof(channel{}.writeCount); o%8 != 0 {
		panic(fmt.Sprintf("eshm: write counter offset %d is not 8-byte aligned", o))
	}
}

// regionAt overlays the region structure on a mapping. The mapping is page
// aligned, which satisfies every field's alignment requirement.
func regionAt(mem []byte) *region {
	return (*region)(unsafe.Pointer(&mem[0]))
}
