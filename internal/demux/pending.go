//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

//go:build linux
// +build linux

package demux

// pendingTable stores the staged event mask for each fd that has an
// update in flight. Fds below threshold use a flat slice indexed by
// fd value, a single memory write per update; fds at or above it fall
// back to a map. Most servers only ever see a handful of fds above the
// threshold (if any), so the slice carries the common case.
type pendingTable struct {
	threshold int
	dense     []uint32
	sparse    map[int]uint32
}

func newPendingTable(threshold int) pendingTable {
	return pendingTable{
		threshold: threshold,
		dense:     make([]uint32, threshold),
		sparse:    make(map[int]uint32),
	}
}

func (t *pendingTable) set(fd int, mask uint32) {
	if fd >= 0 && fd < t.threshold {
		t.dense[fd] = mask
		return
	}
	t.sparse[fd] = mask
}

func (t *pendingTable) get(fd int) uint32 {
	if fd >= 0 && fd < t.threshold {
		return t.dense[fd]
	}
	return t.sparse[fd]
}
