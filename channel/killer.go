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

package channel

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// killer closes a native fd exactly once, matching the channel model's
// invariant that a killed channel releases its fd exactly one time
// regardless of how many selectors raced to cancel its last key.
type killer struct {
	once sync.Once
	fd   int
	err  error
}

func (k *killer) kill() error {
	k.once.Do(func() {
		if err := unix.Close(k.fd); err != nil {
			k.err = os.NewSyscallError("close", err)
		}
	})
	return k.err
}
