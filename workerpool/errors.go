// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package workerpool

import "errors"

// ErrRejectedExecution is the default AbortPolicy's error; other
// policies absorb rejection instead of surfacing it.
var ErrRejectedExecution = errors.New("workerpool: task rejected")

// ErrPoolClosed is AbortPolicy's error for a task submitted once the
// pool has left the running state.
var ErrPoolClosed = errors.New("workerpool: pool is shutting down or shut down")
