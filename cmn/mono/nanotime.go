// Package mono provides low-level monotonic time
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package mono

import (
	_ "unsafe" // for go:linkname
)

// https://golang.org/pkg/runtime/?m=all#nanotime
//
//go:linkname NanoTime runtime.nanotime
func NanoTime() int64

func Since(started int64) int64 { return NanoTime() - started }
