// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"unsafe"
)

type sliceHeader struct {
	Data uintptr
	Len  int
	Cap  int
}

// SliceUint32 reslices bytes into a uint32, that is used
// to sumbit vulkan shaders for processing
func SliceUint32(data []byte) []uint32 {
	if len(data) < 4 {
		return nil
	}
	const m = 0x7fffffff
	return (*[m / 4]uint32)(unsafe.Pointer((*sliceHeader)(unsafe.Pointer(&data)).Data))[:len(data)/4]
}

// Bytes reslices any slice of plain values into its raw bytes,
// size being the size of a single element.
func Bytes(ptr unsafe.Pointer, length, size int) []byte {
	if length == 0 {
		return nil
	}
	const m = 0x7fffffff
	return (*[m]byte)(ptr)[: length*size : length*size]
}

// SafeString null terminates a string for the C side.
func SafeString(s string) string {
	return fmt.Sprintf("%s\x00", s)
}

// SafeStrings null terminates every string in sgs.
func SafeStrings(sgs []string) []string {
	safe := []string{}
	for _, s := range sgs {
		safe = append(safe, SafeString(s))
	}
	return safe
}
