// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/devblok/vkplayground/core"
)

func TestSliceUint32(t *testing.T) {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], 0x07230203)
	binary.LittleEndian.PutUint32(data[4:], 1)
	binary.LittleEndian.PutUint32(data[8:], 2)

	words := core.SliceUint32(data)
	if len(words) != 3 {
		t.Fatalf("expected 3 words, got %d", len(words))
	}
	if words[0] != 0x07230203 || words[2] != 2 {
		t.Errorf("unexpected words: %x", words)
	}

	if core.SliceUint32([]byte{1, 2}) != nil {
		t.Error("short input should yield no words")
	}
}

func TestBytes(t *testing.T) {
	values := []uint16{1, 2, 3}
	raw := core.Bytes(unsafe.Pointer(&values[0]), len(values), 2)
	if len(raw) != 6 {
		t.Fatalf("expected 6 bytes, got %d", len(raw))
	}
	if binary.LittleEndian.Uint16(raw[4:]) != 3 {
		t.Error("last element does not match")
	}
}

func TestSafeStrings(t *testing.T) {
	safe := core.SafeStrings([]string{"VK_KHR_swapchain", "VK_KHR_surface"})
	for _, s := range safe {
		if s[len(s)-1] != 0 {
			t.Errorf("%q is not null terminated", s)
		}
	}
}

func BenchmarkSliceUint32Small(b *testing.B) {
	data := make([]byte, 100)
	for idx := 0; idx < b.N; idx++ {
		core.SliceUint32(data)
	}
}

func BenchmarkSliceUint32Medium(b *testing.B) {
	data := make([]byte, 1000)
	for idx := 0; idx < b.N; idx++ {
		core.SliceUint32(data)
	}
}

func BenchmarkSliceUint32Big(b *testing.B) {
	data := make([]byte, 100000)
	for idx := 0; idx < b.N; idx++ {
		core.SliceUint32(data)
	}
}
