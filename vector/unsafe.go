//go:build go1.20

package vector

import (
	"unsafe"
)

// byteView reinterprets a slice of one-byte items as bytes without copying.
//
// SAFETY REQUIREMENTS:
// - T must be one byte wide; callers only pass int8 or uint8 based items
// - The returned slice aliases items, writes through it change items
func byteView[T Element](items []T) []byte {
	if len(items) == 0 {
		return nil
	}
	if unsafe.Sizeof(items[0]) != 1 {
		panic("vector: byteView called with multi-byte items")
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(items))), len(items))
}
