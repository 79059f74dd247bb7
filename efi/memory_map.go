package efi

import (
	"encoding/binary"
	"iter"
	"math"

	"github.com/AidoP/cherimoya/kernel"
	"github.com/AidoP/cherimoya/kernel/mm"
	"github.com/AidoP/cherimoya/kernel/mm/pmm"
)

const (
	// MinDescriptorSize is the encoded size of a MemoryDescriptor. Firmware
	// may use a larger stride between descriptors.
	MinDescriptorSize = 40

	// DefaultDescriptorSize is the descriptor stride used by common
	// firmware implementations.
	DefaultDescriptorSize = 48

	// MemoryDescriptorVersion is the descriptor layout version reported by
	// GetMemoryMap.
	MemoryDescriptorVersion = 1
)

var (
	errDescriptorSize = &kernel.Error{Module: "efi", Message: "memory descriptor size is too small"}
	errMapLength      = &kernel.Error{Module: "efi", Message: "memory map length is not a multiple of the descriptor size"}
)

// MemoryDescriptor describes a run of physical pages that share a memory
// type and attributes.
type MemoryDescriptor struct {
	Type          MemoryType
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     MemoryAttribute
}

// End returns the physical address just past the described range.
func (d MemoryDescriptor) End() uint64 {
	return d.PhysicalStart + d.NumberOfPages<<mm.PageShift
}

// Overflows reports whether the range described by d runs past the end of
// the 64-bit address space, in which case End wraps.
func (d MemoryDescriptor) Overflows() bool {
	return d.NumberOfPages > (math.MaxUint64-d.PhysicalStart)>>mm.PageShift
}

// Segment converts the descriptor to the allocator's view of the range.
func (d MemoryDescriptor) Segment() pmm.MemorySegment {
	return pmm.MemorySegment{
		Page:       uintptr(d.PhysicalStart),
		Count:      d.NumberOfPages,
		Usage:      d.Type.Usage(),
		Properties: d.Attribute.Properties(),
	}
}

// encode writes the descriptor to the first MinDescriptorSize bytes of buf
// using the firmware layout. Bytes 4-7 are padding.
func (d MemoryDescriptor) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(d.Type))
	binary.LittleEndian.PutUint32(buf[4:], 0)
	binary.LittleEndian.PutUint64(buf[8:], d.PhysicalStart)
	binary.LittleEndian.PutUint64(buf[16:], d.VirtualStart)
	binary.LittleEndian.PutUint64(buf[24:], d.NumberOfPages)
	binary.LittleEndian.PutUint64(buf[32:], uint64(d.Attribute))
}

func decodeDescriptor(buf []byte) MemoryDescriptor {
	return MemoryDescriptor{
		Type:          MemoryType(binary.LittleEndian.Uint32(buf[0:])),
		PhysicalStart: binary.LittleEndian.Uint64(buf[8:]),
		VirtualStart:  binary.LittleEndian.Uint64(buf[16:]),
		NumberOfPages: binary.LittleEndian.Uint64(buf[24:]),
		Attribute:     MemoryAttribute(binary.LittleEndian.Uint64(buf[32:])),
	}
}

// MemoryMap is a snapshot of the firmware memory map as returned by
// GetMemoryMap.
type MemoryMap struct {
	buf            []byte
	descriptorSize int
	version        uint32
	key            uintptr
}

// newMemoryMap wraps a raw memory map buffer holding descriptors spaced
// descriptorSize bytes apart.
func newMemoryMap(buf []byte, descriptorSize int, version uint32, key uintptr) (*MemoryMap, *kernel.Error) {
	if descriptorSize < MinDescriptorSize {
		return nil, errDescriptorSize
	}
	if len(buf)%descriptorSize != 0 {
		return nil, errMapLength
	}

	return &MemoryMap{buf: buf, descriptorSize: descriptorSize, version: version, key: key}, nil
}

// encodeMemoryMap lays out descs in a freshly allocated buffer.
func encodeMemoryMap(descs []MemoryDescriptor, descriptorSize int, key uintptr) *MemoryMap {
	buf := make([]byte, len(descs)*descriptorSize)
	for i, desc := range descs {
		desc.encode(buf[i*descriptorSize:])
	}

	return &MemoryMap{buf: buf, descriptorSize: descriptorSize, version: MemoryDescriptorVersion, key: key}
}

// Key identifies the state of the firmware memory map at the time the
// snapshot was taken. It must be passed to ExitBootServices.
func (m *MemoryMap) Key() uintptr { return m.key }

// DescriptorSize returns the stride between descriptors in bytes.
func (m *MemoryMap) DescriptorSize() int { return m.descriptorSize }

// Version returns the descriptor layout version.
func (m *MemoryMap) Version() uint32 { return m.version }

// Len returns the number of descriptors in the map.
func (m *MemoryMap) Len() int { return len(m.buf) / m.descriptorSize }

// Bytes returns the raw memory map buffer.
func (m *MemoryMap) Bytes() []byte { return m.buf }

// Descriptors returns an iterator over the descriptors in the map.
func (m *MemoryMap) Descriptors() iter.Seq[MemoryDescriptor] {
	return func(yield func(MemoryDescriptor) bool) {
		for off := 0; off+m.descriptorSize <= len(m.buf); off += m.descriptorSize {
			if !yield(decodeDescriptor(m.buf[off:])) {
				return
			}
		}
	}
}

// Segments returns an iterator that converts each descriptor in the map to
// a memory segment.
func (m *MemoryMap) Segments() iter.Seq[pmm.MemorySegment] {
	return func(yield func(pmm.MemorySegment) bool) {
		for desc := range m.Descriptors() {
			if !yield(desc.Segment()) {
				return
			}
		}
	}
}
