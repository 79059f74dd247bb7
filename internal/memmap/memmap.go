// Package memmap loads machine descriptions for the emulator. A machine is
// described by its firmware memory map, either written by hand as YAML or
// captured from a multiboot bootloader.
package memmap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/AidoP/cherimoya/efi"
	"github.com/AidoP/cherimoya/kernel/mm"
	"github.com/AidoP/cherimoya/kernel/mm/pmm"
)

// Format identifies the encoding of a memory map file.
type Format string

// Supported memory map formats.
const (
	FormatYAML      Format = "yaml"
	FormatMultiboot Format = "multiboot"
)

var (
	// ErrUnknownFormat is returned for unsupported memory map formats.
	ErrUnknownFormat = errors.New("unknown memory map format")

	// ErrEmptyMap is returned when a memory map describes no memory.
	ErrEmptyMap = errors.New("memory map has no regions")
)

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case FormatYAML, FormatMultiboot:
		return Format(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// Machine is the physical memory layout of an emulated machine.
type Machine struct {
	// DescriptorSize is the stride of the firmware memory map.
	DescriptorSize int

	// Descriptors is the firmware memory map, sorted by address.
	Descriptors []efi.MemoryDescriptor
}

// Window returns the range of physical memory [base, end) that has to be
// backed for the loader and the allocator: every range that is free or
// already owned by the allocator.
func (m *Machine) Window() (base, end uint64) {
	base = ^uint64(0)
	for _, desc := range m.Descriptors {
		switch desc.Type.Usage() {
		case pmm.Free, pmm.AllocatorOwned:
			base = min(base, desc.PhysicalStart)
			end = max(end, desc.End())
		}
	}

	if end == 0 {
		return 0, 0
	}
	return base, end
}

// Load reads the memory map file at path.
func Load(path string, format Format) (*Machine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("memmap: %w", err)
	}
	defer f.Close()

	m, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("memmap: %s: %w", path, err)
	}
	return m, nil
}

// Decode reads a memory map in the given format from r.
func Decode(r io.Reader, format Format) (*Machine, error) {
	var (
		m   *Machine
		err error
	)

	switch format {
	case FormatYAML:
		m, err = decodeYAML(r)
	case FormatMultiboot:
		m, err = decodeMultiboot(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, err
	}

	if len(m.Descriptors) == 0 {
		return nil, ErrEmptyMap
	}

	slices.SortFunc(m.Descriptors, func(a, b efi.MemoryDescriptor) int {
		switch {
		case a.PhysicalStart < b.PhysicalStart:
			return -1
		case a.PhysicalStart > b.PhysicalStart:
			return 1
		default:
			return 0
		}
	})
	return m, nil
}

// Encode writes m to w as YAML.
func Encode(w io.Writer, m *Machine) error {
	doc := yamlMachine{DescriptorSize: m.DescriptorSize}
	for _, desc := range m.Descriptors {
		doc.Regions = append(doc.Regions, yamlRegion{
			Type:       desc.Type.String(),
			Start:      hexAddr(desc.PhysicalStart),
			Pages:      desc.NumberOfPages,
			Attributes: desc.Attribute.Names(),
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("memmap: %w", err)
	}
	return enc.Close()
}

// readAll buffers r; multiboot info blocks are parsed in place.
func readAll(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// pageAlignDown and pageAlignUp round addresses to page boundaries.
func pageAlignDown(addr uint64) uint64 { return addr &^ uint64(mm.PageSize-1) }
func pageAlignUp(addr uint64) uint64   { return pageAlignDown(addr + uint64(mm.PageSize-1)) }
