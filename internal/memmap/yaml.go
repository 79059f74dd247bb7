package memmap

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/AidoP/cherimoya/efi"
	"github.com/AidoP/cherimoya/kernel/mm"
)

type yamlMachine struct {
	DescriptorSize int          `yaml:"descriptor_size,omitempty"`
	Regions        []yamlRegion `yaml:"regions"`
}

type yamlRegion struct {
	Type       string   `yaml:"type"`
	Start      hexAddr  `yaml:"start"`
	Pages      uint64   `yaml:"pages"`
	Attributes []string `yaml:"attributes,omitempty,flow"`
}

// hexAddr is a physical address that is written as a hex literal.
type hexAddr uint64

// MarshalYAML implements yaml.Marshaler.
func (a hexAddr) MarshalYAML() (interface{}, error) {
	return &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!int",
		Value: "0x" + strconv.FormatUint(uint64(a), 16),
	}, nil
}

func decodeYAML(r io.Reader) (*Machine, error) {
	var doc yamlMachine

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyMap
		}
		return nil, err
	}

	m := &Machine{DescriptorSize: doc.DescriptorSize}
	if m.DescriptorSize == 0 {
		m.DescriptorSize = efi.DefaultDescriptorSize
	}
	if m.DescriptorSize < efi.MinDescriptorSize {
		return nil, fmt.Errorf("descriptor_size must be at least %d; got %d", efi.MinDescriptorSize, m.DescriptorSize)
	}

	for i, region := range doc.Regions {
		memType, ok := efi.ParseMemoryType(region.Type)
		if !ok {
			return nil, fmt.Errorf("region %d: unknown memory type %q", i, region.Type)
		}

		if uint64(region.Start)&uint64(mm.PageSize-1) != 0 {
			return nil, fmt.Errorf("region %d: start 0x%x is not page aligned", i, uint64(region.Start))
		}

		if region.Pages == 0 {
			return nil, fmt.Errorf("region %d: pages must be positive", i)
		}

		var attrs efi.MemoryAttribute
		for _, name := range region.Attributes {
			attr, ok := efi.ParseMemoryAttribute(name)
			if !ok {
				return nil, fmt.Errorf("region %d: unknown attribute %q", i, name)
			}
			attrs |= attr
		}

		desc := efi.MemoryDescriptor{
			Type:          memType,
			PhysicalStart: uint64(region.Start),
			NumberOfPages: region.Pages,
			Attribute:     attrs,
		}
		if desc.Overflows() {
			return nil, fmt.Errorf("region %d: %d pages at 0x%x run past the end of the address space", i, region.Pages, uint64(region.Start))
		}

		m.Descriptors = append(m.Descriptors, desc)
	}

	return m, nil
}
