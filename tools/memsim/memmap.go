package main

import (
	"fmt"
	"io"

	"lumenos/kernel/hal/limine"

	"gopkg.in/yaml.v3"
)

// regionTypes maps the region type names accepted in memory map files to
// the types reported by the bootloader.
var regionTypes = map[string]limine.MemoryEntryType{
	"usable":                 limine.MemUsable,
	"reserved":               limine.MemReserved,
	"acpi_reclaimable":       limine.MemAcpiReclaimable,
	"acpi_nvs":               limine.MemAcpiNvs,
	"bad":                    limine.MemBad,
	"bootloader_reclaimable": limine.MemBootloaderReclaimable,
	"kernel_and_modules":     limine.MemKernelAndModules,
	"framebuffer":            limine.MemFramebuffer,
	"unknown":                limine.MemUnknown,
}

// memoryMapFile describes the contents of a memory map file:
//
//	regions:
//	  - base: 0x100000
//	    length: 0x7ee0000
//	    type: usable
type memoryMapFile struct {
	Regions []struct {
		Base   uint64 `yaml:"base"`
		Length uint64 `yaml:"length"`
		Type   string `yaml:"type"`
	} `yaml:"regions"`
}

// parseMemoryMap decodes a memory map file into the entries a bootloader
// would report.
func parseMemoryMap(r io.Reader) ([]limine.MemoryMapEntry, error) {
	var file memoryMapFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding memory map: %w", err)
	}

	if len(file.Regions) == 0 {
		return nil, fmt.Errorf("memory map does not define any regions")
	}

	entries := make([]limine.MemoryMapEntry, 0, len(file.Regions))
	for index, region := range file.Regions {
		regionType, ok := regionTypes[region.Type]
		if !ok {
			return nil, fmt.Errorf("region %d: unknown region type %q", index, region.Type)
		}

		if region.Base+region.Length < region.Base {
			return nil, fmt.Errorf("region %d: [0x%x, +0x%x) overflows the address space", index, region.Base, region.Length)
		}

		entries = append(entries, limine.MemoryMapEntry{
			PhysAddress: region.Base,
			Length:      region.Length,
			Type:        regionType,
		})
	}

	return entries, nil
}

// usableEnd returns the end address of the highest usable region.
func usableEnd(entries []limine.MemoryMapEntry) uint64 {
	var end uint64
	for _, entry := range entries {
		if entry.Type == limine.MemUsable && entry.PhysAddress+entry.Length > end {
			end = entry.PhysAddress + entry.Length
		}
	}
	return end
}
