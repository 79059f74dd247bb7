package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/AidoP/cherimoya/internal/memmap"
)

var (
	memmapConvert bool
)

func init() {
	cmd := newMemmapCmd()
	cmd.Flags().BoolVar(&memmapConvert, "yaml", false, "Write the memory map as YAML")
	rootCmd.AddCommand(cmd)
}

func newMemmapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memmap <memmap>",
		Short: "Show the memory map of a machine",
		Long: `The memmap command prints the firmware memory map of a machine and the
allocator segments derived from it. With --yaml the map is written back out
as YAML, which converts captured multiboot info blocks into editable files.

Example:
  kboot memmap machine.yaml
  kboot memmap qemu.mbi --format multiboot --yaml > qemu.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemmap(args)
		},
	}
	return cmd
}

// RegionInfo is a memory map entry as reported by the memmap command.
type RegionInfo struct {
	Type       string   `json:"type"`
	Usage      string   `json:"usage"`
	Start      uint64   `json:"start"`
	End        uint64   `json:"end"`
	Pages      uint64   `json:"pages"`
	Attributes []string `json:"attributes,omitempty"`
}

func runMemmap(args []string) error {
	machine, err := loadMachine(args[0])
	if err != nil {
		return err
	}

	if memmapConvert {
		return memmap.Encode(os.Stdout, machine)
	}

	regions := make([]RegionInfo, 0, len(machine.Descriptors))
	for _, desc := range machine.Descriptors {
		regions = append(regions, RegionInfo{
			Type:       desc.Type.String(),
			Usage:      desc.Type.Usage().String(),
			Start:      desc.PhysicalStart,
			End:        desc.End(),
			Pages:      desc.NumberOfPages,
			Attributes: desc.Attribute.Names(),
		})
	}

	if jsonOut {
		return printJSON(regions)
	}

	printInfo("Memory map: %s (descriptor size %d)\n\n", args[0], machine.DescriptorSize)
	printInfo("%-20s %-10s %-18s %-18s %10s  %s\n", "TYPE", "USAGE", "START", "END", "PAGES", "ATTRIBUTES")
	for _, region := range regions {
		printInfo("%-20s %-10s 0x%016x 0x%016x %10d  %v\n",
			region.Type, region.Usage, region.Start, region.End, region.Pages, region.Attributes)
	}

	base, end := machine.Window()
	printVerbose("\nAllocator window: [0x%x - 0x%x)\n", base, end)
	return nil
}
