package main

import (
	"fmt"
	"math"

	"github.com/fogleman/gg"
	"github.com/spf13/cobra"

	"github.com/AidoP/cherimoya/internal/memmap"
	"github.com/AidoP/cherimoya/kernel/mm/pmm"
)

const (
	renderRowHeight  = 22
	renderLabelWidth = 380
	renderMargin     = 10
)

var (
	renderOutput string
	renderWidth  int
)

// usageColors are the RGB fill colors of each memory usage.
var usageColors = map[pmm.MemoryUsage][3]float64{
	pmm.Reserved:       {0.55, 0.55, 0.55},
	pmm.AllocatorOwned: {0.95, 0.65, 0.15},
	pmm.Free:           {0.30, 0.70, 0.35},
	pmm.Unusable:       {0.80, 0.25, 0.25},
	pmm.Mmio:           {0.30, 0.45, 0.80},
}

func init() {
	cmd := newRenderCmd()
	cmd.Flags().StringVarP(&renderOutput, "output", "o", "memmap.png", "Output PNG file")
	cmd.Flags().IntVar(&renderWidth, "width", 1024, "Image width in pixels")
	rootCmd.AddCommand(cmd)
}

func newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <memmap>",
		Short: "Render the memory map as a PNG image",
		Long: `The render command draws one bar per memory map entry, colored by how
the allocator treats the memory. Bar lengths grow with the logarithm of the
region size so that single pages stay visible next to gigabytes of RAM.

Example:
  kboot render machine.yaml -o machine.png
  kboot render qemu.mbi --format multiboot --width 1600`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(args)
		},
	}
	return cmd
}

func runRender(args []string) error {
	machine, err := loadMachine(args[0])
	if err != nil {
		return err
	}

	if renderWidth <= renderLabelWidth+2*renderMargin {
		return fmt.Errorf("image width must exceed %d pixels", renderLabelWidth+2*renderMargin)
	}

	dc := drawMemoryMap(machine, renderWidth)
	if err := dc.SavePNG(renderOutput); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}

	printInfo("Rendered %d regions to %s\n", len(machine.Descriptors), renderOutput)
	return nil
}

// drawMemoryMap draws the memory map of machine onto a new context.
func drawMemoryMap(machine *memmap.Machine, width int) *gg.Context {
	height := 2*renderMargin + len(machine.Descriptors)*renderRowHeight
	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	var maxPages uint64
	for _, desc := range machine.Descriptors {
		maxPages = max(maxPages, desc.NumberOfPages)
	}

	barSpace := float64(width - renderLabelWidth - 2*renderMargin)
	for i, desc := range machine.Descriptors {
		y := float64(renderMargin + i*renderRowHeight)

		dc.SetRGB(0, 0, 0)
		label := fmt.Sprintf("0x%012x %-20s %d", desc.PhysicalStart, desc.Type, desc.NumberOfPages)
		dc.DrawStringAnchored(label, renderMargin, y+renderRowHeight/2, 0, 0.5)

		rgb := usageColors[desc.Type.Usage()]
		dc.SetRGB(rgb[0], rgb[1], rgb[2])
		barWidth := barSpace * math.Log2(float64(desc.NumberOfPages)+1) / math.Log2(float64(maxPages)+1)
		dc.DrawRectangle(float64(renderMargin+renderLabelWidth), y+2, math.Max(barWidth, 1), renderRowHeight-4)
		dc.Fill()
	}

	return dc
}
