package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AidoP/cherimoya/efi"
	"github.com/AidoP/cherimoya/kernel"
	"github.com/AidoP/cherimoya/kernel/kfmt"
	"github.com/AidoP/cherimoya/kernel/kmain"
	"github.com/AidoP/cherimoya/kernel/mm"
	"github.com/AidoP/cherimoya/kernel/mm/physmem"
	"github.com/AidoP/cherimoya/kernel/mm/pmm"
	"github.com/AidoP/cherimoya/loader"
)

var (
	bootAllocFrames int
)

var errNoUsableMemory = errors.New("memory map has no free memory")

func init() {
	cmd := newBootCmd()
	cmd.Flags().IntVar(&bootAllocFrames, "alloc", 0, "Allocate frames from the kernel after boot")
	rootCmd.AddCommand(cmd)
}

func newBootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boot <memmap>",
		Short: "Boot the allocator on an emulated machine",
		Long: `The boot command backs the free memory of a machine with an emulated
physical address space, runs the loader against emulated boot services and
enters the kernel with the resulting allocator.

Example:
  kboot boot machine.yaml
  kboot boot qemu.mbi --format multiboot --alloc 4
  kboot boot machine.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoot(args)
		},
	}
	return cmd
}

// BootSummary describes the allocator handed to the kernel.
type BootSummary struct {
	MemoryMap  string    `json:"memory_map"`
	WindowBase uint64    `json:"window_base"`
	WindowEnd  uint64    `json:"window_end"`
	FreeTable  uint64    `json:"free_table"`
	LastFree   uint64    `json:"last_free"`
	FreePages  uint64    `json:"free_pages"`
	TablePages uint64    `json:"table_pages"`
	Frames     []uintptr `json:"frames,omitempty"`
}

func runBoot(args []string) error {
	machine, err := loadMachine(args[0])
	if err != nil {
		return err
	}

	base, end := machine.Window()
	if end == 0 {
		return fmt.Errorf("%s: %w", args[0], errNoUsableMemory)
	}
	printVerbose("Backing physical memory [0x%x - 0x%x)\n", base, end)

	arena, kerr := physmem.New(uintptr(base), mm.Size(end-base))
	if kerr != nil {
		return kerr
	}
	arena.Install()
	defer func() {
		mm.SetFrameAllocator(nil)
		kfmt.SetOutputSink(nil)
		_ = arena.Close()
	}()

	logs := logOutput()
	screen := efi.NewTerminal(&kfmt.PrefixWriter{Sink: logs, Prefix: []byte("firmware | ")})
	defer screen.Close()

	fw, kerr := efi.NewFirmware(machine.Descriptors, machine.DescriptorSize, screen)
	if kerr != nil {
		return kerr
	}

	summary := BootSummary{
		MemoryMap:  args[0],
		WindowBase: base,
		WindowEnd:  end,
	}

	kernelLog := &kfmt.PrefixWriter{Sink: logs, Prefix: []byte("kernel   | ")}
	kerr = loader.Boot(fw, kernelLog, func(alloc pmm.Allocator) *kernel.Error {
		summary.FreeTable = uint64(alloc.FreeTable())
		summary.LastFree = uint64(alloc.LastFree())
		summary.FreePages = alloc.FreePages()
		summary.TablePages = alloc.TablePages()

		if err := kmain.Kmain(alloc); err != nil {
			return err
		}

		for i := 0; i < bootAllocFrames; i++ {
			frame, err := mm.AllocFrame()
			if err != nil {
				return err
			}
			summary.Frames = append(summary.Frames, frame.Address())
		}
		return nil
	})
	if kerr != nil {
		return kerr
	}

	if jsonOut {
		return printJSON(summary)
	}

	printInfo("\nBoot summary for %s\n", summary.MemoryMap)
	printInfo("  Physical window:  [0x%x - 0x%x)\n", summary.WindowBase, summary.WindowEnd)
	printInfo("  Free table root:  0x%x\n", summary.FreeTable)
	printInfo("  Last free slot:   0x%x\n", summary.LastFree)
	printInfo("  Free pages:       %d\n", summary.FreePages)
	printInfo("  Table pages:      %d\n", summary.TablePages)
	for i, frame := range summary.Frames {
		printInfo("  Frame %-4d        0x%x\n", i, frame)
	}
	return nil
}
