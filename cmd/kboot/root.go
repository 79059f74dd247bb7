package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AidoP/cherimoya/internal/memmap"
)

var (
	// Global flags
	verbose   bool
	quiet     bool
	jsonOut   bool
	mapFormat string
)

var rootCmd = &cobra.Command{
	Use:   "kboot",
	Short: "Boot the cherimoya allocator on an emulated machine",
	Long: `kboot emulates a machine from its firmware memory map. It runs the
loader against emulated boot services, builds the physical memory allocator
from the final memory map and hands it to the kernel.

Memory maps are read from YAML files or from multiboot2 info blocks captured
from a bootloader.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().
		StringVarP(&mapFormat, "format", "f", string(memmap.FormatYAML), "Memory map format (yaml, multiboot)")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// logOutput returns the writer that receives loader and kernel logs. JSON
// output keeps stdout clean by sending logs to stderr.
func logOutput() io.Writer {
	switch {
	case quiet:
		return io.Discard
	case jsonOut:
		return os.Stderr
	default:
		return os.Stdout
	}
}

// loadMachine reads the memory map at path in the format selected by the
// --format flag.
func loadMachine(path string) (*memmap.Machine, error) {
	format, err := memmap.ParseFormat(mapFormat)
	if err != nil {
		return nil, err
	}

	printVerbose("Loading %s memory map: %s\n", format, path)
	return memmap.Load(path, format)
}
