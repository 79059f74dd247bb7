package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AidoP/cherimoya/internal/memmap"
	"github.com/AidoP/cherimoya/kernel/mm"
	"github.com/AidoP/cherimoya/kernel/mm/pmm"
)

func TestBootCommand(t *testing.T) {
	resetFlags(t)

	output, err := captureOutput(t, func() error {
		return runBoot([]string{testMachinePath(t, "machine.yaml")})
	})
	require.NoError(t, err)

	assert.Contains(t, output, "firmware | [loader] booting\r\n")
	assert.Contains(t, output, "firmware | [loader] available memory: 1660Kb\r\n")
	assert.Contains(t, output, "kernel   | [loader] exited boot services")
	assert.Contains(t, output, "kernel   | [kmain] starting cherimoya\n")
	assert.Contains(t, output, "Free table root:  0x1fc000\n")
	assert.Contains(t, output, "Free pages:       411\n")
	assert.Contains(t, output, "Table pages:      4\n")
}

func TestBootCommandJSON(t *testing.T) {
	resetFlags(t)
	jsonOut = true
	bootAllocFrames = 3

	output, err := captureOutput(t, func() error {
		return runBoot([]string{testMachinePath(t, "machine.yaml")})
	})
	require.NoError(t, err)

	var summary BootSummary
	require.NoError(t, json.Unmarshal([]byte(output), &summary))
	assert.Equal(t, uint64(0), summary.WindowBase)
	assert.Equal(t, uint64(0x200000), summary.WindowEnd)
	assert.Equal(t, uint64(0x1fc000), summary.FreeTable)
	assert.Equal(t, uint64(411<<mm.PageShift), summary.LastFree)
	assert.Equal(t, uint64(411), summary.FreePages)
	assert.Equal(t, []uintptr{0x1fb000, 0x1fa000, 0x1f9000}, summary.Frames)
}

func TestBootCommandQuiet(t *testing.T) {
	resetFlags(t)
	quiet = true

	output, err := captureOutput(t, func() error {
		return runBoot([]string{testMachinePath(t, "machine.yaml")})
	})
	require.NoError(t, err)
	assert.Empty(t, output)
}

func TestBootCommandOutOfMemory(t *testing.T) {
	resetFlags(t)
	quiet = true
	bootAllocFrames = 5

	path := writeMachine(t, "regions:\n  - {type: conventional, start: 0x100000, pages: 8}\n")
	err := runBoot([]string{path})
	assert.ErrorIs(t, err, pmm.ErrOutOfMemory)
}

func TestBootCommandErrors(t *testing.T) {
	specs := []struct {
		name   string
		format string
		path   func(t *testing.T) string
		expErr error
	}{
		{
			name:   "unknown format",
			format: "json",
			path:   func(t *testing.T) string { return testMachinePath(t, "machine.yaml") },
			expErr: memmap.ErrUnknownFormat,
		},
		{
			name:   "no free memory",
			format: "yaml",
			path: func(t *testing.T) string {
				return writeMachine(t, "regions:\n  - {type: reserved, start: 0x0, pages: 16}\n")
			},
			expErr: errNoUsableMemory,
		},
		{
			name:   "empty map",
			format: "yaml",
			path:   func(t *testing.T) string { return writeMachine(t, "regions: []\n") },
			expErr: memmap.ErrEmptyMap,
		},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			resetFlags(t)
			quiet = true
			mapFormat = spec.format

			err := runBoot([]string{spec.path(t)})
			assert.ErrorIs(t, err, spec.expErr)
		})
	}
}
