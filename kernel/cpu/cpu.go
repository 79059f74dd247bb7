// Package cpu exposes the processor controls used by the boot path of the
// emulated machine.
package cpu

import "os"

// haltExitCode is reported to the host when the emulated CPU halts.
const haltExitCode = 1

var exitFn = os.Exit

// Halt stops instruction execution. On the emulated machine halting the
// processor terminates the host process.
func Halt() {
	exitFn(haltExitCode)
}
