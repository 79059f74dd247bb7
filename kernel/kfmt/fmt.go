// Package kfmt implements the logging primitives used by the boot path.
//
// Code in this module runs before the kernel owns any heap: the loader
// executes on top of firmware boot services and the allocator is still
// discovering pages. The formatter therefore never allocates; it writes
// through a fixed scratch buffer and falls back to a ring buffer until an
// output sink is attached.
package kfmt

import (
	"io"
	"strconv"
)

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 64

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	// numFmtBuf is the scratch space used by fmtInt. Its backing array is
	// a package global so that strconv.Append* never has to grow it.
	numFmtBuf [maxBufSize]byte

	// singleByte is used as a shared buffer for passing single characters
	// to doWrite.
	singleByte = []byte(" ")

	// earlyPrintBuffer is a ring buffer that stores Printf output before an
	// output sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// Stringer is implemented by enumerations that can describe themselves
// (memory types, usage classes) without allocating.
type Stringer interface {
	String() string
}

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// OutputSink returns the currently attached output sink or nil if output is
// still being buffered.
func OutputSink() io.Writer {
	return outputSink
}

// Printf provides a minimal Printf implementation that does not allocate any
// memory and can therefore be used while the physical memory allocator is
// still being bootstrapped.
//
// Supported verbs:
//
//	%s  string, []byte or a value implementing Stringer
//	%o  base 8 integer
//	%d  base 10 integer
//	%x  base 16 integer, lower-case
//	%t  "true" or "false"
//
// Width is specified by an optional decimal number immediately preceding the
// verb. Strings and base-10 integers are left-padded with spaces; base-8 and
// base-16 integers are left-padded with zeroes.
//
// The output of Printf is written to the active output sink. If no sink is
// attached, the output is buffered into a ring buffer and replayed by the
// next call to SetOutputSink.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		padLen   int
		fmtLen   = len(format)
	)

	for i := 0; i < fmtLen; i++ {
		if format[i] != '%' {
			writeByte(w, format[i])
			continue
		}

		padLen = 0
		for i++; i < fmtLen && format[i] >= '0' && format[i] <= '9'; i++ {
			padLen = (padLen * 10) + int(format[i]-'0')
		}

		if i == fmtLen {
			doWrite(w, errNoVerb)
			break
		}

		switch verb := format[i]; verb {
		case '%':
			writeByte(w, '%')
		case 'd', 'x', 'o', 's', 't':
			if argIndex >= len(args) {
				doWrite(w, errMissingArg)
				continue
			}

			arg := args[argIndex]
			argIndex++

			switch verb {
			case 'o':
				fmtInt(w, arg, 8, padLen)
			case 'd':
				fmtInt(w, arg, 10, padLen)
			case 'x':
				fmtInt(w, arg, 16, padLen)
			case 's':
				fmtString(w, arg, padLen)
			case 't':
				fmtBool(w, arg)
			}
		default:
			doWrite(w, errNoVerb)
		}
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

// fmtBool prints a formatted version of boolean value v.
func fmtBool(w io.Writer, v interface{}) {
	bVal, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case bVal:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

// fmtString prints a formatted version of string or []byte value v, applying
// the padding specified by padLen.
func fmtString(w io.Writer, v interface{}, padLen int) {
	switch castedVal := v.(type) {
	case string:
		writeString(w, castedVal, padLen)
	case []byte:
		fmtRepeat(w, ' ', padLen-len(castedVal))
		doWrite(w, castedVal)
	case Stringer:
		writeString(w, castedVal.String(), padLen)
	default:
		doWrite(w, errWrongArgType)
	}
}

// writeString emits str one byte at a time; converting it to a []byte would
// allocate.
func writeString(w io.Writer, str string, padLen int) {
	fmtRepeat(w, ' ', padLen-len(str))
	for i := 0; i < len(str); i++ {
		writeByte(w, str[i])
	}
}

// fmtRepeat writes count bytes with value ch.
func fmtRepeat(w io.Writer, ch byte, count int) {
	for i := 0; i < count; i++ {
		writeByte(w, ch)
	}
}

// fmtInt prints out a formatted version of v in the requested base, applying
// the padding specified by padLen. This function supports all built-in signed
// and unsigned integer types.
func fmtInt(w io.Writer, v interface{}, base, padLen int) {
	var (
		sval     int64
		uval     uint64
		unsigned = true
	)

	switch castedVal := v.(type) {
	case uint8:
		uval = uint64(castedVal)
	case uint16:
		uval = uint64(castedVal)
	case uint32:
		uval = uint64(castedVal)
	case uint64:
		uval = castedVal
	case uint:
		uval = uint64(castedVal)
	case uintptr:
		uval = uint64(castedVal)
	case int8:
		sval, unsigned = int64(castedVal), false
	case int16:
		sval, unsigned = int64(castedVal), false
	case int32:
		sval, unsigned = int64(castedVal), false
	case int64:
		sval, unsigned = castedVal, false
	case int:
		sval, unsigned = int64(castedVal), false
	default:
		doWrite(w, errWrongArgType)
		return
	}

	var digits []byte
	if unsigned {
		digits = strconv.AppendUint(numFmtBuf[:0], uval, base)
	} else {
		digits = strconv.AppendInt(numFmtBuf[:0], sval, base)
	}

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	// Zero padding goes between the sign and the digits; space padding
	// goes in front of the sign.
	if len(digits) < padLen {
		if padCh == ' ' || digits[0] != '-' {
			fmtRepeat(w, padCh, padLen-len(digits))
		} else {
			writeByte(w, '-')
			fmtRepeat(w, padCh, padLen-len(digits))
			digits = digits[1:]
		}
	}

	doWrite(w, digits)
}

func writeByte(w io.Writer, b byte) {
	singleByte[0] = b
	doWrite(w, singleByte)
}

// doWrite sends p to w or, if no writer is available, to the early print
// buffer.
func doWrite(w io.Writer, p []byte) {
	if w != nil {
		_, _ = w.Write(p)
	} else {
		_, _ = earlyPrintBuffer.Write(p)
	}
}
