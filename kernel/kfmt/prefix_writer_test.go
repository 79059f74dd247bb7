package kfmt

import (
	"bytes"
	"errors"
	"testing"
)

func TestPrefixWriter(t *testing.T) {
	specs := []struct {
		input string
		exp   string
	}{
		{
			"",
			"",
		},
		{
			"\n",
			"[pmm] \n",
		},
		{
			"no line break anywhere",
			"[pmm] no line break anywhere",
		},
		{
			"line feed at the end\n",
			"[pmm] line feed at the end\n",
		},
		{
			"\nfree pages: 12\nscaffold pages: 1\nlast free: 0x3000",
			"[pmm] \n[pmm] free pages: 12\n[pmm] scaffold pages: 1\n[pmm] last free: 0x3000",
		},
	}

	var buf bytes.Buffer

	for specIndex, spec := range specs {
		buf.Reset()
		w := PrefixWriter{Sink: &buf, Prefix: []byte("[pmm] ")}

		wrote, err := w.Write([]byte(spec.input))
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
		}

		if expLen := len(spec.input); expLen != wrote {
			t.Errorf("[spec %d] expected writer to write %d bytes; wrote %d", specIndex, expLen, wrote)
		}

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected output:\n%q\ngot:\n%q", specIndex, spec.exp, got)
		}
	}
}

func TestPrefixWriterAcrossWrites(t *testing.T) {
	var buf bytes.Buffer
	w := PrefixWriter{Sink: &buf, Prefix: []byte("> ")}

	Fprintf(&w, "region %d", 1)
	Fprintf(&w, ": ok\nregion %d: ok\n", 2)

	if exp, got := "> region 1: ok\n> region 2: ok\n", buf.String(); got != exp {
		t.Fatalf("expected output:\n%q\ngot:\n%q", exp, got)
	}
}

func TestPrefixWriterErrors(t *testing.T) {
	expErr := errors.New("write failed")

	for index, failAt := range []int{0, 1} {
		w := PrefixWriter{Sink: &failingWriter{failAt: failAt, err: expErr}, Prefix: []byte("prefix: ")}

		if _, err := w.Write([]byte("line\n")); err != expErr {
			t.Errorf("[spec %d] expected to get error %v; got %v", index, expErr, err)
		}
	}
}

type failingWriter struct {
	calls, failAt int
	err           error
}

func (w *failingWriter) Write(p []byte) (int, error) {
	defer func() { w.calls++ }()
	if w.calls == w.failAt {
		return 0, w.err
	}
	return len(p), nil
}
