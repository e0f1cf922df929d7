package kfmt

import (
	"bytes"
	"errors"
	"testing"
)

func TestPrefixWriter(t *testing.T) {
	specs := []struct {
		input []string
		exp   string
	}{
		{
			[]string{""},
			"",
		},
		{
			[]string{"system memory map:\n"},
			"[pmm] system memory map:\n",
		},
		{
			// A region line emitted in several chunks gets a single prefix.
			[]string{"\t[0x0 - 0x1000], ", "size: 4096, ", "type: usable\n"},
			"[pmm] \t[0x0 - 0x1000], size: 4096, type: usable\n",
		},
		{
			[]string{"system memory map:\n\t[0x1000 - 0x9f000]\nusable memory: 110 MiB\n"},
			"[pmm] system memory map:\n[pmm] \t[0x1000 - 0x9f000]\n[pmm] usable memory: 110 MiB\n",
		},
		{
			[]string{"\n\n"},
			"[pmm] \n[pmm] \n",
		},
	}

	var buf bytes.Buffer
	for specIndex, spec := range specs {
		buf.Reset()
		w := PrefixWriter{Sink: &buf, Prefix: []byte("[pmm] ")}

		for _, chunk := range spec.input {
			wrote, err := w.Write([]byte(chunk))
			if err != nil {
				t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			}

			if expLen := len(chunk); expLen != wrote {
				t.Errorf("[spec %d] expected writer to write %d bytes; wrote %d", specIndex, expLen, wrote)
			}
		}

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected output:\n%q\ngot:\n%q", specIndex, spec.exp, got)
		}
	}
}

func TestPrefixWriterWithFprintf(t *testing.T) {
	var buf bytes.Buffer
	w := PrefixWriter{Sink: &buf, Prefix: []byte("[pmm] ")}

	Fprintf(&w, "usable memory: %d %s\nfree frames: %d/%d\n", 110, "MiB", 31, 1024)

	if exp, got := "[pmm] usable memory: 110 MiB\n[pmm] free frames: 31/1024\n", buf.String(); got != exp {
		t.Fatalf("expected output:\n%q\ngot:\n%q", exp, got)
	}
}

func TestPrefixWriterErrors(t *testing.T) {
	specs := []string{
		"usable memory: 110 MiB",
		"system memory map:\n\t[0x1000 - 0x9f000]\n",
	}

	expErr := errors.New("console detached")
	for specIndex, spec := range specs {
		w := PrefixWriter{Sink: failingWriter{expErr}, Prefix: []byte("[pmm] ")}
		if _, err := w.Write([]byte(spec)); err != expErr {
			t.Errorf("[spec %d] expected error: %v; got %v", specIndex, expErr, err)
		}
	}
}

type failingWriter struct {
	err error
}

func (w failingWriter) Write(_ []byte) (int, error) {
	return 0, w.err
}
