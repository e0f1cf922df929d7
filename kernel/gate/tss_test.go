package gate

import (
	"testing"
	"unsafe"
)

func TestTaskStateSegmentLayout(t *testing.T) {
	if got := unsafe.Sizeof(TaskStateSegment{}); got != 104 {
		t.Fatalf("expected TSS size to be 104; got %d", got)
	}

	var tss TaskStateSegment
	for i := range tss {
		tss[i] = 0xaa
	}
	tss.Reset()

	if got := tss.IOMapBase(); got != 104 {
		t.Fatalf("expected I/O map base to be 104; got %d", got)
	}

	tss.SetPrivilegeStack(0, 0xffff800000110000)
	tss.SetPrivilegeStack(2, 0x1122334455667788)

	specs := []struct {
		offset int
		exp    []byte
	}{
		{0, []byte{0, 0, 0, 0}},
		// RSP0
		{4, []byte{0x00, 0x00, 0x11, 0x00, 0x00, 0x80, 0xff, 0xff}},
		// RSP1
		{12, []byte{0, 0, 0, 0, 0, 0, 0, 0}},
		// RSP2
		{20, []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}},
		// Reserved, IST1-IST7, reserved
		{28, make([]byte, 74)},
		// I/O map base
		{102, []byte{104, 0}},
	}

	for specIndex, spec := range specs {
		for i, expByte := range spec.exp {
			if got := tss[spec.offset+i]; got != expByte {
				t.Errorf("[spec %d] expected byte at offset %d to be 0x%x; got 0x%x", specIndex, spec.offset+i, expByte, got)
			}
		}
	}

	if got := tss.PrivilegeStack(0); got != 0xffff800000110000 {
		t.Errorf("expected RSP0 to be 0xffff800000110000; got 0x%x", got)
	}
}
