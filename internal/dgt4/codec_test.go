package dgt4

import (
	"errors"
	"testing"
)

func TestBytesToRegisters(t *testing.T) {
	t.Parallel()
	regs, err := BytesToRegisters([]byte{0x00, 0x23, 0x12, 0x34})
	if err != nil {
		t.Fatalf("BytesToRegisters failed: %v", err)
	}
	if len(regs) != 2 || regs[0] != 0x0023 || regs[1] != 0x1234 {
		t.Fatalf("unexpected registers %#v", regs)
	}
	if got := RegistersToBytes(regs); string(got) != string([]byte{0x00, 0x23, 0x12, 0x34}) {
		t.Fatalf("round trip mismatch %#v", got)
	}

	if _, err := BytesToRegisters([]byte{1, 2, 3}); !errors.Is(err, ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}
}

func TestSignedDecoding(t *testing.T) {
	t.Parallel()
	cases := []struct {
		hi, lo uint16
		want   int32
	}{
		{0x0000, 0x0064, 100},
		{0xFFFF, 0xFF9C, -100},
		{0x0001, 0x0000, 65536},
		{0x8000, 0x0000, -2147483648},
	}
	for _, tc := range cases {
		if got := Int32(tc.hi, tc.lo); got != tc.want {
			t.Errorf("Int32(%#04x, %#04x) = %d, want %d", tc.hi, tc.lo, got, tc.want)
		}
	}
	if Int16(0xFFFF) != -1 || Int16(0x7FFF) != 32767 || Int16(0x8000) != -32768 {
		t.Fatalf("Int16 must reinterpret bits")
	}
}

func TestCommandFrame(t *testing.T) {
	t.Parallel()
	f := CommandFrame(CmdChangePage, 3001)
	want := []byte{0x00, 0x1D, 0x00, 0x00, 0x0B, 0xB9, 0, 0, 0, 0, 0, 0}
	if string(f) != string(want) {
		t.Fatalf("got % X, want % X", f, want)
	}
}
