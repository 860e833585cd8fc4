package dgt4

import (
	"encoding/binary"
	"fmt"
)

// BytesToRegisters packs a byte buffer into big-endian 16-bit registers.
func BytesToRegisters(b []byte) ([]uint16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFraming, len(b))
	}
	regs := make([]uint16, len(b)/2)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(b[i*2:])
	}
	return regs, nil
}

// RegistersToBytes is the inverse of BytesToRegisters.
func RegistersToBytes(regs []uint16) []byte {
	b := make([]byte, len(regs)*2)
	for i, r := range regs {
		binary.BigEndian.PutUint16(b[i*2:], r)
	}
	return b
}

// Int32 interprets hi:lo as a big-endian signed 32-bit integer.
func Int32(hi, lo uint16) int32 {
	return int32(uint32(hi)<<16 | uint32(lo))
}

// Int16 reinterprets the register bits as a signed value.
func Int16(r uint16) int16 {
	return int16(r)
}
