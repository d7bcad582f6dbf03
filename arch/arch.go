// Package arch defines the register state saved for a user thread and the
// byte encodings used to read and write it.
package arch

import (
	"encoding/binary"

	"github.com/wippyai/kobject/errors"
)

// RegSet selects a register set for ReadState/WriteState.
type RegSet uint32

const (
	RegSetGeneral RegSet = iota
	RegSetFP
	RegSetVector
	RegSetDebug
	RegSetSingleStep
)

func (k RegSet) String() string {
	switch k {
	case RegSetGeneral:
		return "general"
	case RegSetFP:
		return "fp"
	case RegSetVector:
		return "vector"
	case RegSetDebug:
		return "debug"
	case RegSetSingleStep:
		return "single-step"
	default:
		return "unknown"
	}
}

// NumGPR is the number of general purpose registers besides pc, sp and flags.
const NumGPR = 16

// GeneralRegs is the integer register file.
type GeneralRegs struct {
	R     [NumGPR]uint64
	PC    uint64
	SP    uint64
	Flags uint64
}

// FPRegs is the floating point control and data state.
type FPRegs struct {
	Regs [8]uint64
	CW   uint32
	SW   uint32
}

// VectorRegs is the vector register file.
type VectorRegs struct {
	V [16][2]uint64
}

// DebugRegs holds hardware breakpoint and watchpoint state.
type DebugRegs struct {
	Addr   [4]uint64
	Status uint64
	Ctrl   uint64
}

// Context is the complete register state of a thread.
type Context struct {
	General    GeneralRegs
	FP         FPRegs
	Vector     VectorRegs
	Debug      DebugRegs
	SingleStep bool
}

// SetEntry initializes the context for first entry to user mode. arg1 and
// arg2 land in the first two argument registers.
func (c *Context) SetEntry(pc, sp, arg1, arg2 uint64) {
	*c = Context{}
	c.General.PC = pc
	c.General.SP = sp
	c.General.R[0] = arg1
	c.General.R[1] = arg2
}

// Size returns the encoded size of the selected register set.
func Size(kind RegSet) (int, error) {
	switch kind {
	case RegSetGeneral:
		return binary.Size(GeneralRegs{}), nil
	case RegSetFP:
		return binary.Size(FPRegs{}), nil
	case RegSetVector:
		return binary.Size(VectorRegs{}), nil
	case RegSetDebug:
		return binary.Size(DebugRegs{}), nil
	case RegSetSingleStep:
		return 4, nil
	default:
		return 0, errors.InvalidArgs(errors.PhaseRegisters, "unknown register set %d", uint32(kind))
	}
}

// Read encodes the selected register set into buf and returns the number of
// bytes written.
func (c *Context) Read(kind RegSet, buf []byte) (int, error) {
	n, err := Size(kind)
	if err != nil {
		return 0, err
	}
	if len(buf) < n {
		return 0, errors.InvalidArgs(errors.PhaseRegisters, "%s buffer is %d bytes, need %d", kind, len(buf), n)
	}

	var out []byte
	switch kind {
	case RegSetGeneral:
		out, err = binary.Append(buf[:0], binary.LittleEndian, &c.General)
	case RegSetFP:
		out, err = binary.Append(buf[:0], binary.LittleEndian, &c.FP)
	case RegSetVector:
		out, err = binary.Append(buf[:0], binary.LittleEndian, &c.Vector)
	case RegSetDebug:
		out, err = binary.Append(buf[:0], binary.LittleEndian, &c.Debug)
	case RegSetSingleStep:
		var v uint32
		if c.SingleStep {
			v = 1
		}
		out = binary.LittleEndian.AppendUint32(buf[:0], v)
	}
	if err != nil {
		return 0, errors.Wrap(errors.PhaseRegisters, errors.KindInvalidArgs, err, "encode "+kind.String())
	}
	return len(out), nil
}

// Write decodes buf into the selected register set. buf must be exactly the
// size of the set.
func (c *Context) Write(kind RegSet, buf []byte) error {
	n, err := Size(kind)
	if err != nil {
		return err
	}
	if len(buf) != n {
		return errors.InvalidArgs(errors.PhaseRegisters, "%s buffer is %d bytes, want %d", kind, len(buf), n)
	}

	switch kind {
	case RegSetGeneral:
		_, err = binary.Decode(buf, binary.LittleEndian, &c.General)
	case RegSetFP:
		_, err = binary.Decode(buf, binary.LittleEndian, &c.FP)
	case RegSetVector:
		_, err = binary.Decode(buf, binary.LittleEndian, &c.Vector)
	case RegSetDebug:
		_, err = binary.Decode(buf, binary.LittleEndian, &c.Debug)
	case RegSetSingleStep:
		switch binary.LittleEndian.Uint32(buf) {
		case 0:
			c.SingleStep = false
		case 1:
			c.SingleStep = true
		default:
			return errors.InvalidArgs(errors.PhaseRegisters, "single-step value must be 0 or 1")
		}
	}
	if err != nil {
		return errors.Wrap(errors.PhaseRegisters, errors.KindInvalidArgs, err, "decode "+kind.String())
	}
	return nil
}
