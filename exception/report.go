package exception

import (
	"encoding/binary"
	"fmt"
)

// ReportType classifies an exception.
type ReportType uint32

const (
	ReportGeneral ReportType = iota + 1
	ReportFatalPageFault
	ReportUndefinedInstruction
	ReportSWBreakpoint
	ReportHWBreakpoint
	ReportUnalignedAccess
	ReportPolicyError
)

func (t ReportType) String() string {
	switch t {
	case ReportGeneral:
		return "general"
	case ReportFatalPageFault:
		return "fatal-page-fault"
	case ReportUndefinedInstruction:
		return "undefined-instruction"
	case ReportSWBreakpoint:
		return "sw-breakpoint"
	case ReportHWBreakpoint:
		return "hw-breakpoint"
	case ReportUnalignedAccess:
		return "unaligned-access"
	case ReportPolicyError:
		return "policy-error"
	default:
		return fmt.Sprintf("report-type(%d)", uint32(t))
	}
}

// Report describes one exception.
type Report struct {
	Type      ReportType
	Tid       uint64
	Pid       uint64
	PC        uint64
	SP        uint64
	FaultAddr uint64
}

// wireReport is the fixed little-endian layout returned to readers.
type wireReport struct {
	Size      uint32
	Type      uint32
	Tid       uint64
	Pid       uint64
	PC        uint64
	SP        uint64
	FaultAddr uint64
}

// ReportSize is the encoded size of a Report.
var ReportSize = binary.Size(wireReport{})

// MarshalBinary encodes the report in its fixed layout.
func (r *Report) MarshalBinary() ([]byte, error) {
	w := wireReport{
		Size:      uint32(ReportSize),
		Type:      uint32(r.Type),
		Tid:       r.Tid,
		Pid:       r.Pid,
		PC:        r.PC,
		SP:        r.SP,
		FaultAddr: r.FaultAddr,
	}
	return binary.Append(make([]byte, 0, ReportSize), binary.LittleEndian, &w)
}

// UnmarshalBinary decodes a report produced by MarshalBinary.
func (r *Report) UnmarshalBinary(data []byte) error {
	var w wireReport
	if _, err := binary.Decode(data, binary.LittleEndian, &w); err != nil {
		return fmt.Errorf("decode report: %w", err)
	}
	if int(w.Size) != ReportSize {
		return fmt.Errorf("decode report: size %d, want %d", w.Size, ReportSize)
	}
	*r = Report{
		Type:      ReportType(w.Type),
		Tid:       w.Tid,
		Pid:       w.Pid,
		PC:        w.PC,
		SP:        w.SP,
		FaultAddr: w.FaultAddr,
	}
	return nil
}

// Fault is returned by user-mode execution when the program traps.
type Fault struct {
	Cause error
	Type  ReportType
	PC    uint64
	Addr  uint64
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s fault at pc %#x: %v", f.Type, f.PC, f.Cause)
	}
	return fmt.Sprintf("%s fault at pc %#x", f.Type, f.PC)
}

func (f *Fault) Unwrap() error {
	return f.Cause
}
