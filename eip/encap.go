// Package eip implements EtherNet/IP encapsulation over TCP: the fixed
// 24-byte header, the Common Packet Format, session registration, and
// the SendRRData / SendUnitData transactions the CIP layer rides on.
package eip

import (
	"encoding/binary"

	"ablink/cip"
)

// Encapsulation commands (ODVA Volume 2, 2-3.2).
const (
	CmdNop               uint16 = 0x00
	CmdListIdentity      uint16 = 0x63
	CmdRegisterSession   uint16 = 0x65
	CmdUnRegisterSession uint16 = 0x66
	CmdSendRRData        uint16 = 0x6F
	CmdSendUnitData      uint16 = 0x70
)

// HeaderSize is the fixed encapsulation header length.
const HeaderSize = 24

// maxPayload bounds the encapsulation body (65535 minus header).
const maxPayload = 65511

// Frame is one encapsulated message: the 24-byte header plus body.
type Frame struct {
	Command       uint16
	Length        uint16
	SessionHandle uint32
	EncapStatus   uint32
	Context       [8]byte // echoed unchanged by the target
	Option        uint32
	Data          []byte
}

// Bytes renders the frame little-endian, recomputing Length from the
// body.
func (f *Frame) Bytes() []byte {
	out := make([]byte, 0, HeaderSize+len(f.Data))
	out = binary.LittleEndian.AppendUint16(out, f.Command)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(f.Data)))
	out = binary.LittleEndian.AppendUint32(out, f.SessionHandle)
	out = binary.LittleEndian.AppendUint32(out, f.EncapStatus)
	out = append(out, f.Context[:]...)
	out = binary.LittleEndian.AppendUint32(out, f.Option)
	out = append(out, f.Data...)
	return out
}

// parseHeader decodes the fixed header fields. The body is attached by
// the receive loop once the length field has been honoured.
func parseHeader(header []byte) Frame {
	var f Frame
	f.Command = binary.LittleEndian.Uint16(header[0:2])
	f.Length = binary.LittleEndian.Uint16(header[2:4])
	f.SessionHandle = binary.LittleEndian.Uint32(header[4:8])
	f.EncapStatus = binary.LittleEndian.Uint32(header[8:12])
	copy(f.Context[:], header[12:20])
	f.Option = binary.LittleEndian.Uint32(header[20:24])
	return f
}

// knownCommand reports whether the command code is one this client
// speaks. A reply carrying an unknown command is a data error rather
// than a communication error.
func knownCommand(cmd uint16) bool {
	switch cmd {
	case CmdNop, CmdListIdentity, CmdRegisterSession, CmdUnRegisterSession, CmdSendRRData, CmdSendUnitData:
		return true
	}
	return false
}

// CommandData is the interface-handle/timeout preamble that wraps a CPF
// packet inside SendRRData and SendUnitData bodies.
type CommandData struct {
	InterfaceHandle uint32 // always 0 for CIP
	Timeout         uint16 // seconds; ignored for connected messages
	Packet          []byte
}

// Bytes renders the command data little-endian.
func (c *CommandData) Bytes() []byte {
	out := binary.LittleEndian.AppendUint32(nil, c.InterfaceHandle)
	out = binary.LittleEndian.AppendUint16(out, c.Timeout)
	return append(out, c.Packet...)
}

// ParseCommandData splits an encapsulation body back into command data.
func ParseCommandData(raw []byte) (*CommandData, error) {
	if len(raw) < 6 {
		return nil, cip.DataErrorf("ParseCommandData", "body too short: %d bytes", len(raw))
	}
	return &CommandData{
		InterfaceHandle: binary.LittleEndian.Uint32(raw[0:4]),
		Timeout:         binary.LittleEndian.Uint16(raw[4:6]),
		Packet:          raw[6:],
	}, nil
}
