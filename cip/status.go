package cip

import (
	"encoding/binary"
	"fmt"
)

// Encapsulation status codes (ODVA Volume 2, 2-3.7).
var encapStatus = map[uint32]string{
	0x0000: "Success",
	0x0001: "The sender issued an invalid or unsupported encapsulation command",
	0x0002: "Insufficient memory",
	0x0003: "Poorly formed or incorrect data in the data portion",
	0x0064: "An originator used an invalid session handle when sending an encapsulation message to the target",
	0x0065: "The target received a message of invalid length",
	0x0069: "Unsupported protocol version",
}

// EncapStatusText returns the symbolic name of an encapsulation status.
func EncapStatusText(status uint32) string {
	if txt, ok := encapStatus[status]; ok {
		return txt
	}
	return fmt.Sprintf("Unknown encapsulation status 0x%08X", status)
}

// CIP general status codes, from Rockwell publication 1756-RM003.
var generalStatus = map[byte]string{
	0x01: "Connection failure (see extended status)",
	0x02: "Insufficient resource",
	0x03: "Invalid value",
	0x04: "IOI syntax error. A syntax error was detected decoding the Request Path (see extended status)",
	0x05: "Destination unknown, class unsupported, instance undefined or structure element undefined (see extended status)",
	0x06: "Insufficient Packet Space",
	0x07: "Connection lost",
	0x08: "Service not supported",
	0x09: "Error in data segment or invalid attribute value",
	0x0A: "Attribute list error",
	0x0B: "State already exist",
	0x0C: "Object state conflict",
	0x0D: "Object already exist",
	0x0E: "Attribute not settable",
	0x0F: "Permission denied",
	0x10: "Device state conflict",
	0x11: "Reply data too large",
	0x12: "Fragmentation of a primitive value",
	0x13: "Insufficient command data",
	0x14: "Attribute not supported",
	0x15: "Too much data",
	0x1A: "Bridge request too large",
	0x1B: "Bridge response too large",
	0x1C: "Attribute list shortage",
	0x1D: "Invalid attribute list",
	0x1E: "Request service error",
	0x1F: "Connection related failure (see extended status)",
	0x22: "Invalid reply received",
	0x25: "Key segment error",
	0x26: "Invalid IOI error",
	0x27: "Unexpected attribute in list",
	0x28: "DeviceNet error - invalid member ID",
	0x29: "DeviceNet error - member not settable",
	0xD1: "Module not in run state",
	0xFB: "Message port not supported",
	0xFC: "Message unsupported data type",
	0xFD: "Message uninitialized",
	0xFE: "Message timeout",
	0xFF: "General Error (see extended status)",
}

// GeneralStatusText returns the symbolic name of a CIP general status.
func GeneralStatusText(status byte) string {
	if status == StatusSuccess {
		return "Success"
	}
	if txt, ok := generalStatus[status]; ok {
		return txt
	}
	return fmt.Sprintf("Unknown status 0x%02X", status)
}

// Extended status sub-codes, keyed first by the general status they
// qualify. Rockwell publication 1756-RM003.
var extendedStatus = map[byte]map[uint16]string{
	0x01: {
		0x0100: "Connection in use",
		0x0103: "Transport not supported",
		0x0106: "Ownership conflict",
		0x0107: "Connection not found",
		0x0108: "Invalid connection type",
		0x0109: "Invalid connection size",
		0x0110: "Module not configured",
		0x0111: "EPR not supported",
		0x0114: "Wrong module",
		0x0115: "Wrong device type",
		0x0116: "Wrong revision",
		0x0118: "Invalid configuration format",
		0x011A: "Application out of connections",
		0x0203: "Connection timeout",
		0x0204: "Unconnected message timeout",
		0x0205: "Unconnected send parameter error",
		0x0206: "Message too large",
		0x0301: "No buffer memory",
		0x0302: "Bandwidth not available",
		0x0303: "No screeners available",
		0x0305: "Signature match",
		0x0311: "Port not available",
		0x0312: "Link address not available",
		0x0315: "Invalid segment type",
		0x0317: "Connection not scheduled",
	},
	0x04: {
		0x0000: "Extended status out of memory",
		0x0001: "Extended status out of instances",
	},
	0x05: {
		0x0000: "Extended status out of memory",
		0x0001: "Extended status out of instances",
	},
	0x1F: {
		0x0203: "Connection timeout",
	},
	0xFF: {
		0x0007: "Wrong data type",
		0x2001: "Excessive IOI",
		0x2002: "Bad parameter value",
		0x2018: "Semaphore reject",
		0x201B: "Size too small",
		0x201C: "Invalid size",
		0x2100: "Privilege failure",
		0x2101: "Invalid keyswitch position",
		0x2102: "Password invalid",
		0x2103: "No password issued",
		0x2104: "Address out of range",
		0x2105: "Address and how many out of range",
		0x2106: "Data in use",
		0x2107: "Type is invalid or not supported",
		0x2108: "Controller in upload or download mode",
		0x2109: "Attempt to change number of array dimensions",
		0x210A: "Invalid symbol name",
		0x210B: "Symbol does not exist",
		0x210E: "Search failed",
		0x210F: "Task cannot start",
		0x2110: "Unable to write",
		0x2111: "Unable to read",
		0x2112: "Shared routine not editable",
		0x2113: "Controller in faulted mode",
		0x2114: "Run mode inhibited",
	},
}

// ExtendedStatusText resolves a (general, extended) pair through the
// two-level table.
func ExtendedStatusText(general byte, extended uint16) string {
	if sub, ok := extendedStatus[general]; ok {
		if txt, ok := sub[extended]; ok {
			return txt
		}
	}
	return "Extended Status info not present"
}

// ParseExtendedStatus reads the extended-status field that follows a
// general status byte: a word-count byte, then that many 16-bit words.
// It returns the first sub-code (0 when absent).
func ParseExtendedStatus(data []byte) uint16 {
	if len(data) < 1 {
		return 0
	}
	words := int(data[0])
	if words == 0 || len(data) < 1+2 {
		return 0
	}
	return binary.LittleEndian.Uint16(data[1:3])
}

// StatusError renders a non-zero general status (with optional extended
// data as laid out in a reply: size byte then words) as a DataError.
func StatusError(op string, general byte, extData []byte) *DataError {
	ext := ParseExtendedStatus(extData)
	return DataErrorf(op, "%s - Extended status: %s",
		GeneralStatusText(general), ExtendedStatusText(general, ext))
}
