package pccc

import (
	"encoding/binary"
	"math"

	"ablink/cip"
)

// DF1 framing constants for Execute-PCCC requests.
const (
	df1Command      byte = 0x0F
	requesterIDLen  byte = 0x07
	replyStatusByte      = 8  // DF1 status offset within the CIP reply data
	replyDataByte        = 11 // payload offset within the CIP reply data
)

// PCCC error codes (DF1 STS byte).
var pcccErrors = map[byte]string{
	0x10: "Illegal Command or Format, Address may not exist or not enough elements in data file",
	0x20: "PLC Has a Problem and Will Not Communicate",
	0x30: "Remote Node Host is Missing, Disconnected, or Shut Down",
	0x40: "Host Could Not Complete Function Due To Hardware Fault",
	0x50: "Addressing problem or Memory Protect Rungs",
	0x60: "Function not allows due to command protection selection",
	0x70: "Processor is in Program mode",
	0x80: "Compatibility mode file missing or communication zone problem",
	0x90: "Remote node cannot buffer command",
	0xF0: "Error code in EXT STS Byte",
}

// ErrorText resolves a DF1 status byte.
func ErrorText(code byte) string {
	if txt, ok := pcccErrors[code]; ok {
		return txt
	}
	return "Unknown PCCC error"
}

// buildRequest assembles the CIP Execute-PCCC body: service and PCCC
// object path, the requester id, the DF1 command frame, and the
// logical address fields.
func buildRequest(fn byte, byteCount byte, addr *FileAddress, subElement byte,
	tns uint16, vendorID uint16, vendorSerial uint32, payload []byte) []byte {

	out := make([]byte, 0, 22+len(payload))
	out = append(out, cip.SvcExecutePCCC)
	out = append(out, 0x02) // path: 2 words
	out = append(out, 0x20, cip.ClassPCCCObject)
	out = append(out, 0x24, 0x01)

	// Requester id: length, vendor id, vendor serial.
	out = append(out, requesterIDLen)
	out = binary.LittleEndian.AppendUint16(out, vendorID)
	out = binary.LittleEndian.AppendUint32(out, vendorSerial)

	// DF1 command frame.
	out = append(out, df1Command, 0x00)
	out = binary.LittleEndian.AppendUint16(out, tns)
	out = append(out, fn)
	out = append(out, byteCount)
	out = append(out, addr.FileNumber)
	out = append(out, addr.TypeCode())
	out = append(out, addr.Element)
	out = append(out, subElement)

	out = append(out, payload...)
	return out
}

// parseReply validates the Execute-PCCC reply down to the DF1 payload:
// CIP status block, then the echoed requester id, the DF1 reply
// command, and the STS byte that carries the PCCC error code.
func parseReply(replyData []byte, op string) ([]byte, error) {
	resp, err := cip.ParseResponse(replyData, cip.SvcExecutePCCC)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(op); err != nil {
		return nil, err
	}

	if len(resp.Data) < replyDataByte {
		return nil, cip.DataErrorf(op, "PCCC reply too short: %d bytes", len(resp.Data))
	}

	if sts := resp.Data[replyStatusByte]; sts != 0 {
		return nil, cip.DataErrorf(op, "PCCC error 0x%02X: %s", sts, ErrorText(sts))
	}

	return resp.Data[replyDataByte:], nil
}

// unpackElement decodes one element for the file type: int16 words for
// the integer-shaped files, float32 for F, int8 for A, int32 for R.
func unpackElement(fileType string, b []byte) (interface{}, error) {
	switch fileType {
	case "F":
		if len(b) < 4 {
			return nil, cip.DataErrorf("unpack", "insufficient data for F element")
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case "A":
		if len(b) < 1 {
			return nil, cip.DataErrorf("unpack", "insufficient data for A element")
		}
		return int64(int8(b[0])), nil
	case "R":
		if len(b) < 4 {
			return nil, cip.DataErrorf("unpack", "insufficient data for R element")
		}
		return int64(int32(binary.LittleEndian.Uint32(b))), nil
	default:
		if len(b) < 2 {
			return nil, cip.DataErrorf("unpack", "insufficient data for %s element", fileType)
		}
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	}
}

// packElement encodes one element for the file type, range-checked.
func packElement(fileType string, v interface{}) ([]byte, error) {
	switch fileType {
	case "F":
		f, ok := toFloat64(v)
		if !ok {
			return nil, cip.DataErrorf("pack", "cannot pack %T as F element", v)
		}
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(f))), nil
	case "A":
		i, ok := toInt64(v)
		if !ok || i < math.MinInt8 || i > math.MaxInt8 {
			return nil, cip.DataErrorf("pack", "cannot pack %v as A element", v)
		}
		return []byte{byte(i)}, nil
	case "R":
		i, ok := toInt64(v)
		if !ok || i < math.MinInt32 || i > math.MaxInt32 {
			return nil, cip.DataErrorf("pack", "cannot pack %v as R element", v)
		}
		return binary.LittleEndian.AppendUint32(nil, uint32(i)), nil
	default:
		i, ok := toInt64(v)
		if !ok || i < math.MinInt16 || i > math.MaxInt16 {
			return nil, cip.DataErrorf("pack", "cannot pack %v as %s element", v, fileType)
		}
		return binary.LittleEndian.AppendUint16(nil, uint16(i)), nil
	}
}

// unpackWidth is the decode width for one element; for timers and
// counters only the leading word is decoded, for control files the
// leading double word; the element stride stays ElementSize.
func unpackWidth(fileType string) int {
	switch fileType {
	case "F", "R":
		return 4
	case "A":
		return 1
	default:
		return 2
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	case float32:
		return toInt64(float64(n))
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	i, ok := toInt64(v)
	if !ok {
		return 0, false
	}
	return float64(i), true
}
