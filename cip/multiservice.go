package cip

import (
	"encoding/binary"
)

// Multiple Service Packet: several Message Router requests packed into
// one, addressed to the Message Router itself.

// maxMultiServices bounds a single packet; beyond this the request
// header alone overflows typical connection sizes.
const maxMultiServices = 200

// BuildMultipleService packs the given requests into a Multiple Service
// Packet request (service, Message Router path, count, offsets, bodies).
func BuildMultipleService(requests []Request) ([]byte, error) {
	if len(requests) == 0 {
		return nil, DataErrorf("BuildMultipleService", "no requests")
	}
	if len(requests) > maxMultiServices {
		return nil, DataErrorf("BuildMultipleService", "too many requests: %d", len(requests))
	}

	bodies := make([][]byte, len(requests))
	total := 0
	for i, req := range requests {
		bodies[i] = req.Marshal()
		total += len(bodies[i])
	}

	// count + one 16-bit offset per embedded request
	headerLen := 2 + len(requests)*2

	mrPath, _ := Path().Class(ClassMessageRouter).Instance(0x01).Build()

	out := make([]byte, 0, 2+len(mrPath)+headerLen+total)
	out = append(out, SvcMultipleServicePacket)
	out = append(out, mrPath.WordLen())
	out = append(out, mrPath...)

	out = binary.LittleEndian.AppendUint16(out, uint16(len(requests)))
	offset := headerLen
	for _, b := range bodies {
		out = binary.LittleEndian.AppendUint16(out, uint16(offset))
		offset += len(b)
	}
	for _, b := range bodies {
		out = append(out, b...)
	}

	return out, nil
}

// ParseMultipleService demultiplexes the embedded replies of a Multiple
// Service Packet response body (the service data after the outer status
// block). Replies come back in request order; each is parsed with the
// service code it carries. Offsets must be monotonically increasing and
// lie within the body.
func ParseMultipleService(data []byte) ([]*Response, error) {
	if len(data) < 2 {
		return nil, DataErrorf("ParseMultipleService", "response too short: %d bytes", len(data))
	}

	count := int(binary.LittleEndian.Uint16(data[0:2]))
	if count == 0 {
		return nil, nil
	}
	if len(data) < 2+count*2 {
		return nil, DataErrorf("ParseMultipleService", "truncated offset table for %d replies", count)
	}

	offsets := make([]int, count)
	for i := 0; i < count; i++ {
		offsets[i] = int(binary.LittleEndian.Uint16(data[2+i*2 : 4+i*2]))
	}

	replies := make([]*Response, count)
	for i := 0; i < count; i++ {
		start := offsets[i]
		end := len(data)
		if i+1 < count {
			end = offsets[i+1]
		}
		if start < 2+count*2 || start >= end || end > len(data) {
			return nil, DataErrorf("ParseMultipleService", "reply %d offset %d out of order", i, start)
		}

		sub := data[start:end]
		resp, err := ParseResponse(sub, sub[0]&^ReplyMask)
		if err != nil {
			return nil, DataWrap("ParseMultipleService", "embedded reply", err)
		}
		replies[i] = resp
	}

	return replies, nil
}
