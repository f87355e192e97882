package cip

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func readRequest(tag string, t *testing.T) Request {
	t.Helper()
	path, err := ParseTagPath(tag)
	if err != nil {
		t.Fatalf("ParseTagPath(%q): %v", tag, err)
	}
	return Request{
		Service: SvcReadTag,
		Path:    path,
		Data:    binary.LittleEndian.AppendUint16(nil, 1),
	}
}

func TestBuildMultipleService(t *testing.T) {
	reqs := []Request{readRequest("Counts", t), readRequest("Parts", t), readRequest("ControlWord", t)}

	data, err := BuildMultipleService(reqs)
	if err != nil {
		t.Fatalf("BuildMultipleService: %v", err)
	}

	// Service, path to the Message Router.
	if !bytes.Equal(data[:6], []byte{0x0A, 0x02, 0x20, 0x02, 0x24, 0x01}) {
		t.Fatalf("header = % X", data[:6])
	}

	body := data[6:]
	if got := binary.LittleEndian.Uint16(body[0:2]); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}

	// Offsets are monotonically increasing, start after the offset
	// table, and each addresses the embedded request's service byte.
	prev := 0
	for i := 0; i < 3; i++ {
		off := int(binary.LittleEndian.Uint16(body[2+i*2 : 4+i*2]))
		if off <= prev {
			t.Errorf("offset %d = %d not increasing (prev %d)", i, off, prev)
		}
		if off >= len(body) {
			t.Fatalf("offset %d = %d beyond body", i, off)
		}
		if body[off] != SvcReadTag {
			t.Errorf("offset %d does not address a Read Tag request: 0x%02X", i, body[off])
		}
		prev = off
	}
	if int(binary.LittleEndian.Uint16(body[2:4])) != 2+3*2 {
		t.Errorf("first offset %d, want %d", binary.LittleEndian.Uint16(body[2:4]), 2+3*2)
	}
}

// buildReply assembles an embedded Message Router reply.
func buildReply(service byte, status byte, data []byte) []byte {
	out := []byte{service | ReplyMask, 0x00, status, 0x00}
	return append(out, data...)
}

func TestParseMultipleService(t *testing.T) {
	replies := [][]byte{
		buildReply(SvcReadTag, 0x00, []byte{0xC3, 0x00, 0x1A, 0x00}),
		buildReply(SvcReadTag, 0xFF, []byte{}),
		buildReply(SvcWriteTag, 0x00, nil),
	}

	body := binary.LittleEndian.AppendUint16(nil, uint16(len(replies)))
	offset := 2 + len(replies)*2
	for _, r := range replies {
		body = binary.LittleEndian.AppendUint16(body, uint16(offset))
		offset += len(r)
	}
	for _, r := range replies {
		body = append(body, r...)
	}

	parsed, err := ParseMultipleService(body)
	if err != nil {
		t.Fatalf("ParseMultipleService: %v", err)
	}
	if len(parsed) != len(replies) {
		t.Fatalf("reply count = %d, want %d", len(parsed), len(replies))
	}

	if parsed[0].GeneralStatus != 0 || !bytes.Equal(parsed[0].Data, []byte{0xC3, 0x00, 0x1A, 0x00}) {
		t.Errorf("reply 0 = %+v", parsed[0])
	}
	if parsed[1].GeneralStatus != 0xFF {
		t.Errorf("reply 1 status = 0x%02X, want 0xFF", parsed[1].GeneralStatus)
	}
	if parsed[2].Service != SvcWriteTag|ReplyMask || parsed[2].GeneralStatus != 0 {
		t.Errorf("reply 2 = %+v", parsed[2])
	}
}

func TestParseMultipleServiceBadOffsets(t *testing.T) {
	// Offsets that run backwards must be rejected.
	body := binary.LittleEndian.AppendUint16(nil, 2)
	body = binary.LittleEndian.AppendUint16(body, 20)
	body = binary.LittleEndian.AppendUint16(body, 6)
	body = append(body, make([]byte, 30)...)

	if _, err := ParseMultipleService(body); err == nil {
		t.Error("expected error for non-monotonic offsets")
	}
}

func TestBuildMultipleServiceEmpty(t *testing.T) {
	if _, err := BuildMultipleService(nil); err == nil {
		t.Error("expected error for empty request list")
	}
}
