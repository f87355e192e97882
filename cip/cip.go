// Package cip implements the CIP service layer carried inside EtherNet/IP
// encapsulation: request paths, Class-3 connections, the Multiple Service
// Packet, and status decoding.
package cip

import (
	"encoding/binary"
	"fmt"
)

// CIP service codes used by this stack.
const (
	SvcGetAttributeList         byte = 0x03
	SvcMultipleServicePacket    byte = 0x0A
	SvcReadTag                  byte = 0x4C
	SvcWriteTag                 byte = 0x4D
	SvcForwardClose             byte = 0x4E
	SvcReadTagFragmented        byte = 0x52
	SvcUnconnectedSend          byte = 0x52
	SvcWriteTagFragmented       byte = 0x53
	SvcForwardOpen              byte = 0x54
	SvcGetInstanceAttributeList byte = 0x55
	SvcExecutePCCC              byte = 0x4B

	// Read Template shares 0x4C with Read Tag; the caller disambiguates
	// by tracking the service it issued (see ParseResponse).
	SvcReadTemplate byte = 0x4C

	// ReplyMask is ORed into the request service code in replies.
	ReplyMask byte = 0x80
)

// CIP object classes and well-known instances.
const (
	ClassMessageRouter     byte = 0x02
	ClassConnectionManager byte = 0x06
	ClassSymbolObject      byte = 0x6B
	ClassTemplateObject    byte = 0x6C
	ClassPCCCObject        byte = 0x67

	InstanceOpenRequest byte = 0x01
)

// General status values with special handling.
const (
	StatusSuccess         byte = 0x00
	StatusPartialTransfer byte = 0x06
)

// Request is a Message Router request: service, padded EPath, service
// data.
type Request struct {
	Service byte
	Path    EPath
	Data    []byte
}

// Marshal renders the request as service | path words | path | data.
func (r Request) Marshal() []byte {
	out := make([]byte, 0, 2+len(r.Path)+len(r.Data))
	out = append(out, r.Service)
	out = append(out, r.Path.WordLen())
	out = append(out, r.Path...)
	out = append(out, r.Data...)
	return out
}

// Response is a parsed Message Router response.
type Response struct {
	Service        byte   // reply service code with ReplyMask set
	GeneralStatus  byte
	ExtendedStatus uint16 // first extended status word (0 if absent)
	ExtendedRaw    []byte // size byte + words, as received
	Data           []byte // service data after the status block
}

// Partial reports whether the target signalled "partial transfer /
// more available" (0x06), which is not an error for fragmented and
// enumerated services.
func (r *Response) Partial() bool {
	return r.GeneralStatus == StatusPartialTransfer
}

// Err converts a non-success, non-partial status into a DataError.
func (r *Response) Err(op string) error {
	if r.GeneralStatus == StatusSuccess || r.GeneralStatus == StatusPartialTransfer {
		return nil
	}
	return StatusError(op, r.GeneralStatus, r.ExtendedRaw)
}

// ParseResponse parses a Message Router response and checks the reply
// service byte against the request service that was issued. Because two
// request services share code 0x4C, the expected service comes from the
// caller, never from a reply-keyed table.
func ParseResponse(data []byte, expectService byte) (*Response, error) {
	if len(data) < 4 {
		return nil, DataErrorf("ParseResponse", "response too short: %d bytes", len(data))
	}

	reply := data[0]
	// data[1] is reserved
	general := data[2]
	extWords := int(data[3])

	if reply != expectService|ReplyMask {
		return nil, DataErrorf("ParseResponse",
			"unexpected reply service 0x%02X (expected 0x%02X)", reply, expectService|ReplyMask)
	}

	if len(data) < 4+extWords*2 {
		return nil, DataErrorf("ParseResponse", "truncated extended status: need %d words", extWords)
	}

	resp := &Response{
		Service:       reply,
		GeneralStatus: general,
		ExtendedRaw:   data[3 : 4+extWords*2],
	}
	if extWords > 0 {
		resp.ExtendedStatus = binary.LittleEndian.Uint16(data[4:6])
	}
	resp.Data = data[4+extWords*2:]
	return resp, nil
}

// ServiceName returns a human-readable name for a request service code.
func ServiceName(service byte) string {
	switch service &^ ReplyMask {
	case SvcReadTag:
		return "Read Tag"
	case SvcWriteTag:
		return "Write Tag"
	case SvcReadTagFragmented:
		return "Read Tag Fragmented"
	case SvcWriteTagFragmented:
		return "Write Tag Fragmented"
	case SvcMultipleServicePacket:
		return "Multiple Service Packet"
	case SvcGetInstanceAttributeList:
		return "Get Instance Attributes List"
	case SvcGetAttributeList:
		return "Get Attributes"
	case SvcForwardOpen:
		return "Forward Open"
	case SvcForwardClose:
		return "Forward Close"
	case SvcExecutePCCC:
		return "Execute PCCC"
	default:
		return fmt.Sprintf("Service 0x%02X", service)
	}
}
