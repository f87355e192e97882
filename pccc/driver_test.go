package pccc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"net"
	"sync"
	"testing"

	"ablink/cip"
	"ablink/eip"
)

const testSession uint32 = 0x44332211
const testTargetCID uint32 = 0xDDCCBBAA

// fakeSLC is a scripted encapsulation peer for the PCCC driver: it
// registers sessions, answers Forward Open/Close, and hands connected
// Execute-PCCC requests to a handler.
type fakeSLC struct {
	t       *testing.T
	ln      net.Listener
	handler func(req []byte) []byte

	mu       sync.Mutex
	requests [][]byte
}

func newFakeSLC(t *testing.T, handler func(req []byte) []byte) *fakeSLC {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &fakeSLC{t: t, ln: ln, handler: handler}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go p.serve(conn)
		}
	}()
	return p
}

func (p *fakeSLC) captured() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *fakeSLC) serve(conn net.Conn) {
	defer conn.Close()

	for {
		header := make([]byte, 24)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		command := binary.LittleEndian.Uint16(header[0:2])
		length := binary.LittleEndian.Uint16(header[2:4])
		body := make([]byte, length)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}

		var replyBody []byte
		switch command {
		case 0x65:
			replyBody = body
		case 0x66:
			return
		case 0x6F, 0x70:
			packet, err := eip.ParseCommonPacket(body[6:])
			if err != nil {
				p.t.Errorf("fakeSLC: %v", err)
				return
			}
			item, _ := packet.DataItem()

			var reply *eip.CommonPacket
			if command == 0x70 {
				seq := binary.LittleEndian.Uint16(item[0:2])
				cipReq := item[2:]

				p.mu.Lock()
				p.requests = append(p.requests, append([]byte(nil), cipReq...))
				p.mu.Unlock()

				payload := binary.LittleEndian.AppendUint16(nil, seq)
				payload = append(payload, p.dispatch(cipReq)...)
				reply = eip.ConnectedPacket(testTargetCID, payload)
			} else {
				reply = eip.UnconnectedPacket(p.dispatch(item))
			}

			replyBody = append([]byte{0, 0, 0, 0, 0, 0}, reply.Bytes()...)
		default:
			p.t.Errorf("fakeSLC: unexpected command 0x%04X", command)
			return
		}

		out := make([]byte, 0, 24+len(replyBody))
		out = binary.LittleEndian.AppendUint16(out, command)
		out = binary.LittleEndian.AppendUint16(out, uint16(len(replyBody)))
		out = binary.LittleEndian.AppendUint32(out, testSession)
		out = binary.LittleEndian.AppendUint32(out, 0)
		out = append(out, header[12:20]...)
		out = binary.LittleEndian.AppendUint32(out, 0)
		out = append(out, replyBody...)

		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func (p *fakeSLC) dispatch(req []byte) []byte {
	switch req[0] {
	case cip.SvcForwardOpen:
		resp := []byte{0xD4, 0x00, 0x00, 0x00}
		resp = binary.LittleEndian.AppendUint32(resp, testTargetCID)
		resp = append(resp, make([]byte, 22)...)
		return resp
	case cip.SvcForwardClose:
		return []byte{0xCE, 0x00, 0x00, 0x00}
	}
	return p.handler(req)
}

// pcccReply wraps a DF1 payload in an Execute-PCCC CIP reply with the
// echoed requester id and the given STS.
func pcccReply(sts byte, data []byte) []byte {
	out := []byte{0xCB, 0x00, 0x00, 0x00}
	out = append(out, 0x07)                            // requester id length
	out = append(out, 0x09, 0x10)                      // vendor
	out = append(out, 0x09, 0x10, 0x19, 0x71)          // vendor serial
	out = append(out, 0x4F, sts, 0x00, 0x00)           // DF1 reply, STS, TNS
	return append(out, data...)
}

func openTestSLC(t *testing.T, handler func(req []byte) []byte) (*Driver, *fakeSLC) {
	t.Helper()
	p := newFakeSLC(t, handler)
	d := NewDriver(Config{Port: uint16(p.ln.Addr().(*net.TCPAddr).Port)})
	if err := d.Open(p.ln.Addr().(*net.TCPAddr).IP.String()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(d.Close)
	return d, p
}

func TestReadIntegerFile(t *testing.T) {
	d, p := openTestSLC(t, func(req []byte) []byte {
		return pcccReply(0, []byte{0x1A, 0x00, 0xE6, 0xFF, 0x64, 0x00})
	})

	v, err := d.ReadTag("N7:0", 3)
	if err != nil {
		t.Fatalf("ReadTag: %v", err)
	}
	values, ok := v.([]interface{})
	if !ok || len(values) != 3 {
		t.Fatalf("value = %v (%T)", v, v)
	}
	if values[0].(int64) != 26 || values[1].(int64) != -26 || values[2].(int64) != 100 {
		t.Errorf("values = %v", values)
	}

	// The request addresses the file with the read function and whole
	// elements: func A2, byte count 6, file 7, type 0x89, element 0,
	// sub-element 0.
	reqs := p.captured()
	df1 := reqs[len(reqs)-1][17:]
	want := []byte{0xA2, 0x06, 0x07, 0x89, 0x00, 0x00}
	if !bytes.Equal(df1, want) {
		t.Errorf("df1 tail = % X, want % X", df1, want)
	}
}

func TestReadFloatFile(t *testing.T) {
	d, _ := openTestSLC(t, func(req []byte) []byte {
		raw := binary.LittleEndian.AppendUint32(nil, math.Float32bits(1.5))
		return pcccReply(0, raw)
	})

	v, err := d.ReadTag("F8:0", 1)
	if err != nil {
		t.Fatalf("ReadTag: %v", err)
	}
	if v.(float64) != 1.5 {
		t.Errorf("value = %v, want 1.5", v)
	}
}

func TestReadBit(t *testing.T) {
	d, _ := openTestSLC(t, func(req []byte) []byte {
		// Word with bit 3 set.
		return pcccReply(0, []byte{0x08, 0x00})
	})

	v, err := d.ReadTag("B3:0/3", 1)
	if err != nil {
		t.Fatalf("ReadTag: %v", err)
	}
	if v.(bool) != true {
		t.Errorf("bit = %v, want true", v)
	}
}

func TestReadTimerPreset(t *testing.T) {
	d, _ := openTestSLC(t, func(req []byte) []byte {
		// Timer element: control word, PRE, ACC.
		return pcccReply(0, []byte{0x00, 0x00, 0xAF, 0x01, 0x2C, 0x01})
	})

	v, err := d.ReadTag("T4:3.PRE", 1)
	if err != nil {
		t.Fatalf("ReadTag: %v", err)
	}
	if v.(int64) != 431 {
		t.Errorf("PRE = %v, want 431", v)
	}
}

func TestWriteTimerPresetWire(t *testing.T) {
	d, p := openTestSLC(t, func(req []byte) []byte {
		return pcccReply(0, nil)
	})

	if err := d.WriteTag("T4:3.PRE", int64(431)); err != nil {
		t.Fatalf("WriteTag: %v", err)
	}

	reqs := p.captured()
	req := reqs[len(reqs)-1]

	// CIP envelope: Execute PCCC to class 0x67 instance 1.
	if !bytes.Equal(req[:6], []byte{0x4B, 0x02, 0x20, 0x67, 0x24, 0x01}) {
		t.Fatalf("cip head = % X", req[:6])
	}
	// Requester id: length 7 + vendor + vendor serial.
	if req[6] != 0x07 {
		t.Errorf("requester id length = 0x%02X", req[6])
	}
	// DF1 command and the write body: func AB, byte count 2, file 4,
	// type 0x86, element 3, sub-element 1, payload FF FF AF 01.
	if req[13] != 0x0F || req[14] != 0x00 {
		t.Errorf("df1 command = % X", req[13:15])
	}
	tail := req[17:]
	want := []byte{0xAB, 0x02, 0x04, 0x86, 0x03, 0x01, 0xFF, 0xFF, 0xAF, 0x01}
	if !bytes.Equal(tail, want) {
		t.Errorf("df1 tail = % X, want % X", tail, want)
	}
}

func TestWriteBitMaskProtocol(t *testing.T) {
	d, p := openTestSLC(t, func(req []byte) []byte {
		return pcccReply(0, nil)
	})

	if err := d.WriteTag("B3:0/5", 1); err != nil {
		t.Fatalf("WriteTag: %v", err)
	}

	reqs := p.captured()
	tail := reqs[len(reqs)-1][17:]
	// mask 0x0020, value 0x0020, sub-element stays 0.
	want := []byte{0xAB, 0x02, 0x03, 0x85, 0x00, 0x00, 0x20, 0x00, 0x20, 0x00}
	if !bytes.Equal(tail, want) {
		t.Errorf("df1 tail = % X, want % X", tail, want)
	}

	if err := d.WriteTag("B3:0/5", 0); err != nil {
		t.Fatalf("WriteTag clear: %v", err)
	}
	reqs = p.captured()
	tail = reqs[len(reqs)-1][17:]
	want = []byte{0xAB, 0x02, 0x03, 0x85, 0x00, 0x00, 0x20, 0x00, 0x00, 0x00}
	if !bytes.Equal(tail, want) {
		t.Errorf("df1 clear tail = % X, want % X", tail, want)
	}
}

func TestWriteList(t *testing.T) {
	d, p := openTestSLC(t, func(req []byte) []byte {
		return pcccReply(0, nil)
	})

	err := d.WriteTag("N7:0", []interface{}{int64(-30), int64(32767), int64(-32767)})
	if err != nil {
		t.Fatalf("WriteTag: %v", err)
	}

	reqs := p.captured()
	tail := reqs[len(reqs)-1][17:]
	want := []byte{
		0xAB, 0x06, 0x07, 0x89, 0x00, 0x00,
		0xFF, 0xFF, // write mask
		0xE2, 0xFF, 0xFF, 0x7F, 0x01, 0x80,
	}
	if !bytes.Equal(tail, want) {
		t.Errorf("df1 tail = % X, want % X", tail, want)
	}
}

func TestWriteListThroughBitAddressRejected(t *testing.T) {
	d, _ := openTestSLC(t, func(req []byte) []byte {
		return pcccReply(0, nil)
	})

	err := d.WriteTag("B3:0/5", []interface{}{int64(1), int64(0)})
	if err == nil {
		t.Fatal("expected error for list write through bit address")
	}
	var dataErr *cip.DataError
	if !errors.As(err, &dataErr) {
		t.Errorf("error is %T, want *DataError", err)
	}
}

func TestPCCCErrorStatus(t *testing.T) {
	d, _ := openTestSLC(t, func(req []byte) []byte {
		return pcccReply(0x10, nil)
	})

	_, err := d.ReadTag("N7:0", 1)
	if err == nil {
		t.Fatal("expected PCCC error")
	}
	var dataErr *cip.DataError
	if !errors.As(err, &dataErr) {
		t.Errorf("error is %T, want *DataError", err)
	}
	if st := d.Status(); st.Ok() {
		t.Error("status slot not set")
	}
	// Data errors leave the session usable.
	if !d.IsConnected() {
		t.Error("PCCC error dropped the connection")
	}
}

func TestErrorTextTable(t *testing.T) {
	if ErrorText(0x70) != "Processor is in Program mode" {
		t.Errorf("0x70 = %q", ErrorText(0x70))
	}
	if ErrorText(0x05) != "Unknown PCCC error" {
		t.Errorf("unknown code = %q", ErrorText(0x05))
	}
}
