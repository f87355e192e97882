package eip

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"ablink/cip"
)

// startServer runs a scripted encapsulation peer on loopback. The
// handler receives each decoded request frame and returns the reply to
// write, or nil for no reply.
func startServer(t *testing.T, handler func(req Frame) *Frame) (string, uint16) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				for {
					header := make([]byte, HeaderSize)
					if _, err := io.ReadFull(conn, header); err != nil {
						return
					}
					f := parseHeader(header)
					if f.Length > 0 {
						f.Data = make([]byte, f.Length)
						if _, err := io.ReadFull(conn, f.Data); err != nil {
							return
						}
					}
					reply := handler(f)
					if reply == nil {
						continue
					}
					if _, err := conn.Write(reply.Bytes()); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), uint16(addr.Port)
}

// registerReply answers Register Session with the canonical test
// handle, echoing context and body.
func registerReply(req Frame) *Frame {
	return &Frame{
		Command:       CmdRegisterSession,
		SessionHandle: 0x44332211,
		Context:       req.Context,
		Data:          req.Data,
	}
}

func TestRegisterSession(t *testing.T) {
	var captured []byte
	host, port := startServer(t, func(req Frame) *Frame {
		if req.Command == CmdUnRegisterSession {
			return nil
		}
		if req.Command != CmdRegisterSession {
			t.Errorf("unexpected command 0x%04X", req.Command)
			return nil
		}
		captured = req.Bytes()
		return registerReply(req)
	})

	c := NewClientWithPort(host, port)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	want := []byte{
		0x65, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x5F, 0x61, 0x62, 0x6C,
		0x69, 0x6E, 0x6B, 0x5F, 0x00, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00,
	}
	if string(captured) != string(want) {
		t.Errorf("register request =\n% X, want\n% X", captured, want)
	}

	if got := c.Session(); got != 0x44332211 {
		t.Errorf("session = 0x%08X, want 0x44332211", got)
	}
	if !c.IsConnected() {
		t.Error("client reports not connected")
	}

	// Registering again returns the cached handle without another
	// round trip.
	if err := c.Connect(); err != nil {
		t.Errorf("second Connect: %v", err)
	}
}

func TestRegisterSessionBadStatus(t *testing.T) {
	host, port := startServer(t, func(req Frame) *Frame {
		r := registerReply(req)
		r.EncapStatus = 0x0069
		return r
	})

	c := NewClientWithPort(host, port)
	err := c.Connect()
	if err == nil {
		t.Fatal("expected error for non-zero encapsulation status")
	}
	var commErr *cip.CommError
	if !errors.As(err, &commErr) {
		t.Errorf("error is %T, want *CommError", err)
	}
	if c.IsConnected() {
		t.Error("client kept dead connection")
	}
}

func TestReplyUnknownCommandIsDataError(t *testing.T) {
	host, port := startServer(t, func(req Frame) *Frame {
		r := registerReply(req)
		r.Command = 0x1234
		return r
	})

	c := NewClientWithPort(host, port)
	err := c.Connect()
	if err == nil {
		t.Fatal("expected error for unknown reply command")
	}
	var dataErr *cip.DataError
	if !errors.As(err, &dataErr) {
		t.Errorf("error is %T, want *DataError", err)
	}
}

func TestReplyCommandMismatchIsCommError(t *testing.T) {
	host, port := startServer(t, func(req Frame) *Frame {
		r := registerReply(req)
		r.Command = CmdSendRRData
		return r
	})

	c := NewClientWithPort(host, port)
	err := c.Connect()
	if err == nil {
		t.Fatal("expected error for command mismatch")
	}
	var commErr *cip.CommError
	if !errors.As(err, &commErr) {
		t.Errorf("error is %T, want *CommError", err)
	}
}

func TestSendRRData(t *testing.T) {
	host, port := startServer(t, func(req Frame) *Frame {
		switch req.Command {
		case CmdRegisterSession:
			return registerReply(req)
		case CmdSendRRData:
			// Echo the CPF back under the same session.
			cdata, err := ParseCommandData(req.Data)
			if err != nil {
				t.Errorf("server: %v", err)
				return nil
			}
			if cdata.Timeout != 10 {
				t.Errorf("unconnected timeout = %d, want 10", cdata.Timeout)
			}
			reply := CommandData{Packet: cdata.Packet}
			return &Frame{
				Command:       CmdSendRRData,
				SessionHandle: req.SessionHandle,
				Context:       req.Context,
				Data:          reply.Bytes(),
			}
		}
		return nil
	})

	c := NewClientWithPort(host, port)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	resp, err := c.SendRRData(UnconnectedPacket([]byte{0x4E, 0x02, 0x20, 0x06, 0x24, 0x01}))
	if err != nil {
		t.Fatalf("SendRRData: %v", err)
	}
	data, err := resp.DataItem()
	if err != nil {
		t.Fatalf("DataItem: %v", err)
	}
	if data[0] != 0x4E {
		t.Errorf("echoed payload = % X", data)
	}
}

func TestSendRRDataWithoutSession(t *testing.T) {
	c := NewClient("127.0.0.1")
	_, err := c.SendRRData(UnconnectedPacket([]byte{0x00}))
	var commErr *cip.CommError
	if !errors.As(err, &commErr) {
		t.Errorf("error = %v, want *CommError", err)
	}
}

func TestReceiveTimeout(t *testing.T) {
	// A server that swallows the request produces a timeout, which must
	// surface as a communication error.
	host, port := startServer(t, func(req Frame) *Frame { return nil })

	c := NewClientWithPort(host, port)
	c.SetTimeout(100 * time.Millisecond)
	err := c.Connect()
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var commErr *cip.CommError
	if !errors.As(err, &commErr) {
		t.Errorf("error is %T, want *CommError", err)
	}
}

func TestTwoPhaseReceiveReassembly(t *testing.T) {
	// The reply is dribbled out in small writes; the two-phase receive
	// must reassemble it from the stream by the header's length field.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		header := make([]byte, HeaderSize)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		body := make([]byte, binary.LittleEndian.Uint16(header[2:4]))
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}

		req := parseHeader(header)
		req.Data = body
		reply := registerReply(req).Bytes()
		for _, b := range reply {
			conn.Write([]byte{b})
			time.Sleep(time.Millisecond)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	c := NewClientWithPort(addr.IP.String(), uint16(addr.Port))
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.Session() != 0x44332211 {
		t.Errorf("session = 0x%08X", c.Session())
	}
	c.Disconnect()
}
