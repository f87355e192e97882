package eip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"ablink/cip"
	"ablink/logging"
)

// DefaultPort is the registered EtherNet/IP TCP port (0xAF12).
const DefaultPort uint16 = 44818

// DefaultTimeout bounds every socket send and receive.
const DefaultTimeout = 5 * time.Second

// defaultContext is the 8-byte sender context echoed by the target.
var defaultContext = [8]byte{'_', 'a', 'b', 'l', 'i', 'n', 'k', '_'}

// Client owns one TCP connection and one registered session. All
// operations are synchronous and strictly serialised: a request is
// written and its reply read before the next may start.
type Client struct {
	addr    string
	port    uint16
	conn    net.Conn
	session uint32
	context [8]byte
	option  uint32
	timeout time.Duration
	mu      sync.Mutex
}

// NewClient creates a client for the default port. It does not connect.
func NewClient(addr string) *Client {
	return NewClientWithPort(addr, DefaultPort)
}

// NewClientWithPort creates a client for a custom port.
func NewClientWithPort(addr string, port uint16) *Client {
	return &Client{
		addr:    addr,
		port:    port,
		context: defaultContext,
		timeout: DefaultTimeout,
	}
}

// SetTimeout changes the socket timeout for subsequent operations.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// SetContext overrides the 8-byte sender context.
func (c *Client) SetContext(ctx [8]byte) {
	c.mu.Lock()
	c.context = ctx
	c.mu.Unlock()
}

// Session returns the registered session handle (0 when unregistered).
func (c *Client) Session() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// IsConnected reports whether the TCP connection is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials the target and registers a session. Registering twice
// is a no-op returning the cached handle.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.session != 0 {
		return nil
	}

	target := net.JoinHostPort(c.addr, strconv.Itoa(int(c.port)))
	logging.DebugLog("eip", "CONNECT to %s", target)

	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.Dial("tcp", target)
	if err != nil {
		logging.DebugError("eip", "dial", err)
		return cip.CommWrap("Connect", "dial "+target, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}

	c.conn = conn
	c.session = 0

	session, err := c.registerSession()
	if err != nil {
		_ = conn.Close()
		c.conn = nil
		return err
	}
	c.session = session

	logging.DebugLog("eip", "CONNECTED to %s session=0x%08X", target, session)
	return nil
}

// Disconnect unregisters the session (best-effort) and closes the
// socket. Errors during teardown are swallowed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardown()
}

// Invalidate drops the connection and session without attempting to
// unregister. Called after a communication failure.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.session = 0
}

func (c *Client) teardown() {
	if c.conn == nil {
		c.session = 0
		return
	}
	if c.session != 0 {
		req := Frame{
			Command:       CmdUnRegisterSession,
			SessionHandle: c.session,
			Context:       c.context,
			Option:        c.option,
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
		_ = c.send(&req)
	}
	_ = c.conn.Close()
	c.conn = nil
	c.session = 0
}

// registerSession sends Register Session and adopts the handle from the
// reply. Caller holds the lock, conn is up.
func (c *Client) registerSession() (uint32, error) {
	req := Frame{
		Command: CmdRegisterSession,
		Context: c.context,
		Option:  c.option,
		Data:    []byte{0x01, 0x00, 0x00, 0x00}, // protocol version 1, options 0
	}

	resp, err := c.transact(&req)
	if err != nil {
		return 0, err
	}
	if resp.SessionHandle == 0 {
		return 0, cip.CommErrorf("RegisterSession", "target returned session handle 0")
	}
	return resp.SessionHandle, nil
}

// transact writes a frame and reads its reply under the socket timeout,
// then validates the reply header against the request.
func (c *Client) transact(req *Frame) (*Frame, error) {
	if c.conn == nil {
		return nil, cip.CommErrorf("transact", "not connected")
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	if err := c.send(req); err != nil {
		return nil, err
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetReadDeadline(time.Time{})
	resp, err := c.recv()
	if err != nil {
		return nil, err
	}

	return resp, c.validateReply(req, resp)
}

// validateReply enforces the well-formedness rules: encapsulation
// status zero and command echo. An unknown command in the reply is a
// data error; everything else is a communication error.
func (c *Client) validateReply(req, resp *Frame) error {
	if resp.EncapStatus != 0 {
		return cip.CommErrorf("validateReply", "%s reply status: %s",
			commandName(req.Command), cip.EncapStatusText(resp.EncapStatus))
	}
	if resp.Command != req.Command {
		if !knownCommand(resp.Command) {
			return cip.DataErrorf("validateReply", "unknown command 0x%04X in reply", resp.Command)
		}
		return cip.CommErrorf("validateReply", "command mismatch: sent 0x%04X, got 0x%04X",
			req.Command, resp.Command)
	}
	if resp.Context != req.Context {
		// Secondary check only; the target must echo the context.
		logging.DebugLog("eip", "sender context not echoed: sent %X got %X", req.Context, resp.Context)
	}
	return nil
}

func (c *Client) send(f *Frame) error {
	data := f.Bytes()
	logging.DebugTX("eip", data)

	// Drain until every byte is written; a zero-byte write means the
	// connection is broken.
	for len(data) > 0 {
		n, err := c.conn.Write(data)
		if err != nil {
			return cip.CommWrap("send", "socket write", err)
		}
		if n == 0 {
			return cip.CommErrorf("send", "socket connection broken")
		}
		data = data[n:]
	}
	return nil
}

// recv performs the two-phase receive: the fixed header first, then the
// body sized by the header's length field.
func (c *Client) recv() (*Frame, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, cip.CommWrap("recv", "reading encapsulation header", err)
	}

	f := parseHeader(header)
	if f.Length > maxPayload {
		return nil, cip.CommErrorf("recv", "excessive payload length %d", f.Length)
	}
	if f.SessionHandle != 0 && c.session != 0 && f.SessionHandle != c.session {
		return nil, cip.CommErrorf("recv", "session mismatch: need 0x%08X, got 0x%08X",
			c.session, f.SessionHandle)
	}

	if f.Length > 0 {
		f.Data = make([]byte, f.Length)
		if _, err := io.ReadFull(c.conn, f.Data); err != nil {
			return nil, cip.CommWrap("recv", "reading encapsulation body", err)
		}
	}

	logging.DebugRX("eip", append(header, f.Data...))
	return &f, nil
}

// SendRRData sends an unconnected explicit message and returns the
// reply's Common Packet. The CPF timeout field carries the unconnected
// request timeout in seconds.
func (c *Client) SendRRData(packet *CommonPacket) (*CommonPacket, error) {
	return c.commandData(CmdSendRRData, 10, packet)
}

// SendUnitData sends a connected explicit message (the payload's data
// item must begin with the 2-byte connected sequence) and returns the
// reply's Common Packet.
func (c *Client) SendUnitData(packet *CommonPacket) (*CommonPacket, error) {
	return c.commandData(CmdSendUnitData, 0, packet)
}

func (c *Client) commandData(command uint16, timeout uint16, packet *CommonPacket) (*CommonPacket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op := commandName(command)
	if c.conn == nil {
		return nil, cip.CommErrorf(op, "not connected")
	}
	if c.session == 0 {
		return nil, cip.CommErrorf(op, "session not registered")
	}

	cmd := CommandData{Timeout: timeout, Packet: packet.Bytes()}
	body := cmd.Bytes()

	req := Frame{
		Command:       command,
		SessionHandle: c.session,
		Context:       c.context,
		Option:        c.option,
		Data:          body,
	}

	resp, err := c.transact(&req)
	if err != nil {
		return nil, err
	}

	cdata, err := ParseCommandData(resp.Data)
	if err != nil {
		return nil, err
	}
	return ParseCommonPacket(cdata.Packet)
}

// SendNop sends the encapsulation NOP command. The target sends no
// reply; a successful write means the TCP connection is still open.
func (c *Client) SendNop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return cip.CommErrorf("SendNop", "not connected")
	}

	req := Frame{
		Command:       CmdNop,
		SessionHandle: c.session,
		Context:       c.context,
		Option:        c.option,
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	return c.send(&req)
}

// Identity is the parsed ListIdentity record of the connected target.
type Identity struct {
	EncapsulationVersion uint16
	VendorID             uint16
	DeviceType           uint16
	ProductCode          uint16
	RevisionMajor        byte
	RevisionMinor        byte
	DeviceStatus         uint16
	SerialNumber         uint32
	ProductName          string
	State                byte
}

// ListIdentity asks the connected target to identify itself. The
// session handle is conventionally zero for this command.
func (c *Client) ListIdentity() (*Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, cip.CommErrorf("ListIdentity", "not connected")
	}

	req := Frame{Command: CmdListIdentity, Context: c.context}
	resp, err := c.transact(&req)
	if err != nil {
		return nil, err
	}

	packet, err := ParseCommonPacket(resp.Data)
	if err != nil {
		return nil, err
	}
	for _, item := range packet.Items {
		if item.TypeID == ItemListIdentity {
			return parseIdentityItem(item.Data)
		}
	}
	return nil, cip.DataErrorf("ListIdentity", "no identity item in reply")
}

// parseIdentityItem decodes a ListIdentity item: encapsulation version,
// a 16-byte socket address, then the CIP identity attributes with a
// length-prefixed product name.
func parseIdentityItem(data []byte) (*Identity, error) {
	if len(data) < 33 {
		return nil, cip.DataErrorf("ListIdentity", "identity item too short: %d bytes", len(data))
	}

	id := &Identity{
		EncapsulationVersion: binary.LittleEndian.Uint16(data[0:2]),
		VendorID:             binary.LittleEndian.Uint16(data[18:20]),
		DeviceType:           binary.LittleEndian.Uint16(data[20:22]),
		ProductCode:          binary.LittleEndian.Uint16(data[22:24]),
		RevisionMajor:        data[24],
		RevisionMinor:        data[25],
		DeviceStatus:         binary.LittleEndian.Uint16(data[26:28]),
		SerialNumber:         binary.LittleEndian.Uint32(data[28:32]),
	}

	nameLen := int(data[32])
	if len(data) < 33+nameLen {
		return nil, cip.DataErrorf("ListIdentity", "truncated product name")
	}
	id.ProductName = string(bytes.TrimRight(data[33:33+nameLen], "\x00"))
	if len(data) > 33+nameLen {
		id.State = data[33+nameLen]
	}
	return id, nil
}

func commandName(cmd uint16) string {
	switch cmd {
	case CmdNop:
		return "NOP"
	case CmdListIdentity:
		return "ListIdentity"
	case CmdRegisterSession:
		return "RegisterSession"
	case CmdUnRegisterSession:
		return "UnRegisterSession"
	case CmdSendRRData:
		return "SendRRData"
	case CmdSendUnitData:
		return "SendUnitData"
	default:
		return fmt.Sprintf("Command 0x%04X", cmd)
	}
}
