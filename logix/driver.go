package logix

import (
	"errors"
	"time"

	"ablink/cip"
	"ablink/eip"
	"ablink/logging"
)

// Config is the per-driver configuration record. Zero values fall back
// to the Rockwell reference defaults.
type Config struct {
	Port             uint16        // TCP port, default 44818
	Timeout          time.Duration // socket timeout, default 5s
	RPIMicros        uint32        // requested packet interval, default 5000 us
	Backplane        byte          // backplane port, default 1
	CPUSlot          byte          // CPU slot, default 0
	VendorID         uint16        // originator vendor id, default 0x1009
	VendorSerial     uint32        // originator vendor serial, default 0x71191009
	OriginatorSerial uint16        // connection serial number, default 0x0427
	OriginatorCID    uint32        // proposed T->O connection id, default 0x71190427
}

func (c Config) withDefaults() Config {
	def := cip.DefaultConnectionConfig()
	if c.Port == 0 {
		c.Port = eip.DefaultPort
	}
	if c.Timeout == 0 {
		c.Timeout = eip.DefaultTimeout
	}
	if c.RPIMicros == 0 {
		c.RPIMicros = def.RPIMicros
	}
	if c.Backplane == 0 {
		c.Backplane = def.Backplane
	}
	if c.VendorID == 0 {
		c.VendorID = def.VendorID
	}
	if c.VendorSerial == 0 {
		c.VendorSerial = def.VendorSerial
	}
	if c.OriginatorSerial == 0 {
		c.OriginatorSerial = def.OriginatorSerial
	}
	if c.OriginatorCID == 0 {
		c.OriginatorCID = def.OriginatorCID
	}
	return c
}

func (c Config) connectionConfig() cip.ConnectionConfig {
	return cip.ConnectionConfig{
		OriginatorCID:    c.OriginatorCID,
		OriginatorSerial: c.OriginatorSerial,
		VendorID:         c.VendorID,
		VendorSerial:     c.VendorSerial,
		RPIMicros:        c.RPIMicros,
		Backplane:        c.Backplane,
		CPUSlot:          c.CPUSlot,
	}
}

// Driver is a synchronous client for one ControlLogix/CompactLogix
// target. It owns one TCP connection, one session and one Class-3
// connection; operations are strictly serialised. Callers that want
// concurrency create one driver per connection.
type Driver struct {
	cfg    Config
	client *eip.Client
	conn   *cip.Connection
	status cip.Status

	templates map[uint16]*Template // template cache, keyed by instance
}

// NewDriver creates an unopened driver.
func NewDriver(cfg Config) *Driver {
	return &Driver{
		cfg:       cfg.withDefaults(),
		templates: make(map[uint16]*Template),
	}
}

// Open connects to the target: TCP dial, Register Session, a Forward
// Close to clear any stale connection, then Forward Open.
func (d *Driver) Open(addr string) error {
	d.ClearStatus()

	d.client = eip.NewClientWithPort(addr, d.cfg.Port)
	d.client.SetTimeout(d.cfg.Timeout)

	if err := d.client.Connect(); err != nil {
		return d.fail(4, err)
	}

	// A previous process may have left a connection open on the target;
	// close it before opening ours.
	d.forwardCloseStale()

	if err := d.forwardOpen(); err != nil {
		return d.fail(5, err)
	}
	return nil
}

// Close tears the target down: Forward Close if connected, unregister,
// socket close. Teardown errors are swallowed but recorded in status.
func (d *Driver) Close() {
	if d.client == nil {
		return
	}
	if d.conn != nil {
		if err := d.forwardClose(); err != nil {
			d.setStatus(11, err.Error())
		}
	}
	d.client.Disconnect()
	d.client = nil
	d.conn = nil
}

// IsConnected reports whether a Class-3 connection is established.
func (d *Driver) IsConnected() bool {
	return d.client != nil && d.client.IsConnected() && d.conn != nil
}

// Status returns the last structured (code, text) status.
func (d *Driver) Status() cip.Status {
	return d.status
}

// ClearStatus clears the status slot.
func (d *Driver) ClearStatus() {
	d.status = cip.Status{}
}

func (d *Driver) setStatus(code int, text string) {
	d.status = cip.Status{Code: code, Text: text}
}

// fail records the status slot and, for communication errors, drops the
// session and connection state so the caller must reopen.
func (d *Driver) fail(code int, err error) error {
	d.setStatus(code, err.Error())

	var commErr *cip.CommError
	if errors.As(err, &commErr) {
		if d.client != nil {
			d.client.Invalidate()
		}
		d.conn = nil
	}
	return err
}

// Description queries the target's ListIdentity product name.
func (d *Driver) Description() (string, error) {
	if d.client == nil {
		return "", d.fail(4, cip.CommErrorf("Description", "driver not open"))
	}
	id, err := d.client.ListIdentity()
	if err != nil {
		return "", d.fail(4, err)
	}
	return id.ProductName, nil
}

// Nop probes the TCP connection with the encapsulation NOP command.
func (d *Driver) Nop() error {
	if d.client == nil {
		return d.fail(4, cip.CommErrorf("Nop", "driver not open"))
	}
	if err := d.client.SendNop(); err != nil {
		return d.fail(4, err)
	}
	return nil
}

// forwardOpen opens the Class-3 connection via the Connection Manager.
// A rejected Forward Open is a data error; the session survives.
func (d *Driver) forwardOpen() error {
	connCfg := d.cfg.connectionConfig()
	req := cip.BuildForwardOpen(connCfg)

	replyData, err := d.sendUnconnected(req)
	if err != nil {
		return err
	}

	resp, err := cip.ParseResponse(replyData, cip.SvcForwardOpen)
	if err != nil {
		return err
	}
	if resp.GeneralStatus != cip.StatusSuccess {
		return cip.DataErrorf("ForwardOpen", "rejected: %s - Extended status: %s",
			cip.GeneralStatusText(resp.GeneralStatus),
			cip.ExtendedStatusText(resp.GeneralStatus, resp.ExtendedStatus))
	}

	targetCID, err := cip.ParseForwardOpen(resp.Data)
	if err != nil {
		return err
	}

	d.conn = cip.NewConnection(connCfg, targetCID)
	logging.DebugLog("logix", "forward open: target_cid=0x%08X", targetCID)
	return nil
}

// forwardClose closes the Class-3 connection. The local state
// transitions to disconnected regardless of the target's response.
func (d *Driver) forwardClose() error {
	req := cip.BuildForwardClose(d.cfg.connectionConfig(), d.conn)
	d.conn = nil

	replyData, err := d.sendUnconnected(req)
	if err != nil {
		return err
	}
	resp, err := cip.ParseResponse(replyData, cip.SvcForwardClose)
	if err != nil {
		return err
	}
	return resp.Err("ForwardClose")
}

// forwardCloseStale sends a best-effort Forward Close for a connection
// a previous session may have leaked. All errors are ignored.
func (d *Driver) forwardCloseStale() {
	req := cip.BuildForwardClose(d.cfg.connectionConfig(), nil)
	if _, err := d.sendUnconnected(req); err != nil {
		logging.DebugLog("logix", "stale forward close: %v", err)
	}
}

// sendUnconnected performs one SendRRData round trip and returns the
// CIP reply bytes.
func (d *Driver) sendUnconnected(req []byte) ([]byte, error) {
	if d.client == nil {
		return nil, cip.CommErrorf("sendUnconnected", "driver not open")
	}

	packet, err := d.client.SendRRData(eip.UnconnectedPacket(req))
	if err != nil {
		return nil, err
	}
	return packet.DataItem()
}

// sendConnected performs one SendUnitData round trip on the Class-3
// connection, opening it first if needed, and returns the CIP reply
// bytes after checking the echoed sequence number.
func (d *Driver) sendConnected(req []byte) ([]byte, error) {
	if d.client == nil {
		return nil, cip.CommErrorf("sendConnected", "driver not open")
	}
	if d.conn == nil {
		// Target not connected: try Forward Open before giving up.
		if err := d.forwardOpen(); err != nil {
			return nil, err
		}
	}

	seq, payload := d.conn.WrapConnected(req)
	packet, err := d.client.SendUnitData(eip.ConnectedPacket(d.conn.TargetCID, payload))
	if err != nil {
		return nil, err
	}

	item, err := packet.DataItem()
	if err != nil {
		return nil, err
	}

	gotSeq, cipResp, err := cip.UnwrapConnected(item)
	if err != nil {
		return nil, err
	}
	if gotSeq != seq {
		return nil, cip.DataErrorf("sendConnected", "sequence mismatch: sent %d, got %d", seq, gotSeq)
	}
	return cipResp, nil
}
