package pccc

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"time"

	"ablink/cip"
	"ablink/eip"
	"ablink/logging"
)

// Config is the per-driver configuration record, sharing the Rockwell
// reference defaults with the Logix driver.
type Config struct {
	Port             uint16
	Timeout          time.Duration
	RPIMicros        uint32
	Backplane        byte
	CPUSlot          byte
	VendorID         uint16
	VendorSerial     uint32
	OriginatorSerial uint16
	OriginatorCID    uint32
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

// Driver is a synchronous client for one SLC-500/PLC-5/MicroLogix
// target, addressing data table files through PCCC tunnelled in CIP.
type Driver struct {
	cfg    Config
	client *eip.Client
	conn   *cip.Connection
	status cip.Status
	tns    uint32 // DF1 transaction counter, low 16 bits used
}

// NewDriver creates an unopened driver.
func NewDriver(cfg Config) *Driver {
	return &Driver{cfg: cfg.withDefaults()}
}

// Open connects: TCP dial, Register Session, stale Forward Close, then
// Forward Open.
func (d *Driver) Open(addr string) error {
	d.ClearStatus()

	d.client = eip.NewClientWithPort(addr, d.cfg.Port)
	d.client.SetTimeout(d.cfg.Timeout)

	if err := d.client.Connect(); err != nil {
		return d.fail(4, err)
	}

	d.forwardCloseStale()

	if err := d.forwardOpen(); err != nil {
		return d.fail(5, err)
	}
	return nil
}

// Close tears down: Forward Close if connected, unregister, socket
// close. Errors are swallowed but recorded in status.
func (d *Driver) Close() {
	if d.client == nil {
		return
	}
	if d.conn != nil {
		req := cip.BuildForwardClose(d.cfg.connectionConfig(), d.conn)
		d.conn = nil
		if _, err := d.sendUnconnected(req); err != nil {
			d.setStatus(11, err.Error())
		}
	}
	d.client.Disconnect()
	d.client = nil
}

// IsConnected reports whether a Class-3 connection is established.
func (d *Driver) IsConnected() bool {
	return d.client != nil && d.client.IsConnected() && d.conn != nil
}

// Status returns the last structured (code, text) status.
func (d *Driver) Status() cip.Status { return d.status }

// ClearStatus clears the status slot.
func (d *Driver) ClearStatus() { d.status = cip.Status{} }

func (d *Driver) setStatus(code int, text string) {
	d.status = cip.Status{Code: code, Text: text}
}

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

func (d *Driver) nextTNS() uint16 {
	return uint16(atomic.AddUint32(&d.tns, 1))
}

func (d *Driver) forwardOpen() error {
	connCfg := d.cfg.connectionConfig()

	replyData, err := d.sendUnconnected(cip.BuildForwardOpen(connCfg))
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
	logging.DebugLog("pccc", "forward open: target_cid=0x%08X", targetCID)
	return nil
}

func (d *Driver) forwardCloseStale() {
	req := cip.BuildForwardClose(d.cfg.connectionConfig(), nil)
	if _, err := d.sendUnconnected(req); err != nil {
		logging.DebugLog("pccc", "stale forward close: %v", err)
	}
}

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

func (d *Driver) sendConnected(req []byte) ([]byte, error) {
	if d.client == nil {
		return nil, cip.CommErrorf("sendConnected", "driver not open")
	}
	if d.conn == nil {
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

// ReadTag reads count elements starting at a data table address. Word
// and file reads return int64/float64 values (a slice when count > 1);
// bit reads return bool; timer/counter PRE and ACC reads return the
// addressed word.
func (d *Driver) ReadTag(addr string, count int) (interface{}, error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return nil, d.fail(1000, err)
	}
	if count < 1 {
		count = 1
	}

	size := a.ElementSize()
	byteCount := size * count
	if byteCount > 0xFF {
		return nil, d.fail(1000, cip.DataErrorf("ReadTag", "%s: %d elements exceed one request", addr, count))
	}

	// Reads always fetch whole elements; bit extraction happens after.
	req := buildRequest(FuncRead, byte(byteCount), a, 0, d.nextTNS(),
		d.cfg.VendorID, d.cfg.VendorSerial, nil)

	replyData, err := d.sendConnected(req)
	if err != nil {
		return nil, d.fail(1000, err)
	}
	payload, err := parseReply(replyData, "ReadTag "+addr)
	if err != nil {
		return nil, d.fail(1000, err)
	}

	if a.HasSub {
		return decodeBitRead(a, payload)
	}

	width := unpackWidth(a.FileType)
	var values []interface{}
	for off := 0; off+width <= len(payload) && len(values) < count; off += size {
		v, err := unpackElement(a.FileType, payload[off:])
		if err != nil {
			return nil, d.fail(1000, err)
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return nil, d.fail(1000, cip.DataErrorf("ReadTag", "%s: empty reply payload", addr))
	}
	if count == 1 {
		return values[0], nil
	}
	return values, nil
}

// decodeBitRead extracts the addressed sub-element from a whole-element
// read: PRE and ACC words for timers/counters, a single bit otherwise.
func decodeBitRead(a *FileAddress, payload []byte) (interface{}, error) {
	if a.FileType == "T" || a.FileType == "C" {
		switch a.SubElement {
		case SubPRE:
			return unpackElement(a.FileType, sliceFrom(payload, 2))
		case SubACC:
			return unpackElement(a.FileType, sliceFrom(payload, 4))
		}
	}

	v, err := unpackElement(a.FileType, payload)
	if err != nil {
		return nil, err
	}
	word, ok := toInt64(v)
	if !ok {
		return nil, cip.DataErrorf("ReadTag", "%s: non-integer word for bit read", a.Raw)
	}
	return word&(1<<a.SubElement) != 0, nil
}

func sliceFrom(b []byte, off int) []byte {
	if off >= len(b) {
		return nil
	}
	return b[off:]
}

// WriteTag writes a value (or a []interface{} of values for contiguous
// multi-element writes) to a data table address. Bit writes use the
// mask/value protocol; list writes through bit addresses are rejected.
func (d *Driver) WriteTag(addr string, value interface{}) error {
	a, err := ParseAddress(addr)
	if err != nil {
		return d.fail(1000, err)
	}

	values, isList := value.([]interface{})
	if isList && a.AddrField == 3 {
		return d.fail(1000, cip.DataErrorf("WriteTag", "%s: cannot write a list through a bit address", addr))
	}

	var (
		payload    []byte
		subElement byte
		dataSize   int
		count      int
	)

	switch {
	case isList:
		dataSize = a.ElementSize()
		count = len(values)
		payload = []byte{0xFF, 0xFF}
		for _, v := range values {
			b, err := packElement(a.FileType, v)
			if err != nil {
				return d.fail(1000, err)
			}
			payload = append(payload, b...)
		}

	case a.HasSub && (a.FileType == "T" || a.FileType == "C") &&
		(a.SubElement == SubPRE || a.SubElement == SubACC):
		// Pre-set / accumulator words write through their sub-element.
		subElement = a.SubElement
		dataSize = 2
		count = 1
		b, err := packElement(a.FileType, value)
		if err != nil {
			return d.fail(1000, err)
		}
		payload = append([]byte{0xFF, 0xFF}, b...)

	case a.HasSub:
		// Bit within a word: payload is mask | value, value is the mask
		// or zero.
		dataSize = 2
		count = 1
		mask := uint16(1) << a.SubElement
		i, ok := toInt64(value)
		if !ok {
			return d.fail(1000, cip.DataErrorf("WriteTag", "%s: cannot pack %T as a bit", addr, value))
		}
		payload = binary.LittleEndian.AppendUint16(nil, mask)
		if i != 0 {
			payload = binary.LittleEndian.AppendUint16(payload, mask)
		} else {
			payload = binary.LittleEndian.AppendUint16(payload, 0)
		}

	default:
		dataSize = a.ElementSize()
		count = 1
		b, err := packElement(a.FileType, value)
		if err != nil {
			return d.fail(1000, err)
		}
		payload = append([]byte{0xFF, 0xFF}, b...)
	}

	byteCount := dataSize * count
	if byteCount > 0xFF {
		return d.fail(1000, cip.DataErrorf("WriteTag", "%s: %d elements exceed one request", addr, count))
	}

	req := buildRequest(FuncWrite, byte(byteCount), a, subElement, d.nextTNS(),
		d.cfg.VendorID, d.cfg.VendorSerial, payload)

	replyData, err := d.sendConnected(req)
	if err != nil {
		return d.fail(1000, err)
	}
	if _, err := parseReply(replyData, "WriteTag "+addr); err != nil {
		return d.fail(1000, err)
	}
	return nil
}
