package cip

import (
	"encoding/binary"
	"os"
	"sync/atomic"
)

// Forward Open fixed fields (ODVA Volume 1, 3-5.5.2).
const (
	foPriorityTick      byte   = 0x0A
	foTimeoutTicks      byte   = 0x05
	foTimeoutMultiplier byte   = 0x01
	foTransportClass    byte   = 0xA3
	foConnectionParams  uint16 = 0x43F8 // Default (CLX backplane)
)

// ConnectionConfig carries the originator identity and timing used to
// open a Class-3 connection. Defaults match the Rockwell reference
// values.
type ConnectionConfig struct {
	OriginatorCID    uint32 // T->O connection id proposed by the originator
	OriginatorSerial uint16 // connection serial number
	VendorID         uint16
	VendorSerial     uint32
	RPIMicros        uint32 // requested packet interval, microseconds
	Backplane        byte   // backplane port number
	CPUSlot          byte
}

// DefaultConnectionConfig returns the reference originator identity.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		OriginatorCID:    0x71190427,
		OriginatorSerial: 0x0427,
		VendorID:         0x1009,
		VendorSerial:     0x71191009,
		RPIMicros:        5000,
		Backplane:        1,
		CPUSlot:          0,
	}
}

// connectionPath is backplane port -> slot -> Message Router class 2
// instance 1.
func (c ConnectionConfig) connectionPath() []byte {
	return []byte{c.Backplane, c.CPUSlot, segClassID8, ClassMessageRouter, segInstanceID8, 0x01}
}

// Connection is an established Class-3 connection.
type Connection struct {
	TargetCID        uint32 // connection id assigned by the target
	OriginatorCID    uint32
	OriginatorSerial uint16
	VendorID         uint16
	VendorSerial     uint32

	seq     uint32 // current sequence, low 16 bits in [1, 65535]
	seqSeed uint32 // restart value after wrap
}

// NewConnection creates connection state with the Class-3 sequence
// seeded from the process id, so concurrent processes talking to the
// same PLC do not collide on sequence numbers.
func NewConnection(cfg ConnectionConfig, targetCID uint32) *Connection {
	seed := uint32(os.Getpid()) & 0xFFFF
	if seed == 0 {
		seed = 1
	}
	return &Connection{
		TargetCID:        targetCID,
		OriginatorCID:    cfg.OriginatorCID,
		OriginatorSerial: cfg.OriginatorSerial,
		VendorID:         cfg.VendorID,
		VendorSerial:     cfg.VendorSerial,
		seq:              seed,
		seqSeed:          seed,
	}
}

// NextSequence advances the Class-3 sequence counter. The counter stays
// in [1, 65535]; past 65535 it restarts at the seed, never at zero.
func (c *Connection) NextSequence() uint16 {
	for {
		old := atomic.LoadUint32(&c.seq)
		next := old + 1
		if next > 0xFFFF {
			next = c.seqSeed
		}
		if atomic.CompareAndSwapUint32(&c.seq, old, next) {
			return uint16(next)
		}
	}
}

// WrapConnected prefixes the next sequence number to a CIP payload and
// returns both.
func (c *Connection) WrapConnected(payload []byte) (uint16, []byte) {
	seq := c.NextSequence()
	out := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(out[0:2], seq)
	copy(out[2:], payload)
	return seq, out
}

// UnwrapConnected splits a connected data item into its sequence number
// and CIP payload.
func UnwrapConnected(raw []byte) (seq uint16, payload []byte, err error) {
	if len(raw) < 2 {
		return 0, nil, DataErrorf("UnwrapConnected", "connected data too short: %d bytes", len(raw))
	}
	return binary.LittleEndian.Uint16(raw[0:2]), raw[2:], nil
}

// BuildForwardOpen builds the complete Forward Open CIP request
// addressed to the Connection Manager.
func BuildForwardOpen(cfg ConnectionConfig) []byte {
	connPath := cfg.connectionPath()

	data := make([]byte, 0, 40+len(connPath))
	data = append(data, SvcForwardOpen)
	data = append(data, 0x02) // path: 2 words
	data = append(data, segClassID8, ClassConnectionManager)
	data = append(data, segInstanceID8, InstanceOpenRequest)

	data = append(data, foPriorityTick, foTimeoutTicks)
	data = binary.LittleEndian.AppendUint32(data, 0) // O->T CID, target assigns
	data = binary.LittleEndian.AppendUint32(data, cfg.OriginatorCID)
	data = binary.LittleEndian.AppendUint16(data, cfg.OriginatorSerial)
	data = binary.LittleEndian.AppendUint16(data, cfg.VendorID)
	data = binary.LittleEndian.AppendUint32(data, cfg.VendorSerial)
	data = append(data, foTimeoutMultiplier, 0x00, 0x00, 0x00)
	data = binary.LittleEndian.AppendUint32(data, cfg.RPIMicros)
	data = binary.LittleEndian.AppendUint16(data, foConnectionParams)
	data = binary.LittleEndian.AppendUint32(data, cfg.RPIMicros)
	data = binary.LittleEndian.AppendUint16(data, foConnectionParams)
	data = append(data, foTransportClass)
	data = append(data, byte(len(connPath)/2))
	data = append(data, connPath...)

	return data
}

// ParseForwardOpen extracts the target-assigned connection id from a
// successful Forward Open response body (service data after the status
// block, whose first four bytes are the O->T connection id).
func ParseForwardOpen(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, DataErrorf("ParseForwardOpen", "response too short: %d bytes", len(data))
	}
	return binary.LittleEndian.Uint32(data[0:4]), nil
}

// BuildForwardClose builds the Forward Close CIP request mirroring the
// connection's identity and path. Forward Close is idempotent on the
// target side.
func BuildForwardClose(cfg ConnectionConfig, conn *Connection) []byte {
	connPath := cfg.connectionPath()

	data := make([]byte, 0, 20+len(connPath))
	data = append(data, SvcForwardClose)
	data = append(data, 0x02)
	data = append(data, segClassID8, ClassConnectionManager)
	data = append(data, segInstanceID8, InstanceOpenRequest)

	data = append(data, foPriorityTick, foTimeoutTicks)
	serial := cfg.OriginatorSerial
	vendor := cfg.VendorID
	vserial := cfg.VendorSerial
	if conn != nil {
		serial = conn.OriginatorSerial
		vendor = conn.VendorID
		vserial = conn.VendorSerial
	}
	data = binary.LittleEndian.AppendUint16(data, serial)
	data = binary.LittleEndian.AppendUint16(data, vendor)
	data = binary.LittleEndian.AppendUint32(data, vserial)
	data = append(data, byte(len(connPath)/2))
	data = append(data, 0x00) // reserved
	data = append(data, connPath...)

	return data
}
