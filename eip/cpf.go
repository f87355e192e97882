package eip

// Common Packet Format per ODVA Volume 2, 2-6.

import (
	"encoding/binary"

	"ablink/cip"
)

// CPF item type ids.
const (
	ItemNullAddress      uint16 = 0x0000
	ItemListIdentity     uint16 = 0x000C
	ItemConnectedAddress uint16 = 0x00A1
	ItemConnectedData    uint16 = 0x00B1
	ItemUnconnectedData  uint16 = 0x00B2
	ItemSockAddrOtoT     uint16 = 0x8000
	ItemSockAddrTtoO     uint16 = 0x8001
)

// Item is one CPF address or data item.
type Item struct {
	TypeID uint16
	Data   []byte
}

// CommonPacket is the address-item + data-item envelope inside
// SendRRData and SendUnitData.
type CommonPacket struct {
	Items []Item
}

// Bytes renders the packet: item count then each item with its length.
func (p *CommonPacket) Bytes() []byte {
	out := binary.LittleEndian.AppendUint16(nil, uint16(len(p.Items)))
	for _, item := range p.Items {
		out = binary.LittleEndian.AppendUint16(out, item.TypeID)
		out = binary.LittleEndian.AppendUint16(out, uint16(len(item.Data)))
		out = append(out, item.Data...)
	}
	return out
}

// UnconnectedPacket wraps a CIP request in a Null address item and an
// Unconnected data item.
func UnconnectedPacket(payload []byte) *CommonPacket {
	return &CommonPacket{Items: []Item{
		{TypeID: ItemNullAddress},
		{TypeID: ItemUnconnectedData, Data: payload},
	}}
}

// ConnectedPacket wraps a sequenced CIP payload in a Connected address
// item carrying the target connection id and a Connected data item.
func ConnectedPacket(targetCID uint32, payload []byte) *CommonPacket {
	return &CommonPacket{Items: []Item{
		{TypeID: ItemConnectedAddress, Data: binary.LittleEndian.AppendUint32(nil, targetCID)},
		{TypeID: ItemConnectedData, Data: payload},
	}}
}

// DataItem returns the payload of the packet's data item (the second
// item by convention).
func (p *CommonPacket) DataItem() ([]byte, error) {
	if len(p.Items) < 2 {
		return nil, cip.DataErrorf("DataItem", "expected 2 CPF items, got %d", len(p.Items))
	}
	return p.Items[1].Data, nil
}

// ParseCommonPacket parses a CPF byte stream back into items.
func ParseCommonPacket(raw []byte) (*CommonPacket, error) {
	if len(raw) < 2 {
		return nil, cip.DataErrorf("ParseCommonPacket", "packet too short: %d bytes", len(raw))
	}

	count := int(binary.LittleEndian.Uint16(raw[0:2]))
	raw = raw[2:]

	items := make([]Item, 0, count)
	for i := 0; i < count; i++ {
		if len(raw) < 4 {
			return nil, cip.DataErrorf("ParseCommonPacket", "truncated item header at item %d", i)
		}
		typeID := binary.LittleEndian.Uint16(raw[0:2])
		length := int(binary.LittleEndian.Uint16(raw[2:4]))
		if len(raw) < 4+length {
			return nil, cip.DataErrorf("ParseCommonPacket",
				"item %d needs %d bytes, have %d", i, 4+length, len(raw))
		}
		items = append(items, Item{TypeID: typeID, Data: raw[4 : 4+length]})
		raw = raw[4+length:]
	}

	return &CommonPacket{Items: items}, nil
}
