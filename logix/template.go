package logix

import (
	"encoding/binary"
	"strings"

	"ablink/cip"
)

// Template is the parsed makeup of a UDT/AOI structure.
type Template struct {
	InstanceID           uint16
	ObjectDefinitionSize uint32 // definition size in 32-bit words
	StructureSize        uint32 // bytes per structure instance
	MemberCount          uint16
	StructureHandle      uint16

	Name        string
	MemberNames []string
	Members     []TemplateMember
}

// TemplateMember is one fixed member record: array size, resolved type
// name (empty when the type code is unknown), and byte offset within
// the structure.
type TemplateMember struct {
	ArraySize    uint16
	DataTypeName string
	ByteOffset   uint32
}

// GetTemplate fetches and parses a UDT template. Templates are cached
// per driver; repeated structure tags resolve without extra round
// trips.
func (d *Driver) GetTemplate(instanceID uint16) (*Template, error) {
	if instanceID == 0 {
		return nil, d.fail(10, cip.DataErrorf("GetTemplate", "invalid template instance 0"))
	}
	if tmpl, ok := d.templates[instanceID]; ok {
		return tmpl, nil
	}

	tmpl, err := d.getStructureMakeup(instanceID)
	if err != nil {
		return nil, err
	}

	buf, err := d.readTemplate(instanceID, tmpl.ObjectDefinitionSize)
	if err != nil {
		return nil, err
	}

	if err := tmpl.parseDefinition(buf); err != nil {
		return nil, d.fail(10, err)
	}

	d.templates[instanceID] = tmpl
	return tmpl, nil
}

// getStructureMakeup issues Get Attribute List on the Template Object
// for attributes 4 (definition size), 5 (structure size), 2 (member
// count) and 1 (structure handle). Each attribute in the reply carries
// its own status word, which must be zero.
func (d *Driver) getStructureMakeup(instanceID uint16) (*Template, error) {
	path, err := cip.Path().Class(cip.ClassTemplateObject).Instance16(instanceID).Build()
	if err != nil {
		return nil, d.fail(10, cip.DataWrap("GetTemplate", "template path", err))
	}

	data := binary.LittleEndian.AppendUint16(nil, 4) // attribute count
	data = binary.LittleEndian.AppendUint16(data, 4) // object definition size (UDINT)
	data = binary.LittleEndian.AppendUint16(data, 5) // structure size (UDINT)
	data = binary.LittleEndian.AppendUint16(data, 2) // member count (UINT)
	data = binary.LittleEndian.AppendUint16(data, 1) // structure handle (UINT)

	req := cip.Request{Service: cip.SvcGetAttributeList, Path: path, Data: data}

	replyData, err := d.sendConnected(req.Marshal())
	if err != nil {
		return nil, d.fail(10, err)
	}

	resp, err := cip.ParseResponse(replyData, cip.SvcGetAttributeList)
	if err != nil {
		return nil, d.fail(10, err)
	}
	if err := resp.Err("GetTemplate"); err != nil {
		return nil, d.fail(10, err)
	}

	tmpl, err := parseStructureMakeup(resp.Data)
	if err != nil {
		return nil, d.fail(10, err)
	}
	tmpl.InstanceID = instanceID
	return tmpl, nil
}

// parseStructureMakeup walks the attribute list reply: a count, then
// per attribute its id, a status word that must be zero, and a value
// sized by the attribute.
func parseStructureMakeup(data []byte) (*Template, error) {
	if len(data) < 2 {
		return nil, cip.DataErrorf("GetTemplate", "attribute reply too short")
	}
	count := int(binary.LittleEndian.Uint16(data[0:2]))
	data = data[2:]

	tmpl := &Template{}
	for i := 0; i < count; i++ {
		if len(data) < 4 {
			return nil, cip.DataErrorf("GetTemplate", "truncated attribute %d", i)
		}
		attrID := binary.LittleEndian.Uint16(data[0:2])
		status := binary.LittleEndian.Uint16(data[2:4])
		data = data[4:]

		size := 2
		if attrID == 4 || attrID == 5 {
			size = 4
		}
		if status != 0 {
			return nil, cip.DataErrorf("GetTemplate", "attribute %d status 0x%04X", attrID, status)
		}
		if len(data) < size {
			return nil, cip.DataErrorf("GetTemplate", "truncated value for attribute %d", attrID)
		}

		switch attrID {
		case 4:
			tmpl.ObjectDefinitionSize = binary.LittleEndian.Uint32(data[0:4])
		case 5:
			tmpl.StructureSize = binary.LittleEndian.Uint32(data[0:4])
		case 2:
			tmpl.MemberCount = binary.LittleEndian.Uint16(data[0:2])
		case 1:
			tmpl.StructureHandle = binary.LittleEndian.Uint16(data[0:2])
		}
		data = data[size:]
	}

	return tmpl, nil
}

// readTemplate reads the template definition with Read Template (0x4C
// on the Template Object) by byte offset until the target answers with
// a final 0x00 status. The definition length is
// (object_definition_size * 4) - 23 bytes.
func (d *Driver) readTemplate(instanceID uint16, objectDefinitionSize uint32) ([]byte, error) {
	path, err := cip.Path().Class(cip.ClassTemplateObject).Instance16(instanceID).Build()
	if err != nil {
		return nil, d.fail(10, cip.DataWrap("GetTemplate", "template path", err))
	}

	total := objectDefinitionSize*4 - 23
	var (
		buf    []byte
		offset uint32
	)

	for {
		data := binary.LittleEndian.AppendUint32(nil, offset)
		data = binary.LittleEndian.AppendUint16(data, uint16(total-offset))
		req := cip.Request{Service: cip.SvcReadTemplate, Path: path, Data: data}

		replyData, err := d.sendConnected(req.Marshal())
		if err != nil {
			return nil, d.fail(10, err)
		}

		// Read Template shares service 0x4C with Read Tag; this reply is
		// parsed as Read Template because that is the request in flight.
		resp, err := cip.ParseResponse(replyData, cip.SvcReadTemplate)
		if err != nil {
			return nil, d.fail(10, err)
		}
		if err := resp.Err("ReadTemplate"); err != nil {
			return nil, d.fail(10, err)
		}

		buf = append(buf, resp.Data...)
		offset += uint32(len(resp.Data))

		if !resp.Partial() {
			return buf, nil
		}
		if len(resp.Data) == 0 {
			return nil, d.fail(10, cip.DataErrorf("ReadTemplate", "empty fragment with partial status"))
		}
	}
}

// parseDefinition extracts member records and names from the raw
// template definition. The buffer carries member_count fixed 8-byte
// records (the first is skipped) and a NUL-separated name block whose
// first semicolon-terminated token is the structure name; subsequent
// alphabetic tokens are member names.
func (t *Template) parseDefinition(buf []byte) error {
	t.Name = "Not a user defined structure"

	for _, token := range strings.Split(string(buf), "\x00") {
		if len(token) <= 1 {
			continue
		}
		if i := strings.IndexByte(token, ';'); i != -1 {
			t.Name = token[:i]
			continue
		}
		if strings.Contains(token, "ZZZZZZZZZZ") {
			// Filler member names the controller pads templates with.
			continue
		}
		if isAlpha(token) {
			t.MemberNames = append(t.MemberNames, token)
		}
	}

	for i := 0; i < int(t.MemberCount); i++ {
		if len(buf) < 8 {
			return cip.DataErrorf("GetTemplate", "definition too short for %d members", t.MemberCount)
		}
		if i != 0 {
			member := TemplateMember{
				ArraySize:  binary.LittleEndian.Uint16(buf[0:2]),
				ByteOffset: binary.LittleEndian.Uint32(buf[4:8]),
			}
			if desc, err := TypeByCode(binary.LittleEndian.Uint16(buf[2:4])); err == nil {
				member.DataTypeName = desc.Name
			}
			t.Members = append(t.Members, member)
		}
		buf = buf[8:]
	}

	return nil
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return len(s) > 0
}
