package logix

import (
	"encoding/binary"
	"strings"

	"ablink/cip"
	"ablink/logging"
)

// TagInfo describes one discovered symbol.
type TagInfo struct {
	InstanceID uint32
	Name       string
	SymbolType uint16

	Dimensions   int    // array dimension count (0..3)
	DataTypeName string // atomic type name, or the structure name once resolved
	Struct       bool
	TemplateID   uint16 // Template Object instance for structures
	BitPosition  int    // bit within the containing word for BOOLs, else -1

	Template *Template // resolved for structures
}

// symbolRecord is one raw entry of a Get Instance Attributes List
// reply.
type symbolRecord struct {
	instance   uint32
	name       string
	symbolType uint16
}

// GetTagList discovers the controller's user tags: it enumerates the
// Symbol Object, filters out system and reserved entries, decodes the
// symbol type word, and resolves the template of every structure tag.
func (d *Driver) GetTagList() ([]TagInfo, error) {
	records, err := d.listSymbolInstances()
	if err != nil {
		return nil, err
	}

	tags := isolateUserTags(records)

	for i := range tags {
		if !tags[i].Struct {
			continue
		}
		tmpl, err := d.GetTemplate(tags[i].TemplateID)
		if err != nil {
			// A template failure spoils one tag, not the listing.
			logging.DebugLog("logix", "GetTagList: template %d for %q: %v",
				tags[i].TemplateID, tags[i].Name, err)
			continue
		}
		tags[i].Template = tmpl
		tags[i].DataTypeName = tmpl.Name
	}

	return tags, nil
}

// listSymbolInstances walks the Symbol Object with Get Instance
// Attributes List, requesting attributes 1 (name) and 2 (symbol type).
// Each 0x06 reply resumes at the last instance + 1 until a 0x00 reply.
func (d *Driver) listSymbolInstances() ([]symbolRecord, error) {
	var (
		records      []symbolRecord
		lastInstance uint32
	)

	for {
		path, err := cip.Path().Class(cip.ClassSymbolObject).Instance16(uint16(lastInstance)).Build()
		if err != nil {
			return nil, d.fail(10, cip.DataWrap("GetTagList", "symbol path", err))
		}

		data := binary.LittleEndian.AppendUint16(nil, 2) // attribute count
		data = binary.LittleEndian.AppendUint16(data, 1) // symbol name
		data = binary.LittleEndian.AppendUint16(data, 2) // symbol type

		req := cip.Request{Service: cip.SvcGetInstanceAttributeList, Path: path, Data: data}

		replyData, err := d.sendConnected(req.Marshal())
		if err != nil {
			return nil, d.fail(10, err)
		}

		resp, err := cip.ParseResponse(replyData, cip.SvcGetInstanceAttributeList)
		if err != nil {
			return nil, d.fail(10, err)
		}
		if err := resp.Err("GetTagList"); err != nil {
			return nil, d.fail(10, err)
		}

		batch, last, err := parseSymbolRecords(resp.Data)
		if err != nil {
			return nil, d.fail(10, err)
		}
		records = append(records, batch...)

		if !resp.Partial() {
			return records, nil
		}
		lastInstance = last + 1
	}
}

// parseSymbolRecords walks (instance u32, name_len u16, name bytes,
// symbol_type u16) records and returns them with the last instance
// seen.
func parseSymbolRecords(data []byte) ([]symbolRecord, uint32, error) {
	var (
		records []symbolRecord
		last    uint32
	)

	for len(data) > 0 {
		if len(data) < 6 {
			return nil, 0, cip.DataErrorf("GetTagList", "truncated symbol record header")
		}
		instance := binary.LittleEndian.Uint32(data[0:4])
		nameLen := int(binary.LittleEndian.Uint16(data[4:6]))
		if len(data) < 6+nameLen+2 {
			return nil, 0, cip.DataErrorf("GetTagList", "truncated symbol record for instance %d", instance)
		}

		name := string(data[6 : 6+nameLen])
		symbolType := binary.LittleEndian.Uint16(data[6+nameLen : 8+nameLen])
		records = append(records, symbolRecord{instance: instance, name: name, symbolType: symbolType})
		last = instance
		data = data[8+nameLen:]
	}

	return records, last, nil
}

// isolateUserTags drops module-defined names (containing ':'), internal
// names (containing '__') and reserved symbols (bit 12 set), then
// decodes the symbol type word of what remains.
func isolateUserTags(records []symbolRecord) []TagInfo {
	var tags []TagInfo

	for _, rec := range records {
		if strings.Contains(rec.name, ":") || strings.Contains(rec.name, "__") {
			continue
		}
		if IsSystemType(rec.symbolType) {
			continue
		}

		info := TagInfo{
			InstanceID:  rec.instance,
			Name:        rec.name,
			SymbolType:  rec.symbolType,
			Dimensions:  Dimensions(rec.symbolType),
			BitPosition: -1,
		}

		if IsStructType(rec.symbolType) {
			info.Struct = true
			info.TemplateID = TemplateInstance(rec.symbolType)
			info.DataTypeName = "STRUCT"
		} else {
			info.DataTypeName = TypeName(rec.symbolType & 0x00FF)
			info.BitPosition = BoolBitPosition(rec.symbolType)
		}

		tags = append(tags, info)
	}

	return tags
}
