package logix

import (
	"encoding/binary"
	"testing"

	"ablink/cip"
)

func symbolRecordBytes(instance uint32, name string, symbolType uint16) []byte {
	out := binary.LittleEndian.AppendUint32(nil, instance)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(name)))
	out = append(out, name...)
	return binary.LittleEndian.AppendUint16(out, symbolType)
}

func TestParseSymbolRecords(t *testing.T) {
	data := append(symbolRecordBytes(1, "Counts", 0x00C3), symbolRecordBytes(9, "Rate", 0x00CA)...)

	records, last, err := parseSymbolRecords(data)
	if err != nil {
		t.Fatalf("parseSymbolRecords: %v", err)
	}
	if len(records) != 2 || last != 9 {
		t.Fatalf("records = %d, last = %d", len(records), last)
	}
	if records[0].name != "Counts" || records[0].symbolType != 0x00C3 {
		t.Errorf("record 0 = %+v", records[0])
	}

	if _, _, err := parseSymbolRecords(data[:len(data)-1]); err == nil {
		t.Error("expected error for truncated record")
	}
}

func TestIsolateUserTags(t *testing.T) {
	records := []symbolRecord{
		{1, "Counts", 0x00C3},
		{2, "__hidden", 0x00C4},
		{3, "Local:1:I", 0x00C4},
		{4, "Routine", 0x1003},
		{5, "Flags", 0x2000 | 0x0200 | 0x00C1},
		{6, "Recipe", 0x8000 | 0x0010},
	}

	tags := isolateUserTags(records)
	if len(tags) != 3 {
		t.Fatalf("tag count = %d, want 3 (got %+v)", len(tags), tags)
	}

	if tags[0].Name != "Counts" || tags[0].DataTypeName != "INT" || tags[0].Dimensions != 0 {
		t.Errorf("tag 0 = %+v", tags[0])
	}

	if tags[1].Name != "Flags" || tags[1].Dimensions != 1 || tags[1].BitPosition != 2 {
		t.Errorf("tag 1 = %+v", tags[1])
	}
	if tags[1].DataTypeName != "BOOL" {
		t.Errorf("tag 1 type = %s", tags[1].DataTypeName)
	}

	if !tags[2].Struct || tags[2].TemplateID != 0x0010 {
		t.Errorf("tag 2 = %+v", tags[2])
	}
}

func TestParseStructureMakeup(t *testing.T) {
	data := binary.LittleEndian.AppendUint16(nil, 4)
	data = binary.LittleEndian.AppendUint16(data, 4) // attr 4
	data = binary.LittleEndian.AppendUint16(data, 0)
	data = binary.LittleEndian.AppendUint32(data, 17)
	data = binary.LittleEndian.AppendUint16(data, 5) // attr 5
	data = binary.LittleEndian.AppendUint16(data, 0)
	data = binary.LittleEndian.AppendUint32(data, 12)
	data = binary.LittleEndian.AppendUint16(data, 2) // attr 2
	data = binary.LittleEndian.AppendUint16(data, 0)
	data = binary.LittleEndian.AppendUint16(data, 3)
	data = binary.LittleEndian.AppendUint16(data, 1) // attr 1
	data = binary.LittleEndian.AppendUint16(data, 0)
	data = binary.LittleEndian.AppendUint16(data, 0xFCE1)

	tmpl, err := parseStructureMakeup(data)
	if err != nil {
		t.Fatalf("parseStructureMakeup: %v", err)
	}
	if tmpl.ObjectDefinitionSize != 17 || tmpl.StructureSize != 12 ||
		tmpl.MemberCount != 3 || tmpl.StructureHandle != 0xFCE1 {
		t.Errorf("template = %+v", tmpl)
	}
}

func TestParseStructureMakeupBadAttrStatus(t *testing.T) {
	data := binary.LittleEndian.AppendUint16(nil, 1)
	data = binary.LittleEndian.AppendUint16(data, 4)
	data = binary.LittleEndian.AppendUint16(data, 0x0001) // per-attribute failure
	data = binary.LittleEndian.AppendUint32(data, 17)

	if _, err := parseStructureMakeup(data); err == nil {
		t.Error("expected error for non-zero attribute status")
	}
}

// templateBuffer builds a definition: memberCount fixed records then
// the NUL-separated name block.
func templateBuffer() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, make([]byte, 8)...) // record 0, skipped

	rec1 := binary.LittleEndian.AppendUint16(nil, 0) // array size
	rec1 = binary.LittleEndian.AppendUint16(rec1, CodeDINT)
	rec1 = binary.LittleEndian.AppendUint32(rec1, 0)
	buf = append(buf, rec1...)

	rec2 := binary.LittleEndian.AppendUint16(nil, 0)
	rec2 = binary.LittleEndian.AppendUint16(rec2, CodeBOOL)
	rec2 = binary.LittleEndian.AppendUint32(rec2, 4)
	buf = append(buf, rec2...)

	buf = append(buf, "MyUDT;AB"...)
	buf = append(buf, 0x00)
	buf = append(buf, "Alpha"...)
	buf = append(buf, 0x00)
	buf = append(buf, "Beta"...)
	buf = append(buf, 0x00)
	return buf
}

func TestParseTemplateDefinition(t *testing.T) {
	tmpl := &Template{MemberCount: 3}
	if err := tmpl.parseDefinition(templateBuffer()); err != nil {
		t.Fatalf("parseDefinition: %v", err)
	}

	if tmpl.Name != "MyUDT" {
		t.Errorf("name = %q, want MyUDT", tmpl.Name)
	}
	if len(tmpl.MemberNames) != 2 || tmpl.MemberNames[0] != "Alpha" || tmpl.MemberNames[1] != "Beta" {
		t.Errorf("member names = %v", tmpl.MemberNames)
	}
	if len(tmpl.Members) != 2 {
		t.Fatalf("member records = %d, want 2", len(tmpl.Members))
	}
	if tmpl.Members[0].DataTypeName != "DINT" || tmpl.Members[0].ByteOffset != 0 {
		t.Errorf("member 0 = %+v", tmpl.Members[0])
	}
	if tmpl.Members[1].DataTypeName != "BOOL" || tmpl.Members[1].ByteOffset != 4 {
		t.Errorf("member 1 = %+v", tmpl.Members[1])
	}
}

func TestGetTagListEndToEnd(t *testing.T) {
	p := newFakePLC(t)

	calls := 0
	p.handle(cip.SvcGetInstanceAttributeList, func(req []byte) []byte {
		calls++
		switch calls {
		case 1:
			// Resume point: path instance must be 0 on the first call.
			if inst := binary.LittleEndian.Uint16(req[6:8]); inst != 0 {
				t.Errorf("first call instance = %d, want 0", inst)
			}
			body := append(symbolRecordBytes(1, "Counts", 0x00C3), symbolRecordBytes(4, "__meta", 0x00C4)...)
			return append([]byte{0xD5, 0x00, 0x06, 0x00}, body...)
		default:
			// Second call resumes at last instance + 1.
			if inst := binary.LittleEndian.Uint16(req[6:8]); inst != 5 {
				t.Errorf("second call instance = %d, want 5", inst)
			}
			body := symbolRecordBytes(7, "Recipe", 0x8000|0x0010)
			return append([]byte{0xD5, 0x00, 0x00, 0x00}, body...)
		}
	})

	p.handle(cip.SvcGetAttributeList, func(req []byte) []byte {
		body := binary.LittleEndian.AppendUint16(nil, 4)
		body = binary.LittleEndian.AppendUint16(body, 4)
		body = binary.LittleEndian.AppendUint16(body, 0)
		body = binary.LittleEndian.AppendUint32(body, 17)
		body = binary.LittleEndian.AppendUint16(body, 5)
		body = binary.LittleEndian.AppendUint16(body, 0)
		body = binary.LittleEndian.AppendUint32(body, 12)
		body = binary.LittleEndian.AppendUint16(body, 2)
		body = binary.LittleEndian.AppendUint16(body, 0)
		body = binary.LittleEndian.AppendUint16(body, 3)
		body = binary.LittleEndian.AppendUint16(body, 1)
		body = binary.LittleEndian.AppendUint16(body, 0)
		body = binary.LittleEndian.AppendUint16(body, 0xFCE1)
		return append([]byte{0x83, 0x00, 0x00, 0x00}, body...)
	})

	p.handle(cip.SvcReadTemplate, func(req []byte) []byte {
		return append([]byte{0xCC, 0x00, 0x00, 0x00}, templateBuffer()...)
	})

	d := openTestDriver(t, p)

	tags, err := d.GetTagList()
	if err != nil {
		t.Fatalf("GetTagList: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("tag count = %d, want 2", len(tags))
	}
	if tags[0].Name != "Counts" || tags[0].DataTypeName != "INT" {
		t.Errorf("tag 0 = %+v", tags[0])
	}

	recipe := tags[1]
	if !recipe.Struct || recipe.Template == nil {
		t.Fatalf("recipe = %+v", recipe)
	}
	if recipe.DataTypeName != "MyUDT" || recipe.Template.StructureSize != 12 {
		t.Errorf("recipe template = %+v", recipe.Template)
	}

	// The template cache serves repeats without new round trips.
	if _, err := d.GetTemplate(0x0010); err != nil {
		t.Errorf("cached GetTemplate: %v", err)
	}
}
