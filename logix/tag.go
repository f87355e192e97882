package logix

import (
	"encoding/binary"
	"fmt"

	"ablink/cip"
	"ablink/logging"
)

// writeFlushBytes is the fragmented-write flush threshold: once the
// packed buffer reaches this size the fragment is sent.
const writeFlushBytes = 450

// ReadTag reads a single tag and returns its typed value.
func (d *Driver) ReadTag(tag string) (*TagValue, error) {
	path, err := cip.ParseTagPath(tag)
	if err != nil {
		return nil, d.fail(6, err)
	}

	req := cip.Request{
		Service: cip.SvcReadTag,
		Path:    path,
		Data:    binary.LittleEndian.AppendUint16(nil, 1),
	}

	replyData, err := d.sendConnected(req.Marshal())
	if err != nil {
		return nil, d.fail(6, err)
	}

	resp, err := cip.ParseResponse(replyData, cip.SvcReadTag)
	if err != nil {
		return nil, d.fail(6, err)
	}
	if err := resp.Err("ReadTag " + tag); err != nil {
		return nil, d.fail(6, err)
	}

	val, err := tagValueFromReply(tag, resp.Data)
	if err != nil {
		return nil, d.fail(6, err)
	}
	return val, nil
}

// tagValueFromReply splits a read reply body into data type and value
// bytes.
func tagValueFromReply(tag string, data []byte) (*TagValue, error) {
	if len(data) < 2 {
		return nil, cip.DataErrorf("ReadTag", "reply missing data type for %q", tag)
	}
	return &TagValue{
		Name:     tag,
		DataType: binary.LittleEndian.Uint16(data[0:2]),
		Bytes:    data[2:],
		Count:    1,
	}, nil
}

// ReadTags reads several tags in one Multiple Service Packet. The
// result list matches the input order; entries that miss or error carry
// a nil-value TagValue with Error set rather than failing the batch.
func (d *Driver) ReadTags(tags []string) ([]*TagValue, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	requests := make([]cip.Request, len(tags))
	for i, tag := range tags {
		path, err := cip.ParseTagPath(tag)
		if err != nil {
			return nil, d.fail(6, err)
		}
		requests[i] = cip.Request{
			Service: cip.SvcReadTag,
			Path:    path,
			Data:    binary.LittleEndian.AppendUint16(nil, 1),
		}
	}

	replies, err := d.sendMultiple(requests, 6)
	if err != nil {
		return nil, err
	}
	if len(replies) != len(tags) {
		return nil, d.fail(6, cip.DataErrorf("ReadTags",
			"reply count %d does not match request count %d", len(replies), len(tags)))
	}

	out := make([]*TagValue, len(tags))
	for i, resp := range replies {
		if resp.GeneralStatus != cip.StatusSuccess {
			out[i] = &TagValue{Name: tags[i], Error: resp.Err("ReadTags " + tags[i])}
			continue
		}
		val, err := tagValueFromReply(tags[i], resp.Data)
		if err != nil {
			out[i] = &TagValue{Name: tags[i], Error: err}
			continue
		}
		out[i] = val
	}
	return out, nil
}

// ReadArray reads count elements of an atomic array with the Read Tag
// Fragmented service, accumulating fragments by byte offset until the
// target stops answering 0x06.
func (d *Driver) ReadArray(tag string, count uint16) ([]interface{}, error) {
	raw, dataType, err := d.readArrayBytes(tag, count)
	if err != nil {
		return nil, err
	}

	val := TagValue{Name: tag, DataType: dataType, Bytes: raw, Count: int(count)}
	elems, err := val.Elements()
	if err != nil {
		return nil, d.fail(7, err)
	}
	return elems, nil
}

// ReadArrayRaw is ReadArray without element decoding: it returns the
// concatenated fragment bytes.
func (d *Driver) ReadArrayRaw(tag string, count uint16) ([]byte, error) {
	raw, _, err := d.readArrayBytes(tag, count)
	return raw, err
}

func (d *Driver) readArrayBytes(tag string, count uint16) ([]byte, uint16, error) {
	path, err := cip.ParseTagPath(tag)
	if err != nil {
		return nil, 0, d.fail(7, err)
	}

	var (
		buf      []byte
		dataType uint16
		offset   uint32
	)

	for {
		data := binary.LittleEndian.AppendUint16(nil, count)
		data = binary.LittleEndian.AppendUint32(data, offset)
		req := cip.Request{Service: cip.SvcReadTagFragmented, Path: path, Data: data}

		replyData, err := d.sendConnected(req.Marshal())
		if err != nil {
			return nil, 0, d.fail(7, err)
		}

		resp, err := cip.ParseResponse(replyData, cip.SvcReadTagFragmented)
		if err != nil {
			return nil, 0, d.fail(7, err)
		}
		if err := resp.Err("ReadArray " + tag); err != nil {
			return nil, 0, d.fail(7, err)
		}
		if len(resp.Data) < 2 {
			return nil, 0, d.fail(7, cip.DataErrorf("ReadArray", "fragment missing data type for %q", tag))
		}

		dataType = binary.LittleEndian.Uint16(resp.Data[0:2])
		fragment := resp.Data[2:]
		buf = append(buf, fragment...)
		offset += uint32(len(fragment))

		if !resp.Partial() {
			return buf, dataType, nil
		}
		if len(fragment) == 0 {
			return nil, 0, d.fail(7, cip.DataErrorf("ReadArray", "empty fragment with partial status for %q", tag))
		}
	}
}

// WriteTag packs value as the named type and writes it to the tag.
func (d *Driver) WriteTag(tag string, value interface{}, typeName string) error {
	t, err := TypeByName(typeName)
	if err != nil {
		return d.fail(8, err)
	}
	if t.Pack == nil {
		return d.fail(8, cip.DataErrorf("WriteTag", "type %s has no value codec", t.Name))
	}
	packed, err := t.Pack(value)
	if err != nil {
		return d.fail(8, err)
	}

	path, err := cip.ParseTagPath(tag)
	if err != nil {
		return d.fail(8, err)
	}

	data := binary.LittleEndian.AppendUint16(nil, t.Code)
	data = binary.LittleEndian.AppendUint16(data, 1)
	data = append(data, packed...)

	req := cip.Request{Service: cip.SvcWriteTag, Path: path, Data: data}

	replyData, err := d.sendConnected(req.Marshal())
	if err != nil {
		return d.fail(8, err)
	}

	resp, err := cip.ParseResponse(replyData, cip.SvcWriteTag)
	if err != nil {
		return d.fail(8, err)
	}
	if err := resp.Err("WriteTag " + tag); err != nil {
		return d.fail(8, err)
	}
	return nil
}

// TagWrite is one entry of a batched write.
type TagWrite struct {
	Tag      string
	Value    interface{}
	TypeName string
}

// TagWriteResult reports one batched-write outcome. Result is "GOOD" or
// "BAD" for entries that reached the wire; entries dropped before
// sending (failed pack or unknown type) do not appear, and are noted in
// the driver status.
type TagWriteResult struct {
	Tag    string
	Result string
}

// WriteTags writes several tags in one Multiple Service Packet. Entries
// that fail to pack are dropped from the request and the result list so
// replies stay aligned with what was actually sent.
func (d *Driver) WriteTags(entries []TagWrite) ([]TagWriteResult, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	var (
		requests []cip.Request
		sent     []TagWrite
		dropped  []string
	)

	for _, e := range entries {
		path, err := cip.ParseTagPath(e.Tag)
		if err != nil {
			dropped = append(dropped, fmt.Sprintf("%s (%v)", e.Tag, err))
			continue
		}
		t, err := TypeByName(e.TypeName)
		if err != nil || t.Pack == nil {
			dropped = append(dropped, fmt.Sprintf("%s (unknown type %s)", e.Tag, e.TypeName))
			continue
		}
		packed, err := t.Pack(e.Value)
		if err != nil {
			dropped = append(dropped, fmt.Sprintf("%s (%v)", e.Tag, err))
			continue
		}

		data := binary.LittleEndian.AppendUint16(nil, t.Code)
		data = binary.LittleEndian.AppendUint16(data, 1)
		data = append(data, packed...)
		requests = append(requests, cip.Request{Service: cip.SvcWriteTag, Path: path, Data: data})
		sent = append(sent, e)
	}

	if len(dropped) > 0 {
		d.setStatus(8, fmt.Sprintf("dropped from write list: %v", dropped))
		logging.DebugLog("logix", "WriteTags dropped entries: %v", dropped)
	}
	if len(requests) == 0 {
		return nil, cip.DataErrorf("WriteTags", "no writable entries (all dropped: %v)", dropped)
	}

	replies, err := d.sendMultiple(requests, 8)
	if err != nil {
		return nil, err
	}
	if len(replies) != len(sent) {
		return nil, d.fail(8, cip.DataErrorf("WriteTags",
			"reply count %d does not match request count %d", len(replies), len(sent)))
	}

	results := make([]TagWriteResult, len(sent))
	for i, resp := range replies {
		result := "GOOD"
		if resp.GeneralStatus != cip.StatusSuccess {
			result = "BAD"
		}
		results[i] = TagWriteResult{Tag: sent[i].Tag, Result: result}
	}
	return results, nil
}

// WriteArray writes values as consecutive elements of the named type
// using the Write Tag Fragmented service, flushing whenever the packed
// buffer reaches 450 bytes and at the final element.
func (d *Driver) WriteArray(tag string, typeName string, values []interface{}) error {
	t, err := TypeByName(typeName)
	if err != nil {
		return d.fail(9, err)
	}
	if t.Pack == nil || t.Size == 0 {
		return d.fail(9, cip.DataErrorf("WriteArray", "type %s has no element codec", t.Name))
	}

	packed := make([][]byte, len(values))
	for i, v := range values {
		b, err := t.Pack(v)
		if err != nil {
			return d.fail(9, err)
		}
		packed[i] = b
	}

	return d.writeFragments(tag, t, len(values), packed)
}

// WriteArrayRaw writes pre-packed element bytes; raw length must be a
// whole number of elements of the named type.
func (d *Driver) WriteArrayRaw(tag string, typeName string, raw []byte) error {
	t, err := TypeByName(typeName)
	if err != nil {
		return d.fail(9, err)
	}
	if t.Size == 0 || len(raw)%t.Size != 0 {
		return d.fail(9, cip.DataErrorf("WriteArrayRaw",
			"raw length %d is not a multiple of %s size %d", len(raw), t.Name, t.Size))
	}

	count := len(raw) / t.Size
	chunks := make([][]byte, count)
	for i := 0; i < count; i++ {
		chunks[i] = raw[i*t.Size : (i+1)*t.Size]
	}
	return d.writeFragments(tag, t, count, chunks)
}

func (d *Driver) writeFragments(tag string, t *TypeDesc, totalCount int, elements [][]byte) error {
	path, err := cip.ParseTagPath(tag)
	if err != nil {
		return d.fail(9, err)
	}

	var (
		buf    []byte
		offset uint32
	)

	for i, elem := range elements {
		buf = append(buf, elem...)
		if len(buf) < writeFlushBytes && i != len(elements)-1 {
			continue
		}

		data := binary.LittleEndian.AppendUint16(nil, t.Code)
		data = binary.LittleEndian.AppendUint16(data, uint16(totalCount))
		data = binary.LittleEndian.AppendUint32(data, offset)
		data = append(data, buf...)

		req := cip.Request{Service: cip.SvcWriteTagFragmented, Path: path, Data: data}

		replyData, err := d.sendConnected(req.Marshal())
		if err != nil {
			return d.fail(9, err)
		}
		resp, err := cip.ParseResponse(replyData, cip.SvcWriteTagFragmented)
		if err != nil {
			return d.fail(9, err)
		}
		if err := resp.Err("WriteArray " + tag); err != nil {
			return d.fail(9, err)
		}

		offset += uint32(len(buf))
		buf = buf[:0]
	}
	return nil
}

// sendMultiple packs requests into a Multiple Service Packet, sends it
// connected, and returns the demultiplexed replies in request order.
func (d *Driver) sendMultiple(requests []cip.Request, statusCode int) ([]*cip.Response, error) {
	msp, err := cip.BuildMultipleService(requests)
	if err != nil {
		return nil, d.fail(statusCode, err)
	}

	replyData, err := d.sendConnected(msp)
	if err != nil {
		return nil, d.fail(statusCode, err)
	}

	resp, err := cip.ParseResponse(replyData, cip.SvcMultipleServicePacket)
	if err != nil {
		return nil, d.fail(statusCode, err)
	}
	// 0x1E means the packet succeeded but embedded services failed; the
	// per-reply statuses carry the detail.
	if resp.GeneralStatus != cip.StatusSuccess && resp.GeneralStatus != 0x1E {
		return nil, d.fail(statusCode,
			cip.StatusError("MultipleServicePacket", resp.GeneralStatus, resp.ExtendedRaw))
	}

	replies, err := cip.ParseMultipleService(resp.Data)
	if err != nil {
		return nil, d.fail(statusCode, err)
	}
	return replies, nil
}
