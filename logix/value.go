package logix

import (
	"encoding/binary"
	"fmt"

	"ablink/cip"
)

// TagValue is the result of reading a tag: the atomic type tag plus the
// raw little-endian wire bytes, with typed decode helpers. It holds no
// references to the driver.
type TagValue struct {
	Name     string
	DataType uint16
	Bytes    []byte
	Count    int   // elements read (1 for scalars)
	Error    error // per-tag error from batched reads
}

// TypeName returns the symbolic type name.
func (v *TagValue) TypeName() string {
	return TypeName(v.DataType)
}

// Value decodes the first element through the type registry. Returns
// bool, int64, uint64 or float64 depending on the type.
func (v *TagValue) Value() (interface{}, error) {
	if v.Error != nil {
		return nil, v.Error
	}
	t, err := TypeByCode(v.DataType)
	if err != nil {
		return nil, err
	}
	if t.Unpack == nil {
		return nil, cip.DataErrorf("Value", "type %s has no value codec", t.Name)
	}
	return t.Unpack(v.Bytes)
}

// Bool decodes a BOOL tag.
func (v *TagValue) Bool() (bool, error) {
	if v.Error != nil {
		return false, v.Error
	}
	if v.DataType&0x0FFF != CodeBOOL {
		return false, cip.DataErrorf("Bool", "type mismatch: expected BOOL, got %s", v.TypeName())
	}
	if len(v.Bytes) < 1 {
		return false, cip.DataErrorf("Bool", "insufficient data for BOOL")
	}
	return v.Bytes[0] == boolTrue, nil
}

// Int decodes any signed integer tag to int64.
func (v *TagValue) Int() (int64, error) {
	val, err := v.Value()
	if err != nil {
		return 0, err
	}
	switch n := val.(type) {
	case int64:
		return n, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	return 0, cip.DataErrorf("Int", "type mismatch: expected signed integer, got %s", v.TypeName())
}

// Uint decodes any unsigned integer tag to uint64.
func (v *TagValue) Uint() (uint64, error) {
	val, err := v.Value()
	if err != nil {
		return 0, err
	}
	if n, ok := val.(uint64); ok {
		return n, nil
	}
	return 0, cip.DataErrorf("Uint", "type mismatch: expected unsigned integer, got %s", v.TypeName())
}

// Float decodes a REAL or LREAL tag.
func (v *TagValue) Float() (float64, error) {
	val, err := v.Value()
	if err != nil {
		return 0, err
	}
	if f, ok := val.(float64); ok {
		return f, nil
	}
	return 0, cip.DataErrorf("Float", "type mismatch: expected float, got %s", v.TypeName())
}

// Text decodes a STRING or SHORT_STRING tag to a Go string. Apart from
// symbol and template names, tag values are the only wire bytes the
// stack turns into text.
func (v *TagValue) Text() (string, error) {
	if v.Error != nil {
		return "", v.Error
	}
	switch v.DataType & 0x0FFF {
	case CodeSTRING:
		if len(v.Bytes) < 4 {
			return "", cip.DataErrorf("Text", "insufficient data for STRING")
		}
		n := int(binary.LittleEndian.Uint32(v.Bytes[:4]))
		if n > len(v.Bytes)-4 {
			n = len(v.Bytes) - 4
		}
		return string(v.Bytes[4 : 4+n]), nil
	case CodeShortSTRING:
		if len(v.Bytes) < 1 {
			return "", cip.DataErrorf("Text", "insufficient data for SHORT_STRING")
		}
		n := int(v.Bytes[0])
		if n > len(v.Bytes)-1 {
			n = len(v.Bytes) - 1
		}
		return string(v.Bytes[1 : 1+n]), nil
	}
	return "", cip.DataErrorf("Text", "type mismatch: expected string, got %s", v.TypeName())
}

// Elements decodes the raw bytes as consecutive elements of the tag's
// atomic type.
func (v *TagValue) Elements() ([]interface{}, error) {
	if v.Error != nil {
		return nil, v.Error
	}
	t, err := TypeByCode(v.DataType)
	if err != nil {
		return nil, err
	}
	if t.Unpack == nil || t.Size == 0 {
		return nil, cip.DataErrorf("Elements", "type %s has no element codec", t.Name)
	}

	out := make([]interface{}, 0, len(v.Bytes)/t.Size)
	for off := 0; off+t.Size <= len(v.Bytes); off += t.Size {
		val, err := t.Unpack(v.Bytes[off : off+t.Size])
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}

// GoValue returns a display-friendly decode: scalar for single
// elements, slice for arrays, string for string types, nil on error.
func (v *TagValue) GoValue() interface{} {
	if v.Error != nil {
		return nil
	}

	switch v.DataType & 0x0FFF {
	case CodeSTRING, CodeShortSTRING:
		if s, err := v.Text(); err == nil {
			return s
		}
		return nil
	}

	t, err := TypeByCode(v.DataType)
	if err != nil || t.Unpack == nil || t.Size == 0 {
		return append([]byte(nil), v.Bytes...)
	}

	if len(v.Bytes) > t.Size {
		if vals, err := v.Elements(); err == nil {
			return vals
		}
		return nil
	}

	val, err := v.Value()
	if err != nil {
		return nil
	}
	return val
}

// String renders the value for diagnostics.
func (v *TagValue) String() string {
	if v.Error != nil {
		return fmt.Sprintf("%s: error: %v", v.Name, v.Error)
	}
	return fmt.Sprintf("%s (%s) = %v", v.Name, v.TypeName(), v.GoValue())
}

// PackElements packs values as consecutive elements of the named type.
func PackElements(typeName string, values []interface{}) ([]byte, error) {
	t, err := TypeByName(typeName)
	if err != nil {
		return nil, err
	}
	if t.Pack == nil {
		return nil, cip.DataErrorf("PackElements", "type %s has no value codec", t.Name)
	}

	out := make([]byte, 0, len(values)*t.Size)
	for _, v := range values {
		b, err := t.Pack(v)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}
