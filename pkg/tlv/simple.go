package tlv

import (
	"fmt"
	"reflect"
	"strconv"
)

// SIMPLE TLV (eID data files):
// The identity and address files are a flat sequence of
//
//	Tag (1 byte) | Length | Value
//
// where the length is the sum of its bytes, continuing as long as a byte is
// 0xFF. A 300 byte value is therefore encoded FF 2D. Files are padded with
// zero bytes, which decode as empty elements with tag 00.

// Element is one decoded simple-TLV entry.
type Element struct {
	Tag   byte
	Value []byte
}

// DecodeSimple splits a simple-TLV file into its elements, in file order.
func DecodeSimple(data []byte) ([]Element, error) {
	var out []Element

	for i := 0; i < len(data); {
		tag := data[i]
		i++

		length := 0
		for {
			if i >= len(data) {
				return nil, fmt.Errorf("tag %02X: length truncated at offset %d", tag, i)
			}
			b := data[i]
			i++
			length += int(b)
			if b != 0xFF {
				break
			}
		}

		if i+length > len(data) {
			return nil, fmt.Errorf("tag %02X: value of %d bytes exceeds data (%d left)", tag, length, len(data)-i)
		}

		out = append(out, Element{Tag: tag, Value: data[i : i+length]})
		i += length
	}

	return out, nil
}

// UnmarshalSimple binds a simple-TLV file to target, a pointer to a struct
// whose fields carry `eid:"<hex tag>"` tags. Fields may be []byte or string.
// Unknown tags and padding are ignored; the first occurrence of a tag wins.
func UnmarshalSimple(data []byte, target any) error {
	v, err := structValue(target)
	if err != nil {
		return err
	}

	elements, err := DecodeSimple(data)
	if err != nil {
		return err
	}

	fields := planFor(v.Type(), "eid")
	seen := make(map[byte]bool, len(elements))

	for _, el := range elements {
		if seen[el.Tag] {
			continue
		}
		for _, f := range fields {
			tag, err := strconv.ParseUint(f.tag, 16, 8)
			if err != nil {
				return fmt.Errorf("field %s: invalid eid tag %q", f.name, f.tag)
			}
			if byte(tag) != el.Tag {
				continue
			}
			seen[el.Tag] = true

			field := v.Field(f.index)
			switch {
			case isBytes(field.Type()):
				field.SetBytes(append([]byte(nil), el.Value...))
			case field.Kind() == reflect.String:
				field.SetString(string(el.Value))
			default:
				return fmt.Errorf("field %s: unsupported type %s", f.name, field.Type())
			}
		}
	}

	return nil
}

// EncodeSimple is the inverse of DecodeSimple.
func EncodeSimple(elements []Element) []byte {
	var out []byte
	for _, el := range elements {
		out = append(out, el.Tag)
		n := len(el.Value)
		for n >= 0xFF {
			out = append(out, 0xFF)
			n -= 0xFF
		}
		out = append(out, byte(n))
		out = append(out, el.Value...)
	}
	return out
}
