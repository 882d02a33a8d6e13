// Package tlv maps the two TLV dialects found on eID cards into Go structs.
//
// BER-TLV (ISO/IEC 8825-1) is used by the file control templates returned by
// SELECT. Decoding is delegated to github.com/moov-io/bertlv; this package only
// binds the decoded packets to struct fields through tags:
//
//	type FCP struct {
//	    FileSize []byte       `tlv:"80" fmt:"int"`
//	    FileID   []byte       `tlv:"83"`
//	    Rest     []bertlv.TLV `tlv:",rest"`
//	}
//
// The identity and address files use a flat "simple TLV" layout instead, see
// DecodeSimple.
package tlv

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/moov-io/bertlv"
)

// ErrTagNotFound is returned by Find when no packet carries the tag.
var ErrTagNotFound = errors.New("tag not found")

type fieldPlan struct {
	index  int
	name   string
	tag    string
	format string
	rest   bool
}

var plans sync.Map // reflect.Type -> []fieldPlan

// planFor reads the tlv/eid/fmt tags of a struct type once.
func planFor(t reflect.Type, key string) []fieldPlan {
	cacheKey := [2]any{t, key}
	if p, ok := plans.Load(cacheKey); ok {
		return p.([]fieldPlan)
	}

	var fields []fieldPlan
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, ok := sf.Tag.Lookup(key)
		if !ok || !sf.IsExported() {
			continue
		}
		name, opt, _ := strings.Cut(tag, ",")
		fields = append(fields, fieldPlan{
			index:  i,
			name:   sf.Name,
			tag:    strings.ToUpper(name),
			format: sf.Tag.Get("fmt"),
			rest:   opt == "rest",
		})
	}

	plans.Store(cacheKey, fields)
	return fields
}

// Unmarshal decodes BER-TLV data and binds it to target, a pointer to a
// struct with `tlv` tags.
func Unmarshal(data []byte, target any) error {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return fmt.Errorf("bertlv decode failed: %w", err)
	}
	return UnmarshalPackets(packets, target)
}

// UnmarshalPackets binds already decoded packets to target. Packets whose tag
// has no matching field land in the `tlv:",rest"` field, if the struct has one.
func UnmarshalPackets(packets []bertlv.TLV, target any) error {
	v, err := structValue(target)
	if err != nil {
		return err
	}

	fields := planFor(v.Type(), "tlv")
	var rest []bertlv.TLV

	for _, p := range packets {
		f, ok := lookupTag(fields, p.Tag)
		if !ok {
			rest = append(rest, p)
			continue
		}
		if err := assignPacket(v.Field(f.index), p); err != nil {
			return fmt.Errorf("tag %s (%s): %w", p.Tag, f.name, err)
		}
	}

	for _, f := range fields {
		if f.rest && len(rest) > 0 {
			v.Field(f.index).Set(reflect.ValueOf(rest))
		}
	}
	return nil
}

// Find returns the value of the first packet carrying tag, searching
// constructed packets depth first. Constructed values are re-encoded.
func Find(data []byte, tag string) ([]byte, error) {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("bertlv decode failed: %w", err)
	}

	p, ok := findPacket(packets, strings.ToUpper(tag))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTagNotFound, tag)
	}
	return packetBytes(p), nil
}

func findPacket(packets []bertlv.TLV, tag string) (bertlv.TLV, bool) {
	for _, p := range packets {
		if strings.EqualFold(p.Tag, tag) {
			return p, true
		}
		if found, ok := findPacket(p.TLVs, tag); ok {
			return found, true
		}
	}
	return bertlv.TLV{}, false
}

func lookupTag(fields []fieldPlan, tag string) (fieldPlan, bool) {
	for _, f := range fields {
		if !f.rest && strings.EqualFold(f.tag, tag) {
			return f, true
		}
	}
	return fieldPlan{}, false
}

func assignPacket(field reflect.Value, p bertlv.TLV) error {
	switch {
	case isBytes(field.Type()):
		field.SetBytes(packetBytes(p))
		return nil

	case field.Kind() == reflect.Struct:
		return unmarshalNested(p, field.Addr().Interface())

	case field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct:
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return unmarshalNested(p, field.Interface())

	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.Struct:
		elem := reflect.New(field.Type().Elem())
		if err := unmarshalNested(p, elem.Interface()); err != nil {
			return err
		}
		field.Set(reflect.Append(field, elem.Elem()))
		return nil

	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
}

func unmarshalNested(p bertlv.TLV, target any) error {
	if len(p.TLVs) > 0 {
		return UnmarshalPackets(p.TLVs, target)
	}
	return Unmarshal(p.Value, target)
}

func packetBytes(p bertlv.TLV) []byte {
	if len(p.TLVs) > 0 {
		if enc, err := bertlv.Encode(p.TLVs); err == nil {
			return enc
		}
	}
	return p.Value
}

func structValue(target any) (reflect.Value, error) {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return reflect.Value{}, errors.New("target must be a non-nil pointer")
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("target must point to a struct, got %s", v.Kind())
	}
	return v, nil
}

func isBytes(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}
