package tlv

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// DescribeFields renders the populated byte fields of a tagged struct, one
// line per field, honouring the `fmt` tag ("ascii" or "int"). Unmatched
// packets held in a `tlv:",rest"` field are listed last.
func DescribeFields(prefix string, s any) []string {
	v := reflect.ValueOf(s)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	var lines []string
	for _, f := range planFor(v.Type(), "tlv") {
		field := v.Field(f.index)

		if f.rest {
			rest, _ := field.Interface().([]bertlv.TLV)
			for _, p := range rest {
				lines = append(lines, fmt.Sprintf("    - %s.Unknown Tag %s: %X", prefix, strings.ToUpper(p.Tag), packetBytes(p)))
			}
			continue
		}

		if !isBytes(field.Type()) || field.Len() == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("    - %s.%s (%s): %s", prefix, f.name, f.tag, FormatValue(field.Bytes(), f.format)))
	}
	return lines
}

// FormatValue renders raw bytes as hex, with an ASCII or decimal hint.
func FormatValue(data []byte, format string) string {
	switch format {
	case "ascii":
		return fmt.Sprintf("%X (%q)", data, SafeASCII(data))
	case "int":
		return fmt.Sprintf("%X (Dec: %d)", data, Uint(data))
	default:
		return fmt.Sprintf("%X", data)
	}
}

// Uint decodes a big-endian unsigned integer, keeping the eight least
// significant bytes.
func Uint(data []byte) uint64 {
	if len(data) > 8 {
		data = data[len(data)-8:]
	}
	var n uint64
	for _, b := range data {
		n = n<<8 | uint64(b)
	}
	return n
}

// SafeASCII replaces non printable bytes with '.'.
func SafeASCII(data []byte) string {
	return strings.Map(func(r rune) rune {
		if r >= 32 && r <= 126 {
			return r
		}
		return '.'
	}, string(data))
}
