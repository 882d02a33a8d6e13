package tlv

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hex builds a byte slice from hex fragments such as "00 A4 08 0C" or
// "3F:00". It panics on malformed input and is meant for fixtures and
// constant tables.
func Hex(parts ...string) []byte {
	clean := strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(strings.Join(parts, ""))

	data, err := hex.DecodeString(clean)
	if err != nil {
		panic(fmt.Sprintf("invalid hex %q: %v", clean, err))
	}
	return data
}
