package iso7816

import (
	"fmt"

	"github.com/gregLibert/eid-middleware/pkg/bits"
)

// Class byte (CLA) according to ISO/IEC 7816-4, section 5.4.1.
//
//	b8    1 = proprietary class, 0 = interindustry
//	b7    0 = first interindustry (channels 0-3), 1 = further (channels 4-19)
//	b5    command chaining, more commands follow
//
//	first interindustry  000x SSCC: SM on b4-b3, channel on b2-b1
//	further interindustry 01Sx CCCC: SM on b6, channel-4 on b4-b1

// SecureMessaging defines the security level applied to the APDU.
type SecureMessaging int

const (
	SMNone         SecureMessaging = 0
	SMProprietary  SecureMessaging = 1 // first interindustry only
	SMHeaderNoProc SecureMessaging = 2
	SMHeaderAuth   SecureMessaging = 3 // first interindustry only
)

func (sm SecureMessaging) String() string {
	switch sm {
	case SMNone:
		return "None"
	case SMProprietary:
		return "Proprietary"
	case SMHeaderNoProc:
		return "ISO (Header not processed)"
	case SMHeaderAuth:
		return "ISO (Header authenticated)"
	default:
		return "Unknown"
	}
}

// Class is a decoded CLA byte.
type Class struct {
	Raw             byte
	IsProprietary   bool
	IsChained       bool
	SecureMessaging SecureMessaging
	Channel         uint8 // logical channel, 0-19
}

// BasicClass is CLA 00: interindustry, basic channel, no SM, no chaining.
// Every command the eID applet understands uses it.
var BasicClass = Class{}

// ParseClass decodes a raw CLA byte. 0xFF is reserved for PPS and rejected.
func ParseClass(cla byte) (Class, error) {
	if cla == 0xFF {
		return Class{}, fmt.Errorf("invalid CLA value: 0xFF is reserved")
	}

	c := Class{Raw: cla}

	if bits.IsSet(cla, 8) {
		c.IsProprietary = true
		return c, nil
	}

	c.IsChained = bits.IsSet(cla, 5)

	if !bits.IsSet(cla, 7) {
		c.SecureMessaging = SecureMessaging(bits.GetRange(cla, 4, 3))
		c.Channel = bits.GetRange(cla, 2, 1)
		return c, nil
	}

	if bits.IsSet(cla, 6) {
		c.SecureMessaging = SMHeaderNoProc
	}
	c.Channel = bits.LowNibble(cla) + 4
	return c, nil
}

// NewInterindustryClass builds a class for the given channel, selecting the
// first or further interindustry layout.
func NewInterindustryClass(isChained bool, sm SecureMessaging, channel uint8) (Class, error) {
	if channel > 19 {
		return Class{}, fmt.Errorf("channel %d out of range (max 19)", channel)
	}
	if channel >= 4 && (sm == SMProprietary || sm == SMHeaderAuth) {
		return Class{}, fmt.Errorf("SM indicator %d not supported for further interindustry range (ch 4-19)", sm)
	}

	c := Class{IsChained: isChained, SecureMessaging: sm, Channel: channel}
	raw, err := c.Encode()
	if err != nil {
		return Class{}, err
	}
	c.Raw = raw
	return c, nil
}

// Encode returns the CLA byte.
func (c Class) Encode() (byte, error) {
	if c.IsProprietary {
		return c.Raw, nil
	}
	if c.Channel > 19 {
		return 0, fmt.Errorf("channel %d out of range (max 19)", c.Channel)
	}

	var res byte
	if c.IsChained {
		res = bits.Set(res, 5)
	}

	if c.Channel <= 3 {
		res |= byte(c.SecureMessaging) << 2
		res |= c.Channel
		return res, nil
	}

	res = bits.Set(res, 7)
	if c.SecureMessaging != SMNone {
		res = bits.Set(res, 6)
	}
	res |= c.Channel - 4
	return res, nil
}

// WithChaining returns a copy of c with the chaining bit set or cleared,
// keeping the logical channel.
func (c Class) WithChaining(chained bool) Class {
	c.IsChained = chained
	if c.IsProprietary {
		if chained {
			c.Raw = bits.Set(c.Raw, 5)
		} else {
			c.Raw = bits.Clear(c.Raw, 5)
		}
		return c
	}
	if raw, err := c.Encode(); err == nil {
		c.Raw = raw
	}
	return c
}

// Verbose returns a human-readable description of the CLA byte.
func (c Class) Verbose() string {
	if c.IsProprietary {
		return fmt.Sprintf("Class: Proprietary (0x%02X)", c.Raw)
	}

	rangeName := "First Interindustry (Ch 0-3)"
	if c.Channel >= 4 {
		rangeName = "Further Interindustry (Ch 4-19)"
	}

	chaining := "Last or only command"
	if c.IsChained {
		chaining = "More commands follow (Chaining)"
	}

	return fmt.Sprintf(
		"Range: %s\nChaining: %s\nSecure Messaging: %s\nLogical Channel: %d",
		rangeName, chaining, c.SecureMessaging, c.Channel,
	)
}
