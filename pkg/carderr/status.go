package carderr

// Terminal status word classification (ISO/IEC 7816-4, section 5.6).
//
// 9000 and 61XX are successful. 62XX and 63XX are warnings and are not errors
// except 63CX, which reports a failed verification with X tries left. The
// remaining 64XX-6FXX values are errors; a handful of them carry a meaning
// callers need to branch on (security status, missing object), everything
// else is a protocol level failure.

// FromStatus returns nil when sw denotes success or a warning, and a
// classified *Error otherwise.
func FromStatus(op string, sw uint16) error {
	sw1 := byte(sw >> 8)
	sw2 := byte(sw)

	switch {
	case sw == 0x9000, sw1 == 0x61:
		return nil

	case sw1 == 0x63 && sw2&0xF0 == 0xC0:
		return &Error{Kind: SecurityConditionNotSatisfied, Op: op, Status: sw, Retries: int(sw2 & 0x0F)}

	case sw1 == 0x62, sw1 == 0x63:
		return nil
	}

	e := &Error{Op: op, Status: sw, Retries: -1}

	switch sw {
	case 0x6600, // security related issue
		0x6982, // security status not satisfied
		0x6983, // authentication method blocked
		0x6984, // reference data not usable
		0x6985, // conditions of use not satisfied
		0x6987, // expected SM data objects missing
		0x6988: // incorrect SM data objects
		e.Kind = SecurityConditionNotSatisfied
		if sw == 0x6983 {
			e.Retries = 0
		}

	case 0x6A82, // file or application not found
		0x6A83, // record not found
		0x6A88: // referenced data not found
		e.Kind = ObjectNotFound

	default:
		e.Kind = ProtocolError
	}

	return e
}
