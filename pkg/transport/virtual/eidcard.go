package virtual

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"strings"
	"sync"

	"github.com/gregLibert/eid-middleware/pkg/bits"
	"github.com/gregLibert/eid-middleware/pkg/iso7816"
)

// EIDCard simulates the file system and PIN of an eID applet:
//
//   - SELECT by path from the MF (P1 08) or by file ID in the current DF
//     (P1 00), answering FCP (P2 04 or 00) or nothing (P2 0C);
//   - READ BINARY with 15-bit offsets, 6B00 past the end of file and 6CXX
//     when Le exceeds what is left;
//   - GET CHALLENGE;
//   - VERIFY and CHANGE REFERENCE DATA on PIN reference 01 with a try
//     counter (63CX, 6983 once blocked).
//
// With a response chunk set, every answer carrying data is returned through
// 61XX and GET RESPONSE fragments of at most that size, as on T=0 readers.
type EIDCard struct {
	mu sync.Mutex

	atr   []byte
	files map[string][]byte // hex path from the MF, e.g. "df014031"

	pin      string
	maxTries int
	tries    int
	verified bool

	chunk   int
	random  io.Reader
	current string
	pending []byte
}

// EIDOption configures an EIDCard.
type EIDOption func(*EIDCard)

// WithFile stores data at path, a sequence of file identifiers from the MF.
func WithFile(path []byte, data []byte) EIDOption {
	return func(c *EIDCard) {
		c.files[hex.EncodeToString(path)] = data
	}
}

// WithPIN sets the cardholder PIN and its try limit.
func WithPIN(pin string, tries int) EIDOption {
	return func(c *EIDCard) {
		c.pin = pin
		c.maxTries = tries
		c.tries = tries
	}
}

// WithResponseChunk makes the card answer through GET RESPONSE fragments of
// at most n bytes.
func WithResponseChunk(n int) EIDOption {
	return func(c *EIDCard) {
		c.chunk = n
	}
}

// WithRandom sets the source of GET CHALLENGE bytes.
func WithRandom(r io.Reader) EIDOption {
	return func(c *EIDCard) {
		c.random = r
	}
}

// NewEIDCard creates a card with the given ATR.
func NewEIDCard(atr []byte, opts ...EIDOption) *EIDCard {
	c := &EIDCard{
		atr:      atr,
		files:    make(map[string][]byte),
		pin:      "1234",
		maxTries: 3,
		tries:    3,
		random:   rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ATR implements Card.
func (c *EIDCard) ATR() []byte {
	return c.atr
}

// Reset implements Resetter.
func (c *EIDCard) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verified = false
	c.current = ""
	c.pending = nil
}

// TriesLeft returns the PIN try counter.
func (c *EIDCard) TriesLeft() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tries
}

// Process implements Card.
func (c *EIDCard) Process(raw []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, err := iso7816.ParseCommandAPDU(raw)
	if err != nil {
		if len(raw) >= 2 {
			if h := bits.HighNibble(raw[1]); h == 0x6 || h == 0x9 {
				return sw(iso7816.SW_ERR_INS_INVALID)
			}
		}
		return sw(iso7816.SW_ERR_WRONG_LENGTH)
	}
	if cmd.Class.IsProprietary {
		return sw(iso7816.SW_ERR_CLA_NOT_SUPPORTED)
	}

	if cmd.Instruction.Raw != iso7816.INS_GET_RESPONSE {
		c.pending = nil
	}

	switch cmd.Instruction.Raw {
	case iso7816.INS_SELECT:
		return c.selectFile(cmd)
	case iso7816.INS_READ_BINARY:
		return c.readBinary(cmd)
	case iso7816.INS_GET_CHALLENGE:
		return c.getChallenge(cmd)
	case iso7816.INS_GET_RESPONSE:
		return c.getResponse(cmd)
	case iso7816.INS_VERIFY:
		return c.verify(cmd)
	case iso7816.INS_CHANGE_REFERENCE_DATA:
		return c.changePIN(cmd)
	default:
		return sw(iso7816.SW_ERR_INS_INVALID)
	}
}

func (c *EIDCard) selectFile(cmd *iso7816.CommandAPDU) []byte {
	var path string
	switch iso7816.SelectionMethod(cmd.P1) {
	case iso7816.SelectPathFromMF:
		if len(cmd.Data) == 0 || len(cmd.Data)%2 != 0 {
			return sw(iso7816.SW_ERR_INCORRECT_PARAMS_DATA)
		}
		path = hex.EncodeToString(cmd.Data)

	case iso7816.SelectByFileID:
		if len(cmd.Data) != 2 {
			return sw(iso7816.SW_ERR_INCORRECT_PARAMS_DATA)
		}
		fid := hex.EncodeToString(cmd.Data)
		if fid == "3f00" {
			c.current = ""
			return sw(iso7816.SW_NO_ERROR)
		}
		path = c.resolve(fid)

	default:
		return sw(iso7816.SW_ERR_FUNC_NOT_SUPPORTED)
	}

	data, ok := c.files[path]
	if !ok {
		if !c.isDF(path) {
			return sw(iso7816.SW_ERR_FILE_NOT_FOUND)
		}
	}
	c.current = path

	switch iso7816.SelectionControl(cmd.P2 & 0x0C) {
	case iso7816.ReturnNoData:
		return sw(iso7816.SW_NO_ERROR)
	case iso7816.ReturnFCP, iso7816.ReturnFCI:
		return c.respond(fcp(path, len(data)))
	default:
		return sw(iso7816.SW_ERR_INCORRECT_PARAMS_P1P2)
	}
}

// resolve finds fid as a child of the current DF or of the MF.
func (c *EIDCard) resolve(fid string) string {
	dir := c.current
	if _, isEF := c.files[dir]; isEF {
		dir = dir[:len(dir)-4]
	}
	if p := dir + fid; c.exists(p) {
		return p
	}
	return fid
}

func (c *EIDCard) exists(path string) bool {
	_, ok := c.files[path]
	return ok || c.isDF(path)
}

func (c *EIDCard) isDF(path string) bool {
	for p := range c.files {
		if len(p) > len(path) && strings.HasPrefix(p, path) {
			return true
		}
	}
	return false
}

func fcp(path string, size int) []byte {
	fid, _ := hex.DecodeString(path[len(path)-4:])
	body := []byte{0x80, 0x02, byte(size >> 8), byte(size), 0x83, 0x02, fid[0], fid[1]}
	return append([]byte{0x62, byte(len(body))}, body...)
}

func (c *EIDCard) readBinary(cmd *iso7816.CommandAPDU) []byte {
	if bits.IsSet(cmd.P1, 8) {
		return sw(iso7816.SW_ERR_FUNC_NOT_SUPPORTED)
	}
	data, ok := c.files[c.current]
	if !ok {
		return sw(iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_EF)
	}

	offset := int(cmd.P1)<<8 | int(cmd.P2)
	if offset >= len(data) {
		return sw(iso7816.SW_ERR_WRONG_P1P2)
	}
	left := len(data) - offset
	if cmd.Ne > left {
		return sw(iso7816.NewStatusWord(0x6C, byte(left)))
	}
	return c.respond(data[offset : offset+cmd.Ne])
}

func (c *EIDCard) getChallenge(cmd *iso7816.CommandAPDU) []byte {
	if cmd.Ne == 0 {
		return sw(iso7816.SW_ERR_WRONG_LENGTH)
	}
	buf := make([]byte, cmd.Ne)
	if _, err := io.ReadFull(c.random, buf); err != nil {
		return sw(iso7816.SW_ERR_MEMORY_FAILURE)
	}
	return c.respond(buf)
}

func (c *EIDCard) getResponse(cmd *iso7816.CommandAPDU) []byte {
	if len(c.pending) == 0 {
		return sw(iso7816.SW_ERR_COND_OF_USE_NOT_SAT)
	}
	n := cmd.Ne
	if n > len(c.pending) {
		return sw(iso7816.NewStatusWord(0x6C, byte(len(c.pending))))
	}

	out := c.pending[:n]
	c.pending = c.pending[n:]
	if len(c.pending) == 0 {
		c.pending = nil
		return append(append([]byte(nil), out...), 0x90, 0x00)
	}
	return append(append([]byte(nil), out...), 0x61, c.announce())
}

// respond returns data directly, or announces it through 61XX in chunk mode.
func (c *EIDCard) respond(data []byte) []byte {
	if c.chunk <= 0 || len(data) == 0 {
		return append(append([]byte(nil), data...), 0x90, 0x00)
	}
	c.pending = append([]byte(nil), data...)
	return []byte{0x61, c.announce()}
}

// announce returns the SW2 of a 61XX for the pending data, 00 meaning 256.
func (c *EIDCard) announce() byte {
	n := len(c.pending)
	if n > c.chunk {
		n = c.chunk
	}
	if n > iso7816.MaxShortLe {
		n = iso7816.MaxShortLe
	}
	return byte(n)
}

func (c *EIDCard) verify(cmd *iso7816.CommandAPDU) []byte {
	if cmd.P2 != iso7816.PINRefCardholder {
		return sw(iso7816.SW_ERR_REF_DATA_NOT_FOUND)
	}
	if c.tries == 0 {
		return sw(iso7816.SW_ERR_AUTH_METHOD_BLOCKED)
	}
	if len(cmd.Data) == 0 {
		if c.verified {
			return sw(iso7816.SW_NO_ERROR)
		}
		return counter(c.tries)
	}
	return c.check(cmd.Data)
}

func (c *EIDCard) check(block []byte) []byte {
	pin, ok := decodePINBlock(block)
	if !ok {
		return sw(iso7816.SW_ERR_INCORRECT_PARAMS_DATA)
	}
	if pin != c.pin {
		c.verified = false
		c.tries--
		if c.tries == 0 {
			return sw(iso7816.SW_ERR_AUTH_METHOD_BLOCKED)
		}
		return counter(c.tries)
	}
	c.tries = c.maxTries
	c.verified = true
	return sw(iso7816.SW_NO_ERROR)
}

func (c *EIDCard) changePIN(cmd *iso7816.CommandAPDU) []byte {
	if cmd.P2 != iso7816.PINRefCardholder {
		return sw(iso7816.SW_ERR_REF_DATA_NOT_FOUND)
	}
	if c.tries == 0 {
		return sw(iso7816.SW_ERR_AUTH_METHOD_BLOCKED)
	}
	if len(cmd.Data) != 16 {
		return sw(iso7816.SW_ERR_WRONG_LENGTH)
	}
	newPIN, ok := decodePINBlock(cmd.Data[8:])
	if !ok {
		return sw(iso7816.SW_ERR_INCORRECT_PARAMS_DATA)
	}
	if resp := c.check(cmd.Data[:8]); iso7816.NewStatusWord(resp[0], resp[1]) != iso7816.SW_NO_ERROR {
		return resp
	}
	c.pin = newPIN
	return sw(iso7816.SW_NO_ERROR)
}

func decodePINBlock(block []byte) (string, bool) {
	if len(block) != 8 || bits.HighNibble(block[0]) != 0x2 {
		return "", false
	}
	n := int(bits.LowNibble(block[0]))
	if n < iso7816.MinPINLength || n > iso7816.MaxPINLength {
		return "", false
	}

	var sb strings.Builder
	for i := 0; i < n; i++ {
		b := block[1+i/2]
		d := bits.HighNibble(b)
		if i%2 == 1 {
			d = bits.LowNibble(b)
		}
		if d > 9 {
			return "", false
		}
		sb.WriteByte('0' + d)
	}
	return sb.String(), true
}

func counter(tries int) []byte {
	return []byte{0x63, bits.PackNibbles(0xC, byte(tries))}
}

func sw(s iso7816.StatusWord) []byte {
	return []byte{s.SW1(), s.SW2()}
}
