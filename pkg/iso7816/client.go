package iso7816

import (
	"context"
	"fmt"
	"strings"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
)

// CLIENT & PROTOCOL LOGIC:
// The Client drives one logical command over a raw channel and hides the
// T=0 transport behaviours that leak into the application layer:
//
// 1. "61 XX" (Response Available):
//    XX more bytes are waiting (00 means 256). The client issues GET RESPONSE
//    on the same logical channel, repeatedly, until a terminal status arrives.
//    The data of every fragment is concatenated in order.
//
// 2. "6C XX" (Wrong Length):
//    Le was wrong and XX is the exact length. The command is re-issued once
//    with Le = XX. A second 6CXX is reported as a protocol error.
//
// Send returns the Trace of every physical exchange. Transceive assembles it
// into a single response and classifies the terminal status word.

// DefaultMaxExchanges bounds the number of physical exchanges a single
// logical command may take. A card answering 61XX forever is a protocol
// violation, not a reason to hang.
const DefaultMaxExchanges = 64

// Transmitter abstracts the physical card connection. Implementations must
// honour ctx and must not retry on their own.
type Transmitter interface {
	Transmit(ctx context.Context, cmd []byte) ([]byte, error)
}

// Client manages the high-level communication with the card.
type Client struct {
	Card Transmitter

	// MaxExchanges overrides DefaultMaxExchanges when positive.
	MaxExchanges int
}

// NewClient creates a new Client instance.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

func (c *Client) maxExchanges() int {
	if c.MaxExchanges > 0 {
		return c.MaxExchanges
	}
	return DefaultMaxExchanges
}

// Send transmits cmd and follows 61XX and 6CXX answers. The returned trace
// holds every exchange performed, even when an error is returned midway.
//
// Errors are classified: transmitter failures keep their kind (CardChanged
// from a guarded channel stays CardChanged) or become TransportError,
// malformed answers and runaway chains are ProtocolError.
func (c *Client) Send(ctx context.Context, cmd *CommandAPDU) (Trace, error) {
	op := opName(cmd)

	var trace Trace
	next := cmd
	corrected := false

	for {
		if len(trace) >= c.maxExchanges() {
			return trace, carderr.Wrap(op, carderr.ProtocolError,
				fmt.Errorf("response chain exceeded %d exchanges", c.maxExchanges()))
		}

		resp, err := c.exchange(ctx, op, next)
		if err != nil {
			return trace, err
		}
		trace = append(trace, Transaction{Command: next, Response: resp})

		sw := resp.Status
		switch {
		case sw.HasMoreData():
			// GET RESPONSE must use the same logical channel as the original command.
			cla := cmd.Class.WithChaining(false)
			next = NewCommandAPDU(cla, mustInstruction(INS_GET_RESPONSE), 0x00, 0x00, nil, decodeLe(uint(sw.SW2()), MaxShortLe))

		case sw.IsWrongLength():
			if corrected {
				return trace, nil
			}
			corrected = true
			retry := *next
			retry.Ne = decodeLe(uint(sw.SW2()), MaxShortLe)
			next = &retry

		default:
			return trace, nil
		}
	}
}

func (c *Client) exchange(ctx context.Context, op string, cmd *CommandAPDU) (*ResponseAPDU, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		return nil, carderr.Wrap(op, carderr.ProtocolError, fmt.Errorf("encoding error: %w", err))
	}

	rawResp, err := c.Card.Transmit(ctx, raw)
	if err != nil {
		return nil, carderr.Classify(op, err)
	}

	resp, err := ParseResponseAPDU(rawResp)
	if err != nil {
		return nil, carderr.Wrap(op, carderr.ProtocolError, err)
	}
	return resp, nil
}

// Transceive sends cmd and returns the assembled response. A terminal status
// that denotes an error is returned as a classified error alongside the
// response, so callers can still inspect the status word.
func (c *Client) Transceive(ctx context.Context, cmd *CommandAPDU) (*ResponseAPDU, error) {
	trace, err := c.Send(ctx, cmd)
	if err != nil {
		return nil, err
	}

	resp := trace.Assemble()
	op := opName(cmd)

	if resp.Status.IsWrongLength() {
		e := carderr.New(op, carderr.ProtocolError)
		e.Status = uint16(resp.Status)
		return resp, e
	}
	if err := carderr.FromStatus(op, uint16(resp.Status)); err != nil {
		return resp, err
	}
	return resp, nil
}

func opName(cmd *CommandAPDU) string {
	return strings.ToLower(cmd.Instruction.Raw.String())
}
