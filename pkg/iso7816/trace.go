package iso7816

// A Transaction is one physical exchange: a command and the card's answer.
// A Trace is every exchange performed for one logical command, e.g. a
// READ BINARY answered by 61 10, then the GET RESPONSE that fetched the data.

// Transaction represents a completed Command-Response pair.
type Transaction struct {
	Command  *CommandAPDU
	Response *ResponseAPDU
}

// IsSuccess reports whether the response status is 9000 or 61XX.
func (t *Transaction) IsSuccess() bool {
	if t.Response == nil {
		return false
	}
	return t.Response.Status.IsSuccess()
}

// Trace is a chronological sequence of transactions.
type Trace []Transaction

// Last returns the final transaction, or nil for an empty trace.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// IsSuccess reports whether the final transaction succeeded.
func (t Trace) IsSuccess() bool {
	last := t.Last()
	if last == nil {
		return false
	}
	return last.IsSuccess()
}

// Assemble returns the logical response of the trace: the data of every
// fragment, in order, with the terminal status. Answers carrying 6CXX are
// superseded by the re-issued command and contribute nothing.
func (t Trace) Assemble() *ResponseAPDU {
	last := t.Last()
	if last == nil || last.Response == nil {
		return nil
	}

	var data []byte
	for _, tx := range t {
		if tx.Response == nil {
			continue
		}
		if tx.Response.Status.IsWrongLength() {
			continue
		}
		data = append(data, tx.Response.Data...)
	}

	return &ResponseAPDU{Data: data, Status: last.Response.Status}
}
