package eid

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
	"github.com/gregLibert/eid-middleware/pkg/iso7816"
	"github.com/gregLibert/eid-middleware/pkg/session"
)

// Card is the eID card of one session. It stays bound to that session: once
// the card is removed every method fails with CardChanged, even if the same
// card is inserted again.
type Card struct {
	core *Core
	ref  session.HandleRef
	log  *logrus.Entry
}

// SessionID returns the session the card is bound to.
func (c *Card) SessionID() uint64 {
	return c.ref.SessionID
}

// CheckStillValid fails with CardChanged once the card is gone.
func (c *Card) CheckStillValid() error {
	return c.ref.CheckStillValid()
}

// Client returns an APDU client over the guarded channel of the card's
// session, for commands the Card has no method for.
func (c *Card) Client() (*iso7816.Client, *session.Channel, error) {
	return c.core.client(c.ref)
}

// ReadFile returns the content of a transparent EF. The selection and the
// reads run in one card transaction. Contents are cached for the session.
func (c *Card) ReadFile(ctx context.Context, f FileID) ([]byte, error) {
	if err := c.CheckStillValid(); err != nil {
		return nil, err
	}
	if data, ok := c.core.cachedFile(c.ref.SessionID, f); ok {
		return data, nil
	}

	client, ch, err := c.core.client(c.ref)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = ch.Exclusive(ctx, func() error {
		sel, err := iso7816.SelectByPath(c.core.class, f.Path, iso7816.ReturnNoData)
		if err != nil {
			return carderr.Wrap("select", carderr.ProtocolError, err)
		}
		if _, err := client.Transceive(ctx, sel); err != nil {
			return err
		}
		data, err = c.readBinary(ctx, client)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}

	c.log.WithFields(logrus.Fields{"file": f.Name, "size": len(data)}).Debug("Read file")
	c.core.storeFile(c.ref.SessionID, f, data)
	return data, nil
}

// readBinary reads the selected EF chunk by chunk. The end of the file is a
// short chunk, an "end of file reached" warning, or 6B00 at a non-zero offset
// when the size is a multiple of the chunk.
func (c *Card) readBinary(ctx context.Context, client *iso7816.Client) ([]byte, error) {
	chunk := c.core.chunk
	var data []byte

	for offset := 0; ; {
		if offset > iso7816.MaxBinaryOffset {
			return nil, carderr.Wrap("read binary", carderr.ProtocolError,
				fmt.Errorf("file exceeds %d bytes", iso7816.MaxBinaryOffset))
		}

		cmd, err := iso7816.ReadBinary(c.core.class, offset, chunk)
		if err != nil {
			return nil, carderr.Wrap("read binary", carderr.ProtocolError, err)
		}

		resp, err := client.Transceive(ctx, cmd)
		if err != nil {
			if offset > 0 && resp != nil && resp.Status == iso7816.SW_ERR_WRONG_P1P2 {
				return data, nil
			}
			return nil, err
		}

		data = append(data, resp.Data...)
		offset += len(resp.Data)

		if len(resp.Data) < chunk || resp.Status == iso7816.SW_WARN_EOF_REACHED {
			return data, nil
		}
	}
}

// Stat selects f and returns its file control parameters.
func (c *Card) Stat(ctx context.Context, f FileID) (*iso7816.FileControlInfo, error) {
	if err := c.CheckStillValid(); err != nil {
		return nil, err
	}

	cmd, err := iso7816.SelectByPath(c.core.class, f.Path, iso7816.ReturnFCP)
	if err != nil {
		return nil, carderr.Wrap("select", carderr.ProtocolError, err)
	}
	resp, err := c.core.Transceive(ctx, c.ref, cmd)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", f.Name, err)
	}

	fci, err := iso7816.ParseSelectData(resp.Data, cmd.P2)
	if err != nil {
		return nil, carderr.Wrap("stat "+f.Name, carderr.ProtocolError, err)
	}
	if fci == nil {
		return nil, carderr.Wrap("stat "+f.Name, carderr.ProtocolError, errors.New("card returned no FCP"))
	}
	return fci, nil
}

// Identity reads and decodes the identity file.
func (c *Card) Identity(ctx context.Context) (*Identity, error) {
	data, err := c.ReadFile(ctx, FileIdentity)
	if err != nil {
		return nil, err
	}
	id, err := ParseIdentity(data)
	if err != nil {
		return nil, carderr.Wrap("identity", carderr.ProtocolError, err)
	}
	return id, nil
}

// Address reads and decodes the address file.
func (c *Card) Address(ctx context.Context) (*Address, error) {
	data, err := c.ReadFile(ctx, FileAddress)
	if err != nil {
		return nil, err
	}
	addr, err := ParseAddress(data)
	if err != nil {
		return nil, carderr.Wrap("address", carderr.ProtocolError, err)
	}
	return addr, nil
}

// Photo returns the JPEG photo of the holder.
func (c *Card) Photo(ctx context.Context) ([]byte, error) {
	return c.ReadFile(ctx, FilePhoto)
}

// Certificate returns the DER encoding of a certificate stored on the card.
func (c *Card) Certificate(ctx context.Context, kind CertificateKind) ([]byte, error) {
	f, err := kind.File()
	if err != nil {
		return nil, carderr.Wrap("certificate", carderr.ObjectNotFound, err)
	}
	return c.ReadFile(ctx, f)
}

// Challenge returns n random bytes generated by the card.
func (c *Card) Challenge(ctx context.Context, n int) ([]byte, error) {
	cmd, err := iso7816.GetChallenge(c.core.class, n)
	if err != nil {
		return nil, carderr.Wrap("get challenge", carderr.ProtocolError, err)
	}
	resp, err := c.core.Transceive(ctx, c.ref, cmd)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != n {
		return nil, carderr.Wrap("get challenge", carderr.ProtocolError,
			fmt.Errorf("card returned %d bytes, want %d", len(resp.Data), n))
	}
	return resp.Data, nil
}

// VerifyPIN presents the cardholder PIN. A wrong PIN fails with
// SecurityConditionNotSatisfied carrying the tries left.
func (c *Card) VerifyPIN(ctx context.Context, pin string) error {
	cmd, err := iso7816.VerifyPIN(c.core.class, iso7816.PINRefCardholder, pin)
	if err != nil {
		return carderr.Wrap("verify", carderr.ProtocolError, err)
	}
	_, err = c.core.Transceive(ctx, c.ref, cmd)
	return err
}

// ChangePIN replaces the cardholder PIN.
func (c *Card) ChangePIN(ctx context.Context, oldPIN, newPIN string) error {
	cmd, err := iso7816.ChangePIN(c.core.class, iso7816.PINRefCardholder, oldPIN, newPIN)
	if err != nil {
		return carderr.Wrap("change reference data", carderr.ProtocolError, err)
	}
	_, err = c.core.Transceive(ctx, c.ref, cmd)
	return err
}

// PINState is the verification state of the cardholder PIN.
type PINState struct {
	Verified bool
	Blocked  bool
	// TriesLeft is -1 when the card does not tell.
	TriesLeft int
}

// PINStatus queries the PIN state without consuming a try.
func (c *Card) PINStatus(ctx context.Context) (PINState, error) {
	cmd := iso7816.PINStatus(c.core.class, iso7816.PINRefCardholder)
	resp, err := c.core.Transceive(ctx, c.ref, cmd)
	if resp == nil {
		return PINState{}, err
	}

	switch {
	case resp.Status == iso7816.SW_NO_ERROR:
		return PINState{Verified: true, TriesLeft: -1}, nil
	case resp.Status.IsCounter():
		return PINState{TriesLeft: resp.Status.Counter()}, nil
	case resp.Status == iso7816.SW_ERR_AUTH_METHOD_BLOCKED:
		return PINState{Blocked: true}, nil
	}
	return PINState{}, err
}
