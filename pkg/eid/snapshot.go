package eid

import (
	"context"
	"errors"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
)

// Snapshot is everything readable from a card without a PIN.
type Snapshot struct {
	SessionID    uint64
	Identity     *Identity
	Address      *Address
	Photo        []byte
	Certificates map[CertificateKind][]byte
}

// ReadAll reads the identity, the address, the photo and every certificate,
// in that order. Missing certificates are skipped; any other failure, and
// CardChanged in particular, aborts the whole snapshot.
func (c *Card) ReadAll(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		SessionID:    c.ref.SessionID,
		Certificates: make(map[CertificateKind][]byte),
	}

	var err error
	if snap.Identity, err = c.Identity(ctx); err != nil {
		return nil, err
	}
	if snap.Address, err = c.Address(ctx); err != nil {
		return nil, err
	}
	if snap.Photo, err = c.Photo(ctx); err != nil {
		return nil, err
	}

	for _, kind := range CertificateKinds {
		der, err := c.Certificate(ctx, kind)
		if errors.Is(err, carderr.ErrObjectNotFound) {
			c.log.WithField("certificate", kind).Debug("Certificate not on card")
			continue
		}
		if err != nil {
			return nil, err
		}
		snap.Certificates[kind] = der
	}
	return snap, nil
}
