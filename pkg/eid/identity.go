package eid

import (
	"fmt"
	"strings"

	"github.com/gregLibert/eid-middleware/pkg/tlv"
)

// Identity is the content of the identity file (DF01/4031). Dates are kept
// as stored on the card: DD.MM.YYYY for validity, free text for birth dates.
type Identity struct {
	CardNumber           string `eid:"01"`
	ChipNumber           []byte `eid:"02"`
	ValidityBegin        string `eid:"03"`
	ValidityEnd          string `eid:"04"`
	DeliveryMunicipality string `eid:"05"`
	NationalNumber       string `eid:"06"`
	Name                 string `eid:"07"`
	FirstNames           string `eid:"08"`
	ThirdInitial         string `eid:"09"`
	Nationality          string `eid:"0A"`
	BirthLocation        string `eid:"0B"`
	BirthDate            string `eid:"0C"`
	Sex                  string `eid:"0D"`
	NobleCondition       string `eid:"0E"`
	DocumentType         string `eid:"0F"`
	SpecialStatus        string `eid:"10"`
	PhotoHash            []byte `eid:"11"`
}

// ParseIdentity decodes an identity file.
func ParseIdentity(data []byte) (*Identity, error) {
	id := &Identity{}
	if err := tlv.UnmarshalSimple(data, id); err != nil {
		return nil, fmt.Errorf("identity file: %w", err)
	}
	return id, nil
}

// FullName returns the first names followed by the last name.
func (id *Identity) FullName() string {
	return strings.Join(strings.Fields(id.FirstNames+" "+id.ThirdInitial+" "+id.Name), " ")
}

// Address is the content of the address file (DF01/4033).
type Address struct {
	Street       string `eid:"01"`
	ZipCode      string `eid:"02"`
	Municipality string `eid:"03"`
}

// ParseAddress decodes an address file.
func ParseAddress(data []byte) (*Address, error) {
	addr := &Address{}
	if err := tlv.UnmarshalSimple(data, addr); err != nil {
		return nil, fmt.Errorf("address file: %w", err)
	}
	return addr, nil
}

func (a *Address) String() string {
	return fmt.Sprintf("%s, %s %s", a.Street, a.ZipCode, a.Municipality)
}
