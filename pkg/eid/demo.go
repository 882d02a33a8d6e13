package eid

import (
	"github.com/gregLibert/eid-middleware/pkg/tlv"
	"github.com/gregLibert/eid-middleware/pkg/transport/virtual"
)

// DemoATR is the answer to reset of a Belgian eID applet 1.7.
var DemoATR = []byte{0x3B, 0x98, 0x13, 0x40, 0x0A, 0xA5, 0x03, 0x01, 0x01, 0x01, 0xAD, 0x13, 0x11}

// DemoIdentity and DemoAddress are the holder data of NewDemoCard.
var (
	DemoIdentity = Identity{
		CardNumber:           "592123456789",
		ChipNumber:           []byte{0x53, 0x4C, 0x49, 0x4E, 0x33, 0x66, 0x00, 0x29, 0x6C, 0xFF, 0x26, 0x23, 0x66, 0x0B, 0x08, 0x28},
		ValidityBegin:        "14.08.2021",
		ValidityEnd:          "14.08.2031",
		DeliveryMunicipality: "Bruxelles",
		NationalNumber:       "85073003328",
		Name:                 "Specimen",
		FirstNames:           "Alice Geldigekaart",
		ThirdInitial:         "A",
		Nationality:          "Belg",
		BirthLocation:        "Hasselt",
		BirthDate:            "30 JUL 1985",
		Sex:                  "F",
		DocumentType:         "1",
	}

	DemoAddress = Address{
		Street:       "Meirplaats 1 bus 1",
		ZipCode:      "2000",
		Municipality: "Antwerpen",
	}
)

// DemoPhoto is a JPEG-framed placeholder spanning several READ BINARY chunks.
var DemoPhoto = demoBlob([]byte{0xFF, 0xD8, 0xFF, 0xE0}, 3064, []byte{0xFF, 0xD9})

// NewDemoCard returns a simulated eID card holding the demo identity, an
// address, a photo and placeholder certificates.
func NewDemoCard(opts ...virtual.EIDOption) *virtual.EIDCard {
	files := []virtual.EIDOption{
		virtual.WithFile(FileIdentity.Path, encodeIdentity(&DemoIdentity)),
		virtual.WithFile(FileAddress.Path, encodeAddress(&DemoAddress)),
		virtual.WithFile(FilePhoto.Path, DemoPhoto),
	}
	for i, kind := range CertificateKinds {
		f, _ := kind.File()
		size := 900 + 37*i
		header := []byte{0x30, 0x82, byte((size - 4) >> 8), byte(size - 4)}
		files = append(files, virtual.WithFile(f.Path, demoBlob(header, size, nil)))
	}
	return virtual.NewEIDCard(DemoATR, append(files, opts...)...)
}

func encodeIdentity(id *Identity) []byte {
	return tlv.EncodeSimple([]tlv.Element{
		{Tag: 0x01, Value: []byte(id.CardNumber)},
		{Tag: 0x02, Value: id.ChipNumber},
		{Tag: 0x03, Value: []byte(id.ValidityBegin)},
		{Tag: 0x04, Value: []byte(id.ValidityEnd)},
		{Tag: 0x05, Value: []byte(id.DeliveryMunicipality)},
		{Tag: 0x06, Value: []byte(id.NationalNumber)},
		{Tag: 0x07, Value: []byte(id.Name)},
		{Tag: 0x08, Value: []byte(id.FirstNames)},
		{Tag: 0x09, Value: []byte(id.ThirdInitial)},
		{Tag: 0x0A, Value: []byte(id.Nationality)},
		{Tag: 0x0B, Value: []byte(id.BirthLocation)},
		{Tag: 0x0C, Value: []byte(id.BirthDate)},
		{Tag: 0x0D, Value: []byte(id.Sex)},
		{Tag: 0x0E, Value: []byte(id.NobleCondition)},
		{Tag: 0x0F, Value: []byte(id.DocumentType)},
		{Tag: 0x10, Value: []byte(id.SpecialStatus)},
		{Tag: 0x11, Value: id.PhotoHash},
	})
}

func encodeAddress(a *Address) []byte {
	return tlv.EncodeSimple([]tlv.Element{
		{Tag: 0x01, Value: []byte(a.Street)},
		{Tag: 0x02, Value: []byte(a.ZipCode)},
		{Tag: 0x03, Value: []byte(a.Municipality)},
	})
}

// demoBlob returns size bytes starting with head, ending with tail and filled
// with a counter in between.
func demoBlob(head []byte, size int, tail []byte) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(i * 7)
	}
	copy(b, head)
	copy(b[size-len(tail):], tail)
	return b
}
