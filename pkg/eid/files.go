package eid

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// FileID names a transparent EF of the eID applet by its path from the MF,
// without the leading 3F00.
type FileID struct {
	Name string
	Path []byte
}

func (f FileID) String() string {
	return fmt.Sprintf("%s (%X)", f.Name, f.Path)
}

// Files of the identity DF (DF01) and the PKI DF (DF00).
var (
	FileIdentity          = FileID{Name: "identity", Path: []byte{0xDF, 0x01, 0x40, 0x31}}
	FileIdentitySignature = FileID{Name: "identity-signature", Path: []byte{0xDF, 0x01, 0x40, 0x32}}
	FileAddress           = FileID{Name: "address", Path: []byte{0xDF, 0x01, 0x40, 0x33}}
	FileAddressSignature  = FileID{Name: "address-signature", Path: []byte{0xDF, 0x01, 0x40, 0x34}}
	FilePhoto             = FileID{Name: "photo", Path: []byte{0xDF, 0x01, 0x40, 0x35}}

	FileCertAuthentication = FileID{Name: "cert-authentication", Path: []byte{0xDF, 0x00, 0x50, 0x38}}
	FileCertSignature      = FileID{Name: "cert-signature", Path: []byte{0xDF, 0x00, 0x50, 0x39}}
	FileCertCA             = FileID{Name: "cert-ca", Path: []byte{0xDF, 0x00, 0x50, 0x3A}}
	FileCertRoot           = FileID{Name: "cert-root", Path: []byte{0xDF, 0x00, 0x50, 0x3B}}
	FileCertRRN            = FileID{Name: "cert-rrn", Path: []byte{0xDF, 0x00, 0x50, 0x3C}}
)

// KnownFiles lists the files above in a stable order.
var KnownFiles = []FileID{
	FileIdentity,
	FileIdentitySignature,
	FileAddress,
	FileAddressSignature,
	FilePhoto,
	FileCertAuthentication,
	FileCertSignature,
	FileCertCA,
	FileCertRoot,
	FileCertRRN,
}

// ParseFileID accepts a known file name ("identity", "cert-root") or a hex
// path such as "DF014031" or "3F00DF014031".
func ParseFileID(s string) (FileID, error) {
	for _, f := range KnownFiles {
		if strings.EqualFold(f.Name, s) {
			return f, nil
		}
	}

	path, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil || len(path) == 0 || len(path)%2 != 0 {
		return FileID{}, fmt.Errorf("unknown file %q: expected a file name or a hex path", s)
	}
	if path[0] == 0x3F && path[1] == 0x00 {
		path = path[2:]
	}
	if len(path) == 0 {
		return FileID{}, fmt.Errorf("file %q is the MF, not an EF", s)
	}
	return FileID{Name: strings.ToUpper(hex.EncodeToString(path)), Path: path}, nil
}

// CertificateKind selects one of the certificates stored on the card.
type CertificateKind int

const (
	CertAuthentication CertificateKind = iota + 1
	CertSignature
	CertCA
	CertRoot
	CertRRN
)

func (k CertificateKind) String() string {
	switch k {
	case CertAuthentication:
		return "authentication"
	case CertSignature:
		return "signature"
	case CertCA:
		return "ca"
	case CertRoot:
		return "root"
	case CertRRN:
		return "rrn"
	default:
		return fmt.Sprintf("CertificateKind(%d)", int(k))
	}
}

// File returns the EF holding the certificate.
func (k CertificateKind) File() (FileID, error) {
	switch k {
	case CertAuthentication:
		return FileCertAuthentication, nil
	case CertSignature:
		return FileCertSignature, nil
	case CertCA:
		return FileCertCA, nil
	case CertRoot:
		return FileCertRoot, nil
	case CertRRN:
		return FileCertRRN, nil
	default:
		return FileID{}, fmt.Errorf("unknown certificate kind %d", int(k))
	}
}

// CertificateKinds lists every kind, leaf certificates first.
var CertificateKinds = []CertificateKind{CertAuthentication, CertSignature, CertCA, CertRoot, CertRRN}
