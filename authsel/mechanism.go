package authsel

import (
	"encoding/asn1"

	"github.com/go-krb5/krb5/gssapi"

	"github.com/smnsjas/go-authselect/certs"
	"github.com/smnsjas/go-authselect/credstore"
	"github.com/smnsjas/go-authselect/mechhint"
)

// Mechanism identifies an authentication mechanism.
type Mechanism int

const (
	MechKerberos Mechanism = iota + 1
	MechKerberosReferral
	MechKerberosU2U
	MechIAKERB
	MechPKU2U
	MechNTLM
)

var mechNames = map[Mechanism]string{
	MechKerberos:         "Kerberos",
	MechKerberosReferral: "KerberosReferral",
	MechKerberosU2U:      "KerberosUser2User",
	MechIAKERB:           "IAKERB",
	MechPKU2U:            "PKU2U",
	MechNTLM:             "NTLM",
}

func (m Mechanism) String() string {
	if n, ok := mechNames[m]; ok {
		return n
	}
	return "Unknown"
}

// ParseMechanism returns the mechanism with the given name.
func ParseMechanism(name string) (Mechanism, bool) {
	for m, n := range mechNames {
		if n == name {
			return m, true
		}
	}
	return 0, false
}

// class is the reference-key prefix for credentials of this mechanism.
func (m Mechanism) class() string {
	switch m {
	case MechNTLM:
		return "ntlm"
	case MechIAKERB:
		return "iakerb"
	case MechPKU2U:
		return "pku2u"
	default:
		return "krb5"
	}
}

func (m Mechanism) storeMech() credstore.Mech {
	switch m {
	case MechNTLM:
		return credstore.MechNTLM
	case MechIAKERB:
		return credstore.MechIAKERB
	case MechPKU2U:
		return credstore.MechPKU2U
	default:
		return credstore.MechKerberos
	}
}

// OID returns the GSS-API object identifier of the mechanism.
func (m Mechanism) OID() asn1.ObjectIdentifier {
	switch m {
	case MechKerberos, MechKerberosReferral:
		return asn1.ObjectIdentifier(gssapi.OIDKRB5.OID())
	case MechKerberosU2U:
		return mechhint.OIDKerberosU2U
	case MechIAKERB:
		return mechhint.OIDIAKERB
	case MechPKU2U:
		return mechhint.OIDPKU2U
	case MechNTLM:
		return mechhint.OIDNTLM
	}
	return nil
}

// LocalKDC says which kind of local KDC a Kerberos guess targets.
type LocalKDC int

const (
	NotLocalKDC LocalKDC = iota
	WellKnownLocalKDC
	ClassicLocalKDC
)

// Variant is the mechanism of a selection together with the fields only that
// mechanism uses. The concrete types are Kerberos, KerberosReferral,
// KerberosU2U, IAKERB, PKU2U and NTLM.
type Variant interface {
	Mechanism() Mechanism
	variant()
}

// Kerberos authenticates with a password or, through PKINIT, a certificate.
type Kerberos struct {
	Certificate *certs.Certificate
	LocalKDC    LocalKDC
}

// KerberosReferral targets a server principal whose realm the KDC resolves.
type KerberosReferral struct{}

// KerberosU2U uses user-to-user tickets from an existing credential.
type KerberosU2U struct{}

// IAKERB tunnels the KDC exchange through the target service.
type IAKERB struct {
	Certificate *certs.Certificate
	LocalKDC    LocalKDC
}

// PKU2U authenticates peers with certificates only.
type PKU2U struct {
	Certificate *certs.Certificate
}

// NTLM authenticates with a password.
type NTLM struct{}

func (Kerberos) Mechanism() Mechanism         { return MechKerberos }
func (KerberosReferral) Mechanism() Mechanism { return MechKerberosReferral }
func (KerberosU2U) Mechanism() Mechanism      { return MechKerberosU2U }
func (IAKERB) Mechanism() Mechanism           { return MechIAKERB }
func (PKU2U) Mechanism() Mechanism            { return MechPKU2U }
func (NTLM) Mechanism() Mechanism             { return MechNTLM }

func (Kerberos) variant()         {}
func (KerberosReferral) variant() {}
func (KerberosU2U) variant()      {}
func (IAKERB) variant()           {}
func (PKU2U) variant()            {}
func (NTLM) variant()             {}

// certificateOf returns the certificate bound to v, if the variant has one.
func certificateOf(v Variant) *certs.Certificate {
	switch v := v.(type) {
	case Kerberos:
		return v.Certificate
	case IAKERB:
		return v.Certificate
	case PKU2U:
		return v.Certificate
	}
	return nil
}

// ServerMechs is the set of mechanisms a server advertised, each with the
// raw hint bytes that came with it. A nil or empty set means the server's
// capabilities are unknown and every mechanism is assumed.
type ServerMechs map[Mechanism][]byte

// Supports reports whether the server may accept m.
func (sm ServerMechs) Supports(m Mechanism) bool {
	if len(sm) == 0 {
		return true
	}
	if _, ok := sm[m]; ok {
		return true
	}
	// referrals ride on plain Kerberos
	if m == MechKerberosReferral {
		_, ok := sm[MechKerberos]
		return ok
	}
	return false
}

// Advertises reports whether the server explicitly listed m.
func (sm ServerMechs) Advertises(m Mechanism) bool {
	_, ok := sm[m]
	return ok
}

// ServerMechsFrom maps a decoded advertisement to a mechanism set. The
// optimistic mechanism token is attached to the first listed mechanism.
func ServerMechsFrom(adv mechhint.Advertisement) ServerMechs {
	sm := make(ServerMechs)
	for i, oid := range adv.Mechs {
		var m Mechanism
		switch {
		case oid.Equal(asn1.ObjectIdentifier(gssapi.OIDKRB5.OID())),
			oid.Equal(asn1.ObjectIdentifier(gssapi.OIDMSLegacyKRB5.OID())):
			m = MechKerberos
		case oid.Equal(mechhint.OIDKerberosU2U):
			m = MechKerberosU2U
		case oid.Equal(mechhint.OIDIAKERB):
			m = MechIAKERB
		case oid.Equal(mechhint.OIDPKU2U):
			m = MechPKU2U
		case oid.Equal(mechhint.OIDNTLM):
			m = MechNTLM
		default:
			continue
		}
		var hint []byte
		if i == 0 {
			hint = adv.MechToken
		}
		if _, seen := sm[m]; !seen {
			sm[m] = hint
		}
	}
	return sm
}
