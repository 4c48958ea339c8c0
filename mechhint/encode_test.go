package mechhint

import (
	"encoding/asn1"
	"fmt"
)

type negHintsOut struct {
	HintName string `asn1:"explicit,optional,tag:0,utf8"`
}

type negTokenInit2Out struct {
	MechTypes []asn1.ObjectIdentifier `asn1:"explicit,tag:0"`
	MechToken []byte                  `asn1:"explicit,optional,tag:2"`
	NegHints  negHintsOut             `asn1:"explicit,optional,tag:3"`
}

// encode produces an InitialContextToken carrying a NegTokenInit2 for adv,
// the offer Decode reads.
func encode(adv Advertisement) ([]byte, error) {
	body, err := asn1.Marshal(negTokenInit2Out{
		MechTypes: adv.Mechs,
		MechToken: adv.MechToken,
		NegHints:  negHintsOut{HintName: adv.HintName},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal negTokenInit: %w", err)
	}
	choice, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      body,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal negotiation token: %w", err)
	}
	oid, err := asn1.Marshal(OIDSPNEGO)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassApplication,
		Tag:        0,
		IsCompound: true,
		Bytes:      append(oid, choice...),
	})
}
