// Package mechhint decodes what a server offered in its first negotiation
// message: the SPNEGO mechanism list, the optimistic mechanism token, and the
// negHints host name some servers include.
//
// Both the GSS InitialContextToken framing (as carried in an SMB negotiate
// response) and a bare NegotiationToken (as carried after
// "WWW-Authenticate: Negotiate") are accepted.
package mechhint

import (
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotSPNEGO is returned for tokens that are not SPNEGO negotiation tokens.
	ErrNotSPNEGO = errors.New("mechhint: not a SPNEGO negotiation token")

	// ErrNoToken is returned by FromHeader for a bare "Negotiate" challenge.
	ErrNoToken = errors.New("mechhint: challenge carries no token")
)

// Well-known mechanism OIDs.
var (
	OIDSPNEGO       = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 2}
	OIDKerberos     = asn1.ObjectIdentifier{1, 2, 840, 113554, 1, 2, 2}
	OIDKerberosMS   = asn1.ObjectIdentifier{1, 2, 840, 48018, 1, 2, 2}
	OIDKerberosU2U  = asn1.ObjectIdentifier{1, 2, 840, 113554, 1, 2, 2, 3}
	OIDIAKERB       = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 2, 5}
	OIDPKU2U        = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 2, 7}
	OIDNTLM         = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 2, 10}
	OIDNegoEx       = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 2, 30}
	ignoredHintName = "not_defined_in_RFC4178@please_ignore"
)

// Advertisement is the decoded server offer.
type Advertisement struct {
	// Mechs lists the offered mechanisms in server preference order.
	Mechs []asn1.ObjectIdentifier

	// MechToken is the optimistic token for Mechs[0], if any.
	MechToken []byte

	// HintName is the negHints host name, empty when absent or the
	// placeholder value Windows servers send.
	HintName string
}

// Offers reports whether oid is in the mechanism list.
func (a Advertisement) Offers(oid asn1.ObjectIdentifier) bool {
	for _, m := range a.Mechs {
		if m.Equal(oid) {
			return true
		}
	}
	return false
}

type negHints struct {
	HintName    string `asn1:"explicit,optional,tag:0"`
	HintAddress []byte `asn1:"explicit,optional,tag:1"`
}

type negTokenInit2 struct {
	MechTypes   []asn1.ObjectIdentifier `asn1:"explicit,optional,tag:0"`
	ReqFlags    asn1.BitString          `asn1:"explicit,optional,tag:1"`
	MechToken   []byte                  `asn1:"explicit,optional,tag:2"`
	NegHints    negHints                `asn1:"explicit,optional,tag:3"`
	MechListMIC []byte                  `asn1:"explicit,optional,tag:4"`
}

// Decode parses a server's initial SPNEGO token.
func Decode(token []byte) (Advertisement, error) {
	var outer asn1.RawValue
	if _, err := asn1.Unmarshal(token, &outer); err != nil {
		return Advertisement{}, fmt.Errorf("%w: %v", ErrNotSPNEGO, err)
	}

	nt := outer
	if outer.Class == asn1.ClassApplication && outer.Tag == 0 {
		var oid asn1.ObjectIdentifier
		inner, err := asn1.Unmarshal(outer.Bytes, &oid)
		if err != nil {
			return Advertisement{}, fmt.Errorf("%w: %v", ErrNotSPNEGO, err)
		}
		if !oid.Equal(OIDSPNEGO) {
			return Advertisement{}, fmt.Errorf("%w: mechanism %s", ErrNotSPNEGO, oid)
		}
		if _, err := asn1.Unmarshal(inner, &nt); err != nil {
			return Advertisement{}, fmt.Errorf("%w: %v", ErrNotSPNEGO, err)
		}
	}

	// NegotiationToken CHOICE: [0] negTokenInit, [1] negTokenResp.
	if nt.Class != asn1.ClassContextSpecific || nt.Tag != 0 {
		return Advertisement{}, fmt.Errorf("%w: unexpected tag class=%d tag=%d", ErrNotSPNEGO, nt.Class, nt.Tag)
	}

	var init negTokenInit2
	if _, err := asn1.Unmarshal(nt.Bytes, &init); err != nil {
		return Advertisement{}, fmt.Errorf("%w: negTokenInit: %v", ErrNotSPNEGO, err)
	}

	adv := Advertisement{
		Mechs:     init.MechTypes,
		MechToken: init.MechToken,
	}
	if init.NegHints.HintName != ignoredHintName {
		adv.HintName = init.NegHints.HintName
	}
	return adv, nil
}

// FromHeader decodes one WWW-Authenticate value of the Negotiate scheme.
func FromHeader(value string) (Advertisement, error) {
	scheme, param, _ := strings.Cut(strings.TrimSpace(value), " ")
	if !strings.EqualFold(scheme, "Negotiate") {
		return Advertisement{}, fmt.Errorf("%w: scheme %q", ErrNotSPNEGO, scheme)
	}
	param = strings.TrimSpace(param)
	if param == "" {
		return Advertisement{}, ErrNoToken
	}
	token, err := base64.StdEncoding.DecodeString(param)
	if err != nil {
		return Advertisement{}, fmt.Errorf("decode negotiate token: %w", err)
	}
	return Decode(token)
}

// FromHeaders folds every WWW-Authenticate challenge in h into one
// Advertisement. A Negotiate challenge without a token is taken to offer
// Kerberos and NTLM; standalone NTLM and Kerberos schemes add their mechanism.
func FromHeaders(h http.Header) Advertisement {
	var adv Advertisement
	add := func(oid asn1.ObjectIdentifier) {
		if !adv.Offers(oid) {
			adv.Mechs = append(adv.Mechs, oid)
		}
	}

	for _, value := range h.Values("WWW-Authenticate") {
		scheme, _, _ := strings.Cut(strings.TrimSpace(value), " ")
		switch strings.ToLower(scheme) {
		case "negotiate":
			decoded, err := FromHeader(value)
			if err != nil {
				add(OIDKerberos)
				add(OIDNTLM)
				continue
			}
			for _, m := range decoded.Mechs {
				add(m)
			}
			if adv.MechToken == nil {
				adv.MechToken = decoded.MechToken
			}
			if adv.HintName == "" {
				adv.HintName = decoded.HintName
			}
		case "kerberos":
			add(OIDKerberos)
		case "ntlm":
			add(OIDNTLM)
		}
	}
	return adv
}
