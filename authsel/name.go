package authsel

import "strings"

// NameKind tags how a name string is to be interpreted.
type NameKind string

const (
	NameUsername         NameKind = "username"
	NameKerberos         NameKind = "krb5-principal"
	NameKerberosReferral NameKind = "krb5-referral"
	NameHostBased        NameKind = "hostbased-service"
	NameNTLM             NameKind = "ntlm-user"
	NameOpaque           NameKind = "opaque"
)

// Name is an identity string plus its kind. The zero Name is "unknown".
type Name struct {
	Value string
	Kind  NameKind
}

// IsZero reports whether the name is unset.
func (n Name) IsZero() bool {
	return n.Value == ""
}

func (n Name) String() string {
	return n.Value
}

func (n Name) equal(o Name) bool {
	return n.Kind == o.Kind && strings.EqualFold(n.Value, o.Value)
}

// userForm is the decoration found on a username hint.
type userForm int

const (
	formBare      userForm = iota
	formPrincipal          // user@REALM
	formDownLevel          // DOMAIN\user
)

// userHint is a parsed username hint.
type userHint struct {
	raw      string
	specific string
	domain   string
	form     userForm
}

func parseUserHint(s string) userHint {
	h := userHint{raw: s, specific: s}
	if i := strings.Index(s, `\`); i > 0 && i < len(s)-1 {
		h.domain, h.specific, h.form = s[:i], s[i+1:], formDownLevel
		return h
	}
	if i := strings.LastIndex(s, "@"); i > 0 && i < len(s)-1 {
		h.specific, h.domain, h.form = s[:i], s[i+1:], formPrincipal
	}
	return h
}

// realm is the hinted domain as a Kerberos realm.
func (h userHint) realm() string {
	return strings.ToUpper(h.domain)
}

// netbiosDomain is the first label of the hinted domain, upper-cased.
func (h userHint) netbiosDomain() string {
	d, _, _ := strings.Cut(h.domain, ".")
	return strings.ToUpper(d)
}

func principal(name, realm string) Name {
	return Name{Value: name + "@" + realm, Kind: NameKerberos}
}

func servicePrincipal(service, host, realm string) Name {
	return Name{Value: service + "/" + host + "@" + realm, Kind: NameKerberos}
}
