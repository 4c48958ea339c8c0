package credstore

import (
	"context"
	"strings"

	"github.com/Azure/go-ntlmssp"
)

// NTLMIdentity is the payload of an NTLM credential. The password is kept
// because NTLM recomputes its response for every challenge.
type NTLMIdentity struct {
	User     string
	Domain   string
	Password string

	// Negotiate is the type 1 message announcing this identity.
	Negotiate []byte
}

// String returns DOMAIN\user, or user when there is no domain.
func (id *NTLMIdentity) String() string {
	if id.Domain == "" {
		return id.User
	}
	return id.Domain + `\` + id.User
}

// ParseNTLMName splits DOMAIN\user and user@domain forms. A bare name has
// an empty domain.
func ParseNTLMName(name string) (user, domain string) {
	user, domain, _ = ntlmssp.GetDomain(name)
	if domain == "" {
		if i := strings.LastIndex(user, "@"); i > 0 {
			return user[:i], user[i+1:]
		}
	}
	return user, domain
}

// AcquireNTLM builds an NTLM credential from a name and password. NTLM has
// no initial exchange with an authority, so acquisition only validates the
// identity and prepares the negotiate message.
func AcquireNTLM(_ context.Context, req AcquireRequest) (*Credential, error) {
	if req.Password == "" {
		return nil, newError(StatusNoCred, "NTLM requires a password", nil)
	}
	user, domain := ParseNTLMName(req.Name)
	if user == "" {
		return nil, newError(StatusBadName, "NTLM name has no user part", nil)
	}

	negotiate, err := ntlmssp.NewNegotiateMessage(domain, "")
	if err != nil {
		return nil, newError(StatusFailure, "build NTLM negotiate message", err)
	}

	id := &NTLMIdentity{
		User:      user,
		Domain:    domain,
		Password:  req.Password,
		Negotiate: negotiate,
	}
	return NewCredential(MechNTLM, req.Name, id), nil
}
