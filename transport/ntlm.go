package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/go-ntlmssp"
	ntlmcbt "github.com/smnsjas/go-ntlm-cbt"

	"github.com/smnsjas/go-authselect/credstore"
)

// NTLMAuth implements the raw NTLM scheme for an acquired NTLM identity.
type NTLMAuth struct {
	id *credstore.NTLMIdentity
}

// NewNTLMAuth creates an NTLM authenticator.
func NewNTLMAuth(id *credstore.NTLMIdentity) *NTLMAuth {
	return &NTLMAuth{id: id}
}

// Name returns the scheme name.
func (a *NTLMAuth) Name() string {
	return "NTLM"
}

// Transport wraps base with NTLM authentication. The handshake itself is
// run by github.com/Azure/go-ntlmssp, which reads the identity from the
// request's basic auth.
func (a *NTLMAuth) Transport(base http.RoundTripper) http.RoundTripper {
	return &credentialsRoundTripper{
		id:   a.id,
		base: ntlmssp.Negotiator{RoundTripper: base},
	}
}

// credentialsRoundTripper hands the identity to the negotiator.
type credentialsRoundTripper struct {
	id   *credstore.NTLMIdentity
	base http.RoundTripper
}

func (rt *credentialsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(rt.id.String(), rt.id.Password)
	return rt.base.RoundTrip(req)
}

// NTLMProvider produces raw NTLMSSP tokens for use inside Negotiate. Over
// TLS the authenticate message carries channel bindings for the server
// certificate, which servers enforcing Extended Protection require.
type NTLMProvider struct {
	id   *credstore.NTLMIdentity
	legs int
	cbt  *ntlmcbt.Negotiator
}

// NewNTLMProvider creates a provider for id.
func NewNTLMProvider(id *credstore.NTLMIdentity) *NTLMProvider {
	return &NTLMProvider{id: id}
}

// BindTLS binds the handshake to the server certificate of state. It only
// takes effect before the negotiate message is produced.
func (p *NTLMProvider) BindTLS(state *tls.ConnectionState) {
	if p.legs > 0 || p.cbt != nil || state == nil || len(state.PeerCertificates) == 0 {
		return
	}
	p.cbt = &ntlmcbt.Negotiator{
		ChannelBindings: ntlmcbt.ComputeTLSServerEndpoint(state.PeerCertificates[0]),
	}
}

// ChannelBound reports whether the handshake carries channel bindings.
func (p *NTLMProvider) ChannelBound() bool {
	return p.cbt != nil
}

// Step returns the negotiate message first and the authenticate message
// once the server's challenge arrives.
func (p *NTLMProvider) Step(ctx context.Context, inputToken []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	switch p.legs {
	case 0:
		p.legs++
		var (
			msg = p.id.Negotiate
			err error
		)
		switch {
		case p.cbt != nil:
			msg, err = p.cbt.Negotiate(p.id.Domain, "")
		case len(msg) == 0:
			msg, err = ntlmssp.NewNegotiateMessage(p.id.Domain, "")
		}
		if err != nil {
			return nil, false, fmt.Errorf("build negotiate message: %w", err)
		}
		return msg, true, nil
	case 1:
		if len(inputToken) == 0 {
			return nil, false, errors.New("server sent no NTLM challenge")
		}
		var (
			msg []byte
			err error
		)
		if p.cbt != nil {
			msg, err = p.cbt.ChallengeResponse(inputToken, p.id.User, p.id.Password)
		} else {
			msg, err = ntlmssp.ProcessChallenge(inputToken, p.id.User, p.id.Password, p.id.Domain != "")
		}
		if err != nil {
			return nil, false, fmt.Errorf("process NTLM challenge: %w", err)
		}
		p.legs++
		return msg, false, nil
	}
	return nil, false, nil
}

// Complete reports whether the authenticate message was produced.
func (p *NTLMProvider) Complete() bool {
	return p.legs > 1
}

// Close is a no-op.
func (p *NTLMProvider) Close() error {
	return nil
}
