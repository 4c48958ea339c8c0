package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-krb5/krb5/client"
	"github.com/go-krb5/krb5/spnego"

	"github.com/smnsjas/go-authselect/kerberos"
)

// KerberosProvider produces SPNEGO tokens from an acquired ticket cache.
type KerberosProvider struct {
	client     *client.Client
	spn        string
	spnego     *spnego.SPNEGO
	isComplete bool
}

// NewKerberosProvider creates a provider for the service principal spn
// (service/host, no realm) using the client held by cache.
func NewKerberosProvider(cache *kerberos.Cache, spn string) (*KerberosProvider, error) {
	if cache == nil || cache.Client == nil {
		return nil, errors.New("credential carries no Kerberos client")
	}
	if spn == "" {
		return nil, errors.New("service principal is required")
	}
	return &KerberosProvider{client: cache.Client, spn: spn}, nil
}

// Step returns the initial token. A server token after that is the
// mutual-auth reply and ends the handshake.
func (p *KerberosProvider) Step(ctx context.Context, inputToken []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if p.isComplete {
		return nil, false, nil
	}
	if len(inputToken) > 0 {
		return nil, false, errors.New(
			"received server token before client authentication completed (mutual auth not supported)")
	}

	if p.spnego == nil {
		p.spnego = spnego.SPNEGOClient(p.client, p.spn)
	}
	tkn, err := p.spnego.InitSecContext()
	if err != nil {
		return nil, false, fmt.Errorf("init security context for %s: %w", p.spn, err)
	}
	token, err := tkn.Marshal()
	if err != nil {
		return nil, false, fmt.Errorf("marshal token: %w", err)
	}
	p.isComplete = true
	return token, false, nil
}

// Complete reports whether the initial token was produced.
func (p *KerberosProvider) Complete() bool {
	return p.isComplete
}

// Close leaves the client alone: it belongs to the credential.
func (p *KerberosProvider) Close() error {
	return nil
}
