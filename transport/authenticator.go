package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/smnsjas/go-authselect/authsel"
	"github.com/smnsjas/go-authselect/credstore"
	"github.com/smnsjas/go-authselect/kerberos"
)

var (
	// ErrUnsupportedMechanism is returned for mechanisms HTTP cannot carry.
	ErrUnsupportedMechanism = errors.New("transport: mechanism not supported over HTTP")

	// ErrNoCredential is returned when the selection has no acquired
	// credential.
	ErrNoCredential = errors.New("transport: no credential")
)

// Authenticator wraps an http.RoundTripper with authentication.
type Authenticator interface {
	// Transport wraps base with authentication.
	Transport(base http.RoundTripper) http.RoundTripper

	// Name returns the authentication scheme name.
	Name() string
}

type options struct {
	logger *slog.Logger
}

// Option configures NewAuthenticator.
type Option func(*options)

// WithLogger sets the logger used for handshake diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewAuthenticator builds the authenticator for a resolved selection and
// the credential acquired for it.
func NewAuthenticator(info authsel.AuthInfo, cred *credstore.Credential, opts ...Option) (Authenticator, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if cred == nil {
		return nil, ErrNoCredential
	}

	switch info.Mechanism {
	case authsel.MechKerberos, authsel.MechKerberosReferral:
		cache, ok := cred.Payload().(*kerberos.Cache)
		if !ok {
			return nil, fmt.Errorf("transport: credential %s is not a Kerberos cache", cred.ID())
		}
		p, err := NewKerberosProvider(cache, ServicePrincipal(info))
		if err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		a := NewNegotiateAuth(p)
		a.logger = o.logger
		return a, nil

	case authsel.MechNTLM:
		id, ok := cred.Payload().(*credstore.NTLMIdentity)
		if !ok {
			return nil, fmt.Errorf("transport: credential %s is not an NTLM identity", cred.ID())
		}
		if info.SPNEGO {
			a := NewNegotiateAuth(NewNTLMProvider(id))
			a.logger = o.logger
			return a, nil
		}
		return NewNTLMAuth(id), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedMechanism, info.Mechanism)
}

// ServicePrincipal returns the service/host form of the selection's server
// name.
func ServicePrincipal(info authsel.AuthInfo) string {
	switch info.Server.Kind {
	case authsel.NameKerberos, authsel.NameKerberosReferral:
		if i := strings.LastIndex(info.Server.Value, "@"); i > 0 {
			return info.Server.Value[:i]
		}
		return info.Server.Value
	case authsel.NameHostBased:
		if svc, host, ok := strings.Cut(info.Server.Value, "@"); ok {
			return svc + "/" + host
		}
	}
	return info.Service + "/" + info.Hostname
}
