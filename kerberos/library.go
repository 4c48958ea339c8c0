// Package kerberos adapts go-krb5 to the ticket operations the selection
// engine needs: krb5.conf realm lookups, ccache import, password logins with
// referral detection, and local-KDC realm classification.
package kerberos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-krb5/krb5/client"
	"github.com/go-krb5/krb5/config"
	"github.com/go-krb5/krb5/credentials"

	"github.com/smnsjas/go-authselect/certs"
	"github.com/smnsjas/go-authselect/credstore"
)

const (
	// LocalKDCPrefix starts every local-KDC realm name.
	LocalKDCPrefix = "LKDC:"

	// WellKnownLocalKDC is the realm used before a peer's real local-KDC
	// realm is known.
	WellKnownLocalKDC = "WELLKNOWN:COM.APPLE.LKDC"

	// DefaultConfigPath is used when KRB5_CONFIG is unset.
	DefaultConfigPath = "/etc/krb5.conf"
)

var (
	// ErrPKINITUnsupported is returned for certificate-based ticket requests.
	ErrPKINITUnsupported = errors.New("kerberos: PKINIT is not supported by the ticket library")

	// ErrNoSecret is returned when neither a password nor a certificate is given.
	ErrNoSecret = errors.New("kerberos: no password or certificate")
)

// TicketRequest asks for an initial ticket.
type TicketRequest struct {
	// Client is name@REALM.
	Client      string
	Password    string
	Certificate *certs.Certificate
}

// LoginFunc performs the AS exchange for a client.
type LoginFunc func(cl *client.Client) error

// Option configures a Library.
type Option func(*Library)

// WithLogger sets the library logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Library) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLogin replaces the AS exchange, mainly for tests.
func WithLogin(fn LoginFunc) Option {
	return func(l *Library) {
		l.login = fn
	}
}

// Library is the ticket library. Existing and newly obtained caches are held
// as credentials in the credential store.
type Library struct {
	cfg    *config.Config
	store  *credstore.Store
	login  LoginFunc
	logger *slog.Logger
}

// LoadConfig loads krb5.conf from path, KRB5_CONFIG, or DefaultConfigPath.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("KRB5_CONFIG")
	}
	if path == "" {
		path = DefaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf from %s: %w", path, err)
	}
	return cfg, nil
}

// New returns a library over cfg. A nil cfg behaves as an empty krb5.conf.
func New(cfg *config.Config, store *credstore.Store, opts ...Option) *Library {
	if cfg == nil {
		cfg = config.New()
	}
	l := &Library{
		cfg:    cfg,
		store:  store,
		login:  (*client.Client).Login,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the krb5.conf in use.
func (l *Library) Config() *config.Config {
	return l.cfg
}

// DefaultRealm returns libdefaults default_realm.
func (l *Library) DefaultRealm() (string, bool) {
	r := l.cfg.LibDefaults.DefaultRealm
	return r, r != ""
}

// IsLocalKDC reports whether realm is a local-KDC realm.
func (l *Library) IsLocalKDC(realm string) bool {
	return IsLocalKDC(realm)
}

// HostRealms returns the realm krb5.conf maps host to through domain_realm.
// The default realm is not reported as a mapping.
func (l *Library) HostRealms(_ context.Context, host string) ([]string, error) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if !l.hasDomainRealm(host) {
		return nil, nil
	}
	if realm := l.cfg.ResolveRealm(host); realm != "" {
		return []string{realm}, nil
	}
	return nil, nil
}

func (l *Library) hasDomainRealm(host string) bool {
	for domain := range l.cfg.DomainRealm {
		d := strings.ToLower(domain)
		if host == d || strings.HasPrefix(d, ".") && strings.HasSuffix(host, d) {
			return true
		}
	}
	return false
}

// RealmForHost returns the realm of an existing service ticket for host.
func (l *Library) RealmForHost(host string) (string, bool) {
	var realm string
	l.store.Iterate(credstore.MechKerberos, func(c *credstore.Credential) bool {
		cache, ok := c.Payload().(*Cache)
		if !ok {
			return true
		}
		if r, ok := cache.TicketRealmFor(host); ok {
			realm = r
			return false
		}
		return true
	})
	return realm, realm != ""
}

// ImportCCache loads a ccache file and adds it to the store as an external
// credential.
func (l *Library) ImportCCache(path string) (*credstore.Credential, error) {
	cc, err := credentials.LoadCCache(path)
	if err != nil {
		return nil, fmt.Errorf("load ccache from %s: %w", path, err)
	}
	cache := cacheFromCCache(cc)
	cl, err := client.NewFromCCache(cc, l.cfg, client.DisablePAFXFAST(true))
	if err != nil {
		l.logger.Debug("ccache not usable as client", "path", path, "error", err)
	} else {
		cache.Client = cl
	}
	cred := l.store.Add(credstore.NewCredential(credstore.MechKerberos, cache.Principal, cache))
	l.logger.Debug("imported ccache", "path", path, "principal", cache.Principal, "tickets", len(cache.servers))
	return cred, nil
}

// RequestTicket performs an AS exchange. The returned cache carries the
// principal the KDC actually issued to, which differs from req.Client when
// the KDC answered with a referral.
func (l *Library) RequestTicket(ctx context.Context, req TicketRequest) (*Cache, error) {
	name, realm := ParsePrincipal(req.Client)
	if name == "" || realm == "" {
		return nil, fmt.Errorf("kerberos: client %q is not name@REALM", req.Client)
	}
	switch {
	case req.Password != "":
	case req.Certificate != nil:
		return nil, ErrPKINITUnsupported
	default:
		return nil, ErrNoSecret
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cl := client.NewWithPassword(name, realm, req.Password, l.cfg, client.DisablePAFXFAST(true))
	if err := l.login(cl); err != nil {
		return nil, fmt.Errorf("kerberos login as %s: %w", req.Client, err)
	}

	gotRealm := cl.Credentials.Domain()
	if gotRealm == "" {
		gotRealm = realm
	}
	cache := &Cache{
		Principal: cl.Credentials.UserName() + "@" + gotRealm,
		Realm:     gotRealm,
		Client:    cl,
	}
	if cache.Principal != req.Client {
		l.logger.Debug("kerberos referral",
			"requested", req.Client,
			"issued", cache.Principal)
	}
	return cache, nil
}

// IAKERBAcquirer returns a credential-store acquirer for IAKERB. The realm of
// the name decides where the AS exchange goes.
func (l *Library) IAKERBAcquirer() credstore.Acquirer {
	return credstore.AcquirerFunc(func(ctx context.Context, req credstore.AcquireRequest) (*credstore.Credential, error) {
		cache, err := l.RequestTicket(ctx, TicketRequest{
			Client:      req.Name,
			Password:    req.Password,
			Certificate: req.Certificate,
		})
		if err != nil {
			return nil, mapError(err)
		}
		return credstore.NewCredential(credstore.MechIAKERB, cache.Principal, cache), nil
	})
}

// RegisterAcquirers installs the IAKERB and PKU2U acquirers on the
// library's store.
func (l *Library) RegisterAcquirers() {
	if l.store == nil {
		return
	}
	l.store.SetAcquirer(credstore.MechIAKERB, l.IAKERBAcquirer())
	l.store.SetAcquirer(credstore.MechPKU2U, l.PKU2UAcquirer())
}

// PKU2UAcquirer returns a credential-store acquirer for PKU2U, which
// requires certificate-based authentication.
func (l *Library) PKU2UAcquirer() credstore.Acquirer {
	return credstore.AcquirerFunc(func(context.Context, credstore.AcquireRequest) (*credstore.Credential, error) {
		return nil, mapError(ErrPKINITUnsupported)
	})
}

func mapError(err error) error {
	status := credstore.StatusFailure
	switch {
	case errors.Is(err, ErrNoSecret):
		status = credstore.StatusNoCred
	case errors.Is(err, ErrPKINITUnsupported):
		status = credstore.StatusUnavailable
	}
	return &credstore.Error{Status: status, Err: err}
}
