// Package resolver maps a hostname to the Kerberos realms that can issue
// tickets for it. Results accumulate in an append-only cache that is
// consulted before any new lookup for the same name.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/smnsjas/go-authselect/kerberos"
)

var (
	// ErrNoMapping is returned when no realm could be found for a host.
	ErrNoMapping = errors.New("resolver: no realm mapping found")

	// ErrNoLocalKDC is returned when local-KDC discovery finds nothing.
	ErrNoLocalKDC = errors.New("resolver: no local KDC found")
)

// Mapping ties a hostname variant to a realm.
type Mapping struct {
	Hostname string
	Realm    string
	LocalKDC bool
}

// TicketProbe reports the realm of an existing service ticket for a host.
type TicketProbe interface {
	RealmForHost(host string) (string, bool)
}

// Canonicalizer returns a host's canonical DNS name.
type Canonicalizer interface {
	Canonicalize(ctx context.Context, host string) (string, error)
}

// AddressResolver returns the addresses a host resolves to. *net.Resolver
// satisfies it.
type AddressResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// HostRealmLookup returns the realms a host or address maps to.
type HostRealmLookup interface {
	HostRealms(ctx context.Context, host string) ([]string, error)
}

// LocalKDCLookup discovers the local-KDC realm a peer host serves.
type LocalKDCLookup interface {
	LocalKDCRealm(ctx context.Context, host string) (string, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTicketProbe sets the existing-ticket probe.
func WithTicketProbe(p TicketProbe) Option {
	return func(r *Resolver) { r.probe = p }
}

// WithCanonicalizer sets the canonicalizer.
func WithCanonicalizer(c Canonicalizer) Option {
	return func(r *Resolver) { r.canon = c }
}

// WithAddressResolver sets the address resolver.
func WithAddressResolver(a AddressResolver) Option {
	return func(r *Resolver) { r.addrs = a }
}

// WithHostRealms adds a host-realm lookup. Lookups are consulted in the
// order given.
func WithHostRealms(h HostRealmLookup) Option {
	return func(r *Resolver) { r.realms = append(r.realms, h) }
}

// WithLocalKDC sets the local-KDC discovery lookup.
func WithLocalKDC(l LocalKDCLookup) Option {
	return func(r *Resolver) { r.lkdc = l }
}

// WithPeerDomain sets the peer-to-peer domain suffix treated as local.
func WithPeerDomain(domain string) Option {
	return func(r *Resolver) { r.peerDomain = domain }
}

// WithLimiter shares a lookup limiter.
func WithLimiter(l *Limiter) Option {
	return func(r *Resolver) {
		if l != nil {
			r.limiter = l
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Resolver resolves hostnames to realm mappings.
type Resolver struct {
	probe      TicketProbe
	canon      Canonicalizer
	addrs      AddressResolver
	realms     []HostRealmLookup
	lkdc       LocalKDCLookup
	peerDomain string
	limiter    *Limiter
	logger     *slog.Logger

	mu    sync.Mutex
	cache []Mapping
}

// New returns a resolver. Without options it only consults its cache.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		limiter: NewLimiter(4, -1),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Limiter returns the lookup limiter.
func (r *Resolver) Limiter() *Limiter {
	return r.limiter
}

// PeerDomain returns the configured peer-to-peer domain suffix.
func (r *Resolver) PeerDomain() string {
	return r.peerDomain
}

// Mappings returns a snapshot of the cache.
func (r *Resolver) Mappings() []Mapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Mapping(nil), r.cache...)
}

func (r *Resolver) cached(names ...string) []Mapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Mapping
	for _, m := range r.cache {
		for _, n := range names {
			if n != "" && strings.EqualFold(m.Hostname, n) {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

func (r *Resolver) record(ms ...Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
next:
	for _, m := range ms {
		for _, c := range r.cache {
			if strings.EqualFold(c.Hostname, m.Hostname) && c.Realm == m.Realm {
				continue next
			}
		}
		r.cache = append(r.cache, m)
	}
}

// Resolve returns the realm mappings for host. hintRealm, when set, limits
// which local-KDC realms are accepted. ErrNoMapping is returned when nothing
// is found; it wraps any lookup failures.
func (r *Resolver) Resolve(ctx context.Context, host, hintRealm string) ([]Mapping, error) {
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return nil, fmt.Errorf("%w: empty hostname", ErrNoMapping)
	}

	// an existing service ticket settles it without guessing
	if r.probe != nil {
		if realm, ok := r.probe.RealmForHost(host); ok {
			m := Mapping{Hostname: host, Realm: realm, LocalKDC: kerberos.IsLocalKDC(realm)}
			r.record(m)
			r.logger.Debug("realm from existing ticket", "host", host, "realm", realm)
			return []Mapping{m}, nil
		}
	}

	canonical := host
	if r.canon != nil {
		c, err := r.canon.Canonicalize(ctx, host)
		switch {
		case err != nil:
			r.logger.Debug("canonicalize failed", "host", host, "error", err)
		case c != "":
			canonical = strings.TrimSuffix(c, ".")
		}
	}

	acceptLocal := LooksLocal(host, r.peerDomain) &&
		(hintRealm == "" || kerberos.IsLocalKDC(hintRealm))

	// cached local-KDC realms only count where a fresh lookup would keep them
	if ms := filterLocal(r.cached(host, canonical), acceptLocal); len(ms) > 0 {
		return ms, nil
	}

	found, errs := r.lookupRealms(ctx, canonical)
	out := filterLocal(found, acceptLocal)
	if len(out) == 0 {
		err := fmt.Errorf("%w for %s", ErrNoMapping, host)
		if len(errs) > 0 {
			err = fmt.Errorf("%w: %w", err, errors.Join(errs...))
		}
		return nil, err
	}

	if canonical != host {
		for _, m := range out {
			if strings.EqualFold(m.Hostname, canonical) {
				out = append(out, Mapping{Hostname: host, Realm: m.Realm, LocalKDC: m.LocalKDC})
			}
		}
	}
	r.record(out...)
	return out, nil
}

// lookupRealms asks every host-realm lookup about canonical and the
// addresses it resolves to.
func (r *Resolver) lookupRealms(ctx context.Context, canonical string) ([]Mapping, []error) {
	if len(r.realms) == 0 {
		return nil, nil
	}

	names := []string{canonical}
	if r.addrs != nil && net.ParseIP(canonical) == nil {
		addrs, err := r.addrs.LookupHost(ctx, canonical)
		if err != nil {
			r.logger.Debug("address lookup failed", "host", canonical, "error", err)
		}
		names = append(names, addrs...)
	}

	var (
		mu    sync.Mutex
		found = make([][]Mapping, len(names))
		errs  []error
		g     errgroup.Group
	)
	for i, name := range names {
		g.Go(func() error {
			if err := r.limiter.Acquire(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			defer r.limiter.Release()

			for _, lookup := range r.realms {
				realms, err := lookup.HostRealms(ctx, name)
				if err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("host realms for %s: %w", name, err))
					mu.Unlock()
					continue
				}
				for _, realm := range realms {
					found[i] = append(found[i], Mapping{
						Hostname: canonical,
						Realm:    realm,
						LocalKDC: kerberos.IsLocalKDC(realm),
					})
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []Mapping
	seen := make(map[string]bool)
	for _, ms := range found {
		for _, m := range ms {
			if !seen[m.Realm] {
				seen[m.Realm] = true
				out = append(out, m)
			}
		}
	}
	return out, errs
}

// LookupLocalKDC runs local-KDC discovery for host through the limiter and
// records the result.
func (r *Resolver) LookupLocalKDC(ctx context.Context, host string) (string, error) {
	if ms := r.cached(host); len(ms) > 0 {
		for _, m := range ms {
			if m.LocalKDC {
				return m.Realm, nil
			}
		}
	}
	if r.lkdc == nil {
		return "", fmt.Errorf("%w for %s", ErrNoLocalKDC, host)
	}
	if err := r.limiter.Acquire(ctx); err != nil {
		return "", err
	}
	defer r.limiter.Release()

	realm, err := r.lkdc.LocalKDCRealm(ctx, host)
	if err != nil {
		return "", err
	}
	if !kerberos.IsLocalKDC(realm) {
		return "", fmt.Errorf("%w: %s is not a local-KDC realm", ErrNoLocalKDC, realm)
	}
	r.record(Mapping{Hostname: host, Realm: realm, LocalKDC: true})
	return realm, nil
}

func filterLocal(ms []Mapping, acceptLocal bool) []Mapping {
	var out []Mapping
	for _, m := range ms {
		if m.LocalKDC && !acceptLocal {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Select picks one mapping: an exact match for hintRealm, else the first
// managed realm, else the first local-KDC realm.
func Select(mappings []Mapping, hintRealm string) (Mapping, bool) {
	if len(mappings) == 0 {
		return Mapping{}, false
	}
	if hintRealm != "" {
		for _, m := range mappings {
			if strings.EqualFold(m.Realm, hintRealm) {
				return m, true
			}
		}
	}
	for _, m := range mappings {
		if !m.LocalKDC {
			return m, true
		}
	}
	for _, m := range mappings {
		if m.LocalKDC {
			return m, true
		}
	}
	return mappings[0], true
}

// LooksLocal reports whether host is a bare name, a .local name, or inside
// the peer-to-peer domain.
func LooksLocal(host, peerDomain string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return false
	}
	if !strings.Contains(host, ".") {
		return true
	}
	if strings.HasSuffix(host, ".local") {
		return true
	}
	peerDomain = strings.ToLower(strings.Trim(peerDomain, "."))
	return peerDomain != "" && (host == peerDomain || strings.HasSuffix(host, "."+peerDomain))
}
