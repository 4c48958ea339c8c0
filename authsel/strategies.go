package authsel

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/smnsjas/go-authselect/certs"
	"github.com/smnsjas/go-authselect/credstore"
	"github.com/smnsjas/go-authselect/kerberos"
	"github.com/smnsjas/go-authselect/resolver"
)

// runStrategies adds every guess for the session, best first. s.mu is held.
func (s *Session) runStrategies(ctx context.Context) {
	s.existingLocalKDC()
	s.wellKnownLocalKDC()
	s.classicKerberos(ctx)
	s.classicLocalKDC()
	s.remainingCaches()
	s.pku2u()
	s.ntlm()
}

// localUser is the name used for local-KDC guesses.
func (s *Session) localUser() string {
	if s.user.specific != "" {
		return s.user.specific
	}
	return s.cfg.LocalUsername
}

func (s *Session) hostBasedServer() Name {
	return Name{Value: s.service + "@" + s.host, Kind: NameHostBased}
}

// addWithCredential adds sel carrying an existing credential. When an
// equivalent guess is already registered without one, the credential is
// attached to that guess instead.
func (s *Session) addWithCredential(sel *Selection, c *credstore.Credential) {
	sel.cred = c
	got := s.add(sel, 0)
	if got != nil && got != sel {
		got.stateMu.Lock()
		if got.cred == nil {
			got.cred = c
		}
		got.stateMu.Unlock()
	}
	s.claimed[c.ID()] = true
}

func friendlyName(c *credstore.Credential) string {
	name, _ := c.Tag(credstore.TagFriendlyName)
	return name
}

func (s *Session) cacheMatchesHost(c *credstore.Credential, cache *kerberos.Cache) bool {
	if hint, ok := c.Tag(credstore.TagHostHint); ok {
		for _, h := range []string{s.host, s.canonical, s.hintHost} {
			if h != "" && strings.EqualFold(hint, h) {
				return true
			}
		}
	}
	_, ok := cache.TicketRealmFor(s.host)
	return ok
}

// existingLocalKDC reuses local-KDC caches obtained for this host before.
func (s *Session) existingLocalKDC() {
	krb := s.mechs.Supports(MechKerberos)
	u2u := s.mechs.Advertises(MechKerberosU2U)
	if !krb && !u2u {
		return
	}
	s.store.Iterate(credstore.MechKerberos, func(c *credstore.Credential) bool {
		cache, ok := c.Payload().(*kerberos.Cache)
		if !ok || !s.lib.IsLocalKDC(cache.Realm) || !s.cacheMatchesHost(c, cache) {
			return true
		}
		client := Name{Value: cache.Principal, Kind: NameKerberos}
		server := servicePrincipal(s.service, cache.Realm, cache.Realm)
		if krb {
			sel := newSelection(client, server, Kerberos{LocalKDC: ClassicLocalKDC}, true)
			sel.label = friendlyName(c)
			s.addWithCredential(sel, c)
		}
		if u2u {
			sel := newSelection(client, server, KerberosU2U{}, true)
			sel.label = friendlyName(c)
			s.addWithCredential(sel, c)
		}
		return true
	})
}

// wellKnownLocalKDC guesses the well-known local-KDC realm for servers that
// accept IAKERB.
func (s *Session) wellKnownLocalKDC() {
	if !s.cfg.EnableLocalKDC || !s.mechs.Supports(MechIAKERB) {
		return
	}
	realm := kerberos.WellKnownLocalKDC
	server := servicePrincipal(s.service, s.host, realm)

	for _, cert := range s.certs {
		sel := newSelection(principal(cert.ReferenceIdentity(), realm), server,
			IAKERB{Certificate: cert, LocalKDC: WellKnownLocalKDC}, true)
		sel.label = cert.Label()
		s.add(sel, 0)
	}

	user := s.localUser()
	if user == "" {
		return
	}
	switch {
	case s.password != "":
		s.add(newSelection(principal(user, realm), server, IAKERB{LocalKDC: WellKnownLocalKDC}, true), 0)
	case len(s.certs) == 0:
		s.add(newSelection(principal(user, realm), server, Kerberos{LocalKDC: WellKnownLocalKDC}, true), 0)
	}
}

// classicKerberos guesses managed realms: the one typed in the username,
// the host's realm, and the library default.
func (s *Session) classicKerberos(ctx context.Context) {
	if !s.mechs.Supports(MechKerberos) && !s.mechs.Supports(MechKerberosReferral) {
		return
	}
	user := s.user.specific
	if user == "" {
		return
	}

	var hintRealm string
	if s.user.form != formBare {
		hintRealm = s.user.realm()
		if s.mechs.Supports(MechKerberosReferral) {
			server := Name{Value: s.service + "/" + s.host + "@", Kind: NameKerberosReferral}
			s.add(newSelection(principal(user, hintRealm), server, KerberosReferral{}, true), forceAdd)
		}
	}
	if !s.mechs.Supports(MechKerberos) {
		return
	}

	ctx, span := tracer.Start(ctx, "authsel.Resolve", trace.WithAttributes(
		attribute.String("net.peer.name", s.host),
	))
	mappings, err := s.res.Resolve(ctx, s.host, hintRealm)
	recordSpanError(span, err)
	span.End()

	if err != nil {
		// reported once here; the session carries on without host realms
		if isNoMapping(err) {
			s.logger.Info("no realm mapping for host", "error", err)
		} else {
			s.logger.Warn("realm resolution failed", "error", err)
		}
	}
	for _, m := range mappings {
		if m.LocalKDC && s.lkdcRealm == "" {
			s.lkdcRealm = m.Realm
		}
	}
	if m, ok := resolver.Select(mappings, hintRealm); ok && !m.LocalKDC {
		s.canonical = m.Hostname
		s.add(newSelection(principal(user, m.Realm),
			servicePrincipal(s.service, m.Hostname, m.Realm), Kerberos{}, true), 0)
	}

	if realm, ok := s.lib.DefaultRealm(); ok && !s.lib.IsLocalKDC(realm) {
		s.add(newSelection(principal(user, realm),
			servicePrincipal(s.service, s.canonical, realm), Kerberos{}, true), 0)
	}
}

// hintedLocalKDCRealm returns the realm of a local-KDC principal the server
// sent as its hint name.
func (s *Session) hintedLocalKDCRealm() string {
	if s.hintHost == "" {
		return ""
	}
	if _, realm := kerberos.ParsePrincipal(s.hintHost); s.lib.IsLocalKDC(realm) {
		return realm
	}
	return ""
}

// classicLocalKDC guesses the peer's own local-KDC realm. Unless the realm
// is already known, the selections start pending and one background lookup
// fills them in.
func (s *Session) classicLocalKDC() {
	if !s.cfg.EnableLocalKDC || !s.mechs.Supports(MechKerberos) ||
		!resolver.LooksLocal(s.host, s.res.PeerDomain()) {
		return
	}

	realm := s.hintedLocalKDCRealm()
	if realm == "" {
		realm = s.lkdcRealm
	}

	type guess struct {
		name string
		cert *certs.Certificate
	}
	var guesses []guess
	for _, cert := range s.certs {
		guesses = append(guesses, guess{name: cert.ReferenceIdentity(), cert: cert})
	}
	if user := s.localUser(); s.password != "" && user != "" {
		guesses = append(guesses, guess{name: user})
	}

	var pending []*Selection
	names := make(map[*Selection]string)
	for _, g := range guesses {
		v := Kerberos{Certificate: g.cert, LocalKDC: ClassicLocalKDC}
		var sel *Selection
		if realm != "" {
			sel = newSelection(principal(g.name, realm), servicePrincipal(s.service, realm, realm), v, true)
		} else {
			sel = newSelection(Name{Value: g.name, Kind: NameUsername}, Name{}, v, true)
		}
		if g.cert != nil {
			sel.label = g.cert.Label()
		}
		if got := s.add(sel, 0); got == sel && realm == "" {
			pending = append(pending, sel)
			names[sel] = g.name
		}
	}
	if len(pending) == 0 {
		return
	}

	host := s.host
	s.goBackground(func(ctx context.Context) {
		for _, sel := range pending {
			sel.gate.begin()
		}
		ctx, span := tracer.Start(ctx, "authsel.LocalKDCLookup", trace.WithAttributes(
			attribute.String("net.peer.name", host),
		))
		defer span.End()

		realm, err := s.res.LookupLocalKDC(ctx, host)
		s.metrics.recordLookup(err == nil)
		if err != nil {
			recordSpanError(span, err)
			s.logger.Debug("local KDC lookup failed", "error", err)
			for _, sel := range pending {
				s.cancelSelection(sel)
			}
			return
		}
		span.SetAttributes(attribute.String("auth.realm", realm))
		for _, sel := range pending {
			err := s.signal(sel, principal(names[sel], realm), servicePrincipal(s.service, realm, realm))
			if err != nil {
				s.logger.Debug("local KDC selection not resolved", "error", err)
			}
		}
	})
}

// remainingCaches offers every Kerberos cache not claimed above.
func (s *Session) remainingCaches() {
	if !s.mechs.Supports(MechKerberos) {
		return
	}
	s.store.Iterate(credstore.MechKerberos, func(c *credstore.Credential) bool {
		cache, ok := c.Payload().(*kerberos.Cache)
		if !ok || s.claimed[c.ID()] {
			return true
		}
		client := Name{Value: cache.Principal, Kind: NameKerberos}
		v := Kerberos{}
		server := servicePrincipal(s.service, s.canonical, cache.Realm)
		if s.lib.IsLocalKDC(cache.Realm) {
			v.LocalKDC = ClassicLocalKDC
			server = servicePrincipal(s.service, cache.Realm, cache.Realm)
		}
		sel := newSelection(client, server, v, true)
		sel.label = friendlyName(c)
		s.addWithCredential(sel, c)
		return true
	})
}

// pku2u guesses certificate-based peer authentication for local hosts.
func (s *Session) pku2u() {
	if !s.cfg.EnablePKU2U || len(s.certs) == 0 || !s.mechs.Supports(MechPKU2U) ||
		!resolver.LooksLocal(s.host, s.res.PeerDomain()) {
		return
	}
	for _, cert := range s.certs {
		sel := newSelection(Name{Value: cert.ReferenceIdentity(), Kind: NameOpaque},
			s.hostBasedServer(), PKU2U{Certificate: cert}, true)
		sel.label = cert.Label()
		s.add(sel, 0)
	}
}

// ntlm offers existing NTLM credentials for the hinted user and composes
// new NTLM names when a password was given.
func (s *Session) ntlm() {
	if !s.cfg.EnableNTLM || !s.mechs.Supports(MechNTLM) {
		return
	}
	server := s.hostBasedServer()
	wrap := s.cfg.WrapNTLMInSPNEGO

	s.store.Iterate(credstore.MechNTLM, func(c *credstore.Credential) bool {
		user, _ := credstore.ParseNTLMName(c.Name())
		if s.user.specific != "" && !strings.EqualFold(user, s.user.specific) {
			return true
		}
		sel := newSelection(Name{Value: c.Name(), Kind: NameNTLM}, server, NTLM{}, wrap)
		sel.label = friendlyName(c)
		s.addWithCredential(sel, c)
		return true
	})

	if s.password == "" || s.user.specific == "" {
		return
	}
	add := func(name string, flags addFlags) {
		s.add(newSelection(Name{Value: name, Kind: NameNTLM}, server, NTLM{}, wrap), flags)
	}
	switch s.user.form {
	case formDownLevel:
		add(s.user.domain+`\`+s.user.specific, forceAdd)
	case formPrincipal:
		add(s.user.specific+"@"+s.user.domain, forceAdd)
		add(s.user.netbiosDomain()+`\`+s.user.specific, forceAdd)
	default:
		add(s.user.specific, 0)
	}
}
