package authsel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/smnsjas/go-authselect/certs"
	"github.com/smnsjas/go-authselect/credstore"
	"github.com/smnsjas/go-authselect/kerberos"
)

// Secrets override the session's password and the selection's certificate
// for one acquisition.
type Secrets struct {
	Password    string
	Certificate *certs.Certificate
}

// AcquireResult is delivered by AcquireCredentialAsync.
type AcquireResult struct {
	Credential *credstore.Credential
	Err        error
}

// AcquireCredential turns the selection into a live credential. When the
// selection already carries a credential the engine manages, that credential
// gains a hold and no new request is made; an external credential is
// returned as is. Failures are *AcquireError and affect only this selection.
func (sel *Selection) AcquireCredential(ctx context.Context, secrets Secrets) (*credstore.Credential, error) {
	if err := sel.wait(ctx); err != nil {
		return nil, err
	}
	sel.acqMu.Lock()
	defer sel.acqMu.Unlock()

	s := sel.s
	mech := sel.variant.Mechanism()
	start := time.Now()

	if c := sel.credential(); c != nil {
		if c.SelfManaged() {
			if _, err := s.store.Hold(c.ID()); err != nil {
				s.metrics.recordAcquire(mech, "failure", time.Since(start))
				return nil, newAcquireError(mech, "hold existing credential", err)
			}
		}
		s.metrics.recordAcquire(mech, "reused", 0)
		return c, nil
	}

	ctx, span := tracer.Start(ctx, "authsel.AcquireCredential", trace.WithAttributes(
		attribute.String("auth.mechanism", mech.String()),
		attribute.String("auth.client", sel.client.Value),
	))
	defer span.End()

	details := map[string]any{"mechanism": mech.String(), "client": sel.client.Value}
	s.events.acquire(SubtypeAttempt, OutcomeAttempt, details)

	password := secrets.Password
	if password == "" {
		password = s.password
	}
	cert := secrets.Certificate
	if cert == nil {
		cert = sel.certificate()
	}

	var (
		cred *credstore.Credential
		got  acquired
		err  error
	)
	switch v := sel.variant.(type) {
	case Kerberos:
		cred, got, err = sel.acquireKerberos(ctx, password, cert)
	case KerberosReferral:
		cred, got, err = sel.acquireKerberos(ctx, password, nil)
	case KerberosU2U:
		err = fmt.Errorf("%w: user-to-user needs an existing credential", ErrNoSecret)
	case NTLM:
		cred, got, err = sel.acquireFromStore(ctx, credstore.MechNTLM, password, nil)
	case IAKERB:
		cred, got, err = sel.acquireFromStore(ctx, credstore.MechIAKERB, password, cert)
	case PKU2U:
		cred, got, err = sel.acquireFromStore(ctx, credstore.MechPKU2U, "", cert)
	default:
		err = fmt.Errorf("unsupported variant %T", v)
	}
	if err != nil {
		ae := newAcquireError(mech, "acquire failed", err)
		recordSpanError(span, ae)
		s.metrics.recordAcquire(mech, "failure", time.Since(start))
		details["error"] = ae.Error()
		s.events.acquire(SubtypeFailure, OutcomeFailure, details)
		s.logger.Debug("acquire failed", "mechanism", mech.String(), "client", sel.client.Value, "error", err)
		return nil, ae
	}

	// the new credential entered the store with its first hold
	cred.SetTag(credstore.TagSelfManaged, "1")
	cred.SetTag(credstore.TagFriendlyName, friendlyLabel(cert, sel.label, s.user.raw, got.client.Value))
	cred.SetTag(credstore.TagReferenceKey, referenceKey(mech, got.client.Value))

	sel.stateMu.Lock()
	sel.cred = cred
	if !got.client.equal(sel.client) || !got.server.equal(sel.server) {
		sel.corrected = &got
	}
	sel.stateMu.Unlock()

	s.metrics.recordAcquire(mech, "success", time.Since(start))
	details["credential"] = got.client.Value
	s.events.acquire(SubtypeSuccess, OutcomeSuccess, details)
	return cred, nil
}

// friendlyLabel picks the display label of a new credential: the
// certificate's, then the selection's inferred one, then the username hint,
// then the identity itself.
func friendlyLabel(cert *certs.Certificate, inferred, hint, identity string) string {
	if cert != nil {
		if l := cert.Label(); l != "" {
			return l
		}
	}
	for _, l := range []string{inferred, hint} {
		if l != "" {
			return l
		}
	}
	return identity
}

// AcquireCredentialAsync runs AcquireCredential in its own goroutine and
// delivers the result on the returned channel.
func (sel *Selection) AcquireCredentialAsync(ctx context.Context, secrets Secrets) <-chan AcquireResult {
	ch := make(chan AcquireResult, 1)
	go func() {
		defer close(ch)
		c, err := sel.AcquireCredential(ctx, secrets)
		ch <- AcquireResult{Credential: c, Err: err}
	}()
	return ch
}

func (sel *Selection) acquireKerberos(ctx context.Context, password string, cert *certs.Certificate) (*credstore.Credential, acquired, error) {
	got := acquired{client: sel.client, server: sel.server}
	if password == "" && cert == nil {
		return nil, got, fmt.Errorf("%w: Kerberos needs a password or certificate", ErrNoSecret)
	}
	s := sel.s

	cache, err := s.lib.RequestTicket(ctx, kerberos.TicketRequest{
		Client:      sel.client.Value,
		Password:    password,
		Certificate: cert,
	})
	if err != nil {
		switch {
		case errors.Is(err, kerberos.ErrPKINITUnsupported):
			err = &credstore.Error{Status: credstore.StatusUnavailable, Err: err}
		case errors.Is(err, kerberos.ErrNoSecret):
			err = fmt.Errorf("%w: %w", ErrNoSecret, err)
		}
		return nil, got, err
	}

	if !strings.EqualFold(cache.Principal, sel.client.Value) {
		// the KDC referred us elsewhere; the server follows the client realm
		got.client = Name{Value: cache.Principal, Kind: NameKerberos}
		if sel.server.Kind == NameKerberos {
			name, _ := kerberos.ParsePrincipal(sel.server.Value)
			got.server = Name{Value: name + "@" + cache.Realm, Kind: NameKerberos}
		}
		s.logger.Debug("client referred", "guessed", sel.client.Value, "issued", cache.Principal)
	}

	cred := credstore.NewCredential(credstore.MechKerberos, cache.Principal, cache)
	if s.lib.IsLocalKDC(cache.Realm) {
		cred.SetTag(credstore.TagHostHint, s.host)
	}
	s.store.AddHeld(cred)
	return cred, got, nil
}

func (sel *Selection) acquireFromStore(ctx context.Context, mech credstore.Mech, password string, cert *certs.Certificate) (*credstore.Credential, acquired, error) {
	got := acquired{client: sel.client, server: sel.server}
	if password == "" && cert == nil {
		return nil, got, fmt.Errorf("%w: %s needs a password or certificate", ErrNoSecret, mech)
	}

	cred, err := sel.s.store.Acquire(ctx, credstore.AcquireRequest{
		Mech:        mech,
		Name:        sel.client.Value,
		Password:    password,
		Certificate: cert,
		Hold:        true,
	})
	if err != nil {
		return nil, got, err
	}

	// IAKERB and PKU2U may answer with a different, possibly opaque, name
	if cred.Name() != sel.client.Value {
		kind := NameOpaque
		switch {
		case mech == credstore.MechNTLM:
			kind = NameNTLM
		case strings.Contains(cred.Name(), "@"):
			kind = NameKerberos
		}
		got.client = Name{Value: cred.Name(), Kind: kind}
	}
	return cred, got, nil
}
