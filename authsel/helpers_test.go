package authsel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-authselect/credstore"
	"github.com/smnsjas/go-authselect/kerberos"
	"github.com/smnsjas/go-authselect/resolver"
)

// fakeLibrary is an in-memory TicketLibrary. referrals maps a requested
// client to the principal the "KDC" issues.
type fakeLibrary struct {
	mu           sync.Mutex
	defaultRealm string
	referrals    map[string]string
	failFor      map[string]error
	requests     []kerberos.TicketRequest
}

func (f *fakeLibrary) DefaultRealm() (string, bool) {
	return f.defaultRealm, f.defaultRealm != ""
}

func (f *fakeLibrary) IsLocalKDC(realm string) bool {
	return kerberos.IsLocalKDC(realm)
}

func (f *fakeLibrary) RequestTicket(_ context.Context, req kerberos.TicketRequest) (*kerberos.Cache, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err := f.failFor[req.Client]; err != nil {
		return nil, err
	}
	issued := req.Client
	if r, ok := f.referrals[req.Client]; ok {
		issued = r
	}
	_, realm := kerberos.ParsePrincipal(issued)
	return &kerberos.Cache{Principal: issued, Realm: realm}, nil
}

func (f *fakeLibrary) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeHostRealms map[string][]string

func (f fakeHostRealms) HostRealms(_ context.Context, host string) ([]string, error) {
	return f[host], nil
}

// fakeLocalKDC answers local-KDC lookups, optionally blocking until release
// is closed or the context ends.
type fakeLocalKDC struct {
	realm   string
	err     error
	release chan struct{}
}

func (f *fakeLocalKDC) LocalKDCRealm(ctx context.Context, _ string) (string, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.realm, f.err
}

var errKDCUnreachable = errors.New("kdc unreachable")

type testEnv struct {
	lib    *fakeLibrary
	store  *credstore.Store
	realms fakeHostRealms
	lkdc   *fakeLocalKDC
	cfg    Config
	opts   []Option
}

func newTestEnv() *testEnv {
	cfg := DefaultConfig()
	cfg.EnableDNS = false
	cfg.LocalUsername = "tester"
	return &testEnv{
		lib:    &fakeLibrary{},
		store:  credstore.New(credstore.WithLogger(discardLogger())),
		realms: fakeHostRealms{},
		lkdc:   &fakeLocalKDC{err: resolver.ErrNoLocalKDC},
		cfg:    cfg,
	}
}

func (e *testEnv) session(t *testing.T, host, service string, hints Hints) *Session {
	t.Helper()
	res := resolver.New(
		resolver.WithHostRealms(e.realms),
		resolver.WithLocalKDC(e.lkdc),
		resolver.WithPeerDomain(e.cfg.PeerDomain),
		resolver.WithLogger(discardLogger()),
	)
	opts := append([]Option{
		WithConfig(e.cfg),
		WithTicketLibrary(e.lib),
		WithCredentialStore(e.store),
		WithResolver(res),
		WithLogger(discardLogger()),
	}, e.opts...)
	s, err := NewSession(context.Background(), host, service, hints, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		if e.lkdc.release != nil {
			select {
			case <-e.lkdc.release:
			default:
				close(e.lkdc.release)
			}
		}
		s.Wait()
	})
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// only returns the selections of one mechanism.
func only(sels []*Selection, m Mechanism) []*Selection {
	var out []*Selection
	for _, s := range sels {
		if s.Variant().Mechanism() == m {
			out = append(out, s)
		}
	}
	return out
}

func infoString(t *testing.T, sel *Selection, key InfoKey) string {
	t.Helper()
	v, err := sel.Info(context.Background(), key)
	require.NoError(t, err)
	s, ok := v.(string)
	require.True(t, ok, "%s is %T", key, v)
	return s
}

func managedCred(mech credstore.Mech, name string, payload any) *credstore.Credential {
	c := credstore.NewCredential(mech, name, payload)
	c.SetTag(credstore.TagSelfManaged, "1")
	return c
}
