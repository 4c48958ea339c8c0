package kerberos

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-krb5/krb5/client"
	"github.com/go-krb5/krb5/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-authselect/certs/certstest"
	"github.com/smnsjas/go-authselect/credstore"
)

const testKrb5Conf = `[libdefaults]
  default_realm = EXAMPLE.COM

[realms]
  EXAMPLE.COM = {
    kdc = kdc.example.com
  }

[domain_realm]
  .corp.example.net = CORP.EXAMPLE.NET
  fileserver.example.org = EXAMPLE.ORG
`

func newTestLibrary(t *testing.T, opts ...Option) (*Library, *credstore.Store) {
	t.Helper()
	cfg, err := config.NewFromString(testKrb5Conf)
	require.NoError(t, err)
	store := credstore.New()
	return New(cfg, store, opts...), store
}

func TestLibrary_DefaultRealm(t *testing.T) {
	l, _ := newTestLibrary(t)
	realm, ok := l.DefaultRealm()
	assert.True(t, ok)
	assert.Equal(t, "EXAMPLE.COM", realm)

	empty := New(nil, credstore.New())
	_, ok = empty.DefaultRealm()
	assert.False(t, ok)
}

func TestLibrary_HostRealms(t *testing.T) {
	l, _ := newTestLibrary(t)
	ctx := context.Background()

	tests := []struct {
		host string
		want []string
	}{
		{"srv.corp.example.net", []string{"CORP.EXAMPLE.NET"}},
		{"FileServer.example.org", []string{"EXAMPLE.ORG"}},
		{"other.example.org", nil},
		{"unmapped.test", nil},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got, err := l.HostRealms(ctx, tt.host)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsLocalKDC(t *testing.T) {
	assert.True(t, IsLocalKDC("LKDC:SHA1.0123456789ABCDEF"))
	assert.True(t, IsLocalKDC("lkdc:sha1.abc"))
	assert.True(t, IsLocalKDC(WellKnownLocalKDC))
	assert.False(t, IsLocalKDC("EXAMPLE.COM"))
}

func TestParsePrincipal(t *testing.T) {
	name, realm := ParsePrincipal("alice@EXAMPLE.COM")
	assert.Equal(t, "alice", name)
	assert.Equal(t, "EXAMPLE.COM", realm)

	name, realm = ParsePrincipal("cifs/host.example.com@EXAMPLE.COM")
	assert.Equal(t, "cifs/host.example.com", name)
	assert.Equal(t, "EXAMPLE.COM", realm)

	_, realm = ParsePrincipal("alice")
	assert.Empty(t, realm)
}

func TestLibrary_RealmForHost(t *testing.T) {
	l, store := newTestLibrary(t)
	cache := &Cache{Principal: "bob@EXAMPLE.COM", Realm: "EXAMPLE.COM"}
	cache.AddServer("cifs/host.example.com@EXAMPLE.COM")
	cache.AddServer("HTTP/www.example.com")
	store.Add(credstore.NewCredential(credstore.MechKerberos, cache.Principal, cache))

	realm, ok := l.RealmForHost("HOST.example.com")
	require.True(t, ok)
	assert.Equal(t, "EXAMPLE.COM", realm)

	realm, ok = l.RealmForHost("www.example.com")
	require.True(t, ok)
	assert.Equal(t, "EXAMPLE.COM", realm, "falls back to the client realm")

	_, ok = l.RealmForHost("nowhere.example.com")
	assert.False(t, ok)
}

func TestLibrary_RequestTicket(t *testing.T) {
	var logins int
	l, _ := newTestLibrary(t, WithLogin(func(cl *client.Client) error {
		logins++
		return nil
	}))

	cache, err := l.RequestTicket(context.Background(), TicketRequest{
		Client:   "alice@EXAMPLE.COM",
		Password: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, logins)
	assert.Equal(t, "alice@EXAMPLE.COM", cache.Principal)
	assert.Equal(t, "EXAMPLE.COM", cache.Realm)
	assert.NotNil(t, cache.Client)
}

func TestLibrary_RequestTicketErrors(t *testing.T) {
	loginErr := errors.New("KDC_ERR_PREAUTH_FAILED")
	l, _ := newTestLibrary(t, WithLogin(func(*client.Client) error { return loginErr }))
	ctx := context.Background()

	_, err := l.RequestTicket(ctx, TicketRequest{Client: "alice"})
	assert.Error(t, err)

	_, err = l.RequestTicket(ctx, TicketRequest{Client: "alice@EXAMPLE.COM"})
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = l.RequestTicket(ctx, TicketRequest{
		Client:      "alice@EXAMPLE.COM",
		Certificate: certstest.New(t, "alice"),
	})
	assert.ErrorIs(t, err, ErrPKINITUnsupported)

	_, err = l.RequestTicket(ctx, TicketRequest{Client: "alice@EXAMPLE.COM", Password: "x"})
	assert.ErrorIs(t, err, loginErr)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = l.RequestTicket(canceled, TicketRequest{Client: "alice@EXAMPLE.COM", Password: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLibrary_Acquirers(t *testing.T) {
	l, _ := newTestLibrary(t, WithLogin(func(*client.Client) error { return nil }))
	store := credstore.New(
		credstore.WithAcquirer(credstore.MechIAKERB, l.IAKERBAcquirer()),
		credstore.WithAcquirer(credstore.MechPKU2U, l.PKU2UAcquirer()),
	)
	ctx := context.Background()

	cred, err := store.Acquire(ctx, credstore.AcquireRequest{
		Mech:     credstore.MechIAKERB,
		Name:     "alice@" + WellKnownLocalKDC,
		Password: "pw",
	})
	require.NoError(t, err)
	assert.Equal(t, credstore.MechIAKERB, cred.Mech())

	_, err = store.Acquire(ctx, credstore.AcquireRequest{Mech: credstore.MechIAKERB, Name: "alice@EXAMPLE.COM"})
	var se *credstore.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, credstore.StatusNoCred, se.Status)

	_, err = store.Acquire(ctx, credstore.AcquireRequest{
		Mech:        credstore.MechPKU2U,
		Name:        "alice",
		Certificate: certstest.New(t, "alice"),
	})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, credstore.StatusUnavailable, se.Status)
}

func TestLibrary_ImportCCacheMissing(t *testing.T) {
	l, store := newTestLibrary(t)
	_, err := l.ImportCCache(filepath.Join(t.TempDir(), "krb5cc_missing"))
	assert.Error(t, err)
	assert.Zero(t, store.Len())
}

func TestLibrary_RegisterAcquirers(t *testing.T) {
	l, store := newTestLibrary(t, WithLogin(func(*client.Client) error { return nil }))
	l.RegisterAcquirers()

	_, err := store.Acquire(context.Background(), credstore.AcquireRequest{
		Mech: credstore.MechPKU2U,
		Name: "peer",
	})
	var se *credstore.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, credstore.StatusUnavailable, se.Status)
}
