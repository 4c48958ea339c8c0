package authsel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-authselect/certs"
	"github.com/smnsjas/go-authselect/certs/certstest"
	"github.com/smnsjas/go-authselect/credstore"
	"github.com/smnsjas/go-authselect/kerberos"
)

func managedSession(t *testing.T, env *testEnv) *Session {
	t.Helper()
	env.realms["host.example.com"] = []string{"EXAMPLE.COM"}
	return env.session(t, "host.example.com", "cifs", Hints{
		Username:    "alice",
		Password:    "secret",
		ServerMechs: ServerMechs{MechKerberos: nil},
	})
}

func TestAcquireCredential_Idempotent(t *testing.T) {
	env := newTestEnv()
	s := managedSession(t, env)
	sel := s.Selections()[0]

	first, err := sel.AcquireCredential(context.Background(), Secrets{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Holds())
	assert.True(t, first.SelfManaged())

	second, err := sel.AcquireCredential(context.Background(), Secrets{})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 2, first.Holds())
	assert.Equal(t, 1, env.lib.requestCount())

	have, err := sel.Info(context.Background(), InfoHasCredential)
	require.NoError(t, err)
	assert.Equal(t, true, have)
	assert.Equal(t, "alice", infoString(t, sel, InfoDisplayName), "labeled from the username hint")
}

func TestAcquireCredential_NewCredentialIsHeldInStore(t *testing.T) {
	env := newTestEnv()
	s := managedSession(t, env)

	cred, err := s.Selections()[0].AcquireCredential(context.Background(), Secrets{})
	require.NoError(t, err)
	assert.Zero(t, env.store.Collect())
	got, ok := env.store.Get(cred.ID())
	require.True(t, ok)
	assert.Equal(t, 1, got.Holds())
}

func TestFriendlyLabel(t *testing.T) {
	cert := certstest.New(t, "Alice Smith")
	tests := []struct {
		name                     string
		cert                     *certs.Certificate
		inferred, hint, identity string
		want                     string
	}{
		{"certificate", cert, "inferred", "alice", "alice@EXAMPLE.COM", "Alice Smith"},
		{"inferred", nil, "inferred", "alice", "alice@EXAMPLE.COM", "inferred"},
		{"hint", nil, "", "alice", "alice@EXAMPLE.COM", "alice"},
		{"identity", nil, "", "", "alice@EXAMPLE.COM", "alice@EXAMPLE.COM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, friendlyLabel(tt.cert, tt.inferred, tt.hint, tt.identity))
		})
	}
}

func TestAcquireCredential_SecretsOverridePassword(t *testing.T) {
	env := newTestEnv()
	env.realms["host.example.com"] = []string{"EXAMPLE.COM"}
	s := env.session(t, "host.example.com", "cifs", Hints{
		Username:    "alice",
		ServerMechs: ServerMechs{MechKerberos: nil},
	})
	sel := s.Selections()[0]

	_, err := sel.AcquireCredential(context.Background(), Secrets{})
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = sel.AcquireCredential(context.Background(), Secrets{Password: "late"})
	require.NoError(t, err)
	require.Equal(t, 1, env.lib.requestCount())
	assert.Equal(t, "late", env.lib.requests[0].Password)
}

func TestAcquireCredential_ReferralCorrection(t *testing.T) {
	env := newTestEnv()
	env.lib.referrals = map[string]string{"alice@EXAMPLE.COM": "alice@CORP.EXAMPLE.COM"}
	s := managedSession(t, env)
	sel := s.Selections()[0]

	before, err := sel.ReferenceKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "krb5:alice@EXAMPLE.COM", before)

	cred, err := sel.AcquireCredential(context.Background(), Secrets{})
	require.NoError(t, err)
	assert.Equal(t, "alice@CORP.EXAMPLE.COM", cred.Name())

	info, err := sel.AuthInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice@CORP.EXAMPLE.COM", info.Client.Value)
	assert.Equal(t, "cifs/host.example.com@CORP.EXAMPLE.COM", info.Server.Value)
	assert.True(t, info.HasCredential)
	assert.Equal(t, cred.ID().String(), info.CredentialID)

	key, err := sel.ReferenceKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "krb5:alice@CORP.EXAMPLE.COM", key)

	refs := s.References()
	require.NoError(t, refs.Add(key))
	assert.Equal(t, 2, cred.Holds())
	require.NoError(t, refs.Remove(key))
	assert.Equal(t, 1, cred.Holds())
}

func TestAcquireCredential_FailureIsIsolated(t *testing.T) {
	env := newTestEnv()
	env.lib.defaultRealm = "OTHER.COM"
	env.lib.failFor = map[string]error{"alice@OTHER.COM": errKDCUnreachable}
	s := managedSession(t, env)

	sels := s.Selections()
	require.Len(t, sels, 2)

	_, err := sels[1].AcquireCredential(context.Background(), Secrets{})
	var ae *AcquireError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, MechKerberos, ae.Mechanism)
	assert.Equal(t, credstore.StatusFailure.Major(), ae.Code)
	assert.ErrorIs(t, err, errKDCUnreachable)

	cred, err := sels[0].AcquireCredential(context.Background(), Secrets{})
	require.NoError(t, err)
	assert.Equal(t, "alice@EXAMPLE.COM", cred.Name())
	assert.False(t, s.Canceled())

	have, err := sels[1].Info(context.Background(), InfoHasCredential)
	require.NoError(t, err)
	assert.Equal(t, false, have)
}

func TestAcquireCredential_PKINITUnavailable(t *testing.T) {
	env := newTestEnv()
	env.lib.failFor = map[string]error{"alice@EXAMPLE.COM": kerberos.ErrPKINITUnsupported}
	s := managedSession(t, env)

	_, err := s.Selections()[0].AcquireCredential(context.Background(), Secrets{})
	var ae *AcquireError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, credstore.StatusUnavailable.Major(), ae.Code)
}

func TestAcquireCredential_Async(t *testing.T) {
	env := newTestEnv()
	s := managedSession(t, env)

	select {
	case res := <-s.Selections()[0].AcquireCredentialAsync(context.Background(), Secrets{}):
		require.NoError(t, res.Err)
		assert.Equal(t, "alice@EXAMPLE.COM", res.Credential.Name())
	case <-time.After(5 * time.Second):
		t.Fatal("async acquisition did not complete")
	}
}

func TestAcquireCredential_ExternalCredentialIsNotHeld(t *testing.T) {
	env := newTestEnv()
	cache := &kerberos.Cache{Principal: "bob@EXAMPLE.COM", Realm: "EXAMPLE.COM"}
	ext := credstore.NewCredential(credstore.MechKerberos, cache.Principal, cache)
	env.store.Add(ext)

	s := env.session(t, "host.example.com", "cifs", Hints{ServerMechs: ServerMechs{MechKerberos: nil}})
	sels := only(s.Selections(), MechKerberos)
	require.Len(t, sels, 1)

	got, err := sels[0].AcquireCredential(context.Background(), Secrets{})
	require.NoError(t, err)
	assert.Same(t, ext, got)
	assert.Zero(t, ext.Holds())
	assert.Zero(t, env.lib.requestCount())

	key, err := sels[0].ReferenceKey(context.Background())
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestAcquireCredential_NTLM(t *testing.T) {
	env := newTestEnv()
	s := env.session(t, "host.example.com", "HTTP", Hints{
		Username:    `CORP\alice`,
		Password:    "pw",
		ServerMechs: ServerMechs{MechNTLM: nil},
	})
	sels := only(s.Selections(), MechNTLM)
	require.Len(t, sels, 1)

	cred, err := sels[0].AcquireCredential(context.Background(), Secrets{})
	require.NoError(t, err)
	assert.Equal(t, credstore.MechNTLM, cred.Mech())
	assert.Equal(t, `CORP\alice`, cred.Name())

	id, ok := cred.Payload().(*credstore.NTLMIdentity)
	require.True(t, ok)
	assert.Equal(t, "CORP", id.Domain)
	assert.NotEmpty(t, id.Negotiate)

	key, err := sels[0].ReferenceKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `ntlm:CORP\alice`, key)
}

func TestAcquireCredential_CanceledSession(t *testing.T) {
	env := newTestEnv()
	s := managedSession(t, env)
	sel := s.Selections()[0]
	s.Cancel()

	_, err := sel.AcquireCredential(context.Background(), Secrets{})
	assert.ErrorIs(t, err, ErrCanceled)
	assert.True(t, IsCanceled(err))
	assert.Zero(t, env.lib.requestCount())
}
