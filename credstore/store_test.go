package credstore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func managed(mech Mech, name string) *Credential {
	c := NewCredential(mech, name, nil)
	c.SetTag(TagSelfManaged, "1")
	return c
}

func TestStore_HoldUnhold(t *testing.T) {
	s := New()
	c := s.Add(managed(MechKerberos, "alice@EXAMPLE.COM"))

	n, err := s.Hold(c.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.Hold(c.ID())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Unhold(c.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.Unhold(c.ID())
	require.NoError(t, err)

	_, err = s.Unhold(c.ID())
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StatusFailure, se.Status)
}

func TestStore_UnknownCredential(t *testing.T) {
	s := New()
	id := uuid.New()

	_, err := s.Hold(id)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StatusNoCred, se.Status)
	assert.Equal(t, uint32(7)<<16, se.Status.Major())

	assert.Error(t, s.SetLabel(id, "x"))
	assert.Error(t, s.ClearLabel(id, "x"))
}

func TestStore_Labels(t *testing.T) {
	s := New()
	ext := s.Add(NewCredential(MechKerberos, "bob@EXAMPLE.COM", nil))
	own := s.Add(managed(MechKerberos, "alice@EXAMPLE.COM"))

	require.NoError(t, s.SetLabel(ext.ID(), "mnt"))
	require.NoError(t, s.SetLabel(own.ID(), "mnt"))

	found, ok := s.FindByLabel("mnt")
	require.True(t, ok)
	assert.Equal(t, own.ID(), found.ID(), "only self-managed credentials match")

	require.NoError(t, s.ClearLabel(own.ID(), "mnt"))
	_, ok = s.FindByLabel("mnt")
	assert.False(t, ok)
	assert.Equal(t, []string{"mnt"}, ext.Labels())
}

func TestStore_LookupAndIterate(t *testing.T) {
	s := New()
	a := s.Add(managed(MechKerberos, "alice@EXAMPLE.COM"))
	a.SetTag(TagReferenceKey, "krb5:alice@EXAMPLE.COM")
	s.Add(NewCredential(MechNTLM, `CORP\alice`, nil))
	s.Add(NewCredential(MechKerberos, "carol@EXAMPLE.COM", nil))

	got, ok := s.Lookup("krb5:alice@EXAMPLE.COM")
	require.True(t, ok)
	assert.Equal(t, a.ID(), got.ID())
	_, ok = s.Lookup("krb5:nobody")
	assert.False(t, ok)

	var names []string
	s.Iterate(MechKerberos, func(c *Credential) bool {
		names = append(names, c.Name())
		return true
	})
	assert.Equal(t, []string{"alice@EXAMPLE.COM", "carol@EXAMPLE.COM"}, names)

	count := 0
	s.Iterate("", func(*Credential) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
}

func TestStore_Collect(t *testing.T) {
	s := New()
	held := s.Add(managed(MechKerberos, "held@EXAMPLE.COM"))
	_, err := s.Hold(held.ID())
	require.NoError(t, err)
	s.Add(managed(MechKerberos, "idle@EXAMPLE.COM"))
	ext := s.Add(NewCredential(MechKerberos, "ext@EXAMPLE.COM", nil))

	assert.Equal(t, 1, s.Collect())
	assert.Equal(t, 2, s.Len())
	_, ok := s.Get(held.ID())
	assert.True(t, ok)
	_, ok = s.Get(ext.ID())
	assert.True(t, ok)
}

func TestStore_AcquireNTLM(t *testing.T) {
	s := New()
	c, err := s.Acquire(context.Background(), AcquireRequest{
		Mech:     MechNTLM,
		Name:     `CORP\alice`,
		Password: "pw",
	})
	require.NoError(t, err)
	assert.Equal(t, MechNTLM, c.Mech())

	id, ok := c.Payload().(*NTLMIdentity)
	require.True(t, ok)
	assert.Equal(t, "alice", id.User)
	assert.Equal(t, "CORP", id.Domain)
	assert.Equal(t, `CORP\alice`, id.String())
	assert.NotEmpty(t, id.Negotiate)

	_, ok = s.Get(c.ID())
	assert.True(t, ok)
}

func TestStore_AddHeld(t *testing.T) {
	s := New()
	c := s.AddHeld(managed(MechKerberos, "alice@EXAMPLE.COM"))
	assert.Equal(t, 1, c.Holds())
	assert.Zero(t, s.Collect(), "a held credential survives collection")

	held, err := s.Acquire(context.Background(), AcquireRequest{
		Mech:     MechNTLM,
		Name:     `CORP\alice`,
		Password: "pw",
		Hold:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, held.Holds())

	plain, err := s.Acquire(context.Background(), AcquireRequest{
		Mech:     MechNTLM,
		Name:     `CORP\bob`,
		Password: "pw",
	})
	require.NoError(t, err)
	assert.Zero(t, plain.Holds())
}

func TestStore_AcquireErrors(t *testing.T) {
	s := New()
	ctx := context.Background()

	tests := []struct {
		name   string
		req    AcquireRequest
		status Status
	}{
		{"no password", AcquireRequest{Mech: MechNTLM, Name: "alice"}, StatusNoCred},
		{"empty name", AcquireRequest{Mech: MechNTLM, Password: "pw"}, StatusBadName},
		{"unknown mech", AcquireRequest{Mech: MechPKU2U, Name: "alice"}, StatusBadMech},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Acquire(ctx, tt.req)
			var se *Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.Status)
		})
	}
}

func TestStore_AcquirerErrorWrapped(t *testing.T) {
	boom := errors.New("kdc unreachable")
	s := New(WithAcquirer(MechIAKERB, AcquirerFunc(func(context.Context, AcquireRequest) (*Credential, error) {
		return nil, boom
	})))

	_, err := s.Acquire(context.Background(), AcquireRequest{Mech: MechIAKERB, Name: "alice"})
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StatusFailure, se.Status)
	assert.ErrorIs(t, err, boom)
}

func TestParseNTLMName(t *testing.T) {
	tests := []struct {
		in, user, domain string
	}{
		{`CORP\alice`, "alice", "CORP"},
		{"alice@corp.example.com", "alice", "corp.example.com"},
		{"alice", "alice", ""},
	}
	for _, tt := range tests {
		user, domain := ParseNTLMName(tt.in)
		assert.Equal(t, tt.user, user, tt.in)
		assert.Equal(t, tt.domain, domain, tt.in)
	}
}

func TestStatus_String(t *testing.T) {
	assert.Contains(t, StatusNoCred.String(), "No credentials")
	assert.Contains(t, Status(0).String(), "unknown")
	err := &Error{Status: StatusBadMech}
	assert.Contains(t, err.Error(), "unsupported mechanism")
}
