package authsel

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddOrGet(t *testing.T) {
	r := newRegistry("")
	a := newSelection(principal("alice", "EXAMPLE.COM"), servicePrincipal("cifs", "h", "EXAMPLE.COM"), Kerberos{}, true)
	got, added := r.addOrGet(a, 0)
	assert.True(t, added)
	assert.Same(t, a, got)

	dup := newSelection(principal("ALICE", "example.com"), servicePrincipal("cifs", "h", "EXAMPLE.COM"), Kerberos{}, true)
	got, added = r.addOrGet(dup, 0)
	assert.False(t, added)
	assert.Same(t, a, got)

	other := newSelection(principal("alice", "EXAMPLE.COM"), servicePrincipal("cifs", "h", "OTHER.COM"), Kerberos{}, true)
	_, added = r.addOrGet(other, 0)
	assert.True(t, added)

	ntlm := newSelection(Name{Value: "alice@EXAMPLE.COM", Kind: NameNTLM}, Name{Value: "cifs@h", Kind: NameHostBased}, NTLM{}, false)
	_, added = r.addOrGet(ntlm, 0)
	assert.True(t, added)

	assert.Equal(t, []*Selection{a, other, ntlm}, r.list())
}

func TestRegistry_UnknownServerMatchesAny(t *testing.T) {
	r := newRegistry("")
	placeholder := newSelection(Name{Value: "bob", Kind: NameUsername}, Name{}, Kerberos{}, true)
	_, added := r.addOrGet(placeholder, 0)
	require.True(t, added)
	assert.Equal(t, gatePending, placeholder.gate.current())

	got, added := r.addOrGet(newSelection(Name{Value: "bob", Kind: NameUsername}, Name{Value: "x", Kind: ""}, Kerberos{}, true), 0)
	assert.False(t, added)
	assert.Same(t, placeholder, got)
}

func TestRegistry_PreferredIdentity(t *testing.T) {
	r := newRegistry("alice")

	got, added := r.addOrGet(newSelection(principal("bob", "EXAMPLE.COM"), servicePrincipal("cifs", "h", "EXAMPLE.COM"), Kerberos{}, true), 0)
	assert.False(t, added)
	assert.Nil(t, got)

	_, added = r.addOrGet(newSelection(principal("bob", "EXAMPLE.COM"), servicePrincipal("cifs", "h", "EXAMPLE.COM"), Kerberos{}, true), forceAdd)
	assert.True(t, added)

	_, added = r.addOrGet(newSelection(principal("alice", "EXAMPLE.COM"), servicePrincipal("cifs", "h", "EXAMPLE.COM"), Kerberos{}, true), 0)
	assert.True(t, added, "specific name matches")

	_, added = r.addOrGet(newSelection(Name{Value: `CORP\alice`, Kind: NameNTLM}, Name{Value: "cifs@h", Kind: NameHostBased}, NTLM{}, true), 0)
	assert.True(t, added)
}

func TestRegistry_DedupInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	mechs := []Variant{Kerberos{}, NTLM{}, IAKERB{}}
	clients := []string{"alice", "ALICE", "bob"}
	servers := []Name{
		{},
		{Value: "cifs/h@EXAMPLE.COM", Kind: NameKerberos},
		{Value: "CIFS/H@example.com", Kind: NameKerberos},
		{Value: "cifs@h", Kind: NameHostBased},
	}

	for round := 0; round < 50; round++ {
		r := newRegistry("")
		for i := 0; i < 40; i++ {
			sel := newSelection(
				Name{Value: clients[rng.Intn(len(clients))], Kind: NameUsername},
				servers[rng.Intn(len(servers))],
				mechs[rng.Intn(len(mechs))],
				true)
			r.addOrGet(sel, addFlags(rng.Intn(2)))
		}

		list := r.list()
		for i := range list {
			for j := i + 1; j < len(list); j++ {
				a, b := list[i], list[j]
				if keyOf(a) != keyOf(b) {
					continue
				}
				bothKnown := !a.server.IsZero() && !b.server.IsZero()
				assert.False(t, bothKnown && strings.EqualFold(a.server.Value, b.server.Value),
					"round %d: duplicate %v / %v", round, a.client, a.server)
			}
		}
	}
}
