package kerberos

import (
	"strings"

	"github.com/go-krb5/krb5/client"
	"github.com/go-krb5/krb5/credentials"
	"github.com/go-krb5/krb5/types"
)

// Cache is the payload of a Kerberos credential in the credential store: a
// client principal plus the service tickets it is known to hold.
type Cache struct {
	// Principal is name@REALM.
	Principal string

	// Realm is the client realm.
	Realm string

	// Client is the logged-in go-krb5 client, or nil when the cache could not
	// be turned into one.
	Client *client.Client

	// Path is the ccache file the cache was loaded from, if any.
	Path string

	servers []string
}

// ServerPrincipals returns the service principals the cache holds tickets for.
func (c *Cache) ServerPrincipals() []string {
	return append([]string(nil), c.servers...)
}

// AddServer records a service ticket.
func (c *Cache) AddServer(principal string) {
	c.servers = append(c.servers, principal)
}

// TicketRealmFor returns the realm of a service ticket whose host component
// is host.
func (c *Cache) TicketRealmFor(host string) (string, bool) {
	for _, s := range c.servers {
		pn, realm := types.ParseSPNString(s)
		if len(pn.NameString) < 2 {
			continue
		}
		if strings.EqualFold(pn.NameString[1], host) {
			if realm == "" {
				realm = c.Realm
			}
			return realm, true
		}
	}
	return "", false
}

func cacheFromCCache(cc *credentials.CCache) *Cache {
	realm := cc.GetClientRealm()
	c := &Cache{
		Principal: cc.GetClientPrincipalName().PrincipalNameString() + "@" + realm,
		Realm:     realm,
		Path:      cc.Path,
	}
	for _, e := range cc.GetEntries() {
		name := e.Server.PrincipalName.PrincipalNameString()
		// krbtgt entries are TGTs, not service tickets
		if strings.HasPrefix(name, "krbtgt/") {
			continue
		}
		c.servers = append(c.servers, name+"@"+e.Server.Realm)
	}
	return c
}

// ParsePrincipal splits name@REALM. The realm is empty when absent.
func ParsePrincipal(s string) (name, realm string) {
	pn, realm := types.ParseSPNString(s)
	return pn.PrincipalNameString(), realm
}

// IsLocalKDC reports whether realm belongs to a peer-to-peer local KDC.
func IsLocalKDC(realm string) bool {
	r := strings.ToUpper(realm)
	return strings.HasPrefix(r, LocalKDCPrefix) || r == WellKnownLocalKDC
}
