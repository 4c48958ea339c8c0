package resolver

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/smnsjas/go-authselect/kerberos"
)

// DNSLookup is the subset of *net.Resolver the DNS capabilities use.
type DNSLookup interface {
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// DNS implements Canonicalizer, AddressResolver, HostRealmLookup and
// LocalKDCLookup over DNS.
//
// Realms are published as TXT records on _kerberos.<domain> (RFC 4120
// § 7.2.3.1); the lookup walks up the domain labels of the host until one
// answers. Peers advertise their local-KDC realm on _kerberos.<host>.
type DNS struct {
	// Lookup defaults to net.DefaultResolver.
	Lookup DNSLookup
}

func (d DNS) lookup() DNSLookup {
	if d.Lookup == nil {
		return net.DefaultResolver
	}
	return d.Lookup
}

// Canonicalize follows CNAME records.
func (d DNS) Canonicalize(ctx context.Context, host string) (string, error) {
	cname, err := d.lookup().LookupCNAME(ctx, host)
	if err != nil {
		return "", fmt.Errorf("canonicalize %s: %w", host, err)
	}
	return strings.TrimSuffix(cname, "."), nil
}

// LookupHost returns the host's addresses.
func (d DNS) LookupHost(ctx context.Context, host string) ([]string, error) {
	return d.lookup().LookupHost(ctx, host)
}

// HostRealms returns the first realm found walking up host's domain labels.
// Addresses are reverse-resolved first.
func (d DNS) HostRealms(ctx context.Context, host string) ([]string, error) {
	names := []string{host}
	if net.ParseIP(host) != nil {
		ptrs, err := d.lookup().LookupAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("reverse lookup %s: %w", host, err)
		}
		names = ptrs
	}

	var realms []string
	for _, name := range names {
		if realm := d.walkTXT(ctx, strings.TrimSuffix(name, ".")); realm != "" {
			realms = append(realms, realm)
		}
	}
	return realms, nil
}

func (d DNS) walkTXT(ctx context.Context, name string) string {
	labels := strings.Split(strings.ToLower(name), ".")
	// stop before the top-level domain
	for i := 0; i < len(labels)-1; i++ {
		txt, err := d.lookup().LookupTXT(ctx, "_kerberos."+strings.Join(labels[i:], "."))
		if err != nil {
			continue
		}
		for _, rec := range txt {
			if rec = strings.TrimSpace(rec); rec != "" {
				return rec
			}
		}
	}
	return ""
}

// LocalKDCRealm returns the local-KDC realm a peer advertises.
func (d DNS) LocalKDCRealm(ctx context.Context, host string) (string, error) {
	txt, err := d.lookup().LookupTXT(ctx, "_kerberos."+strings.TrimSuffix(host, "."))
	if err != nil {
		return "", fmt.Errorf("local KDC lookup for %s: %w", host, err)
	}
	for _, rec := range txt {
		rec = strings.TrimSpace(rec)
		if kerberos.IsLocalKDC(rec) {
			return rec, nil
		}
	}
	return "", fmt.Errorf("%w for %s", ErrNoLocalKDC, host)
}
