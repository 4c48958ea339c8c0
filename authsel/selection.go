package authsel

import (
	"context"
	"strconv"
	"sync"

	"github.com/smnsjas/go-authselect/certs"
	"github.com/smnsjas/go-authselect/credstore"
)

// Selection is one candidate (client, server, mechanism). Its client and
// server names are final once the selection's gate is done; acquisition
// records a corrected identity separately.
type Selection struct {
	s *Session

	client  Name
	server  Name
	variant Variant
	spnego  bool
	label   string
	gate    *gate

	// acqMu serializes acquisitions on this selection.
	acqMu sync.Mutex

	stateMu   sync.Mutex
	cred      *credstore.Credential
	corrected *acquired
}

// acquired is the identity an acquisition actually obtained.
type acquired struct {
	client Name
	server Name
}

func newSelection(client, server Name, v Variant, spnego bool) *Selection {
	return &Selection{
		client:  client,
		server:  server,
		variant: v,
		spnego:  spnego,
		gate:    newGate(!server.IsZero()),
	}
}

// wait blocks until the selection is resolved.
func (sel *Selection) wait(ctx context.Context) error {
	if sel.s.canceled.Load() {
		return ErrCanceled
	}
	if err := sel.gate.wait(ctx); err != nil {
		return err
	}
	if sel.s.canceled.Load() {
		return ErrCanceled
	}
	return nil
}

// Wait blocks until the selection's identity is known. It returns
// ErrCanceled if the session or the selection was canceled.
func (sel *Selection) Wait(ctx context.Context) error {
	return sel.wait(ctx)
}

// Session returns the owning session.
func (sel *Selection) Session() *Session {
	return sel.s
}

// Variant returns the selection's mechanism variant. The mechanism never
// changes, so no wait is needed.
func (sel *Selection) Variant() Variant {
	return sel.variant
}

func (sel *Selection) credential() *credstore.Credential {
	sel.stateMu.Lock()
	defer sel.stateMu.Unlock()
	return sel.cred
}

// names returns the effective client and server names.
func (sel *Selection) names() (client, server Name) {
	sel.stateMu.Lock()
	defer sel.stateMu.Unlock()
	if sel.corrected != nil {
		return sel.corrected.client, sel.corrected.server
	}
	return sel.client, sel.server
}

func (sel *Selection) certificate() *certs.Certificate {
	return certificateOf(sel.variant)
}

// InfoKey names a selection property.
type InfoKey int

const (
	// InfoHasCredential is a bool.
	InfoHasCredential InfoKey = iota + 1
	// InfoDisplayName is a string.
	InfoDisplayName
	// InfoClientName is a string.
	InfoClientName
	// InfoClientNameKind is a NameKind.
	InfoClientNameKind
	// InfoServerName is a string.
	InfoServerName
	// InfoServerNameKind is a NameKind.
	InfoServerNameKind
	// InfoMechanism is a Mechanism.
	InfoMechanism
	// InfoSPNEGO is a bool.
	InfoSPNEGO
	// InfoLabel is a string, empty when nothing was inferred.
	InfoLabel
)

var infoKeyNames = map[InfoKey]string{
	InfoHasCredential:  "have-credential",
	InfoDisplayName:    "display-name",
	InfoClientName:     "client-name",
	InfoClientNameKind: "client-name-kind",
	InfoServerName:     "server-name",
	InfoServerNameKind: "server-name-kind",
	InfoMechanism:      "mechanism",
	InfoSPNEGO:         "use-spnego",
	InfoLabel:          "inferred-label",
}

func (k InfoKey) String() string {
	if n, ok := infoKeyNames[k]; ok {
		return n
	}
	return "info-" + strconv.Itoa(int(k))
}

// Info returns one property of the selection, waiting for resolution first.
func (sel *Selection) Info(ctx context.Context, key InfoKey) (any, error) {
	if err := sel.wait(ctx); err != nil {
		return nil, err
	}
	client, server := sel.names()
	switch key {
	case InfoHasCredential:
		return sel.credential() != nil, nil
	case InfoDisplayName:
		return sel.displayName(client), nil
	case InfoClientName:
		return client.Value, nil
	case InfoClientNameKind:
		return client.Kind, nil
	case InfoServerName:
		return server.Value, nil
	case InfoServerNameKind:
		return server.Kind, nil
	case InfoMechanism:
		return sel.variant.Mechanism(), nil
	case InfoSPNEGO:
		return sel.spnego, nil
	case InfoLabel:
		return sel.label, nil
	}
	return nil, ErrNotFound
}

func (sel *Selection) displayName(client Name) string {
	if c := sel.credential(); c != nil {
		if fn, ok := c.Tag(credstore.TagFriendlyName); ok && fn != "" {
			return fn
		}
	}
	if sel.label != "" {
		return sel.label
	}
	return client.Value
}

// AuthInfo is everything a transport needs to run the handshake for a
// resolved selection.
type AuthInfo struct {
	Mechanism     Mechanism
	SPNEGO        bool
	Client        Name
	Server        Name
	Hostname      string
	Service       string
	HasCredential bool
	CredentialID  string
	DisplayName   string
	Label         string
	// CertificateID is the reference identity of the bound certificate.
	CertificateID string
}

// Map returns the bundle as string key/value pairs.
func (a AuthInfo) Map() map[string]string {
	m := map[string]string{
		"mechanism":        a.Mechanism.String(),
		"use-spnego":       strconv.FormatBool(a.SPNEGO),
		"client-name":      a.Client.Value,
		"client-name-kind": string(a.Client.Kind),
		"server-name":      a.Server.Value,
		"server-name-kind": string(a.Server.Kind),
		"hostname":         a.Hostname,
		"service":          a.Service,
		"have-credential":  strconv.FormatBool(a.HasCredential),
	}
	if a.CredentialID != "" {
		m["credential-id"] = a.CredentialID
	}
	if a.DisplayName != "" {
		m["display-name"] = a.DisplayName
	}
	if a.Label != "" {
		m["inferred-label"] = a.Label
	}
	if a.CertificateID != "" {
		m["certificate"] = a.CertificateID
	}
	return m
}

// AuthInfo returns the handshake bundle, waiting for resolution first.
func (sel *Selection) AuthInfo(ctx context.Context) (AuthInfo, error) {
	if err := sel.wait(ctx); err != nil {
		return AuthInfo{}, err
	}
	client, server := sel.names()
	info := AuthInfo{
		Mechanism:   sel.variant.Mechanism(),
		SPNEGO:      sel.spnego,
		Client:      client,
		Server:      server,
		Hostname:    sel.s.host,
		Service:     sel.s.service,
		DisplayName: sel.displayName(client),
		Label:       sel.label,
	}
	if c := sel.credential(); c != nil {
		info.HasCredential = true
		info.CredentialID = c.ID().String()
	}
	if cert := sel.certificate(); cert != nil {
		info.CertificateID = cert.ReferenceIdentity()
	}
	return info, nil
}

// Credential returns the open credential, if any, after resolution.
func (sel *Selection) Credential(ctx context.Context) (*credstore.Credential, error) {
	if err := sel.wait(ctx); err != nil {
		return nil, err
	}
	return sel.credential(), nil
}

// ReferenceKey returns the key hold/unhold operations address this
// selection's credential by. It is empty when the selection carries a
// credential the engine does not manage.
func (sel *Selection) ReferenceKey(ctx context.Context) (string, error) {
	if err := sel.wait(ctx); err != nil {
		return "", err
	}
	if c := sel.credential(); c != nil && !c.SelfManaged() {
		return "", nil
	}
	client, _ := sel.names()
	return referenceKey(sel.variant.Mechanism(), client.Value), nil
}

func referenceKey(m Mechanism, client string) string {
	return m.class() + ":" + client
}
