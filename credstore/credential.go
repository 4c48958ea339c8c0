package credstore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mech names the mechanism a credential is usable with.
type Mech string

const (
	MechKerberos Mech = "krb5"
	MechIAKERB   Mech = "iakerb"
	MechPKU2U    Mech = "pku2u"
	MechNTLM     Mech = "ntlm"
)

// Tags the selection engine reads and writes on credentials.
const (
	// TagSelfManaged marks credentials the engine created and reference counts.
	TagSelfManaged = "authsel-managed"

	// TagFriendlyName is the human-readable label shown to users.
	TagFriendlyName = "FriendlyName"

	// TagReferenceKey is the key hold/unhold callers address the credential by.
	TagReferenceKey = "reference-key"

	// TagHostHint records the host a local-KDC credential was obtained for.
	TagHostHint = "lkdc-hostname"
)

// Credential is a named, mechanism-specific credential. The payload is
// opaque to the store; mechanism adapters put their client state there.
type Credential struct {
	id      uuid.UUID
	mech    Mech
	name    string
	payload any
	created time.Time

	mu     sync.Mutex
	holds  int
	tags   map[string]string
	labels map[string]struct{}
}

// NewCredential returns an unstored credential.
func NewCredential(mech Mech, name string, payload any) *Credential {
	return &Credential{
		id:      uuid.New(),
		mech:    mech,
		name:    name,
		payload: payload,
		created: time.Now(),
		tags:    make(map[string]string),
		labels:  make(map[string]struct{}),
	}
}

// ID returns the credential's handle.
func (c *Credential) ID() uuid.UUID { return c.id }

// Mech returns the mechanism.
func (c *Credential) Mech() Mech { return c.mech }

// Name returns the client name the credential authenticates as.
func (c *Credential) Name() string { return c.name }

// Payload returns the mechanism state.
func (c *Credential) Payload() any { return c.payload }

// Created returns when the credential was added.
func (c *Credential) Created() time.Time { return c.created }

// Holds returns the current hold count.
func (c *Credential) Holds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holds
}

// Tag returns a tag value.
func (c *Credential) Tag(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.tags[key]
	return v, ok
}

// SetTag sets a tag value.
func (c *Credential) SetTag(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags[key] = value
}

// SelfManaged reports whether the engine owns the credential's hold count.
func (c *Credential) SelfManaged() bool {
	_, ok := c.Tag(TagSelfManaged)
	return ok
}

// HasLabel reports whether label is attached.
func (c *Credential) HasLabel(label string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.labels[label]
	return ok
}

// Labels returns the attached labels, sorted.
func (c *Credential) Labels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.labels))
	for l := range c.labels {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
