// Package credstore is an in-memory, GSS-style credential store. Credentials
// are named per mechanism, carry small string tags and labels, and are kept
// alive by a cooperative hold count. Mechanism-specific acquisition is
// delegated to pluggable Acquirers.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/smnsjas/go-authselect/certs"
)

// AcquireRequest carries the name and secret for a new credential.
type AcquireRequest struct {
	Mech        Mech
	Name        string
	Password    string
	Certificate *certs.Certificate

	// Hold stores the new credential with one hold already taken.
	Hold bool
}

// Acquirer obtains a credential for one mechanism.
type Acquirer interface {
	Acquire(ctx context.Context, req AcquireRequest) (*Credential, error)
}

// AcquirerFunc adapts a function to Acquirer.
type AcquirerFunc func(ctx context.Context, req AcquireRequest) (*Credential, error)

// Acquire implements Acquirer.
func (f AcquirerFunc) Acquire(ctx context.Context, req AcquireRequest) (*Credential, error) {
	return f(ctx, req)
}

// Option configures a Store.
type Option func(*Store)

// WithAcquirer registers the acquirer for a mechanism, replacing any default.
func WithAcquirer(mech Mech, a Acquirer) Option {
	return func(s *Store) {
		s.acquirers[mech] = a
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store holds credentials in insertion order.
type Store struct {
	mu        sync.RWMutex
	creds     map[uuid.UUID]*Credential
	order     []uuid.UUID
	acquirers map[Mech]Acquirer
	logger    *slog.Logger
}

// New returns an empty store with the NTLM acquirer registered.
func New(opts ...Option) *Store {
	s := &Store{
		creds:     make(map[uuid.UUID]*Credential),
		acquirers: map[Mech]Acquirer{MechNTLM: AcquirerFunc(AcquireNTLM)},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add stores c and returns it.
func (s *Store) Add(c *Credential) *Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[c.id]; !ok {
		s.order = append(s.order, c.id)
	}
	s.creds[c.id] = c
	return c
}

// AddHeld takes a hold on c and stores it, so c is never visible in the
// store without a holder.
func (s *Store) AddHeld(c *Credential) *Credential {
	c.mu.Lock()
	c.holds++
	c.mu.Unlock()
	return s.Add(c)
}

// Get returns the credential with the given handle.
func (s *Store) Get(id uuid.UUID) (*Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[id]
	return c, ok
}

// Remove drops a credential regardless of its hold count.
func (s *Store) Remove(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Store) removeLocked(id uuid.UUID) bool {
	if _, ok := s.creds[id]; !ok {
		return false
	}
	delete(s.creds, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Lookup finds the credential tagged with the given reference key.
func (s *Store) Lookup(key string) (*Credential, bool) {
	var found *Credential
	s.Iterate("", func(c *Credential) bool {
		if v, ok := c.Tag(TagReferenceKey); ok && v == key {
			found = c
			return false
		}
		return true
	})
	return found, found != nil
}

// Iterate calls fn for each credential of mech in insertion order, or for
// every credential when mech is empty. Iteration stops when fn returns false.
func (s *Store) Iterate(mech Mech, fn func(*Credential) bool) {
	s.mu.RLock()
	list := make([]*Credential, 0, len(s.order))
	for _, id := range s.order {
		c := s.creds[id]
		if mech == "" || c.mech == mech {
			list = append(list, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range list {
		if !fn(c) {
			return
		}
	}
}

// Len returns the number of stored credentials.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds)
}

// SetAcquirer registers the acquirer for mech on a live store.
func (s *Store) SetAcquirer(mech Mech, a Acquirer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquirers[mech] = a
}

// Acquire obtains a new credential from the mechanism's acquirer and stores
// it. Failures are returned as *Error.
func (s *Store) Acquire(ctx context.Context, req AcquireRequest) (*Credential, error) {
	s.mu.RLock()
	a, ok := s.acquirers[req.Mech]
	s.mu.RUnlock()
	if !ok {
		return nil, newError(StatusBadMech, fmt.Sprintf("no acquirer for mechanism %q", req.Mech), nil)
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, newError(StatusBadName, "empty credential name", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(StatusFailure, "acquire aborted", err)
	}

	c, err := a.Acquire(ctx, req)
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, newError(StatusFailure, "acquire "+string(req.Mech)+" credential", err)
	}
	if req.Hold {
		s.AddHeld(c)
	} else {
		s.Add(c)
	}
	s.logger.Debug("credential acquired",
		"id", c.id.String(),
		"mech", string(c.mech),
		"name", c.name)
	return c, nil
}

// Hold increments the hold count and returns the new value.
func (s *Store) Hold(id uuid.UUID) (int, error) {
	c, ok := s.Get(id)
	if !ok {
		return 0, newError(StatusNoCred, "credential "+id.String()+" not found", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holds++
	return c.holds, nil
}

// Unhold decrements the hold count and returns the new value.
func (s *Store) Unhold(id uuid.UUID) (int, error) {
	c, ok := s.Get(id)
	if !ok {
		return 0, newError(StatusNoCred, "credential "+id.String()+" not found", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holds == 0 {
		return 0, newError(StatusFailure, "credential "+id.String()+" is not held", nil)
	}
	c.holds--
	return c.holds, nil
}

// SetLabel attaches a label.
func (s *Store) SetLabel(id uuid.UUID, label string) error {
	c, ok := s.Get(id)
	if !ok {
		return newError(StatusNoCred, "credential "+id.String()+" not found", nil)
	}
	c.mu.Lock()
	c.labels[label] = struct{}{}
	c.mu.Unlock()
	return nil
}

// ClearLabel removes a label.
func (s *Store) ClearLabel(id uuid.UUID, label string) error {
	c, ok := s.Get(id)
	if !ok {
		return newError(StatusNoCred, "credential "+id.String()+" not found", nil)
	}
	c.mu.Lock()
	delete(c.labels, label)
	c.mu.Unlock()
	return nil
}

// FindByLabel returns the first self-managed credential carrying label.
func (s *Store) FindByLabel(label string) (*Credential, bool) {
	var found *Credential
	s.Iterate("", func(c *Credential) bool {
		if c.SelfManaged() && c.HasLabel(label) {
			found = c
			return false
		}
		return true
	})
	return found, found != nil
}

// Collect disposes of self-managed credentials nobody holds and returns how
// many were removed. Externally created credentials are never collected.
func (s *Store) Collect() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dead []uuid.UUID
	for _, id := range s.order {
		c := s.creds[id]
		if c.SelfManaged() && c.Holds() == 0 {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		s.removeLocked(id)
		s.logger.Debug("credential collected", "id", id.String())
	}
	return len(dead)
}
