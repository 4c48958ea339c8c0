package authsel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/smnsjas/go-authselect/certs"
	"github.com/smnsjas/go-authselect/credstore"
	"github.com/smnsjas/go-authselect/kerberos"
	"github.com/smnsjas/go-authselect/resolver"
)

var tracer = otel.Tracer("github.com/smnsjas/go-authselect/authsel")

// TicketLibrary is the Kerberos ticket capability a session uses.
// *kerberos.Library implements it.
type TicketLibrary interface {
	DefaultRealm() (string, bool)
	IsLocalKDC(realm string) bool
	RequestTicket(ctx context.Context, req kerberos.TicketRequest) (*kerberos.Cache, error)
}

// Hints are the optional inputs to session creation.
type Hints struct {
	// Username may be bare, user@REALM or DOMAIN\user.
	Username string

	Password     string
	Certificates []*certs.Certificate

	// ServerMechs is what the server advertised; nil means unknown.
	ServerMechs ServerMechs

	// ServerHintHost is the hint name the server sent in its advertisement.
	ServerHintHost string

	// PreferredIdentity drops guesses for other clients unless they were
	// derived from an explicitly qualified username.
	PreferredIdentity string
}

type options struct {
	cfg     *Config
	lib     TicketLibrary
	store   *credstore.Store
	res     *resolver.Resolver
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a session.
type Option func(*options)

// WithConfig sets the session configuration. DefaultConfig is used otherwise.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = &cfg }
}

// WithTicketLibrary sets the Kerberos ticket library.
func WithTicketLibrary(lib TicketLibrary) Option {
	return func(o *options) { o.lib = lib }
}

// WithCredentialStore sets the credential store shared by sessions.
func WithCredentialStore(store *credstore.Store) Option {
	return func(o *options) { o.store = store }
}

// WithResolver sets the realm resolver. Its mapping cache is shared with
// every session using it.
func WithResolver(res *resolver.Resolver) Option {
	return func(o *options) { o.res = res }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics enables metrics collection.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Session holds the candidate selections for one host and service.
type Session struct {
	id        uuid.UUID
	host      string
	canonical string
	service   string
	user      userHint
	password  string
	certs     []*certs.Certificate
	mechs     ServerMechs
	hintHost  string

	cfg     Config
	lib     TicketLibrary
	store   *credstore.Store
	res     *resolver.Resolver
	logger  *slog.Logger
	events  *securityLogger
	metrics *Metrics

	// ctx scopes background discovery; cancel ends it.
	ctx    context.Context
	cancel context.CancelFunc

	canceled atomic.Bool
	closed   atomic.Bool

	// mu serializes registry changes and identity writes.
	mu        sync.Mutex
	reg       *registry
	claimed   map[uuid.UUID]bool
	lkdcRealm string
	bg        sync.WaitGroup
}

// NewSession builds a session for service on host and runs every guessing
// strategy. Some selections may still be resolving when it returns. A
// session with no selections is not an error.
func NewSession(ctx context.Context, host, service string, hints Hints, opts ...Option) (*Session, error) {
	host = strings.TrimSuffix(strings.TrimSpace(host), ".")
	if host == "" {
		return nil, fmt.Errorf("%w: hostname", ErrMissingHint)
	}
	if service == "" {
		return nil, fmt.Errorf("%w: service", ErrMissingHint)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := DefaultConfig()
	if o.cfg != nil {
		cfg = *o.cfg
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.store == nil {
		o.store = credstore.New(credstore.WithLogger(o.logger))
	}
	if o.lib == nil {
		lib := kerberos.New(nil, o.store, kerberos.WithLogger(o.logger))
		lib.RegisterAcquirers()
		o.lib = lib
	}
	if o.res == nil {
		o.res = defaultResolver(cfg, o.lib, o.logger)
	}

	s := &Session{
		id:        uuid.New(),
		host:      host,
		canonical: host,
		service:   service,
		user:      parseUserHint(hints.Username),
		password:  hints.Password,
		certs:     hints.Certificates,
		mechs:     hints.ServerMechs,
		hintHost:  hints.ServerHintHost,
		cfg:       cfg,
		lib:       o.lib,
		store:     o.store,
		res:       o.res,
		metrics:   o.metrics,
		reg:       newRegistry(hints.PreferredIdentity),
		claimed:   make(map[uuid.UUID]bool),
	}
	s.logger = o.logger.With("session", s.id.String(), "host", host, "service", service)
	s.events = newSecurityLogger(o.logger, hints.Username, service+"@"+host, s.id.String())
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	ctx, span := tracer.Start(ctx, "authsel.NewSession", trace.WithAttributes(
		attribute.String("net.peer.name", host),
		attribute.String("auth.service", service),
	))
	defer span.End()

	s.mu.Lock()
	s.runStrategies(ctx)
	n := s.reg.len()
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("auth.selections", n))
	s.metrics.recordSession()
	s.events.session(SubtypeOpen, map[string]any{"selections": n})
	s.logger.Debug("session created", "selections", n)
	return s, nil
}

func defaultResolver(cfg Config, lib TicketLibrary, logger *slog.Logger) *resolver.Resolver {
	opts := []resolver.Option{
		resolver.WithPeerDomain(cfg.PeerDomain),
		resolver.WithLimiter(resolver.NewLimiter(cfg.MaxConcurrentLookups, cfg.MaxQueuedLookups)),
		resolver.WithLogger(logger),
	}
	if p, ok := lib.(resolver.TicketProbe); ok {
		opts = append(opts, resolver.WithTicketProbe(p))
	}
	if h, ok := lib.(resolver.HostRealmLookup); ok {
		opts = append(opts, resolver.WithHostRealms(h))
	}
	if cfg.EnableDNS {
		dns := resolver.DNS{}
		opts = append(opts,
			resolver.WithCanonicalizer(dns),
			resolver.WithAddressResolver(dns),
			resolver.WithHostRealms(dns),
			resolver.WithLocalKDC(dns),
		)
	}
	return resolver.New(opts...)
}

// ID returns the session correlation ID.
func (s *Session) ID() string {
	return s.id.String()
}

// Hostname returns the target host.
func (s *Session) Hostname() string {
	return s.host
}

// CanonicalHostname returns the canonical name found during realm
// resolution, or the hostname.
func (s *Session) CanonicalHostname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canonical
}

// Service returns the target service.
func (s *Session) Service() string {
	return s.service
}

// Store returns the credential store.
func (s *Session) Store() *credstore.Store {
	return s.store
}

// References returns reference operations over the session's store.
func (s *Session) References() *References {
	return &References{Holder: s.store, Logger: s.logger, Metrics: s.metrics, events: s.events}
}

// Selections returns the selections in ranking order.
func (s *Session) Selections() []*Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.list()
}

// Canceled reports whether Cancel was called.
func (s *Session) Canceled() bool {
	return s.canceled.Load()
}

// Cancel fails every selection that is not yet resolved and makes every
// selection accessor return ErrCanceled. Background lookups are told to stop
// but are not waited for.
func (s *Session) Cancel() {
	if !s.canceled.CompareAndSwap(false, true) {
		return
	}
	s.cancel()

	s.mu.Lock()
	n := 0
	for _, sel := range s.reg.order {
		if sel.gate.cancel() {
			n++
		}
	}
	s.mu.Unlock()

	s.logger.Debug("session canceled", "pending", n)
	s.events.session(SubtypeCanceled, map[string]any{"pending": n})
}

// Close cancels the session and releases its selections. Credentials in the
// store are left to their holders.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.Cancel()

	s.mu.Lock()
	s.reg = newRegistry(s.reg.preferred)
	s.claimed = nil
	s.mu.Unlock()

	s.events.session(SubtypeClosed, nil)
	return nil
}

// Wait blocks until background discovery has finished.
func (s *Session) Wait() {
	s.bg.Wait()
}

// add inserts a selection. s.mu must be held.
func (s *Session) add(sel *Selection, flags addFlags) *Selection {
	sel.s = s
	got, added := s.reg.addOrGet(sel, flags)
	if added {
		s.metrics.recordSelection(sel.variant.Mechanism())
		s.logger.Debug("selection added",
			"mechanism", sel.variant.Mechanism().String(),
			"client", sel.client.Value,
			"server", sel.server.Value)
	}
	return got
}

// signal completes a pending selection with its discovered identity. If the
// identity duplicates a selection already in the registry, the pending one
// is canceled and dropped instead.
func (s *Session) signal(sel *Selection, client, server Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled.Load() {
		return ErrCanceled
	}
	// a settled selection keeps its identity and its place
	switch sel.gate.current() {
	case gateDone:
		return ErrAlreadyResolved
	case gateCanceled:
		return ErrCanceled
	}
	k := regKey{mech: sel.variant.Mechanism(), client: strings.ToLower(client.Value), serverKind: server.Kind}
	for _, other := range s.reg.byKey[k] {
		if other != sel && (other.server.IsZero() || strings.EqualFold(other.server.Value, server.Value)) {
			sel.gate.cancel()
			s.reg.remove(sel)
			s.logger.Debug("resolved selection duplicates existing one", "client", client.Value)
			return ErrCanceled
		}
	}
	old := keyOf(sel)
	if err := sel.gate.resolve(func() {
		sel.client = client
		sel.server = server
	}); err != nil {
		return err
	}
	s.reg.rekey(sel, old)
	return nil
}

// cancelSelection fails one selection without touching its siblings.
func (s *Session) cancelSelection(sel *Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel.gate.cancel()
}

// goBackground runs fn under the session context.
func (s *Session) goBackground(fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(s.ctx)
	}()
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func isNoMapping(err error) bool {
	return errors.Is(err, ErrNoMapping)
}
