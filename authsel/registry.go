package authsel

import "strings"

type addFlags int

const (
	// forceAdd keeps a candidate even when it does not match the caller's
	// preferred identity.
	forceAdd addFlags = 1 << iota
)

type regKey struct {
	mech       Mechanism
	client     string
	serverKind NameKind
}

func keyOf(sel *Selection) regKey {
	return regKey{
		mech:       sel.variant.Mechanism(),
		client:     strings.ToLower(sel.client.Value),
		serverKind: sel.server.Kind,
	}
}

// registry is the ordered, deduplicated candidate list of a session. It is
// only touched with the session mutex held.
type registry struct {
	byKey     map[regKey][]*Selection
	order     []*Selection
	preferred string
}

func newRegistry(preferred string) *registry {
	return &registry{
		byKey:     make(map[regKey][]*Selection),
		preferred: preferred,
	}
}

// addOrGet inserts sel unless an equivalent selection exists. It returns the
// selection now in the registry and whether sel was added. A nil result
// means sel was filtered out by the preferred identity.
//
// Selections match when mechanism, client and server kind are equal and
// the servers are equal or either is still unknown.
// TODO: the unknown-server rule can merge a resolved guess into an
// unrelated placeholder; decide whether placeholders should only merge with
// themselves.
func (r *registry) addOrGet(sel *Selection, flags addFlags) (*Selection, bool) {
	k := keyOf(sel)
	for _, existing := range r.byKey[k] {
		if existing.server.IsZero() || sel.server.IsZero() ||
			strings.EqualFold(existing.server.Value, sel.server.Value) {
			return existing, false
		}
	}
	if flags&forceAdd == 0 && !r.matchesPreferred(sel.client) {
		return nil, false
	}
	r.byKey[k] = append(r.byKey[k], sel)
	r.order = append(r.order, sel)
	return sel, true
}

func (r *registry) matchesPreferred(client Name) bool {
	if r.preferred == "" {
		return true
	}
	if strings.EqualFold(client.Value, r.preferred) {
		return true
	}
	want := parseUserHint(r.preferred).specific
	return strings.EqualFold(parseUserHint(client.Value).specific, want)
}

// rekey moves sel to the bucket for its current identity after a resolution
// rewrote it.
func (r *registry) rekey(sel *Selection, old regKey) {
	bucket := r.byKey[old]
	for i, s := range bucket {
		if s == sel {
			r.byKey[old] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(r.byKey[old]) == 0 {
		delete(r.byKey, old)
	}
	k := keyOf(sel)
	r.byKey[k] = append(r.byKey[k], sel)
}

// remove drops sel from the registry.
func (r *registry) remove(sel *Selection) {
	k := keyOf(sel)
	bucket := r.byKey[k]
	for i, s := range bucket {
		if s == sel {
			r.byKey[k] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(r.byKey[k]) == 0 {
		delete(r.byKey, k)
	}
	for i, s := range r.order {
		if s == sel {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *registry) list() []*Selection {
	return append([]*Selection(nil), r.order...)
}

func (r *registry) len() int {
	return len(r.order)
}
