package authsel

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/smnsjas/go-authselect/credstore"
)

// Holder is the hold and label capability of a credential store.
// *credstore.Store implements it.
type Holder interface {
	Lookup(key string) (*credstore.Credential, bool)
	Hold(id uuid.UUID) (int, error)
	Unhold(id uuid.UUID) (int, error)
	SetLabel(id uuid.UUID, label string) error
	ClearLabel(id uuid.UUID, label string) error
	FindByLabel(label string) (*credstore.Credential, bool)
}

// References adds and drops holds on self-managed credentials by reference
// key. Credentials the engine did not create are never touched: operations
// on them succeed without effect.
type References struct {
	Holder  Holder
	Logger  *slog.Logger
	Metrics *Metrics

	events *securityLogger
}

func (r *References) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// lookup returns the credential for key, or nil when it is not self-managed.
func (r *References) lookup(op, key string) (*credstore.Credential, error) {
	c, ok := r.Holder.Lookup(key)
	if !ok {
		r.Metrics.recordReference(op, "failure")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if !c.SelfManaged() {
		r.Metrics.recordReference(op, "skipped")
		return nil, nil
	}
	return c, nil
}

// Add holds the credential for key.
func (r *References) Add(key string) error {
	c, err := r.lookup("add", key)
	if c == nil {
		return err
	}
	n, err := r.Holder.Hold(c.ID())
	if err != nil {
		r.Metrics.recordReference("add", "failure")
		return err
	}
	r.Metrics.recordReference("add", "success")
	r.logger().Debug("reference added", "key", key, "holds", n)
	r.events.reference(SubtypeHold, OutcomeSuccess, map[string]any{"key": key, "holds": n})
	return nil
}

// Remove drops a hold on the credential for key.
func (r *References) Remove(key string) error {
	c, err := r.lookup("remove", key)
	if c == nil {
		return err
	}
	n, err := r.Holder.Unhold(c.ID())
	if err != nil {
		r.Metrics.recordReference("remove", "failure")
		return err
	}
	r.Metrics.recordReference("remove", "success")
	r.logger().Debug("reference removed", "key", key, "holds", n)
	r.events.reference(SubtypeUnhold, OutcomeSuccess, map[string]any{"key": key, "holds": n})
	return nil
}

// AddAndLabel holds the credential for key and attaches label for a later
// ReleaseByLabel.
func (r *References) AddAndLabel(key, label string) error {
	c, err := r.lookup("label", key)
	if c == nil {
		return err
	}
	if _, err := r.Holder.Hold(c.ID()); err != nil {
		r.Metrics.recordReference("label", "failure")
		return err
	}
	if err := r.Holder.SetLabel(c.ID(), label); err != nil {
		_, _ = r.Holder.Unhold(c.ID())
		r.Metrics.recordReference("label", "failure")
		return err
	}
	r.Metrics.recordReference("label", "success")
	r.logger().Debug("reference added with label", "key", key, "label", label)
	return nil
}

// ReleaseByLabel finds the self-managed credential carrying label, clears
// the label and drops one hold. ErrNotFound is returned when no credential
// carries it.
func (r *References) ReleaseByLabel(label string) error {
	c, ok := r.Holder.FindByLabel(label)
	if !ok || !c.SelfManaged() {
		r.Metrics.recordReference("release", "skipped")
		return fmt.Errorf("%w: label %s", ErrNotFound, label)
	}
	if err := r.Holder.ClearLabel(c.ID(), label); err != nil {
		r.Metrics.recordReference("release", "failure")
		return err
	}
	n, err := r.Holder.Unhold(c.ID())
	if err != nil {
		r.Metrics.recordReference("release", "failure")
		return err
	}
	r.Metrics.recordReference("release", "success")
	r.logger().Debug("reference released by label", "label", label, "holds", n)
	r.events.reference(SubtypeRelease, OutcomeSuccess, map[string]any{"label": label, "holds": n})
	return nil
}
