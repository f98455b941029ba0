// Package session provides a SQL-backed session store. A Store loads and
// saves session attributes through a Dataset, minting collision-free
// identifiers on a miss and reconciling concurrent writers with a three-way
// merge on save.
package session

import (
	"context"
	"errors"
	"maps"
	"slices"
)

var (
	// ErrNoDataset is returned by New when no Dataset is configured.
	ErrNoDataset = errors.New("session: no dataset configured")

	// ErrNoSession is returned by a Codec when there is no payload to decode.
	ErrNoSession = errors.New("session: no session payload")

	// ErrCorruptPayload is returned by a Codec when a payload cannot be decoded.
	ErrCorruptPayload = errors.New("session: corrupt payload")

	// ErrIDSpaceExhausted is returned when every identifier candidate collided
	// with an existing record.
	ErrIDSpaceExhausted = errors.New("session: identifier attempts exhausted")
)

// Attributes is the logical content of a session.
type Attributes map[string]any

// Clone returns a deep copy of a. Nested maps and slices are copied so that
// mutating the clone never reaches the original. A nil receiver yields an
// empty, non-nil mapping.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Attributes:
		return t.Clone()
	case map[string]any:
		return map[string]any(Attributes(t).Clone())
	case map[string]string:
		return maps.Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

// State is the per-request view of a session: the attributes a handler
// mutates, paired with the baseline snapshot taken when they were loaded.
// It is threaded explicitly from Load, through the handler, to Save.
type State struct {
	// ID is the identifier the session was loaded under.
	ID string

	// Attributes is the mutable session content.
	Attributes Attributes

	baseline Attributes
}

// NewState creates a State with no baseline. Saving it writes every
// attribute and deletes nothing.
func NewState(id string, attrs Attributes) *State {
	if attrs == nil {
		attrs = Attributes{}
	}
	return &State{ID: id, Attributes: attrs}
}

// Baseline returns a copy of the attributes as they were at load time, or
// nil when the State was not produced by Load.
func (s *State) Baseline() Attributes {
	if s.baseline == nil {
		return nil
	}
	return s.baseline.Clone()
}

// SaveOptions controls a single Save.
type SaveOptions struct {
	// Renew replaces the session identifier and its record.
	Renew bool
}

// Dataset is the backing table of session records, one row per identifier.
type Dataset interface {
	// Lookup returns the payload stored for sid. found is false when no row
	// exists; payload is nil when the row exists with no data.
	Lookup(ctx context.Context, sid string) (payload *string, found bool, err error)

	// Insert adds a record for sid.
	Insert(ctx context.Context, sid, payload string) error

	// Update replaces the payload of the record for sid.
	Update(ctx context.Context, sid, payload string) error

	// Delete removes the record for sid.
	Delete(ctx context.Context, sid string) error

	// Count returns the number of records.
	Count(ctx context.Context) (int, error)
}
