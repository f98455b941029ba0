package session

import (
	"log/slog"
	"maps"
	"reflect"
	"slices"
)

// Merger reconciles a request's changes with the stored session.
type Merger struct {
	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Debug logs the keys dropped and updated by every merge.
	Debug bool
}

// Merge applies the changes between baseline and incoming to current and
// returns the result. Inputs are never modified.
//
// Keys present in baseline but absent from incoming are deleted. Keys whose
// incoming value differs from baseline (or that baseline lacks) take the
// incoming value. Every other key keeps its value from current, so unrelated
// changes made by a concurrent writer survive.
func Merge(baseline, incoming, current Attributes) Attributes {
	return Merger{}.Merge("", baseline, incoming, current)
}

// Merge is the logging form of the package level Merge. baseline and
// incoming must be Attributes or map[string]any; anything else is logged and
// current is returned unchanged.
func (m Merger) Merge(sid string, baseline, incoming any, current Attributes) Attributes {
	result := Attributes{}
	maps.Copy(result, current)

	old, okOld := asAttributes(baseline)
	cur, okNew := asAttributes(incoming)
	if !okOld || !okNew {
		m.logger().Warn("session merge: bad old or new session",
			"session_id", sid,
			"baseline_type", typeName(baseline),
			"incoming_type", typeName(incoming))
		return result
	}

	var dropped []string
	for k := range old {
		if _, ok := cur[k]; !ok {
			dropped = append(dropped, k)
			delete(result, k)
		}
	}

	var updated []string
	for k, v := range cur {
		prev, ok := old[k]
		if ok && reflect.DeepEqual(prev, v) {
			continue
		}
		updated = append(updated, k)
		result[k] = v
	}

	if m.Debug {
		if len(dropped) > 0 {
			slices.Sort(dropped)
			m.logger().Info("session merge: dropping", "session_id", sid, "keys", dropped)
		}
		if len(updated) > 0 {
			slices.Sort(updated)
			m.logger().Info("session merge: updating", "session_id", sid, "keys", updated)
		}
	}

	return result
}

func (m Merger) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// asAttributes accepts the map shapes a handler may hand back. A typed nil
// map is a valid empty mapping; an untyped nil is not.
func asAttributes(v any) (Attributes, bool) {
	switch t := v.(type) {
	case Attributes:
		return t, true
	case map[string]any:
		return Attributes(t), true
	default:
		return nil, false
	}
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}
