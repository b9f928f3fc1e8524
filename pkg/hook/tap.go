package hook

import (
	"fmt"
	"maps"
	"slices"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
)

// Kind identifies an execution discipline. It is used both as the type of a
// tap and as the discipline a hook is invoked with.
type Kind string

const (
	// KindSync taps return their result directly.
	KindSync Kind = "sync"
	// KindAsync taps report completion through a Callback.
	KindAsync Kind = "async"
	// KindPromise taps return a *Promise.
	KindPromise Kind = "promise"
)

// Kinds lists every known discipline in slot order.
var Kinds = []Kind{KindSync, KindAsync, KindPromise}

// Valid reports whether k is one of the known disciplines.
func (k Kind) Valid() bool {
	return k.index() >= 0
}

func (k Kind) index() int {
	switch k {
	case KindSync:
		return 0
	case KindAsync:
		return 1
	case KindPromise:
		return 2
	default:
		return -1
	}
}

// Callback receives the outcome of an asynchronous tap or dispatcher.
type Callback func(err error, result any)

// SyncFunc is the callback registered through Tap.
type SyncFunc func(args ...any) (any, error)

// AsyncFunc is the callback registered through TapAsync. It must call done
// exactly once.
type AsyncFunc func(done Callback, args ...any)

// PromiseFunc is the callback registered through TapPromise.
type PromiseFunc func(args ...any) *Promise

// Tap is a registered extension callback. Taps are values: interceptors
// receive a copy and hand back a replacement.
type Tap struct {
	Name string
	Kind Kind
	// Fn is a SyncFunc, AsyncFunc or PromiseFunc matching Kind.
	Fn     any
	Stage  int
	Before []string
	// Meta carries fields attached by callers or interceptors.
	Meta map[string]any
}

// Clone returns a copy of t that shares no slices or maps with it.
func (t Tap) Clone() Tap {
	t.Before = slices.Clone(t.Before)
	t.Meta = maps.Clone(t.Meta)
	return t
}

// WithMeta returns a copy of t with key set to value in Meta.
func (t Tap) WithMeta(key string, value any) Tap {
	t = t.Clone()
	if t.Meta == nil {
		t.Meta = make(map[string]any, 1)
	}
	t.Meta[key] = value
	return t
}

// TapOptions is the registration record accepted by the Tap family.
type TapOptions struct {
	Name string
	// Stage is nil when unset; unset stages count as 0.
	Stage  *int
	Before []string
	Meta   map[string]any
}

// Stage returns a pointer to n for use in TapOptions.
func Stage(n int) *int {
	return &n
}

func (o TapOptions) clone() TapOptions {
	if o.Stage != nil {
		o.Stage = Stage(*o.Stage)
	}
	o.Before = slices.Clone(o.Before)
	o.Meta = maps.Clone(o.Meta)
	return o
}

// mergeOptions overlays call on top of preset: set fields of call win and
// Meta is merged key by key.
func mergeOptions(preset, call TapOptions) TapOptions {
	out := preset.clone()
	if call.Name != "" {
		out.Name = call.Name
	}
	if call.Stage != nil {
		out.Stage = Stage(*call.Stage)
	}
	if call.Before != nil {
		out.Before = slices.Clone(call.Before)
	}
	if len(call.Meta) > 0 {
		if out.Meta == nil {
			out.Meta = make(map[string]any, len(call.Meta))
		}
		for k, v := range call.Meta {
			out.Meta[k] = v
		}
	}
	return out
}

// parseOptions turns the loosely typed options argument of the Tap family
// into a TapOptions record. The name is not validated here so curried
// handles can supply it from their presets.
func parseOptions(op string, options any) (TapOptions, error) {
	switch v := options.(type) {
	case string:
		return TapOptions{Name: v}, nil
	case TapOptions:
		return v.clone(), nil
	case *TapOptions:
		if v != nil {
			return v.clone(), nil
		}
	case map[string]any:
		if v != nil {
			return optionsFromMap(v), nil
		}
	}
	return TapOptions{}, xerrors.Newf(xerrors.CodeInvalidArgument,
		"invalid arguments to %s(options, fn): got %T", op, options)
}

func optionsFromMap(m map[string]any) TapOptions {
	var opts TapOptions
	for key, value := range m {
		switch key {
		case "name":
			// A non-string name is reported as a missing name later on.
			opts.Name, _ = value.(string)
		case "stage":
			if n, ok := toInt(value); ok {
				opts.Stage = Stage(n)
			}
		case "before":
			opts.Before = toNames(value)
		default:
			if opts.Meta == nil {
				opts.Meta = make(map[string]any)
			}
			opts.Meta[key] = value
		}
	}
	return opts
}

func toInt(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	default:
		return 0, false
	}
}

func toNames(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []string:
		return slices.Clone(v)
	case []any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
		return names
	default:
		return nil
	}
}

// newTap validates merged options and builds the tap that enters the
// register pipeline.
func newTap(op string, kind Kind, opts TapOptions, fn any) (Tap, error) {
	if opts.Name == "" {
		return Tap{}, xerrors.Newf(xerrors.CodeMissingName, "missing name for %s", op)
	}
	if fn == nil {
		return Tap{}, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid arguments to %s(options, fn): nil callback for %q", op, opts.Name)
	}
	tap := Tap{
		Name:   opts.Name,
		Kind:   kind,
		Fn:     fn,
		Before: opts.Before,
		Meta:   opts.Meta,
	}
	if opts.Stage != nil {
		tap.Stage = *opts.Stage
	}
	return tap, nil
}

func (t Tap) String() string {
	return fmt.Sprintf("%s(%s, stage=%d)", t.Name, t.Kind, t.Stage)
}
