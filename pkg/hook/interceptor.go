package hook

// CallContext is shared by the interceptors of a single invocation. It is
// only allocated when at least one interceptor sets Context.
type CallContext map[string]any

// Interceptor observes or transforms a hook. Register is applied by the
// hook itself; the remaining fields are invoked by compiled dispatchers.
type Interceptor struct {
	Name string
	// Context asks dispatchers to allocate a CallContext per invocation.
	Context bool

	// Register may return a replacement for the tap being registered. A nil
	// return keeps the tap unchanged.
	Register func(tap Tap) *Tap

	Call   func(ctx CallContext, args ...any)
	Tap    func(ctx CallContext, tap Tap)
	Loop   func(ctx CallContext, args ...any)
	Error  func(ctx CallContext, err error)
	Result func(ctx CallContext, result any)
	Done   func(ctx CallContext)
}

// runRegisterInterceptors threads tap through every Register transform in
// interceptor order.
func runRegisterInterceptors(interceptors []Interceptor, tap Tap) Tap {
	for _, in := range interceptors {
		tap = applyRegister(in, tap)
	}
	return tap
}

// applyRegister runs a single Register transform. The kind of a tap is fixed
// at registration: a replacement keeps the original Kind, and a replacement
// callback that does not match it is discarded.
func applyRegister(in Interceptor, tap Tap) Tap {
	if in.Register == nil {
		return tap
	}
	replaced := in.Register(tap.Clone())
	if replaced == nil {
		return tap
	}
	out := *replaced
	out.Kind = tap.Kind
	if !fnMatches(out.Kind, out.Fn) {
		out.Fn = tap.Fn
	}
	return out
}

func fnMatches(kind Kind, fn any) bool {
	switch fn.(type) {
	case SyncFunc:
		return kind == KindSync
	case AsyncFunc:
		return kind == KindAsync
	case PromiseFunc:
		return kind == KindPromise
	default:
		return false
	}
}
