package hook

// Curried is a view of a root hook with preset registration options. It
// embeds the root, so every method other than the Tap family and
// WithOptions is the root's own and shares its state.
type Curried struct {
	*Hook
	preset TapOptions
}

// Preset returns a copy of the accumulated preset options.
func (c *Curried) Preset() TapOptions {
	return c.preset.clone()
}

// WithOptions returns another view on the same root hook. Presets already
// carried by c take precedence over preset on conflicting fields.
func (c *Curried) WithOptions(preset TapOptions) *Curried {
	return &Curried{Hook: c.Hook, preset: mergeOptions(preset, c.preset)}
}

// Tap registers a synchronous tap on the root hook.
func (c *Curried) Tap(options any, fn SyncFunc) error {
	opts, err := c.merge("tap", options)
	if err != nil {
		return err
	}
	return c.Hook.Tap(opts, fn)
}

// TapAsync registers a callback-style tap on the root hook.
func (c *Curried) TapAsync(options any, fn AsyncFunc) error {
	opts, err := c.merge("tapAsync", options)
	if err != nil {
		return err
	}
	return c.Hook.TapAsync(opts, fn)
}

// TapPromise registers a promise tap on the root hook.
func (c *Curried) TapPromise(options any, fn PromiseFunc) error {
	opts, err := c.merge("tapPromise", options)
	if err != nil {
		return err
	}
	return c.Hook.TapPromise(opts, fn)
}

func (c *Curried) merge(op string, options any) (TapOptions, error) {
	call, err := parseOptions(op, options)
	if err != nil {
		return TapOptions{}, err
	}
	return mergeOptions(c.preset, call), nil
}
