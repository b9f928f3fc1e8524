package plugin

import (
	"fmt"
	goplugin "plugin"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
)

// Loader resolves plugin binaries into Plugin implementations.
type Loader interface {
	Load(path string) (Plugin, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(path string) (Plugin, error)

// Load implements Loader.
func (f LoaderFunc) Load(path string) (Plugin, error) { return f(path) }

// Symbols looked up in a shared object, in order.
var pluginSymbols = []string{"Plugin", "New"}

// GoPluginLoader opens Go plugin shared objects built with -buildmode=plugin.
type GoPluginLoader struct{}

// Load opens the shared object and resolves a `Plugin` variable or a `New`
// constructor.
func (GoPluginLoader) Load(path string) (Plugin, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "plugin path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "open plugin "+path)
	}
	for _, name := range pluginSymbols {
		symbol, err := so.Lookup(name)
		if err != nil {
			continue
		}
		return fromSymbol(name, symbol)
	}
	return nil, xerrors.Newf(xerrors.CodeNotFound, "plugin %s exports neither %v", path, pluginSymbols)
}

func fromSymbol(name string, symbol any) (Plugin, error) {
	switch p := symbol.(type) {
	case Plugin:
		return p, nil
	case *Plugin:
		if p == nil || *p == nil {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "plugin symbol %s is nil", name)
		}
		return *p, nil
	case func() Plugin:
		return p(), nil
	case *func() Plugin:
		if p == nil || *p == nil {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "plugin symbol %s is nil", name)
		}
		return (*p)(), nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("plugin symbol %s has type %T, want plugin.Plugin", name, symbol))
	}
}
