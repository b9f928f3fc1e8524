package hooks

import (
	"slices"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
	"github.com/zhangpanweb/tapable/pkg/hook"
)

// Family names a hook flavour. The names are the ones hosts use in
// configuration files.
type Family string

const (
	FamilySync                 Family = "SyncHook"
	FamilySyncBail             Family = "SyncBailHook"
	FamilySyncWaterfall        Family = "SyncWaterfallHook"
	FamilySyncLoop             Family = "SyncLoopHook"
	FamilyAsyncSeries          Family = "AsyncSeriesHook"
	FamilyAsyncSeriesBail      Family = "AsyncSeriesBailHook"
	FamilyAsyncSeriesWaterfall Family = "AsyncSeriesWaterfallHook"
	FamilyAsyncSeriesLoop      Family = "AsyncSeriesLoopHook"
	FamilyAsyncParallel        Family = "AsyncParallelHook"
	FamilyAsyncParallelBail    Family = "AsyncParallelBailHook"
)

type familySpec struct {
	run strategy
	// async families cannot be called synchronously.
	async bool
	// waterfall families feed results back into the first argument.
	waterfall bool
}

var families = map[Family]familySpec{
	FamilySync:                 {run: series(seriesPlain)},
	FamilySyncBail:             {run: series(seriesBail)},
	FamilySyncWaterfall:        {run: series(seriesWaterfall), waterfall: true},
	FamilySyncLoop:             {run: loop},
	FamilyAsyncSeries:          {run: series(seriesPlain), async: true},
	FamilyAsyncSeriesBail:      {run: series(seriesBail), async: true},
	FamilyAsyncSeriesWaterfall: {run: series(seriesWaterfall), async: true, waterfall: true},
	FamilyAsyncSeriesLoop:      {run: loop, async: true},
	FamilyAsyncParallel:        {run: parallel, async: true},
	FamilyAsyncParallelBail:    {run: parallelBail, async: true},
}

// Families lists every known family in a stable order.
func Families() []Family {
	out := make([]Family, 0, len(families))
	for f := range families {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	_, ok := families[f]
	return ok
}

// Async reports whether hooks of this family reject synchronous calls.
func (f Family) Async() bool {
	return families[f].async
}

type compiler struct {
	family Family
	spec   familySpec
}

// Compile implements hook.Compiler.
func (c compiler) Compile(in hook.CompileInput) (hook.Dispatcher, error) {
	if c.spec.async && in.Kind == hook.KindSync {
		return hook.Dispatcher{}, xerrors.Newf(xerrors.CodeUnsupported, "call is not supported on %s %q", c.family, in.Name)
	}
	if c.spec.waterfall && len(in.Args) == 0 {
		return hook.Dispatcher{}, xerrors.Newf(xerrors.CodeCompileFailure, "%s %q needs at least one argument", c.family, in.Name)
	}
	return dispatcher(in, c.spec.run), nil
}

// CompilerFor returns the compiler implementing family.
func CompilerFor(family Family) (hook.Compiler, error) {
	spec, ok := families[family]
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown hook family %q", family)
	}
	return compiler{family: family, spec: spec}, nil
}

// New creates a hook of the named family.
func New(family Family, args []string, opts ...hook.Option) (*hook.Hook, error) {
	c, err := CompilerFor(family)
	if err != nil {
		return nil, err
	}
	if !family.Async() {
		opts = append(slices.Clone(opts), hook.WithKinds(hook.KindSync))
	}
	return hook.New(args, c, opts...), nil
}

func mustNew(family Family, args []string, opts []hook.Option) *hook.Hook {
	h, err := New(family, args, opts...)
	if err != nil {
		panic(err)
	}
	return h
}

// NewSyncHook runs sync taps in order and ignores their results.
func NewSyncHook(args []string, opts ...hook.Option) *hook.Hook {
	return mustNew(FamilySync, args, opts)
}

// NewSyncBailHook stops at the first tap returning a non-nil result.
func NewSyncBailHook(args []string, opts ...hook.Option) *hook.Hook {
	return mustNew(FamilySyncBail, args, opts)
}

// NewSyncWaterfallHook passes each non-nil result as the first argument of
// the next tap and returns the final value.
func NewSyncWaterfallHook(args []string, opts ...hook.Option) *hook.Hook {
	return mustNew(FamilySyncWaterfall, args, opts)
}

// NewSyncLoopHook restarts from the first tap while any tap returns a
// non-nil result.
func NewSyncLoopHook(args []string, opts ...hook.Option) *hook.Hook {
	return mustNew(FamilySyncLoop, args, opts)
}

// NewAsyncSeriesHook runs taps of any kind one after another.
func NewAsyncSeriesHook(args []string, opts ...hook.Option) *hook.Hook {
	return mustNew(FamilyAsyncSeries, args, opts)
}

// NewAsyncSeriesBailHook is the asynchronous bail hook.
func NewAsyncSeriesBailHook(args []string, opts ...hook.Option) *hook.Hook {
	return mustNew(FamilyAsyncSeriesBail, args, opts)
}

// NewAsyncSeriesWaterfallHook is the asynchronous waterfall hook.
func NewAsyncSeriesWaterfallHook(args []string, opts ...hook.Option) *hook.Hook {
	return mustNew(FamilyAsyncSeriesWaterfall, args, opts)
}

// NewAsyncSeriesLoopHook is the asynchronous loop hook.
func NewAsyncSeriesLoopHook(args []string, opts ...hook.Option) *hook.Hook {
	return mustNew(FamilyAsyncSeriesLoop, args, opts)
}

// NewAsyncParallelHook starts all taps together and completes when every
// tap has.
func NewAsyncParallelHook(args []string, opts ...hook.Option) *hook.Hook {
	return mustNew(FamilyAsyncParallel, args, opts)
}

// NewAsyncParallelBailHook starts all taps together and settles with the
// first result in tap order.
func NewAsyncParallelBailHook(args []string, opts ...hook.Option) *hook.Hook {
	return mustNew(FamilyAsyncParallelBail, args, opts)
}
