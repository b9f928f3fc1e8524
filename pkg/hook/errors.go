package hook

import (
	xerrors "github.com/zhangpanweb/tapable/internal/errors"
)

// Sentinel errors for use with errors.Is. Errors returned by this package
// match them by code.
var (
	ErrInvalidArguments = xerrors.New(xerrors.CodeInvalidArgument, "")
	ErrMissingName      = xerrors.New(xerrors.CodeMissingName, "")
	ErrNotImplemented   = xerrors.New(xerrors.CodeNotImplemented, "")
	ErrCompile          = xerrors.New(xerrors.CodeCompileFailure, "")
	ErrUnsupported      = xerrors.New(xerrors.CodeUnsupported, "")
	ErrTapPanic         = xerrors.New(xerrors.CodeTapPanic, "")
)
