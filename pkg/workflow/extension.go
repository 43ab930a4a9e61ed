package workflow

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/execution"
	"github.com/dagframe/dagframe/pkg/partition"
)

// ExtensionContext is what a task hands to the extension it wraps.
type ExtensionContext struct {
	Engine    execution.ExecutionEngine
	Logger    log.Logger
	Params    dataframe.Metadata
	Partition partition.Spec

	// Schema is the output schema declared on the task, if any.
	Schema *arrow.Schema
}

// Creator produces a dataframe from nothing.
type Creator interface {
	Create(ctx context.Context, ec ExtensionContext) (dataframe.DataFrame, error)
}

// Processor transforms its inputs into a single dataframe.
type Processor interface {
	Process(ctx context.Context, ec ExtensionContext, dfs dataframe.DataFrames) (dataframe.DataFrame, error)
}

// Outputter consumes its inputs for a side effect.
type Outputter interface {
	Output(ctx context.Context, ec ExtensionContext, dfs dataframe.DataFrames) error
}

// Identifier is implemented by extensions that know their own identity.
// Tasks wrapping equal identities are interchangeable and run once per run.
//
// Without it, top-level functions are identified by name and plain values by
// their type and content. Closures, method values and references (pointers,
// maps, channels, slices) may hide state, so the task wrapping them is unique.
type Identifier interface {
	Identity() string
}

type CreatorFunc func(ctx context.Context, ec ExtensionContext) (dataframe.DataFrame, error)

func (f CreatorFunc) Create(ctx context.Context, ec ExtensionContext) (dataframe.DataFrame, error) {
	return f(ctx, ec)
}

type ProcessorFunc func(ctx context.Context, ec ExtensionContext, dfs dataframe.DataFrames) (dataframe.DataFrame, error)

func (f ProcessorFunc) Process(ctx context.Context, ec ExtensionContext, dfs dataframe.DataFrames) (dataframe.DataFrame, error) {
	return f(ctx, ec, dfs)
}

type OutputterFunc func(ctx context.Context, ec ExtensionContext, dfs dataframe.DataFrames) error

func (f OutputterFunc) Output(ctx context.Context, ec ExtensionContext, dfs dataframe.DataFrames) error {
	return f(ctx, ec, dfs)
}

// extensionIdentity returns the identity of ext. It reports false when ext
// has no identity beyond the instance.
func extensionIdentity(ext any) (string, bool) {
	if id, ok := ext.(Identifier); ok {
		return id.Identity(), true
	}
	v := reflect.ValueOf(ext)
	switch v.Kind() {
	case reflect.Func:
		if v.IsNil() {
			return "", false
		}
		f := runtime.FuncForPC(v.Pointer())
		if f == nil || isClosure(f.Name()) {
			return "", false
		}
		return fmt.Sprintf("%T:%s", ext, f.Name()), true
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan, reflect.Slice, reflect.Interface:
		return "", false
	}
	return fmt.Sprintf("%T:%#v", ext), true
}

// isClosure reports whether the runtime function name belongs to a function
// literal or a method value, such as "pkg.Outer.func1", "pkg.glob..func2" or
// "pkg.(*T).M-fm".
func isClosure(name string) bool {
	if strings.HasSuffix(name, "-fm") {
		return true
	}
	name = name[strings.LastIndexByte(name, '/')+1:]
	parts := strings.Split(name, ".")
	for _, part := range parts[1:] {
		digits, ok := strings.CutPrefix(part, "func")
		if ok && digits != "" && strings.Trim(digits, "0123456789") == "" {
			return true
		}
	}
	return false
}
