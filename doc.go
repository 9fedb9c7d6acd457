// Package gridflow is an embeddable, in-process graph-execution engine. It
// runs a caller-supplied set of callable tasks ("functions") and externally
// raised signals ("events") according to a declarative dependency graph
// ("connections"), applying HCL transformation expressions between stages,
// and producing a fully serializable, resumable execution state.
//
// A minimal run:
//
//	o := gridflow.New(map[string]gridflow.Callable{
//	    "hello": func(ctx context.Context, args []any) (any, error) {
//	        return "world", nil
//	    },
//	})
//	state, err := o.Run(ctx, &gridflow.Config{
//	    Functions: map[string]gridflow.FunctionSpec{"hello": {}},
//	})
//
// The engine settles on quiescence (no pending invocations, no in-flight
// aggregator firings, and no event still awaited), on a fatal error, or on
// cancellation of the supplied context. The returned State is a snapshot
// that can be fed back via WithPriorState to resume an interrupted run
// against an identical Config.
package gridflow
