package main

import (
	"context"
	"runtime/debug"

	"schedrun/internal/app"
)

// callbacks are the in-process tasks a config can reference with `call:`.
// They only make sense under `schedrun work`, where the process outlives
// the pass.
func callbacks() app.Callbacks {
	return app.Callbacks{
		"runtime.free_os_memory": func(context.Context) error {
			debug.FreeOSMemory()
			return nil
		},
	}
}
