// Package download implements the download manager: the task records,
// their state machine, admission into a bounded set of concurrent
// transfers, the trash and the glue to persistence.
//
// # Manager
//
// A Manager tracks one task per URL. Every task is in one of the states
// pending, downloading, paused, stopped or finished:
//
//   - Download creates pending tasks and queues them
//   - The queue admits pending tasks into downloading as slots free up
//   - Pause suspends a transfer, or stops it when suspension is disabled
//   - Stop cancels a transfer and keeps its progress as a resume token
//   - Resume and Restart queue tasks again
//   - Delete removes tasks, into the trash when it is enabled
//
// A failed transfer sends its task back to pending with LastError set.
// Batch operations return the keys that actually changed, or nil.
//
// # Basic Usage
//
//	engine := store.NewEngine(store.NewOSBackend(stateDir), "default")
//	m, err := download.Open(ctx, http.NewClient(), engine, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go m.Run(ctx)
//
//	m.Download(urls, download.WithCompletion(func(c download.Completion) {
//	    fmt.Println(c.Key, c.Err)
//	}))
//
//	// Later
//	m.Close(ctx)
//
// # Events
//
// Subscribe delivers state changes, progress, completions, active-set
// changes and periodic aggregates from a single goroutine, in the order
// they happened. Handlers may call back into the Manager, except Close.
//
// # Persistence
//
// Save writes the tasks, the manual layout and the trash through a
// store.Engine. Tasks that were downloading or queued when the manager was
// closed are queued again after Load.
package download
