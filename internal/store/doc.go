// Package store persists the download manager's state.
//
// An Engine writes a Snapshot as three JSON records, tasks.json,
// sections.json and trash.json, under a namespace derived from the manager
// identifier with slug.Make. A collection that is empty is stored by
// deleting its record.
//
// # Backends
//
// Records are kept by a Backend:
//   - FileBackend: any go-billy filesystem; NewOSBackend for a directory on disk
//   - S3Backend: objects in an S3 bucket
//   - PostgresBackend: rows in the dlm_records table
//
// Example:
//
//	engine := store.NewEngine(store.NewOSBackend(stateDir), "default")
//	snap, err := engine.Load(ctx)
//	...
//	err = engine.Save(ctx, snap)
package store
