// Package transfer defines the contract between the download manager and a
// resumable transfer implementation.
//
// An Adapter prepares a Transfer for a Request; the manager starts,
// suspends, resumes and cancels it, and receives progress and completion
// through an Observer:
//
//	t := adapter.New(transfer.Request{Key: key, URL: key, Dir: dir}, observer)
//	t.Start()
//	...
//	t.Cancel(true) // Done later reports Result.ResumeToken
//
// Replaying a token continues from the last acknowledged byte:
//
//	t = adapter.New(transfer.Request{Key: key, URL: key, Dir: dir, ResumeToken: token}, observer)
//
// The package holds no implementation; see internal/http for the HTTP one.
package transfer
