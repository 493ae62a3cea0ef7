// Package queue implements admission control for concurrent downloads.
//
// A Queue holds a cap on the number of active keys and two waiting tiers.
// Keys pushed with Priority are admitted before keys pushed with
// Incidental; within a tier admission is first in, first out, except that
// incidental keys are ordered by a caller-supplied rank first.
//
// # Limits
//
// A limit of zero or any negative number is coerced to Unlimited:
//
//	q := queue.New(0)
//	q.Limit() // -1 (Unlimited)
//
// Lowering the limit below the number of active keys evicts nothing; new
// admissions wait until enough keys are deactivated.
//
// # Admission
//
//	q := queue.New(2)
//	q.Push("a", queue.Priority, 0)
//	q.Push("b", queue.Priority, 0)
//	q.Push("c", queue.Priority, 0)
//	q.Next()          // ["a", "b"]
//	q.Deactivate("a")
//	q.Next()          // ["c"]
package queue
