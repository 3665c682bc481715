// Package engine drives recipe application across a host run.
//
// # Lifecycle
//
// An Engine is built with New and bound to a host once with Activate. From
// then on it listens to the host dispatcher:
//
//   - post-package-install and pre-package-uninstall resolve the package's
//     recipe and, when the ledger says a transition is due, queue it
//   - post-package-update is ignored
//   - post-install-cmd and post-update-cmd apply the queue in arrival order
//
// The engine moves Idle -> Collecting on the first install or uninstall event,
// Collecting -> Applying at batch completion, and back to Idle once the queue
// is drained or abandoned. A batch with nothing queued performs no I/O.
//
// # Ledger flushing
//
// FlushIncremental writes the ledger after every successful recipe, so a
// failure part-way through a batch never loses the record of recipes that
// were already applied. FlushBatch writes once after the whole queue. In both
// policies a failed recipe is never recorded, and the rest of the queue is
// dropped; the error is an *ApplyError naming the package and job. A failed
// FlushBatch write is reported against the last recipe of the queue.
//
// # Manual application
//
// Apply runs a single recipe outside of a host run and always writes the
// ledger afterwards. Eligibility is not checked.
package engine
