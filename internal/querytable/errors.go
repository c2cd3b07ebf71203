// Package querytable implements the fixed-capacity table that maps an
// in-flight transaction id to the client state a reply for that id must
// be routed back to.
//
// Concurrency model: a single mutex guards the table. The forwarder core
// runs query handling across many goroutines (unlike the single-threaded
// reactor this component was originally specified against), so the table
// itself must be safe for concurrent access; callers never need to
// serialize access to it themselves.
package querytable

import "errors"

// ErrFull is returned by Add when the table already holds the maximum
// number of active contexts.
var ErrFull = errors.New("query table: full")

// ErrNotFound is returned by operations addressing an id that has no
// active context, either because it was never added or because it was
// already deleted or garbage-collected.
var ErrNotFound = errors.New("query table: not found")
