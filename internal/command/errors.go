package command

import "errors"

// ErrQueueFull is returned by Enqueue when the queue is at capacity and
// the target/type pair does not already have an entry to coalesce into.
var ErrQueueFull = errors.New("command: queue full")
