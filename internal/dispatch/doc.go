// Package dispatch implements the request dispatcher: an unbounded
// priority queue in front of a bounded set of concurrent execution
// attempts against external compute providers.
//
// Requests move through a small state machine (pending, processing,
// completed, failed, cancelled). A single loop goroutine drains the queue
// whenever it is woken by a submission, a freed slot, or a requeue, with a
// fixed-interval tick as the safety net. Each admitted request runs in its
// own goroutine; failed attempts re-enter the queue at their original
// priority after a linear backoff until the retry budget is spent.
package dispatch
