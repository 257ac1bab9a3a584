// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for the chat pipeline: the stoppable SignalQueue
// that connects every stage, and a fixed-size Executor used for blocking
// sends outside the reactor.
package concurrency
