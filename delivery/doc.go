// File: delivery/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package delivery implements at-least-once delivery over the chat wire
// protocol. Every tracked frame carries a MSG_ id; the peer answers with
// ACK|<id>. Unacknowledged frames are resent after AckTimeout, up to
// MaxRetries times, and then reported as failed to the journal.
//
//	Sent ──ACK──▶ Acked
//	Sent ──timeout, retries < max──▶ Sent (resend)
//	Sent ──timeout, retries == max, or target gone──▶ Failed
package delivery
