// File: transport/send_blocking.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded-retry send used when write readiness is unavailable.

package transport

import (
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// SendPolicy bounds the retries of SendBlocking.
type SendPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// DefaultSendPolicy retries a full socket buffer for roughly one second.
var DefaultSendPolicy = SendPolicy{
	InitialInterval: time.Millisecond,
	MaxInterval:     20 * time.Millisecond,
	MaxRetries:      100,
}

func (p SendPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	return backoff.WithMaxRetries(b, p.MaxRetries)
}

// SendBlocking writes all of data to w, sleeping between attempts while
// the socket reports EAGAIN. Non-transient errors abort immediately.
func SendBlocking(w io.Writer, data []byte, policy SendPolicy) error {
	off := 0
	op := func() error {
		for off < len(data) {
			n, err := w.Write(data[off:])
			if n > 0 {
				off += n
			}
			if err != nil {
				if IsTransient(err) {
					return err
				}
				return backoff.Permanent(err)
			}
			if n == 0 {
				return backoff.Permanent(errShortWrite)
			}
		}
		return nil
	}
	return backoff.Retry(op, policy.backOff())
}
