//go:build !unix

// File: transport/errno_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"errors"

	"github.com/momentics/hioload-chat/api"
)

func IsTransient(err error) bool { return false }

func IsTerminal(err error) bool { return errors.Is(err, api.ErrConnClosed) }
