package api_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-chat/api"
)

// TestStructuredErrorMatchesSentinel checks errors.Is through a wrapped *api.Error.
func TestStructuredErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("register: %w", api.NewError(api.ErrCodeAlreadyExists, "username taken"))
	assert.True(t, errors.Is(err, api.ErrAlreadyExists))
	assert.False(t, errors.Is(err, api.ErrNotFound))
	assert.Equal(t, api.ErrCodeAlreadyExists, api.CodeOf(err))
}

func TestCodeOfSentinelAndUnknown(t *testing.T) {
	assert.Equal(t, api.ErrCodeOK, api.CodeOf(nil))
	assert.Equal(t, api.ErrCodeTimeout, api.CodeOf(fmt.Errorf("wait: %w", api.ErrTimeout)))
	assert.Equal(t, api.ErrCodeInternal, api.CodeOf(errors.New("boom")))
}

func TestErrorContext(t *testing.T) {
	e := api.NewError(api.ErrCodeInvalidArgument, "bad name").WithContext("len", 2)
	assert.Contains(t, e.Error(), "bad name")
	assert.Contains(t, e.Error(), "len")
}

func TestDeliveryStatusValid(t *testing.T) {
	assert.True(t, api.StatusSent.Valid())
	assert.False(t, api.DeliveryStatus("lost").Valid())
}
