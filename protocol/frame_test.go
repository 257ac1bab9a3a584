package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatMessageID(t *testing.T) {
	assert.Equal(t, "MSG_0000000000", FormatMessageID(0))
	assert.Equal(t, "MSG_0000000042", FormatMessageID(42))
	assert.True(t, IsValidMessageID(FormatMessageID(9_999_999_999)))

	seq, ok := ParseMessageID("MSG_0000000042")
	require.True(t, ok)
	assert.EqualValues(t, 42, seq)
}

func TestIsValidMessageID(t *testing.T) {
	for _, bad := range []string{"", "MSG_", "MSG_123", "MSG_00000000001", "msg_0000000001", "MSG_00000000a1"} {
		assert.False(t, IsValidMessageID(bad), bad)
	}
}

func TestFormatDeliverySanitizes(t *testing.T) {
	got := FormatDelivery("MSG_0000000001", "line one\nline two\r\n")
	assert.Equal(t, "MSG_0000000001|line one line two \n", string(got))
}

func TestWarningFrame(t *testing.T) {
	assert.Equal(t, "0|Warning: slow down\n", string(WarningFrame("slow down")))
}

func TestParseAck(t *testing.T) {
	id, ok := ParseAck("ACK|MSG_0000000007")
	require.True(t, ok)
	assert.Equal(t, "MSG_0000000007", id)

	assert.True(t, IsAck("ACK|garbage"))
	_, ok = ParseAck("ACK|garbage")
	assert.False(t, ok)
	_, ok = ParseAck("hello")
	assert.False(t, ok)
}

func TestSplitDelivery(t *testing.T) {
	id, payload, ok := SplitDelivery("MSG_0000000001|a|b")
	require.True(t, ok)
	assert.Equal(t, "MSG_0000000001", id)
	assert.Equal(t, "a|b", payload)
}

func TestHasControlChars(t *testing.T) {
	assert.False(t, HasControlChars("hello\tworld ünïcode"))
	assert.True(t, HasControlChars("bell\x07"))
	assert.True(t, HasControlChars("del\x7f"))
	assert.True(t, HasControlChars("nul\x00"))
}
