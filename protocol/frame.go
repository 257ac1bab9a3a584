// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Delivery, acknowledgment and warning frames.

package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// AckPrefix starts a client acknowledgment frame.
	AckPrefix = "ACK|"
	// MessageIDPrefix starts every tracked message id.
	MessageIDPrefix = "MSG_"
	// MessageIDDigits is the zero-padded width of the numeric part.
	MessageIDDigits = 10
	// UntrackedID tags frames that expect no acknowledgment.
	UntrackedID = "0"
	// Separator splits the id from the payload.
	Separator = '|'
)

// MaxMessageSeq is the largest sequence that fits the id format.
const MaxMessageSeq = 9_999_999_999

// FormatMessageID renders seq as MSG_ followed by ten digits.
func FormatMessageID(seq uint64) string {
	return fmt.Sprintf("%s%0*d", MessageIDPrefix, MessageIDDigits, seq%(MaxMessageSeq+1))
}

// ParseMessageID extracts the sequence from a well-formed id.
func ParseMessageID(id string) (uint64, bool) {
	if !IsValidMessageID(id) {
		return 0, false
	}
	n, err := strconv.ParseUint(id[len(MessageIDPrefix):], 10, 64)
	return n, err == nil
}

// IsValidMessageID reports whether id matches MSG_[0-9]{10}.
func IsValidMessageID(id string) bool {
	if len(id) != len(MessageIDPrefix)+MessageIDDigits || !strings.HasPrefix(id, MessageIDPrefix) {
		return false
	}
	for _, c := range id[len(MessageIDPrefix):] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Sanitize flattens line breaks so a payload cannot split a frame.
func Sanitize(payload string) string {
	if !strings.ContainsAny(payload, "\r\n") {
		return payload
	}
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(payload)
}

// FormatDelivery builds "<id>|<payload>\n".
func FormatDelivery(id, payload string) []byte {
	payload = Sanitize(payload)
	b := make([]byte, 0, len(id)+len(payload)+2)
	b = append(b, id...)
	b = append(b, Separator)
	b = append(b, payload...)
	return append(b, '\n')
}

// WarningFrame builds an untracked "0|Warning: <text>\n" frame.
func WarningFrame(text string) []byte {
	return FormatDelivery(UntrackedID, "Warning: "+text)
}

// IsAck reports whether a frame is an acknowledgment, well-formed or not.
func IsAck(frame string) bool {
	return strings.HasPrefix(frame, AckPrefix)
}

// ParseAck returns the acknowledged id. ok is false for anything that is
// not exactly ACK|MSG_dddddddddd.
func ParseAck(frame string) (id string, ok bool) {
	if !IsAck(frame) {
		return "", false
	}
	id = strings.TrimSpace(frame[len(AckPrefix):])
	if !IsValidMessageID(id) {
		return "", false
	}
	return id, true
}

// FormatAck builds the client side "ACK|<id>\n".
func FormatAck(id string) []byte {
	return []byte(AckPrefix + id + "\n")
}

// SplitDelivery separates a received frame into id and payload.
func SplitDelivery(frame string) (id, payload string, ok bool) {
	i := strings.IndexByte(frame, Separator)
	if i < 0 {
		return "", "", false
	}
	return frame[:i], frame[i+1:], true
}

// HasControlChars reports C0 control characters other than tab, and DEL.
func HasControlChars(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 0x20 && c != '\t') || c == 0x7f {
			return true
		}
	}
	return false
}
