// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package handlers

const (
	minUsernameLen = 3
	maxUsernameLen = 20
	minPasswordLen = 6
	maxRoomLen     = 32
)

func isWordChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// ValidateUsername returns a reason the name is rejected, or "".
func ValidateUsername(name string) string {
	if len(name) < minUsernameLen || len(name) > maxUsernameLen {
		return "Username must be 3-20 characters long"
	}
	for i := 0; i < len(name); i++ {
		if !isWordChar(name[i]) {
			return "Username may only contain letters, digits and underscore"
		}
	}
	return ""
}

// ValidatePassword returns a reason the password is rejected, or "".
func ValidatePassword(pw string) string {
	if len(pw) < minPasswordLen {
		return "Password must be at least 6 characters long"
	}
	return ""
}

// ValidateRoom returns a reason the room name is rejected, or "".
func ValidateRoom(room string) string {
	if len(room) > maxRoomLen {
		return "Room name must be at most 32 characters long"
	}
	for i := 0; i < len(room); i++ {
		if !isWordChar(room[i]) && room[i] != '-' {
			return "Room name may only contain letters, digits, '-' and '_'"
		}
	}
	return ""
}
