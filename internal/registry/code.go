package registry

import (
	"strings"

	nanoid "github.com/jaevor/go-nanoid"
)

// CodeLength is the length of a room code.
const CodeLength = 6

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	RoomPrefix    = "rooms/"
	messagePrefix = "messages/"
)

// Normalize trims and uppercases a user-supplied code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code is 6 characters of [A-Z0-9]. Callers
// normalise first.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, c := range code {
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

func RoomKey(code string) string { return RoomPrefix + code }

// MessagePrefix is the key prefix holding a room's message log.
func MessagePrefix(code string) string { return messagePrefix + code + "/" }

func newCodeGenerator() (func() string, error) {
	return nanoid.CustomASCII(codeAlphabet, CodeLength)
}
