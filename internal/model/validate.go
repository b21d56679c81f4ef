package model

import (
	"regexp"
	"unicode/utf8"
)

// MaxTextLength is the maximum number of characters of names and addresses.
const MaxTextLength = 255

// MaxPhoneLength is the maximum number of digits of a phone number.
const MaxPhoneLength = 14

var phonePattern = regexp.MustCompile(`^[0-9]{1,14}$`)

// ValidPhoneNumber returns true if s consists of 1 to 14 ASCII digits.
func ValidPhoneNumber(s string) bool {
	return phonePattern.MatchString(s)
}

// ValidText returns true if s has between 1 and MaxTextLength characters.
func ValidText(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= 1 && n <= MaxTextLength
}
