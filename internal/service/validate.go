package service

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/and161185/bloodlink/internal/errs"
)

// Field limits, in characters. Every row must fit a single change
// notification (under 8000 bytes) even when each character takes 4 bytes.
const (
	maxTextLen   = 200
	maxPhoneLen  = 32
	maxSocialLen = 512
	maxNotesLen  = 500
	maxRefLen    = 512
)

// checkText flags val under field when it is too long or carries control
// characters. Multiline values may contain newlines and tabs.
func checkText(v *errs.ValidationError, field, val string, limit int, multiline bool) {
	if utf8.RuneCountInString(val) > limit {
		v.Add(field, fmt.Sprintf("at most %d characters", limit))
		return
	}
	for _, r := range val {
		if r == utf8.RuneError || (unicode.IsControl(r) && !(multiline && (r == '\n' || r == '\t'))) {
			v.Add(field, "contains invalid characters")
			return
		}
	}
}
