// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "strings"

// RedactedStr replaces secrets in API responses and logs.
const RedactedStr = "<redacted>"

// RedactString masks a secret. Empty stays empty so callers can tell
// "unset" apart from "hidden".
func RedactString(s string) string {
	if len(s) == 0 {
		return ""
	}

	return RedactedStr
}

// IsRedactedString reports whether a value is a mask rather than a real
// secret: the redaction placeholder, or an all-asterisk string as some
// clients send for untouched password fields.
func IsRedactedString(value string) bool {
	if value == "" {
		return false
	}

	if value == RedactedStr {
		return true
	}

	return strings.Trim(value, "*") == ""
}
