package documents

import (
	"fmt"
	"regexp"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeName replaces every character outside [a-zA-Z0-9._-] with "_".
func SanitizeName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// ObjectKey builds podio/<item>/<unix ms>_<ordinal>_<sanitized name>.
func ObjectKey(itemID int64, unixMs int64, ordinal int, name string) string {
	if name == "" {
		name = fmt.Sprintf("file_%d", ordinal)
	}
	return fmt.Sprintf("podio/%d/%d_%d_%s", itemID, unixMs, ordinal, SanitizeName(name))
}
