package match

import "strings"

// Normalize trims whitespace and strips at most one leading "v" or "V" so
// "v1.2.0" and "1.2.0" compare equal. It does no semver parsing; tags are
// otherwise opaque strings.
func Normalize(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 1 && (v[0] == 'v' || v[0] == 'V') {
		v = v[1:]
	}
	return v
}

// HasUpdate reports whether latest is a different version than current. When
// either side is unknown there is nothing to act on, so the answer is false;
// a lookup failure must never look like an available update.
func HasUpdate(current, latest *string) bool {
	if current == nil || latest == nil {
		return false
	}
	cur := Normalize(*current)
	lat := Normalize(*latest)
	if cur == "" || lat == "" {
		return false
	}
	return cur != lat
}
