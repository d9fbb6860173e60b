package sanitize

import (
	"path"
	"strings"
	"unicode/utf8"
)

// maxUsernameLength bounds a sanitized display name, matching the
// teacher's StackOverflow-derived limit for the same field.
const maxUsernameLength = 36

// NormalizePath resolves "." and ".." components of a relative path
// without touching the filesystem, and splits it into clean components.
// Leading ".." components collapse to root (they cannot escape above it).
// Returns an empty slice for a path that resolves to the root itself.
func NormalizePath(input string) (components []string) {
	input = strings.ReplaceAll(input, "\\", "/")
	cleaned := path.Clean("/" + input) // anchor so path.Clean fully resolves ".."
	cleaned = strings.TrimPrefix(cleaned, "/")

	if cleaned == "" || cleaned == "." {
		return nil
	}

	for _, part := range strings.Split(cleaned, "/") {
		if part == "" || part == "." {
			continue
		}
		// path.Clean anchored at root already collapses leading "..", but
		// guard explicitly in case a future caller skips the anchor step.
		if part == ".." {
			continue
		}
		components = append(components, part)
	}

	return components
}

// HasDrivePrefix reports whether the raw (pre-normalization) path looks
// like it carries a Windows drive letter or UNC prefix, which the
// filetree boundary rejects outright.
func HasDrivePrefix(input string) bool {
	if len(input) >= 2 && input[1] == ':' {
		return true
	}
	return strings.HasPrefix(input, "\\\\") || strings.HasPrefix(input, "//")
}

// Username sanitizes an untrusted display name received from a peer: it
// rejects invalid UTF-8, trims surrounding whitespace, replaces newlines
// with spaces, drops carriage returns and caps the length in bytes.
func Username(input string) string {
	if !utf8.ValidString(input) {
		return "<invalid encoding>"
	}

	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\n", " ")
	input = strings.ReplaceAll(input, "\r", "")

	if len(input) > maxUsernameLength {
		input = input[:maxUsernameLength]
	}
	return input
}
