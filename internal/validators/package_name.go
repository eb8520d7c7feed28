// Package validators provides validation functions for npm package names.
package validators

import (
	"fmt"
	"regexp"
	"strings"
)

const maxPackageNameLength = 214

// namePartPattern accepts the characters encodeURIComponent leaves untouched.
// Uppercase letters are kept for packages published before they were banned.
var namePartPattern = regexp.MustCompile(`^[a-zA-Z0-9._~!*'()-]+$`)

// ValidatePackageName checks name against the npm naming rules that matter
// for building lookup URLs. Returns the trimmed name or an error.
//
// Format requirements:
//   - 1 to 214 characters
//   - unscoped "name" or scoped "@scope/name"
//   - no leading '.' or '_' in the name part
//   - only URL-safe characters
//
// Examples of valid names:
//   - left-pad
//   - @types/node
//   - JSONStream
func ValidatePackageName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("package name cannot be empty")
	}
	if len(name) > maxPackageNameLength {
		return "", fmt.Errorf("package name exceeds maximum length of %d characters", maxPackageNameLength)
	}

	namePart := name
	if strings.HasPrefix(name, "@") {
		scope, rest, found := strings.Cut(name[1:], "/")
		if !found {
			return "", fmt.Errorf("scoped package name must be in format '@scope/name'")
		}
		if scope == "" || !namePartPattern.MatchString(scope) {
			return "", fmt.Errorf("scope '%s' is invalid", scope)
		}
		namePart = rest
	}

	if namePart == "" {
		return "", fmt.Errorf("name part cannot be empty")
	}
	if strings.HasPrefix(namePart, ".") || strings.HasPrefix(namePart, "_") {
		return "", fmt.Errorf("name '%s' cannot start with '.' or '_'", namePart)
	}
	if !namePartPattern.MatchString(namePart) {
		return "", fmt.Errorf("name '%s' contains characters that are not URL-safe", namePart)
	}

	return name, nil
}
