// Package storepath parses Nix store paths and store object names.
//
// A store path is an absolute path whose first components are
// "/nix/store/<hash>-<name>"; the hash is 32 characters of Nix's
// base-32 alphabet.
package storepath

import (
	"fmt"
	"strings"
)

// StoreDir is the standard Nix store directory.
const StoreDir = "/nix/store"

// ObjectName is the file name of a Nix store object.
// It includes both a hash and a human-readable name,
// but no leading directory.
// For example: "s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1".
type ObjectName string

const (
	objectNameHashLength = 32
	maxObjectNameLength  = objectNameHashLength + 1 + 211
)

// ParseObjectName validates a string as the file name of a Nix store object,
// returning the error encountered if any.
func ParseObjectName(name string) (ObjectName, error) {
	if len(name) < objectNameHashLength+len("-")+1 {
		return "", fmt.Errorf("parse nix store object name: %q is too short", name)
	}
	if len(name) > maxObjectNameLength {
		return "", fmt.Errorf("parse nix store object name: %q is too long", name)
	}
	for i := 0; i < len(name); i++ {
		if !isNameChar(name[i]) {
			return "", fmt.Errorf("parse nix store object name: %q contains illegal character %q", name, name[i])
		}
	}
	for i := 0; i < objectNameHashLength; i++ {
		if !isBase32(name[i]) {
			return "", fmt.Errorf("parse nix store object name: %q contains illegal base-32 character %q", name, name[i])
		}
	}
	if name[objectNameHashLength] != '-' {
		return "", fmt.Errorf("parse nix store object name: %q does not separate hash with dash", name)
	}
	return ObjectName(name), nil
}

// IsDerivation reports whether the name ends in ".drv".
func (name ObjectName) IsDerivation() bool {
	return strings.HasSuffix(string(name), ".drv")
}

// Hash returns the hash part of the name.
func (name ObjectName) Hash() string {
	if len(name) < objectNameHashLength {
		return ""
	}
	return string(name[:objectNameHashLength])
}

// Name returns the part of the name after the hash.
func (name ObjectName) Name() string {
	if len(name) <= objectNameHashLength+len("-") {
		return ""
	}
	return string(name[objectNameHashLength+len("-"):])
}

// Basename returns the part of path after the last slash,
// or path itself if it contains none.
func Basename(path string) string {
	if i := strings.LastIndexByte(path, '/'); i != -1 {
		return path[i+1:]
	}
	return path
}

// CutStorePrefix removes a leading "/nix/store/<object-name>" from s,
// returning the remainder (starting with "/" or empty). It reports
// false if s does not start with a store path whose first component
// is a valid store object name.
func CutStorePrefix(s string) (rest string, ok bool) {
	tail, ok := strings.CutPrefix(s, StoreDir+"/")
	if !ok {
		return s, false
	}
	name := tail
	if i := strings.IndexByte(tail, '/'); i != -1 {
		name = tail[:i]
	}
	if _, err := ParseObjectName(name); err != nil {
		return s, false
	}
	return tail[len(name):], true
}

// isBase32 reports whether the given byte is part of the nixbase32 alphabet.
// Nix's base-32 alphabet drops e, o, u, and t.
func isBase32(c byte) bool {
	return '0' <= c && c <= '9' ||
		'a' <= c && c <= 'z' && c != 'e' && c != 'o' && c != 'u' && c != 't'
}

func isNameChar(c byte) bool {
	return 'a' <= c && c <= 'z' ||
		'A' <= c && c <= 'Z' ||
		'0' <= c && c <= '9' ||
		c == '+' || c == '-' || c == '.' || c == '_' || c == '?' || c == '='
}
