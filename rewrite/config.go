// Package rewrite implements the path-rewriting kernel applied to
// every regular file, symlink target, and ELF metadata field flowing
// through the NAR pipeline.
//
// Three rewrites compose in a fixed order: substitute the old glibc
// store path by the new one, apply the mapping table of equal-length
// store object basenames, and prepend the installation prefix to any
// remaining absolute store path. The order is load-bearing: the glibc
// substitution changes a path the mapping table would no longer match,
// and prefixing first would mask both.
package rewrite

import (
	"github.com/pkg/errors"
)

// ErrConfig is reported (via [errors.Is]) for configurations that
// cannot start a run.
var ErrConfig = errors.New("rewrite: invalid configuration")

// Config is the immutable rewrite configuration for one run.
type Config struct {
	// Prefix is prepended to any otherwise unmodified absolute store
	// path, relocating it into the installation directory
	// (e.g. "/data/data/com.example/files/usr").
	Prefix string

	// OldGlibc and NewGlibc are store paths substituted for one
	// another before any other rewrite. Either both or neither are
	// set.
	OldGlibc string
	NewGlibc string

	// ExtraPrefixPatterns are path patterns (e.g. "/nix/var/") that
	// receive the prefix only inside tokenized string literals.
	ExtraPrefixPatterns []string

	// Mappings substitutes equal-length store object basenames.
	// May be nil.
	Mappings *Table
}

func (c *Config) validate() error {
	if c.Prefix == "" {
		return errors.Wrap(ErrConfig, "prefix must not be empty")
	}
	if (c.OldGlibc == "") != (c.NewGlibc == "") {
		return errors.Wrap(ErrConfig, "old and new glibc paths must be set together")
	}
	return nil
}
