// Package bterr defines the error taxonomy shared by every component of
// the index: block I/O, node codec, allocator, search, insert, delete,
// traversal and the façade.
package bterr

import "github.com/cockroachdb/errors"

// Sentinel kinds. Errors built by the helpers below are marked with one
// of these and match it under cockroachdb/errors' errors.Is, so callers
// can branch on failure kind without caring which component raised it.
// The layout validation errors returned by page.NewLayout and page.Init
// (for example from Create) are not marked with a kind.
var (
	// IO means an underlying block read or write failed.
	IO = errors.New("io")
	// Corrupt means a decoded block carries an illegal tag or an
	// internally inconsistent header.
	Corrupt = errors.New("corrupt")
	// NoSpace means the free list is empty; allocation cannot proceed.
	NoSpace = errors.New("no space")
	// NotFound means the requested key is absent.
	NotFound = errors.New("not found")
	// DuplicateKey means the key already exists on Insert.
	DuplicateKey = errors.New("duplicate key")
	// Insane means an internal invariant was violated; the tree is in
	// an indeterminate state and the operation must stop immediately.
	Insane = errors.New("insane")
	// Unimplemented means an optional feature was not built.
	Unimplemented = errors.New("unimplemented")
)

// WrapIO wraps err (if non-nil) as an IO failure with additional context.
func WrapIO(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(errors.Mark(err, IO), format, args...)
}

// WrapCorrupt reports a decoded block that cannot be trusted.
func WrapCorrupt(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), Corrupt)
}

// WrapInsane reports a fatal, internal invariant violation. Callers
// should stop the operation and surface this to the user unchanged;
// recovery is only possible via SanityCheck-driven diagnosis.
func WrapInsane(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), Insane)
}

// NoSpacef reports free-list exhaustion with context about which
// operation triggered it.
func NoSpacef(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), NoSpace)
}

// NotFoundf reports a missing key with context.
func NotFoundf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), NotFound)
}

// DuplicateKeyf reports a key collision with context.
func DuplicateKeyf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), DuplicateKey)
}

// IsInsane reports whether err carries the Insane marker, the single
// classification RecoverInsane uses to decide a panic came from one of
// this module's own bounds checks rather than a genuine crash.
func IsInsane(err error) bool {
	return errors.Is(err, Insane)
}
