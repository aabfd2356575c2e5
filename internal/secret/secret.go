// Package secret holds the broker's one rule about sensitive bytes: once a
// value enters a Secret, nothing but the holder of the wrapper ever sees it
// again in clear text.
package secret

import (
	"crypto/subtle"
	"log/slog"
)

// Redacted is what every formatting path emits in place of a Secret's
// contents, regardless of length.
const Redacted = "<redacted>"

// Secret is an opaque wrapper around sensitive bytes: an access token, a
// refresh token, an api key, a client secret. It never exposes its contents
// through String, GoString, or slog — only Expose does, and callers
// reach for Expose exactly once, right before the bytes leave the process
// (an HTTP header, an RPC response field).
type Secret struct {
	b []byte
}

// New wraps a copy of value's bytes; the Secret does not share memory with
// the caller's string.
func New(value string) Secret {
	return Secret{b: []byte(value)}
}

// NewBytes wraps b directly, taking ownership of it.
func NewBytes(b []byte) Secret {
	return Secret{b: b}
}

// IsZero reports whether the Secret holds no bytes at all (as opposed to
// holding an empty-but-present value).
func (s Secret) IsZero() bool {
	return s.b == nil
}

// Expose returns the underlying value. Name chosen so every call site reads
// as a deliberate admission that secret material is about to leave the
// wrapper.
func (s Secret) Expose() string {
	return string(s.b)
}

// ExposeBytes returns the underlying bytes. The caller must not retain the
// slice past the point it stops needing the secret; Release zeroes the
// slice this method returns a view of.
func (s Secret) ExposeBytes() []byte {
	return s.b
}

// Release zeroes the underlying memory. Safe to call multiple times and on
// a zero Secret.
func (s *Secret) Release() {
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = nil
}

// Equal performs a constant-time comparison. It returns false, not a panic
// or a fast mismatch, when the two secrets differ in length.
func (s Secret) Equal(other Secret) bool {
	if len(s.b) != len(other.b) {
		// Still do a constant-time compare against a same-length buffer so
		// the branch above doesn't leak length-dependent timing on its own
		// in a way that matters more than it already does from len().
		subtle.ConstantTimeCompare(s.b, s.b)
		return false
	}
	return subtle.ConstantTimeCompare(s.b, other.b) == 1
}

// String implements fmt.Stringer. It never returns the value.
func (s Secret) String() string {
	return Redacted
}

// GoString implements fmt.GoStringer so %#v also redacts.
func (s Secret) GoString() string {
	return Redacted
}

// LogValue implements slog.LogValuer so structured logging redacts Secret
// fields without every call site having to remember to.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(Redacted)
}
