package bsonmap

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Every error returned by this package matches exactly one of
// these with errors.Is, whatever wrapping was added on the way up.
var (
	// ErrConfiguration reports a duplicate or conflicting registration.
	ErrConfiguration = errors.New("bsonmap: configuration error")

	// ErrResolution reports that no serializer could be produced for a type.
	ErrResolution = errors.New("bsonmap: serializer resolution failed")

	// ErrAmbiguousDiscriminator reports a discriminator value that maps to more
	// than one concrete type reachable from the nominal type.
	ErrAmbiguousDiscriminator = errors.New("bsonmap: ambiguous discriminator")

	// ErrUnknownDiscriminator reports a discriminator value with no registered type.
	ErrUnknownDiscriminator = errors.New("bsonmap: unknown discriminator")

	// ErrFormat reports BSON input that does not have the shape a serializer expects.
	ErrFormat = errors.New("bsonmap: unexpected BSON format")

	// ErrFrozen reports an attempt to modify a frozen class map or member map.
	ErrFrozen = errors.New("bsonmap: frozen")
)

// kindError carries a descriptive message while matching its kind with errors.Is.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

func newError(kind error, format string, args ...any) error {
	return errors.WithStack(&kindError{kind: kind, msg: fmt.Sprintf(format, args...)})
}

func configurationErrorf(format string, args ...any) error {
	return newError(ErrConfiguration, format, args...)
}

func resolutionErrorf(format string, args ...any) error {
	return newError(ErrResolution, format, args...)
}

func formatErrorf(format string, args ...any) error {
	return newError(ErrFormat, format, args...)
}

func frozenErrorf(format string, args ...any) error {
	return newError(ErrFrozen, format, args...)
}
