package codec

import (
	"errors"
	"fmt"

	"cliniccore/pkg/domain"
)

var (
	// ErrFieldCount reports a line with too few or too many `|` separated fields.
	ErrFieldCount = errors.New("codec: unexpected field count")
	// ErrReservedCharacter reports free text containing a delimiter or line break.
	ErrReservedCharacter = errors.New("codec: reserved character in text field")
)

// DecodeError describes the field of a line that failed to decode.
type DecodeError struct {
	Entity domain.EntityType
	Field  string
	Value  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode %s: %q: %v", e.Entity, e.Value, e.Err)
	}
	return fmt.Sprintf("decode %s field %s %q: %v", e.Entity, e.Field, e.Value, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError describes the field of an entity that cannot be encoded.
type EncodeError struct {
	Entity domain.EntityType
	ID     int
	Field  string
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s %d field %s: %v", e.Entity, e.ID, e.Field, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
