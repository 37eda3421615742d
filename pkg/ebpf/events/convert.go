package events

import (
	"errors"
	"fmt"
	"unsafe"
)

var ErrShortSample = errors.New("sample shorter than event layout")

// ConvertToEvent reinterprets raw as a *T without copying. raw must stay
// alive and unmodified for as long as the result is used.
func ConvertToEvent[T any](raw []byte) (*T, error) {
	var zero T
	if size := int(unsafe.Sizeof(zero)); len(raw) < size {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrShortSample, len(raw), size)
	}
	return (*T)(unsafe.Pointer(&raw[0])), nil
}
