package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
)

// PowerOfTwoError is wrapped by CheckPow2 when a size or alignment is not a power of two
var PowerOfTwoError = errors.New("number must be a power of two")

type Number interface {
	~int | ~uint | ~uint32 | ~uint64 | ~uintptr
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value &^ (alignment - 1)
}

// PageOffset returns the bits of value below the provided page size, which must be a power of two
func PageOffset[T Number](value T, pageSize T) T {
	return value & (pageSize - 1)
}
